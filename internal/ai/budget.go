package ai

import (
	"sync"
	"time"
)

// RateLimits are the published Gemini quotas for an API tier
type RateLimits struct {
	RPM int // requests per minute
	TPM int // tokens per minute
	RPD int // requests per day
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

// window is a fixed usage window that resets once span has elapsed
type window struct {
	span        time.Duration
	maxRequests int
	maxTokens   int // zero means unlimited

	start    time.Time
	requests int
	tokens   int
}

func (w *window) roll(now time.Time) {
	if now.Sub(w.start) >= w.span {
		w.start, w.requests, w.tokens = now, 0, 0
	}
}

func (w *window) fits(tokens int) bool {
	if w.requests+1 > w.maxRequests {
		return false
	}
	return w.maxTokens == 0 || w.tokens+tokens <= w.maxTokens
}

// usageBudget tracks per-minute and per-day usage. Reserve books the
// estimate up front so concurrent callers cannot overshoot the quota
// between the check and the call.
type usageBudget struct {
	mu      sync.Mutex
	now     func() time.Time
	windows []*window
}

// Windows start at the zero time and open on first use
func newUsageBudget(limits RateLimits) *usageBudget {
	return &usageBudget{
		now: time.Now,
		windows: []*window{
			{span: time.Minute, maxRequests: limits.RPM, maxTokens: limits.TPM},
			{span: 24 * time.Hour, maxRequests: limits.RPD},
		},
	}
}

// Reserve books one request of tokens, or reports false with nothing booked
func (b *usageBudget) Reserve(tokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, w := range b.windows {
		w.roll(now)
		if !w.fits(tokens) {
			return false
		}
	}
	for _, w := range b.windows {
		w.requests++
		w.tokens += tokens
	}
	return true
}

// Settle replaces a reserved estimate with the tokens actually billed
func (b *usageBudget) Settle(reserved, actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, w := range b.windows {
		w.tokens += actual - reserved
		if w.tokens < 0 {
			w.tokens = 0
		}
	}
}
