package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageBudgetReservations(t *testing.T) {
	b := newUsageBudget(RateLimits{RPM: 2, TPM: 100, RPD: 3})

	assert.True(t, b.Reserve(50))
	assert.False(t, b.Reserve(60), "minute token budget")
	assert.True(t, b.Reserve(40))
	assert.False(t, b.Reserve(1), "minute request budget")
}

func TestUsageBudgetSettleAndRoll(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := newUsageBudget(RateLimits{RPM: 5, TPM: 100, RPD: 3})
	b.now = func() time.Time { return now }

	require.True(t, b.Reserve(90))
	b.Settle(90, 20)
	assert.True(t, b.Reserve(70), "settled estimate frees the difference")

	now = now.Add(time.Minute)
	assert.True(t, b.Reserve(100), "minute window rolled over")
	assert.False(t, b.Reserve(1), "daily request budget survives the minute roll")
}

func TestBuildPromptWithContext(t *testing.T) {
	prompt := buildPromptWithContext("What is a prime?", []string{"A prime has two divisors.", "2 is prime."})

	assert.Contains(t, prompt, "Material 1:\nA prime has two divisors.")
	assert.Contains(t, prompt, "Material 2:\n2 is prime.")
	assert.Contains(t, prompt, "Question: What is a prime?")
	assert.Contains(t, prompt, "I can't find this in the school materials.")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 3, estimateTokens("abcdefgh", []string{"abc"}))
	assert.Equal(t, 0, estimateTokens("", nil))
}

func TestGetRateLimitsDefaultsToFree(t *testing.T) {
	assert.Equal(t, getRateLimits("free"), getRateLimits("unknown"))
	assert.Equal(t, 1000, getRateLimits("tier1").RPM)
}
