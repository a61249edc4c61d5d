package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/models"

	"github.com/google/uuid"
)

const maxLoggedQueryLength = 500

// QueryLogger records student queries as an insert-only hash chain per
// class
type QueryLogger struct {
	store database.Store

	lastMu sync.Mutex
	last   map[string]chainHead // classID -> last entry
}

type chainHead struct {
	hash     string
	sequence int64
}

// NewQueryLogger creates a query logger on top of store
func NewQueryLogger(store database.Store) *QueryLogger {
	return &QueryLogger{
		store: store,
		last:  make(map[string]chainHead),
	}
}

func (ql *QueryLogger) head(ctx context.Context, classID string) (chainHead, error) {
	if h, ok := ql.last[classID]; ok {
		return h, nil
	}
	last, err := ql.store.LastQueryLog(ctx, classID)
	if errors.Is(err, database.ErrNotFound) {
		return chainHead{}, nil
	}
	if err != nil {
		return chainHead{}, err
	}
	return chainHead{hash: last.CurrentHash, sequence: last.Sequence}, nil
}

// Log chains and stores entry. The query text is cut to 500 characters.
func (ql *QueryLogger) Log(ctx context.Context, entry *models.QueryLog) error {
	ql.lastMu.Lock()
	defer ql.lastMu.Unlock()

	prev, err := ql.head(ctx, entry.ClassID)
	if err != nil {
		return fmt.Errorf("load last query log: %w", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if r := []rune(entry.QueryText); len(r) > maxLoggedQueryLength {
		entry.QueryText = string(r[:maxLoggedQueryLength])
	}
	// Millisecond precision survives every store backend
	entry.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	entry.Sequence = prev.sequence + 1
	entry.PreviousHash = prev.hash
	entry.CurrentHash = entry.ComputeHash()

	if err := ql.store.CreateQueryLog(ctx, entry); err != nil {
		logger.Error("Failed to log query", "class_id", entry.ClassID, "error", err)
		return err
	}

	ql.last[entry.ClassID] = chainHead{hash: entry.CurrentHash, sequence: entry.Sequence}
	return nil
}

// VerifyChain recomputes every hash of the class's log and reports whether
// the chain is intact
func (ql *QueryLogger) VerifyChain(ctx context.Context, classID string) (bool, error) {
	entries, err := ql.store.ListQueryLogs(ctx, classID, 0)
	if err != nil {
		return false, err
	}

	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.PreviousHash != prev || e.ComputeHash() != e.CurrentHash {
			logger.Warn("Query log chain broken", "class_id", classID, "entry_id", e.ID)
			return false, nil
		}
		prev = e.CurrentHash
	}
	return true, nil
}
