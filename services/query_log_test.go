package services

import (
	"strings"
	"testing"
	"time"

	"school-copilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryLoggerChains(t *testing.T) {
	f := newFixture(t, nil)
	ql := NewQueryLogger(f.store)

	for i := 0; i < 3; i++ {
		require.NoError(t, ql.Log(f.ctx, &models.QueryLog{StudentID: "alice", ClassID: "math101", QueryText: "what is algebra", Success: true}))
	}
	require.NoError(t, ql.Log(f.ctx, &models.QueryLog{StudentID: "bob", ClassID: "bio201", QueryText: "what is a cell"}))

	logs, err := f.store.ListQueryLogs(f.ctx, "math101", 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Empty(t, logs[0].PreviousHash)
	assert.Equal(t, logs[0].CurrentHash, logs[1].PreviousHash)
	assert.Equal(t, logs[1].CurrentHash, logs[2].PreviousHash)
	assert.Equal(t, int64(3), logs[2].Sequence)

	// A fresh logger continues from the stored head
	require.NoError(t, NewQueryLogger(f.store).Log(f.ctx, &models.QueryLog{StudentID: "alice", ClassID: "math101", QueryText: "and geometry"}))

	ok, err := ql.VerifyChain(f.ctx, "math101")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ql.VerifyChain(f.ctx, "bio201")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueryLoggerTruncatesQuery(t *testing.T) {
	f := newFixture(t, nil)
	ql := NewQueryLogger(f.store)

	entry := &models.QueryLog{StudentID: "alice", ClassID: "math101", QueryText: strings.Repeat("x", 800)}
	require.NoError(t, ql.Log(f.ctx, entry))
	assert.Len(t, entry.QueryText, 500)
	assert.NotEmpty(t, entry.ID)
}

func TestVerifyChainDetectsForgery(t *testing.T) {
	f := newFixture(t, nil)
	ql := NewQueryLogger(f.store)
	require.NoError(t, ql.Log(f.ctx, &models.QueryLog{StudentID: "alice", ClassID: "math101", QueryText: "what is algebra"}))

	forged := &models.QueryLog{
		ID:           "forged",
		Sequence:     2,
		StudentID:    "mallory",
		ClassID:      "math101",
		QueryText:    "nothing to see",
		PreviousHash: "not-the-previous-hash",
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}
	forged.CurrentHash = forged.ComputeHash()
	require.NoError(t, f.store.CreateQueryLog(f.ctx, forged))

	ok, err := ql.VerifyChain(f.ctx, "math101")
	require.NoError(t, err)
	assert.False(t, ok)
}
