package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeQuery(t *testing.T) {
	assert.Equal(t, "scriptalert(1)/script", SanitizeQuery(`<script>alert(1)</script>`))
	assert.Equal(t, "whats up", SanitizeQuery("  what's \t\n up ;  "))
	assert.Equal(t, 1000, len([]rune(SanitizeQuery(strings.Repeat("é", 1500)))))
}

func TestFindBlockedTerm(t *testing.T) {
	assert.Equal(t, "Cheat", FindBlockedTerm("how do I CHEAT on the test", []string{"answers", "Cheat"}))
	assert.Empty(t, FindBlockedTerm("what is algebra", []string{"cheat", " "}))
	assert.Empty(t, FindBlockedTerm("anything", nil))
}

func newGuardFixture(t *testing.T) (*fixture, *QueryGuard) {
	t.Helper()
	f := newFixture(t, nil)
	class := f.addClass(t, "math101", true)
	class.DailyQuestionLimit = 2
	class.BlockedTerms = []string{"cheat"}
	require.NoError(t, f.store.UpdateClass(f.ctx, class))
	f.grant(t, "alice", "math101", true)
	return f, NewQueryGuard(f.store)
}

func TestQueryGuardQuota(t *testing.T) {
	f, guard := newGuardFixture(t)
	day := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return day }

	first, err := guard.Admit(f.ctx, "alice", "math101", "what is algebra")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, "what is algebra", first.Query)

	second, err := guard.Admit(f.ctx, "alice", "math101", "what is algebra")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Remaining)

	_, err = guard.Admit(f.ctx, "alice", "math101", "what is algebra")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	left, err := guard.Remaining(f.ctx, "alice", "math101")
	require.NoError(t, err)
	assert.Zero(t, left)

	// A new UTC day resets the counter
	day = day.Add(2 * time.Hour)
	left, err = guard.Remaining(f.ctx, "alice", "math101")
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	next, err := guard.Admit(f.ctx, "alice", "math101", "what is algebra")
	require.NoError(t, err)
	assert.Equal(t, 1, next.Remaining)
}

func TestQueryGuardRejections(t *testing.T) {
	f, guard := newGuardFixture(t)
	f.addClass(t, "closed", false)
	f.grant(t, "alice", "closed", true)
	f.grant(t, "bob", "math101", false)

	tests := []struct {
		name    string
		student string
		class   string
		query   string
		want    error
	}{
		{"missing class", "alice", "missing", "what is algebra", ErrAccessDenied},
		{"disabled class", "alice", "closed", "what is algebra", ErrAccessDenied},
		{"disabled student", "bob", "math101", "what is algebra", ErrAccessDenied},
		{"no access record", "carol", "math101", "what is algebra", ErrAccessDenied},
		{"too short", "alice", "math101", " <a> ", ErrInvalidQuery},
		{"blocked term", "alice", "math101", "can I cheat please", ErrBlockedTerm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := guard.Admit(f.ctx, tt.student, tt.class, tt.query)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Rejected questions do not count
	access, err := f.store.GetStudentAccess(f.ctx, "alice", "math101")
	require.NoError(t, err)
	assert.Zero(t, access.DailyQuestionCount)
}

func TestQueryServiceAsk(t *testing.T) {
	f, emb := newScoredFixture(t)
	emb.set("question about algebra", 1, 0, 0, 0)
	emb.set("Algebra uses letters for numbers.", at(0.9)...)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters for numbers.")
	f.assign(t, "doc-1", "math101")

	queryLogger := NewQueryLogger(f.store)
	svc := NewQueryService(NewQueryGuard(f.store), newRAG(f, DefaultRetrievalOptions()), queryLogger)

	res, err := svc.Ask(f.ctx, "alice", "math101", "question   about <algebra>")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.RemainingQuestions)
	assert.Equal(t, 49, *res.RemainingQuestions)
	assert.Len(t, res.Citations, 1)

	_, err = svc.Ask(f.ctx, "alice", "bio201", "question about algebra")
	assert.ErrorIs(t, err, ErrAccessDenied)

	logs, err := f.store.ListQueryLogs(f.ctx, "math101", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "question about algebra", logs[0].QueryText)
	assert.True(t, logs[0].Success)
	assert.Equal(t, 1, logs[0].CitationCount)

	denied, err := f.store.ListQueryLogs(f.ctx, "bio201", 0)
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.False(t, denied[0].Success)

	ok, err := queryLogger.VerifyChain(f.ctx, "math101")
	require.NoError(t, err)
	assert.True(t, ok)
}
