package services

import (
	"context"
	"math"
	"strings"
	"testing"

	"school-copilot/internal/vectordb"
	"school-copilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// at returns a unit vector whose cosine with the first axis is s
func at(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s)), 0, 0}
}

func newScoredFixture(t *testing.T) (*fixture, *scriptedEmbedder) {
	t.Helper()
	emb := newScriptedEmbedder(4)
	emb.set("question", 1, 0, 0, 0)
	return newFixture(t, emb), emb
}

func newRAG(f *fixture, opts RetrievalOptions) *RAGService {
	return NewRAGService(f.store, f.registry, f.embedder, f.isolation, KeywordAnswerer{}, opts)
}

func TestProcessQueryFiltersByThreshold(t *testing.T) {
	f, emb := newScoredFixture(t)
	emb.set("high chunk", at(0.9)...)
	emb.set("mid chunk", at(0.75)...)
	emb.set("near chunk", at(0.65)...)
	emb.set("low chunk", at(0.5)...)

	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "high chunk", "mid chunk", "near chunk", "low chunk")
	f.assign(t, "doc-1", "math101")

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, models.QueryOutcomeSuccess, res.Outcome)
	assert.Equal(t, models.QueryStateAnswered, res.State)
	require.Len(t, res.Citations, 2)
	for _, c := range res.Citations {
		assert.GreaterOrEqual(t, c.RelevanceScore, 0.7)
	}
	assert.InDelta(t, 0.9, res.Citations[0].RelevanceScore, 1e-4)
	assert.InDelta(t, 0.75, res.Citations[1].RelevanceScore, 1e-4)
	assert.InDelta(t, 0.825, res.Confidence, 1e-4)
	assert.Equal(t, []models.DocumentReference{{DocumentID: "doc-1", DocumentName: "Algebra.pdf"}}, res.DocumentsUsed)
	require.NotNil(t, res.Citations[0].PageNumber)
	assert.Equal(t, 1, *res.Citations[0].PageNumber)
}

func TestProcessQueryKeepsScoreAtThreshold(t *testing.T) {
	f, emb := newScoredFixture(t)
	emb.set("edge chunk", at(0.7)...)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "edge chunk")
	f.assign(t, "doc-1", "math101")

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, models.QueryOutcomeSuccess, res.Outcome)
	require.Len(t, res.Citations, 1)
	assert.InDelta(t, 0.7, res.Citations[0].RelevanceScore, 1e-4)
}

func TestProcessQueryConfidenceIsMeanScore(t *testing.T) {
	f, emb := newScoredFixture(t)
	emb.set("first chunk", at(0.9)...)
	emb.set("second chunk", at(0.8)...)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "first chunk", "second chunk")
	f.assign(t, "doc-1", "math101")

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Citations, 2)
	assert.InDelta(t, 0.85, res.Confidence, 1e-4)
}

func TestProcessQueryCapsChunks(t *testing.T) {
	f, emb := newScoredFixture(t)
	contents := []string{"c1", "c2", "c3", "c4"}
	for i, c := range contents {
		emb.set(c, at(0.95-float64(i)*0.05)...)
	}
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", contents...)
	f.assign(t, "doc-1", "math101")

	opts := DefaultRetrievalOptions()
	opts.MaxChunks = 2
	res := newRAG(f, opts).ProcessQuery(f.ctx, "question", "math101", "alice")
	require.True(t, res.Success)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "c1", res.Citations[0].ContentPreview)
	assert.Equal(t, "c2", res.Citations[1].ContentPreview)
	assert.InDelta(t, 0.925, res.Confidence, 1e-4)
}

func TestProcessQueryNoResults(t *testing.T) {
	f, emb := newScoredFixture(t)
	emb.set("far chunk", at(0.3)...)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "far chunk")
	f.assign(t, "doc-1", "math101")

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	assert.True(t, res.Success)
	assert.Equal(t, models.QueryOutcomeNoResults, res.Outcome)
	assert.Equal(t, noResultsAnswer, res.Answer)
	assert.Empty(t, res.Citations)
	assert.Zero(t, res.Confidence)
	assert.GreaterOrEqual(t, res.ProcessingTimeMS, int64(0))
}

func TestProcessQueryEmptyIndex(t *testing.T) {
	f, _ := newScoredFixture(t)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	assert.True(t, res.Success)
	assert.Equal(t, models.QueryOutcomeNoResults, res.Outcome)
}

func TestProcessQueryAccessDenied(t *testing.T) {
	f, emb := newScoredFixture(t)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", false)

	rag := newRAG(f, DefaultRetrievalOptions())
	for _, classID := range []string{"math101", "missing"} {
		res := rag.ProcessQuery(f.ctx, "question", classID, "alice")
		assert.False(t, res.Success)
		assert.Equal(t, AccessDeniedMessage, res.Error)
		assert.Equal(t, models.QueryOutcomeError, res.Outcome)
		assert.Equal(t, models.QueryStateReceived, res.FailedState)
		assert.Empty(t, res.Citations)
	}
	assert.Zero(t, emb.calls)
}

func TestProcessQueryEmbedderFailure(t *testing.T) {
	f, emb := newScoredFixture(t)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	emb.err = errEmbedDown

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	assert.False(t, res.Success)
	assert.Equal(t, models.QueryStateAccessChecked, res.FailedState)
	assert.Equal(t, errorAnswer, res.Answer)
	assert.Contains(t, res.Error, "embedder down")
}

func TestProcessQueryDropsUnassignedHits(t *testing.T) {
	f, emb := newScoredFixture(t)
	emb.set("own chunk", at(0.8)...)
	emb.set("foreign chunk", at(0.99)...)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "own chunk")
	foreign := f.addDocument(t, "doc-2", "Cells.pdf", "foreign chunk")
	f.assign(t, "doc-1", "math101")

	// Index drift: a vector of an unassigned document
	require.NoError(t, f.registry.AddEmbeddings("math101", [][]float32{at(0.99)}, []string{foreign[0].ID}))

	res := newRAG(f, DefaultRetrievalOptions()).ProcessQuery(f.ctx, "question", "math101", "alice")
	require.True(t, res.Success)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "doc-1", res.Citations[0].DocumentID)
}

func TestProcessQueryTruncatesPreviewAndContext(t *testing.T) {
	f, emb := newScoredFixture(t)
	long := strings.Repeat("algebra ", 40)
	emb.set(long, at(0.9)...)
	f.addClass(t, "math101", true)
	f.grant(t, "alice", "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", long)
	f.assign(t, "doc-1", "math101")

	capture := &capturingAnswerer{}
	opts := DefaultRetrievalOptions()
	opts.MaxContextLength = 50
	rag := NewRAGService(f.store, f.registry, f.embedder, f.isolation, capture, opts)

	res := rag.ProcessQuery(f.ctx, "question", "math101", "alice")
	require.True(t, res.Success)
	assert.Equal(t, 203, len([]rune(res.Citations[0].ContentPreview)))
	assert.True(t, strings.HasSuffix(res.Citations[0].ContentPreview, "..."))
	assert.Equal(t, 53, len([]rune(capture.contextText)))
	assert.Equal(t, "captured", res.Answer)
}

type capturingAnswerer struct {
	contextText string
}

func (c *capturingAnswerer) Answer(_ context.Context, _, contextText string) (string, error) {
	c.contextText = contextText
	return "captured", nil
}

func TestAlgebraScenario(t *testing.T) {
	f, emb := newScoredFixture(t)
	const content = "Algebra is the branch of mathematics that uses letters to represent numbers."
	emb.set("What is algebra?", 1, 0, 0, 0)
	emb.set(content, at(0.92)...)

	f.addClass(t, "math101", true)
	f.addClass(t, "bio201", true)
	f.addDocument(t, "doc-algebra", "Algebra.pdf", content)
	f.assign(t, "doc-algebra", "math101")
	f.grant(t, "alice", "math101", true)

	rag := newRAG(f, DefaultRetrievalOptions())

	res := rag.ProcessQuery(f.ctx, "What is algebra?", "math101", "alice")
	require.True(t, res.Success)
	require.NotEmpty(t, res.Citations)
	assert.Equal(t, "Algebra.pdf", res.Citations[0].DocumentName)

	for _, other := range []string{"bio201", "art301"} {
		res := rag.ProcessQuery(f.ctx, "What is algebra?", other, "alice")
		assert.False(t, res.Success)
		assert.Empty(t, res.Citations)
		assert.Equal(t, AccessDeniedMessage, res.Error)
	}
}

func TestLoadExistingIndexes(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "bio201", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.assign(t, "doc-1", "math101")

	fresh := NewRAGService(f.store, vectordb.NewRegistry(f.registry.Dir(), f.registry.Dimension()), f.embedder, f.isolation, nil, DefaultRetrievalOptions())
	loaded, err := fresh.LoadExistingIndexes(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, fresh.GetClassIndexStats("math101").TotalVectors)
	assert.False(t, fresh.GetClassIndexStats("bio201").Exists)
}
