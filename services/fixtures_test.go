package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"school-copilot/internal/ai"
	"school-copilot/internal/database"
	"school-copilot/internal/vectordb"
	"school-copilot/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testDim = 64

// scriptedEmbedder returns fixed vectors for known texts and a constant
// vector along the last axis for anything else
type scriptedEmbedder struct {
	dim     int
	vectors map[string][]float32
	err     error
	calls   int
}

func newScriptedEmbedder(dim int) *scriptedEmbedder {
	return &scriptedEmbedder{dim: dim, vectors: map[string][]float32{}}
}

func (e *scriptedEmbedder) set(text string, v ...float32) {
	full := make([]float32, e.dim)
	copy(full, v)
	e.vectors[text] = full
}

func (e *scriptedEmbedder) Name() string   { return "scripted" }
func (e *scriptedEmbedder) Dimension() int { return e.dim }

func (e *scriptedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, e.dim)
		v[e.dim-1] = 1
		out[i] = v
	}
	return out, nil
}

func (e *scriptedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

var errEmbedDown = errors.New("embedder down")

type fixture struct {
	ctx       context.Context
	store     database.Store
	registry  *vectordb.Registry
	embedder  ai.Embedder
	isolation *ClassIsolationService
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.OpenSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func newFixture(t *testing.T, embedder ai.Embedder) *fixture {
	t.Helper()
	if embedder == nil {
		embedder = ai.NewHashEmbedder(testDim)
	}
	store := newTestStore(t)
	registry := vectordb.NewRegistry(t.TempDir(), embedder.Dimension())
	return &fixture{
		ctx:       context.Background(),
		store:     store,
		registry:  registry,
		embedder:  embedder,
		isolation: NewClassIsolationService(store, registry, embedder, time.Second),
	}
}

func (f *fixture) addClass(t *testing.T, id string, enabled bool) *models.Class {
	t.Helper()
	class := &models.Class{
		ID:                 id,
		Name:               id,
		TeacherID:          "teacher-" + id,
		Enabled:            enabled,
		DailyQuestionLimit: models.DefaultDailyQuestionLimit,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateClass(f.ctx, class))
	return class
}

func (f *fixture) grant(t *testing.T, studentID, classID string, enabled bool) {
	t.Helper()
	require.NoError(t, f.store.UpsertStudentAccess(f.ctx, &models.StudentAccess{
		StudentID: studentID,
		ClassID:   classID,
		Enabled:   enabled,
		CreatedAt: time.Now().UTC(),
	}))
}

// addDocument stores a ready document whose chunks have the given contents
func (f *fixture) addDocument(t *testing.T, id, name string, contents ...string) []models.Chunk {
	t.Helper()
	require.NoError(t, f.store.CreateDocument(f.ctx, &models.Document{
		ID:         id,
		Name:       name,
		FileType:   models.FileTypeTXT,
		OwnerID:    "owner",
		Status:     models.DocumentStatusReady,
		UploadDate: time.Now().UTC(),
	}))

	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		page := i + 1
		chunks[i] = models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: id,
			Content:    c,
			ChunkIndex: i,
			TokenCount: EstimateTokens(c),
			PageNumber: &page,
			CreatedAt:  time.Now().UTC(),
		}
	}
	if len(chunks) > 0 {
		require.NoError(t, f.store.CreateChunks(f.ctx, chunks))
	}
	return chunks
}

func (f *fixture) assign(t *testing.T, documentID, classID string) {
	t.Helper()
	require.NoError(t, f.isolation.AssignDocumentToClass(f.ctx, documentID, classID))
}

func chunkIDSet(chunks []models.Chunk) map[string]struct{} {
	out := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		out[c.ID] = struct{}{}
	}
	return out
}
