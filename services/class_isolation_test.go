package services

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"school-copilot/internal/ai"
	"school-copilot/internal/database"
	"school-copilot/internal/vectordb"
	"school-copilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignKeepsClassesIsolated(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "bio201", true)

	algebra := f.addDocument(t, "doc-algebra", "Algebra.pdf",
		"Algebra uses letters to stand for unknown numbers in equations.",
		"A quadratic equation has a squared term and up to two roots.",
	)
	cells := f.addDocument(t, "doc-cells", "Cells.pdf",
		"The mitochondria is the powerhouse of the cell.",
	)
	f.assign(t, "doc-algebra", "math101")
	f.assign(t, "doc-cells", "bio201")

	mathIDs := f.registry.ChunkIDs("math101")
	assert.Len(t, mathIDs, len(algebra))
	allowed := chunkIDSet(algebra)
	for _, id := range mathIDs {
		assert.Contains(t, allowed, id)
	}

	// The exact text of a bio201 chunk still cannot surface in math101
	vec, err := f.embedder.EmbedOne(f.ctx, cells[0].Content)
	require.NoError(t, err)
	hits, err := f.registry.Search("math101", vec, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Contains(t, allowed, h.ChunkID)
	}

	bioHits, err := f.registry.Search("bio201", vec, 10)
	require.NoError(t, err)
	require.NotEmpty(t, bioHits)
	assert.Equal(t, cells[0].ID, bioHits[0].ChunkID)
}

func TestAssignTwiceIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")

	f.assign(t, "doc-1", "math101")
	f.assign(t, "doc-1", "math101")

	assert.Equal(t, 1, f.registry.GetIndexStats("math101").TotalVectors)
	docs, err := f.isolation.GetClassDocuments(f.ctx, "math101")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestAssignUnknownDocumentOrClass(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")

	assert.ErrorIs(t, f.isolation.AssignDocumentToClass(f.ctx, "missing", "math101"), database.ErrNotFound)
	assert.ErrorIs(t, f.isolation.AssignDocumentToClass(f.ctx, "doc-1", "missing"), database.ErrNotFound)
}

func TestAssignRollsBackWhenEmbeddingFails(t *testing.T) {
	emb := newScriptedEmbedder(4)
	f := newFixture(t, emb)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")

	emb.err = errEmbedDown
	err := f.isolation.AssignDocumentToClass(f.ctx, "doc-1", "math101")
	require.ErrorIs(t, err, errEmbedDown)

	assigned, err := f.store.IsAssigned(f.ctx, "math101", "doc-1")
	require.NoError(t, err)
	assert.False(t, assigned)
	assert.Zero(t, f.registry.GetIndexStats("math101").TotalVectors)
}

func TestRemoveDocumentFromClassPersists(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.", "Geometry studies shapes and angles.")
	f.addDocument(t, "doc-2", "Calculus.pdf", "Calculus studies rates of change.")
	f.assign(t, "doc-1", "math101")
	f.assign(t, "doc-2", "math101")
	require.Equal(t, 3, f.registry.GetIndexStats("math101").TotalVectors)

	require.NoError(t, f.isolation.RemoveDocumentFromClass(f.ctx, "doc-1", "math101"))
	assert.Equal(t, 1, f.registry.GetIndexStats("math101").TotalVectors)

	assigned, err := f.store.IsAssigned(f.ctx, "math101", "doc-1")
	require.NoError(t, err)
	assert.False(t, assigned)

	// Artifacts reflect the removal
	fresh := vectordb.NewRegistry(f.registry.Dir(), f.registry.Dimension())
	ok, err := fresh.LoadIndex("math101")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, fresh.GetIndexStats("math101").TotalVectors)
}

func TestVerifyStudentAccessGating(t *testing.T) {
	for _, classExists := range []bool{true, false} {
		for _, classEnabled := range []bool{true, false} {
			for _, studentEnabled := range []bool{true, false} {
				name := fmt.Sprintf("exists=%t/class=%t/student=%t", classExists, classEnabled, studentEnabled)
				t.Run(name, func(t *testing.T) {
					f := newFixture(t, nil)
					if classExists {
						f.addClass(t, "math101", classEnabled)
					}
					f.grant(t, "alice", "math101", studentEnabled)

					want := classExists && classEnabled && studentEnabled
					assert.Equal(t, want, f.isolation.VerifyStudentAccess(f.ctx, "alice", "math101"))
				})
			}
		}
	}
}

func TestVerifyStudentAccessWithoutRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	assert.False(t, f.isolation.VerifyStudentAccess(f.ctx, "bob", "math101"))
}

func TestGetStudentClasses(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "bio201", false)
	f.addClass(t, "art301", true)
	f.grant(t, "alice", "math101", true)
	f.grant(t, "alice", "bio201", true)
	f.grant(t, "alice", "art301", false)

	classes, err := f.isolation.GetStudentClasses(f.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "math101", classes[0].ID)
}

func TestVerifyQueryIsolation(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "bio201", true)
	algebra := f.addDocument(t, "doc-algebra", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.addDocument(t, "doc-cells", "Cells.pdf", "The mitochondria is the powerhouse of the cell.")
	f.assign(t, "doc-algebra", "math101")
	f.assign(t, "doc-cells", "bio201")
	f.grant(t, "alice", "math101", true)

	res := f.isolation.VerifyQueryIsolation(f.ctx, "alice", "math101", "mitochondria powerhouse")
	assert.True(t, res.Allowed)
	assert.Equal(t, "Access granted", res.Reason)
	assert.Equal(t, []string{"doc-algebra"}, res.AccessibleDocuments)
	assert.Equal(t, 1, res.VectorIndexSize)
	assert.Equal(t, []string{algebra[0].ID}, res.ReachableChunks)

	denied := f.isolation.VerifyQueryIsolation(f.ctx, "alice", "bio201", "")
	assert.False(t, denied.Allowed)
	assert.Equal(t, "Student does not have access to this class", denied.Reason)
	assert.Empty(t, denied.AccessibleDocuments)
	assert.Zero(t, denied.DocumentCount)
}

func TestAuditSecureClass(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.assign(t, "doc-1", "math101")
	f.grant(t, "alice", "math101", true)
	f.grant(t, "bob", "math101", false)

	audit, err := f.isolation.AuditClassIsolation(f.ctx, "math101")
	require.NoError(t, err)
	assert.Equal(t, models.IsolationSecure, audit.IsolationStatus)
	assert.Equal(t, 1, audit.AssignedDocuments)
	assert.Equal(t, 1, audit.EnabledStudents)
	assert.Equal(t, 2, audit.TotalStudents)
	assert.True(t, audit.VectorIndex.Exists)
	assert.Empty(t, audit.PotentialLeaks)
	assert.Empty(t, audit.IndexLeaks)
}

func TestAuditReportsPotentialAndIndexLeaks(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	cells := f.addDocument(t, "doc-2", "Cells.pdf", "The mitochondria is the powerhouse of the cell.")
	f.assign(t, "doc-1", "math101")

	audit, err := f.isolation.AuditClassIsolation(f.ctx, "math101")
	require.NoError(t, err)
	assert.Equal(t, models.IsolationWarning, audit.IsolationStatus)
	require.Len(t, audit.PotentialLeaks, 1)
	assert.Equal(t, "doc-2", audit.PotentialLeaks[0].DocumentID)
	assert.Equal(t, int64(1), audit.PotentialLeaks[0].ChunkCount)
	assert.Empty(t, audit.IndexLeaks)

	// A vector of an unassigned document sneaks into the index
	vec, err := f.embedder.EmbedOne(f.ctx, cells[0].Content)
	require.NoError(t, err)
	require.NoError(t, f.registry.AddEmbeddings("math101", [][]float32{vec}, []string{cells[0].ID}))
	require.NoError(t, f.registry.AddEmbeddings("math101", [][]float32{vec}, []string{"gone"}))

	audit, err = f.isolation.AuditClassIsolation(f.ctx, "math101")
	require.NoError(t, err)
	require.Len(t, audit.IndexLeaks, 1)
	assert.Equal(t, models.IndexLeak{ChunkID: cells[0].ID, DocumentID: "doc-2"}, audit.IndexLeaks[0])
	assert.Equal(t, 1, audit.StaleVectors)
}

func TestAuditUnknownClass(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.isolation.AuditClassIsolation(f.ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBulkAssignDocuments(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.addDocument(t, "doc-2", "Geometry.pdf", "Geometry studies shapes and angles.")

	res := f.isolation.BulkAssignDocuments(f.ctx, []string{"doc-1", "missing", "doc-2"}, "math101")
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"doc-1", "doc-2"}, res.Successful)
	assert.Equal(t, []string{"missing"}, res.Failed)
	assert.Contains(t, res.Errors, "missing")
	assert.Equal(t, 2, f.registry.GetIndexStats("math101").TotalVectors)
}

func TestMigrateClassDocuments(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "math102", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.addDocument(t, "doc-2", "Geometry.pdf", "Geometry studies shapes and angles.")
	f.assign(t, "doc-1", "math101")
	f.assign(t, "doc-2", "math101")

	res, err := f.isolation.MigrateClassDocuments(f.ctx, "math101", "math102")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Migrated, 2)
	assert.Empty(t, res.Failed)

	assert.Zero(t, f.registry.GetIndexStats("math101").TotalVectors)
	assert.Equal(t, 2, f.registry.GetIndexStats("math102").TotalVectors)
}

func TestMigrateClassDocumentsUnknownClass(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)

	_, err := f.isolation.MigrateClassDocuments(f.ctx, "math101", "missing")
	require.ErrorIs(t, err, database.ErrNotFound)
	assert.Contains(t, err.Error(), "Source or destination class not found")
}

// failingAssignStore refuses assignments into one class
type failingAssignStore struct {
	database.Store
	classID string
}

func (s *failingAssignStore) AssignDocument(ctx context.Context, classID, documentID string) error {
	if classID == s.classID {
		return fmt.Errorf("assignment rejected for %s", classID)
	}
	return s.Store.AssignDocument(ctx, classID, documentID)
}

func TestMigrateDocumentCompensates(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "math102", true)
	chunks := f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.assign(t, "doc-1", "math101")

	svc := NewClassIsolationService(&failingAssignStore{Store: f.store, classID: "math102"}, f.registry, f.embedder, 0)
	err := svc.MigrateDocument(f.ctx, "doc-1", "math101", "math102")
	require.Error(t, err)

	assigned, err := f.store.IsAssigned(f.ctx, "math101", "doc-1")
	require.NoError(t, err)
	assert.True(t, assigned)
	assert.Equal(t, []string{chunks[0].ID}, f.registry.ChunkIDs("math101"))

	moved, err := f.store.IsAssigned(f.ctx, "math102", "doc-1")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Zero(t, f.registry.GetIndexStats("math102").TotalVectors)
}

func TestRebuildClassIndex(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	chunks := f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.", "Geometry studies shapes and angles.")
	f.assign(t, "doc-1", "math101")

	// Drift: a foreign vector and a lost one
	f.registry.CreateIndex("math101")
	vec, err := f.embedder.EmbedOne(f.ctx, "stray")
	require.NoError(t, err)
	require.NoError(t, f.registry.AddEmbeddings("math101", [][]float32{vec}, []string{"stray"}))

	require.NoError(t, f.isolation.RebuildClassIndex(f.ctx, "math101"))
	assert.ElementsMatch(t, []string{chunks[0].ID, chunks[1].ID}, f.registry.ChunkIDs("math101"))
}

func TestCreateClassCollection(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)

	require.NoError(t, f.isolation.CreateClassCollection(f.ctx, "math101"))
	stats := f.registry.GetIndexStats("math101")
	assert.True(t, stats.Exists)
	assert.Zero(t, stats.TotalVectors)
	assert.Equal(t, testDim, stats.Dimension)

	assert.ErrorIs(t, f.isolation.CreateClassCollection(f.ctx, "missing"), database.ErrNotFound)
}

func TestCleanupOrphanedData(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.addDocument(t, "doc-gone", "Old.pdf", "Old notes nobody needs any more.", "More old notes for the bin.")
	f.assign(t, "doc-1", "math101")
	f.assign(t, "doc-gone", "math101")
	require.NoError(t, f.isolation.RemoveDocumentFromClass(f.ctx, "doc-gone", "math101"))
	require.NoError(t, f.store.AssignDocument(f.ctx, "math101", "doc-gone"))
	require.NoError(t, f.store.DeleteDocument(f.ctx, "doc-gone"))

	// Simulate a lost index for the class
	f.registry.CreateIndex("math101")

	res, err := f.isolation.CleanupOrphanedData(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.OrphanedChunks)
	assert.Equal(t, int64(1), res.InvalidAssignments)
	assert.Equal(t, 1, res.EmptyIndexes)
	assert.Equal(t, 1, f.registry.GetIndexStats("math101").TotalVectors)
}

// gatedEmbedder blocks the first Embed call after arming until release is
// closed
type gatedEmbedder struct {
	ai.Embedder
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		Embedder: ai.NewHashEmbedder(testDim),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Embedder.Embed(ctx, texts)
}

func TestRebuildSerializesWithRemoval(t *testing.T) {
	gate := newGatedEmbedder()
	f := newFixture(t, gate)
	f.addClass(t, "math101", true)
	kept := f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.addDocument(t, "doc-2", "Geometry.pdf", "Geometry studies shapes and angles.")
	f.assign(t, "doc-1", "math101")
	f.assign(t, "doc-2", "math101")

	gate.armed.Store(true)
	rebuilt := make(chan error, 1)
	go func() { rebuilt <- f.isolation.RebuildClassIndex(f.ctx, "math101") }()
	<-gate.entered

	removed := make(chan error, 1)
	go func() { removed <- f.isolation.RemoveDocumentFromClass(f.ctx, "doc-2", "math101") }()

	select {
	case err := <-removed:
		t.Fatalf("removal finished during the rebuild: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-rebuilt)
	require.NoError(t, <-removed)

	assert.Equal(t, []string{kept[0].ID}, f.registry.ChunkIDs("math101"))
	audit, err := f.isolation.AuditClassIsolation(f.ctx, "math101")
	require.NoError(t, err)
	assert.Empty(t, audit.IndexLeaks)
	assert.Zero(t, audit.StaleVectors)
}

func TestDeleteDocumentRemovesItFromEveryClass(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	f.addClass(t, "math102", true)
	other := f.addDocument(t, "doc-1", "Geometry.pdf", "Geometry studies shapes and angles.")
	f.assign(t, "doc-1", "math101")

	doc := f.uploadText(t, "algebra", algebraNotes)
	f.assign(t, "algebra", "math101")
	f.assign(t, "algebra", "math102")
	require.NoError(t, f.indexer(20).IndexDocument(f.ctx, doc))
	require.Len(t, f.registry.ChunkIDs("math102"), 4)

	deleted, err := f.isolation.DeleteDocument(f.ctx, "algebra")
	require.NoError(t, err)
	assert.Equal(t, "algebra.txt", deleted.Name)

	assert.Equal(t, []string{other[0].ID}, f.registry.ChunkIDs("math101"))
	assert.Empty(t, f.registry.ChunkIDs("math102"))

	n, err := f.store.CountChunksByDocument(f.ctx, "algebra")
	require.NoError(t, err)
	assert.Zero(t, n)
	classIDs, err := f.store.ListDocumentClassIDs(f.ctx, "algebra")
	require.NoError(t, err)
	assert.Empty(t, classIDs)
	_, err = f.store.GetDocument(f.ctx, "algebra")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = os.Stat(doc.FilePath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	reloaded := vectordb.NewRegistry(f.registry.Dir(), f.registry.Dimension())
	_, err = reloaded.LoadIndex("math101")
	require.NoError(t, err)
	assert.Equal(t, []string{other[0].ID}, reloaded.ChunkIDs("math101"))

	_, err = f.isolation.DeleteDocument(f.ctx, "algebra")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCleanupRebuildsStaleIndexesAndDropsDeletedClasses(t *testing.T) {
	f := newFixture(t, nil)
	f.addClass(t, "math101", true)
	kept := f.addDocument(t, "doc-1", "Algebra.pdf", "Algebra uses letters to stand for numbers.")
	f.addDocument(t, "doc-2", "Old.pdf", "Old notes nobody needs any more.")
	f.assign(t, "doc-1", "math101")
	f.assign(t, "doc-2", "math101")

	// Row deleted without going through the isolation service
	require.NoError(t, f.store.DeleteDocument(f.ctx, "doc-2"))

	// Index of a class the store no longer knows
	f.registry.CreateIndex("ghost")
	require.NoError(t, f.registry.SaveIndex("ghost"))

	res, err := f.isolation.CleanupOrphanedData(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.OrphanedChunks)
	assert.Equal(t, int64(1), res.InvalidAssignments)
	assert.Equal(t, 1, res.StaleIndexes)
	assert.Zero(t, res.EmptyIndexes)
	assert.Equal(t, 1, res.DroppedIndexes)

	assert.Equal(t, []string{kept[0].ID}, f.registry.ChunkIDs("math101"))
	assert.False(t, f.registry.HasIndex("ghost"))

	audit, err := f.isolation.AuditClassIsolation(f.ctx, "math101")
	require.NoError(t, err)
	assert.Zero(t, audit.StaleVectors)
	assert.Equal(t, models.IsolationSecure, audit.IsolationStatus)
}
