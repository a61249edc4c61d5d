package vectordb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"school-copilot/internal/logger"
	"school-copilot/models"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrLengthMismatch    = errors.New("vectors and chunk ids differ in length")
	ErrNoIndex           = errors.New("class has no vector index")
	ErrCorruptIndex      = errors.New("vector index artifacts are inconsistent")
)

// SearchHit is one similarity search result
type SearchHit struct {
	ChunkID string
	Score   float32
}

type classIndex struct {
	mu       sync.RWMutex
	index    *FlatIndex
	chunkIDs []string

	// writeMu serializes multi-step writers such as add+save
	writeMu sync.Mutex
	// persistMu orders snapshots and their artifact writes
	persistMu sync.Mutex

	// modification time of the mapping artifact last saved or loaded
	stamp time.Time
}

// Registry owns the per-class vector indexes of one process. Each class is
// guarded by its own lock, so writes to one class never block searches in
// another.
type Registry struct {
	dir string
	dim int

	mu      sync.RWMutex
	classes map[string]*classIndex

	// shared registries reload artifacts written by other processes
	shared bool
}

// NewRegistry creates a registry storing artifacts under dir with vectors
// of width dim.
func NewRegistry(dir string, dim int) *Registry {
	return &Registry{
		dir:     dir,
		dim:     dim,
		classes: make(map[string]*classIndex),
	}
}

// SetShared makes searches pick up artifacts another process saved, as
// when a separate worker does the indexing.
func (r *Registry) SetShared(shared bool) {
	r.shared = shared
}

func (r *Registry) Dimension() int { return r.dim }

func (r *Registry) Dir() string { return r.dir }

func (r *Registry) get(classID string) (*classIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ci, ok := r.classes[classID]
	return ci, ok
}

// entry returns the class slot, creating it if needed
func (r *Registry) entry(classID string) *classIndex {
	if ci, ok := r.get(classID); ok {
		return ci
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ci, ok := r.classes[classID]; ok {
		return ci
	}
	ci := &classIndex{}
	r.classes[classID] = ci
	return ci
}

// WithClassLock runs fn while holding the class's writer lock. Individual
// operations stay atomic on their own; this keeps a sequence of them from
// interleaving with another writer of the same class.
func (r *Registry) WithClassLock(classID string, fn func() error) error {
	ci := r.entry(classID)
	ci.writeMu.Lock()
	defer ci.writeMu.Unlock()
	if r.shared {
		if _, err := r.Refresh(classID); err != nil {
			return err
		}
	}
	return fn()
}

// CreateIndex replaces the class's in-memory index with an empty one
func (r *Registry) CreateIndex(classID string) {
	ci := r.entry(classID)
	ci.mu.Lock()
	defer ci.mu.Unlock()

	ci.index = NewFlatIndex(r.dim)
	ci.chunkIDs = nil
	logger.Debug("Created class vector index", "class_id", classID, "dimension", r.dim)
}

// HasIndex reports whether the class has an in-memory index
func (r *Registry) HasIndex(classID string) bool {
	ci, ok := r.get(classID)
	if !ok {
		return false
	}
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.index != nil
}

// AddEmbeddings appends vectors and their chunk ids, creating the index on
// first use.
func (r *Registry) AddEmbeddings(classID string, vectors [][]float32, chunkIDs []string) error {
	if len(vectors) != len(chunkIDs) {
		return fmt.Errorf("%w: %d vectors, %d chunk ids", ErrLengthMismatch, len(vectors), len(chunkIDs))
	}

	ci := r.entry(classID)
	ci.mu.Lock()
	defer ci.mu.Unlock()

	if ci.index == nil {
		ci.index = NewFlatIndex(r.dim)
		ci.chunkIDs = nil
	}
	if len(vectors) == 0 {
		return nil
	}
	if err := ci.index.Add(vectors); err != nil {
		return err
	}
	ci.chunkIDs = append(ci.chunkIDs, chunkIDs...)
	return nil
}

// Search returns up to k hits in descending similarity. A class without an
// index, or with an empty one, yields no hits.
func (r *Registry) Search(classID string, query []float32, k int) ([]SearchHit, error) {
	if r.shared {
		if _, err := r.Refresh(classID); err != nil {
			logger.Warn("Serving cached class index", "class_id", classID, "error", err)
		}
	}

	ci, ok := r.get(classID)
	if !ok {
		return []SearchHit{}, nil
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()

	if ci.index == nil || ci.index.Len() == 0 {
		return []SearchHit{}, nil
	}
	if len(query) != ci.index.Dim() {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), ci.index.Dim())
	}

	positions, scores := ci.index.Search(query, k)
	hits := make([]SearchHit, 0, len(positions))
	for i, p := range positions {
		if p >= len(ci.chunkIDs) {
			continue
		}
		hits = append(hits, SearchHit{ChunkID: ci.chunkIDs[p], Score: scores[i]})
	}
	return hits, nil
}

// RemoveDocumentEmbeddings drops every vector whose chunk id is in chunkIDs
// by rebuilding the class index without them. It returns the number of
// vectors removed.
func (r *Registry) RemoveDocumentEmbeddings(classID, documentID string, chunkIDs []string) (int, error) {
	ci, ok := r.get(classID)
	if !ok {
		return 0, nil
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()

	if ci.index == nil || len(chunkIDs) == 0 {
		return 0, nil
	}

	remove := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		remove[id] = struct{}{}
	}

	drop := make(map[int]struct{})
	kept := make([]string, 0, len(ci.chunkIDs))
	for i, id := range ci.chunkIDs {
		if _, ok := remove[id]; ok {
			drop[i] = struct{}{}
			continue
		}
		kept = append(kept, id)
	}
	if len(drop) == 0 {
		return 0, nil
	}

	ci.index = ci.index.Without(drop)
	ci.chunkIDs = kept

	logger.Info("Removed document vectors from class index",
		"class_id", classID,
		"document_id", documentID,
		"removed", len(drop),
		"remaining", len(kept),
	)
	return len(drop), nil
}

// GetIndexStats describes the class's in-memory index
func (r *Registry) GetIndexStats(classID string) models.IndexStats {
	ci, ok := r.get(classID)
	if !ok {
		return models.IndexStats{}
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()

	if ci.index == nil {
		return models.IndexStats{}
	}
	return models.IndexStats{
		Exists:       true,
		TotalVectors: ci.index.Len(),
		Dimension:    ci.index.Dim(),
		ChunkCount:   len(ci.chunkIDs),
	}
}

// ChunkIDs returns a copy of the class's chunk id mapping
func (r *Registry) ChunkIDs(classID string) []string {
	ci, ok := r.get(classID)
	if !ok {
		return nil
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()

	out := make([]string, len(ci.chunkIDs))
	copy(out, ci.chunkIDs)
	return out
}

// Drop forgets the class's index and deletes its artifacts
func (r *Registry) Drop(classID string) error {
	r.mu.Lock()
	ci, ok := r.classes[classID]
	delete(r.classes, classID)
	r.mu.Unlock()

	if ok {
		ci.mu.Lock()
		ci.index = nil
		ci.chunkIDs = nil
		ci.mu.Unlock()
	}
	return r.removeArtifacts(classID)
}

// Classes lists the classes that currently hold an index slot
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.classes))
	for id := range r.classes {
		out = append(out, id)
	}
	return out
}
