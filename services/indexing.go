package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"school-copilot/internal/ai"
	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/internal/telemetry"
	"school-copilot/internal/vectordb"
	"school-copilot/models"
	"school-copilot/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DocumentIndexer runs extract → chunk → embed → store chunks → add to
// every assigned class index, and records the outcome as document status
type DocumentIndexer struct {
	store        database.Store
	registry     *vectordb.Registry
	embedder     ai.Embedder
	extractor    Extractor
	chunker      *ChunkingService
	embedTimeout time.Duration
	metrics      *telemetry.Metrics
}

// NewDocumentIndexer creates a document indexer
func NewDocumentIndexer(store database.Store, registry *vectordb.Registry, embedder ai.Embedder, extractor Extractor, chunker *ChunkingService, embedTimeout time.Duration) *DocumentIndexer {
	return &DocumentIndexer{
		store:        store,
		registry:     registry,
		embedder:     embedder,
		extractor:    extractor,
		chunker:      chunker,
		embedTimeout: embedTimeout,
	}
}

// WithMetrics attaches metrics to the indexer
func (d *DocumentIndexer) WithMetrics(m *telemetry.Metrics) *DocumentIndexer {
	d.metrics = m
	return d
}

// IndexDocumentByID loads the document and indexes it. A document that
// already has chunks is reindexed instead.
func (d *DocumentIndexer) IndexDocumentByID(ctx context.Context, documentID string) error {
	doc, err := d.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", documentID, err)
	}
	n, err := d.store.CountChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	if n > 0 {
		return d.ReindexDocument(ctx, doc)
	}
	return d.IndexDocument(ctx, doc)
}

// ReindexDocumentByID loads the document and reindexes it
func (d *DocumentIndexer) ReindexDocumentByID(ctx context.Context, documentID string) error {
	doc, err := d.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", documentID, err)
	}
	return d.ReindexDocument(ctx, doc)
}

// IndexDocument indexes doc. On failure the document is marked error with
// the reason and the error is returned.
func (d *DocumentIndexer) IndexDocument(ctx context.Context, doc *models.Document) error {
	tracer := otel.Tracer("document-indexer")
	ctx, span := tracer.Start(ctx, "document.index")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.type", doc.FileType),
	)

	start := time.Now()
	logger.Info("Indexing document", "document_id", doc.ID, "name", doc.Name, "type", doc.FileType)

	chunkCount, err := d.index(ctx, doc)
	if err != nil {
		span.RecordError(err)
		d.metrics.RecordDocumentIndexing(ctx, doc.FileType, models.DocumentStatusError, time.Since(start).Seconds())
		d.markFailed(ctx, doc, err)
		return err
	}

	d.metrics.RecordDocumentIndexing(ctx, doc.FileType, models.DocumentStatusReady, time.Since(start).Seconds())
	logger.Info("Indexed document",
		"document_id", doc.ID,
		"chunks", chunkCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (d *DocumentIndexer) index(ctx context.Context, doc *models.Document) (int, error) {
	extracted, err := d.extractor.Extract(ctx, doc)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return 0, fmt.Errorf("%w: %s", ErrNoContent, doc.Name)
	}

	chunks := d.chunker.Process(doc.ID, extracted.Text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoContent, doc.Name)
	}

	texts := make([]string, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		chunkIDs[i] = c.ID
	}

	embedCtx, cancel := utils.WithBudget(ctx, d.embedTimeout)
	vectors, err := d.embedder.Embed(embedCtx, texts)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	if err := d.store.CreateChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	classIDs, err := d.store.ListDocumentClassIDs(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("list document classes: %w", err)
	}
	for _, classID := range classIDs {
		err := d.registry.WithClassLock(classID, func() error {
			// The assignment may have changed since it was listed. An
			// assign in between already indexed the stored chunks.
			assigned, err := d.store.IsAssigned(ctx, classID, doc.ID)
			if err != nil {
				return fmt.Errorf("check assignment: %w", err)
			}
			if !assigned {
				return nil
			}
			if _, err := d.registry.RemoveDocumentEmbeddings(classID, doc.ID, chunkIDs); err != nil {
				return err
			}
			if err := d.registry.AddEmbeddings(classID, vectors, chunkIDs); err != nil {
				return err
			}
			return d.registry.SaveIndex(classID)
		})
		d.metrics.RecordIndexOperation(ctx, classID, "add", err == nil)
		if err != nil {
			return 0, fmt.Errorf("add to class %s: %w", classID, err)
		}
	}

	now := time.Now().UTC()
	doc.Status = models.DocumentStatusReady
	doc.ErrorMessage = ""
	doc.LastIndexed = &now
	if extracted.PageCount != nil {
		doc.PageCount = extracted.PageCount
	}
	if extracted.Author != nil {
		doc.Author = extracted.Author
	}
	if err := d.store.UpdateDocument(ctx, doc); err != nil {
		return 0, fmt.Errorf("update document: %w", err)
	}
	return len(chunks), nil
}

func (d *DocumentIndexer) markFailed(ctx context.Context, doc *models.Document, cause error) {
	logger.Error("Failed to index document", "document_id", doc.ID, "name", doc.Name, "error", cause)

	doc.Status = models.DocumentStatusError
	doc.ErrorMessage = cause.Error()
	if err := d.store.UpdateDocument(context.WithoutCancel(ctx), doc); err != nil {
		logger.Error("Failed to record document error", "document_id", doc.ID, "error", err)
	}
}

// ReindexDocument removes the document's chunks and vectors from every
// assigned class, then indexes it again
func (d *DocumentIndexer) ReindexDocument(ctx context.Context, doc *models.Document) error {
	existing, err := d.store.ListChunksByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	chunkIDs := make([]string, len(existing))
	for i, c := range existing {
		chunkIDs[i] = c.ID
	}

	classIDs, err := d.store.ListDocumentClassIDs(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list document classes: %w", err)
	}
	for _, classID := range classIDs {
		err := d.registry.WithClassLock(classID, func() error {
			if _, err := d.registry.RemoveDocumentEmbeddings(classID, doc.ID, chunkIDs); err != nil {
				return err
			}
			if !d.registry.HasIndex(classID) {
				return nil
			}
			return d.registry.SaveIndex(classID)
		})
		d.metrics.RecordIndexOperation(ctx, classID, "remove", err == nil)
		if err != nil {
			return fmt.Errorf("remove from class %s: %w", classID, err)
		}
	}

	if _, err := d.store.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	doc.Status = models.DocumentStatusProcessing
	if err := d.store.UpdateDocument(ctx, doc); err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("update document: %w", err)
	}
	return d.IndexDocument(ctx, doc)
}
