package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"school-copilot/internal/ai"
	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/internal/telemetry"
	"school-copilot/internal/vectordb"
	"school-copilot/models"
	"school-copilot/utils"
)

const (
	reasonNoAccess      = "Student does not have access to this class"
	reasonAccessGranted = "Access granted"

	// isolationProbeK is how many hits a query isolation probe inspects
	isolationProbeK = 10
)

// ClassIsolationService is the source of truth for which documents may be
// retrieved in which class. It keeps every class vector index in step with
// the assignment table.
type ClassIsolationService struct {
	store        database.Store
	registry     *vectordb.Registry
	embedder     ai.Embedder
	embedTimeout time.Duration
	metrics      *telemetry.Metrics
}

// NewClassIsolationService creates the isolation service. embedTimeout
// bounds each embedding call; zero means no extra budget.
func NewClassIsolationService(store database.Store, registry *vectordb.Registry, embedder ai.Embedder, embedTimeout time.Duration) *ClassIsolationService {
	return &ClassIsolationService{
		store:        store,
		registry:     registry,
		embedder:     embedder,
		embedTimeout: embedTimeout,
	}
}

// WithMetrics attaches metrics to the service
func (s *ClassIsolationService) WithMetrics(m *telemetry.Metrics) *ClassIsolationService {
	s.metrics = m
	return s
}

// Registry exposes the vector index registry the service maintains
func (s *ClassIsolationService) Registry() *vectordb.Registry {
	return s.registry
}

func (s *ClassIsolationService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := utils.WithBudget(ctx, s.embedTimeout)
	defer cancel()
	return s.embedder.Embed(ctx, texts)
}

func (s *ClassIsolationService) lookup(ctx context.Context, documentID, classID string) (*models.Document, *models.Class, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("document %s: %w", documentID, err)
	}
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, nil, fmt.Errorf("class %s: %w", classID, err)
	}
	return doc, class, nil
}

// CreateClassCollection gives a class a fresh empty vector index and
// persists it
func (s *ClassIsolationService) CreateClassCollection(ctx context.Context, classID string) error {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		logger.Error("Class not found", "class_id", classID)
		return fmt.Errorf("class %s: %w", classID, err)
	}

	err = s.registry.WithClassLock(classID, func() error {
		s.registry.CreateIndex(classID)
		return s.registry.SaveIndex(classID)
	})
	s.metrics.RecordIndexOperation(ctx, classID, "create", err == nil)
	if err != nil {
		logger.Error("Failed to create class collection", "class_id", classID, "error", err)
		return err
	}

	logger.Info("Created isolated collection for class", "class_id", classID, "class_name", class.Name)
	return nil
}

// AssignDocumentToClass records the assignment and adds the document's
// chunk embeddings to the class index. Assigning twice is a no-op.
//
// The assignment row is committed before the index is touched. If
// embedding or saving fails the row is removed again; a crash between the
// two leaves an assignment without vectors, which RebuildClassIndex repairs.
func (s *ClassIsolationService) AssignDocumentToClass(ctx context.Context, documentID, classID string) error {
	doc, class, err := s.lookup(ctx, documentID, classID)
	if err != nil {
		logger.Error("Document or class not found", "document_id", documentID, "class_id", classID)
		return err
	}

	assigned, err := s.store.IsAssigned(ctx, classID, documentID)
	if err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if assigned {
		logger.Info("Document already assigned to class", "document", doc.Name, "class", class.Name)
		return nil
	}

	err = s.registry.WithClassLock(classID, func() error {
		if err := s.store.AssignDocument(ctx, classID, documentID); err != nil {
			return fmt.Errorf("assign document: %w", err)
		}

		if err := s.indexDocumentInClass(ctx, classID, documentID); err != nil {
			if uerr := s.store.UnassignDocument(context.WithoutCancel(ctx), classID, documentID); uerr != nil {
				logger.Error("Failed to roll back assignment",
					"document_id", documentID,
					"class_id", classID,
					"error", uerr,
				)
			}
			return err
		}
		return nil
	})
	s.metrics.RecordIndexOperation(ctx, classID, "add", err == nil)
	if err != nil {
		logger.Error("Failed to assign document to class",
			"document_id", documentID,
			"class_id", classID,
			"error", err,
		)
		return err
	}

	logger.Info("Assigned document to class", "document", doc.Name, "class", class.Name)
	return nil
}

// indexDocumentInClass embeds the document's chunks into the class index
// and saves it. The caller holds the class lock. On failure the in-memory
// index is left without the document's vectors.
func (s *ClassIsolationService) indexDocumentInClass(ctx context.Context, classID, documentID string) error {
	chunks, err := s.store.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		if !s.registry.HasIndex(classID) {
			s.registry.CreateIndex(classID)
		}
		return s.registry.SaveIndex(classID)
	}

	texts := make([]string, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		chunkIDs[i] = c.ID
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	// A vector may only appear once per class
	if _, err := s.registry.RemoveDocumentEmbeddings(classID, documentID, chunkIDs); err != nil {
		return err
	}
	if err := s.registry.AddEmbeddings(classID, vectors, chunkIDs); err != nil {
		return fmt.Errorf("add embeddings: %w", err)
	}
	if err := s.registry.SaveIndex(classID); err != nil {
		if _, rerr := s.registry.RemoveDocumentEmbeddings(classID, documentID, chunkIDs); rerr != nil {
			logger.Error("Failed to drop unsaved vectors", "class_id", classID, "error", rerr)
		}
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// RemoveDocumentFromClass deletes the assignment and the document's
// vectors from the class index
func (s *ClassIsolationService) RemoveDocumentFromClass(ctx context.Context, documentID, classID string) error {
	doc, class, err := s.lookup(ctx, documentID, classID)
	if err != nil {
		logger.Error("Document or class not found", "document_id", documentID, "class_id", classID)
		return err
	}

	err = s.registry.WithClassLock(classID, func() error {
		if err := s.store.UnassignDocument(ctx, classID, documentID); err != nil {
			return fmt.Errorf("unassign document: %w", err)
		}
		return s.dropDocumentVectors(ctx, classID, documentID)
	})
	s.metrics.RecordIndexOperation(ctx, classID, "remove", err == nil)
	if err != nil {
		logger.Error("Failed to remove document from class",
			"document_id", documentID,
			"class_id", classID,
			"error", err,
		)
		return err
	}

	logger.Info("Removed document from class", "document", doc.Name, "class", class.Name)
	return nil
}

// dropDocumentVectors removes and persists. The caller holds the class lock.
func (s *ClassIsolationService) dropDocumentVectors(ctx context.Context, classID, documentID string) error {
	chunks, err := s.store.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}

	if _, err := s.registry.RemoveDocumentEmbeddings(classID, documentID, chunkIDs); err != nil {
		return err
	}
	if !s.registry.HasIndex(classID) {
		return nil
	}
	return s.registry.SaveIndex(classID)
}

// DeleteDocument unassigns a document from every class, dropping its
// vectors under each class lock, then deletes its chunks, its row and the
// uploaded file. A missing file is not an error.
func (s *ClassIsolationService) DeleteDocument(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, err)
	}

	classIDs, err := s.store.ListDocumentClassIDs(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document classes: %w", err)
	}
	for _, classID := range classIDs {
		err := s.registry.WithClassLock(classID, func() error {
			if err := s.store.UnassignDocument(ctx, classID, documentID); err != nil {
				return fmt.Errorf("unassign document: %w", err)
			}
			return s.dropDocumentVectors(ctx, classID, documentID)
		})
		s.metrics.RecordIndexOperation(ctx, classID, "remove", err == nil)
		if err != nil {
			return nil, fmt.Errorf("remove from class %s: %w", classID, err)
		}
	}

	if _, err := s.store.DeleteChunksByDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to delete document file", "document_id", documentID, "path", doc.FilePath, "error", err)
		}
	}

	logger.Info("Deleted document", "document_id", documentID, "name", doc.Name, "classes", len(classIDs))
	return doc, nil
}

// GetClassDocuments lists the documents assigned to a class
func (s *ClassIsolationService) GetClassDocuments(ctx context.Context, classID string) ([]models.Document, error) {
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return nil, fmt.Errorf("class %s: %w", classID, err)
	}
	docs, err := s.store.ListClassDocuments(ctx, classID)
	if err != nil {
		logger.Error("Failed to get class documents", "class_id", classID, "error", err)
		return nil, err
	}
	return docs, nil
}

// VerifyStudentAccess reports whether the class exists and is enabled and
// the student holds an enabled access record for it. Lookup errors deny.
func (s *ClassIsolationService) VerifyStudentAccess(ctx context.Context, studentID, classID string) bool {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Failed to verify student access", "student_id", studentID, "class_id", classID, "error", err)
		}
		return false
	}
	if !class.Enabled {
		return false
	}

	access, err := s.store.GetStudentAccess(ctx, studentID, classID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Error("Failed to verify student access", "student_id", studentID, "class_id", classID, "error", err)
		}
		return false
	}
	return access.Enabled
}

// GetStudentClasses lists the enabled classes the student has enabled
// access to
func (s *ClassIsolationService) GetStudentClasses(ctx context.Context, studentID string) ([]models.Class, error) {
	rows, err := s.store.ListStudentAccessByStudent(ctx, studentID)
	if err != nil {
		logger.Error("Failed to get student classes", "student_id", studentID, "error", err)
		return nil, err
	}

	classes := make([]models.Class, 0, len(rows))
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		class, err := s.store.GetClass(ctx, row.ClassID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if class.Enabled {
			classes = append(classes, *class)
		}
	}
	return classes, nil
}

// VerifyQueryIsolation describes what a student's query in a class could
// reach. With a non-empty query it also runs the search and reports the
// chunk ids that would be considered.
func (s *ClassIsolationService) VerifyQueryIsolation(ctx context.Context, studentID, classID, query string) models.QueryIsolation {
	denied := models.QueryIsolation{
		Allowed:             false,
		Reason:              reasonNoAccess,
		AccessibleDocuments: []string{},
	}
	if !s.VerifyStudentAccess(ctx, studentID, classID) {
		return denied
	}

	docs, err := s.store.ListClassDocuments(ctx, classID)
	if err != nil {
		logger.Error("Failed to verify query isolation", "class_id", classID, "error", err)
		denied.Reason = fmt.Sprintf("Error verifying access: %v", err)
		return denied
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	stats := s.registry.GetIndexStats(classID)

	result := models.QueryIsolation{
		Allowed:             true,
		Reason:              reasonAccessGranted,
		AccessibleDocuments: ids,
		DocumentCount:       len(docs),
		VectorIndexSize:     stats.TotalVectors,
		ClassEnabled:        true,
	}

	if query == "" || stats.TotalVectors == 0 {
		return result
	}

	embedCtx, cancel := utils.WithBudget(ctx, s.embedTimeout)
	defer cancel()
	vec, err := s.embedder.EmbedOne(embedCtx, query)
	if err != nil {
		logger.Warn("Isolation probe could not embed query", "class_id", classID, "error", err)
		return result
	}
	hits, err := s.registry.Search(classID, vec, isolationProbeK)
	if err != nil {
		logger.Warn("Isolation probe search failed", "class_id", classID, "error", err)
		return result
	}
	result.ReachableChunks = make([]string, len(hits))
	for i, h := range hits {
		result.ReachableChunks[i] = h.ChunkID
	}
	return result
}

// AuditClassIsolation reports the isolation state of a class. Two checks
// feed the verdict: documents outside the class that have stored chunks
// (potential leaks), and vectors in the class index whose document is not
// assigned to the class (index leaks). Either makes the class WARNING.
// Vectors whose chunk no longer exists are counted as stale.
func (s *ClassIsolationService) AuditClassIsolation(ctx context.Context, classID string) (*models.IsolationAudit, error) {
	class, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", classID, err)
	}

	assigned, err := s.store.ListClassDocuments(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("list class documents: %w", err)
	}
	access, err := s.store.ListStudentAccessByClass(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("list student access: %w", err)
	}
	all, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	audit := &models.IsolationAudit{
		ClassID:           class.ID,
		ClassName:         class.Name,
		ClassEnabled:      class.Enabled,
		AssignedDocuments: len(assigned),
		DocumentDetails:   make([]models.DocumentDetail, 0, len(assigned)),
		TotalStudents:     len(access),
		VectorIndex:       s.registry.GetIndexStats(classID),
		PotentialLeaks:    []models.PotentialLeak{},
		IndexLeaks:        []models.IndexLeak{},
		AuditedAt:         time.Now().UTC(),
	}

	inClass := make(map[string]struct{}, len(assigned))
	for _, d := range assigned {
		inClass[d.ID] = struct{}{}
		audit.DocumentDetails = append(audit.DocumentDetails, models.DocumentDetail{
			ID:     d.ID,
			Name:   d.Name,
			Type:   d.FileType,
			Status: d.Status,
		})
	}
	for _, a := range access {
		if a.Enabled {
			audit.EnabledStudents++
		}
	}

	for _, d := range all {
		if _, ok := inClass[d.ID]; ok {
			continue
		}
		n, err := s.store.CountChunksByDocument(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("count chunks: %w", err)
		}
		if n > 0 {
			audit.PotentialLeaks = append(audit.PotentialLeaks, models.PotentialLeak{
				DocumentID:   d.ID,
				DocumentName: d.Name,
				ChunkCount:   n,
			})
		}
	}

	ids := s.registry.ChunkIDs(classID)
	if len(ids) > 0 {
		chunks, err := s.store.GetChunks(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve index chunks: %w", err)
		}
		owner := make(map[string]string, len(chunks))
		for _, c := range chunks {
			owner[c.ID] = c.DocumentID
		}
		for _, id := range ids {
			docID, ok := owner[id]
			if !ok {
				audit.StaleVectors++
				continue
			}
			if _, ok := inClass[docID]; !ok {
				audit.IndexLeaks = append(audit.IndexLeaks, models.IndexLeak{ChunkID: id, DocumentID: docID})
			}
		}
	}

	audit.IsolationStatus = models.IsolationSecure
	if len(audit.PotentialLeaks) > 0 || len(audit.IndexLeaks) > 0 {
		audit.IsolationStatus = models.IsolationWarning
	}

	s.metrics.RecordAudit(ctx, classID, audit.IsolationStatus)
	if len(audit.IndexLeaks) > 0 {
		logger.Warn("Class index holds vectors of unassigned documents",
			"class_id", classID,
			"index_leaks", len(audit.IndexLeaks),
		)
	}
	return audit, nil
}

// BulkAssignDocuments assigns each document in turn and reports which
// succeeded
func (s *ClassIsolationService) BulkAssignDocuments(ctx context.Context, documentIDs []string, classID string) models.BulkAssignResult {
	result := models.BulkAssignResult{
		Successful: []string{},
		Failed:     []string{},
		Errors:     map[string]string{},
		Total:      len(documentIDs),
	}

	for _, id := range documentIDs {
		if err := s.AssignDocumentToClass(ctx, id, classID); err != nil {
			result.Failed = append(result.Failed, id)
			result.Errors[id] = err.Error()
			continue
		}
		result.Successful = append(result.Successful, id)
	}

	logger.Info("Bulk assignment finished",
		"class_id", classID,
		"successful", len(result.Successful),
		"total", result.Total,
	)
	return result
}

// MigrateDocument moves one document between classes. If the destination
// assignment fails the document is assigned back to the source class.
func (s *ClassIsolationService) MigrateDocument(ctx context.Context, documentID, fromClassID, toClassID string) error {
	if err := s.RemoveDocumentFromClass(ctx, documentID, fromClassID); err != nil {
		return fmt.Errorf("remove from %s: %w", fromClassID, err)
	}

	if err := s.AssignDocumentToClass(ctx, documentID, toClassID); err != nil {
		if rerr := s.AssignDocumentToClass(context.WithoutCancel(ctx), documentID, fromClassID); rerr != nil {
			logger.Error("Failed to restore document to source class",
				"document_id", documentID,
				"class_id", fromClassID,
				"error", rerr,
			)
		}
		return fmt.Errorf("assign to %s: %w", toClassID, err)
	}
	return nil
}

// MigrateClassDocuments moves every document of one class to another
func (s *ClassIsolationService) MigrateClassDocuments(ctx context.Context, fromClassID, toClassID string) (*models.MigrationResult, error) {
	from, errFrom := s.store.GetClass(ctx, fromClassID)
	to, errTo := s.store.GetClass(ctx, toClassID)
	if errFrom != nil || errTo != nil {
		if errors.Is(errFrom, database.ErrNotFound) || errors.Is(errTo, database.ErrNotFound) {
			return nil, fmt.Errorf("Source or destination class not found: %w", database.ErrNotFound)
		}
		return nil, errors.Join(errFrom, errTo)
	}

	docs, err := s.store.ListClassDocuments(ctx, fromClassID)
	if err != nil {
		return nil, fmt.Errorf("list class documents: %w", err)
	}

	result := &models.MigrationResult{
		Migrated: []models.DocumentReference{},
		Failed:   []models.DocumentReference{},
		Total:    len(docs),
	}
	for _, d := range docs {
		ref := models.DocumentReference{DocumentID: d.ID, DocumentName: d.Name}
		if err := s.MigrateDocument(ctx, d.ID, fromClassID, toClassID); err != nil {
			logger.Warn("Document migration failed", "document_id", d.ID, "error", err)
			result.Failed = append(result.Failed, ref)
			continue
		}
		result.Migrated = append(result.Migrated, ref)
	}

	logger.Info("Migrated class documents",
		"from", from.Name,
		"to", to.Name,
		"migrated", len(result.Migrated),
		"total", result.Total,
	)
	return result, nil
}

// RebuildClassIndex re-derives a class index from the assignment table.
// The class lock is held from reading the assignments to saving, so a
// concurrent assign or remove lands either before or after the rebuild.
func (s *ClassIsolationService) RebuildClassIndex(ctx context.Context, classID string) error {
	if _, err := s.store.GetClass(ctx, classID); err != nil {
		return fmt.Errorf("class %s: %w", classID, err)
	}

	var documents, vectorCount int
	err := s.registry.WithClassLock(classID, func() error {
		docs, err := s.store.ListClassDocuments(ctx, classID)
		if err != nil {
			return fmt.Errorf("list class documents: %w", err)
		}
		documents = len(docs)

		var texts, chunkIDs []string
		for _, d := range docs {
			chunks, err := s.store.ListChunksByDocument(ctx, d.ID)
			if err != nil {
				return fmt.Errorf("list chunks: %w", err)
			}
			for _, c := range chunks {
				texts = append(texts, c.Content)
				chunkIDs = append(chunkIDs, c.ID)
			}
		}

		var vectors [][]float32
		if len(texts) > 0 {
			vectors, err = s.embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks: %w", err)
			}
		}

		s.registry.CreateIndex(classID)
		if err := s.registry.AddEmbeddings(classID, vectors, chunkIDs); err != nil {
			return err
		}
		vectorCount = len(chunkIDs)
		return s.registry.SaveIndex(classID)
	})
	s.metrics.RecordIndexOperation(ctx, classID, "rebuild", err == nil)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	logger.Info("Rebuilt class index", "class_id", classID, "documents", documents, "vectors", vectorCount)
	return nil
}

// CleanupOrphanedData deletes chunks of missing documents and assignments
// that point at missing documents or classes. It then rebuilds every class
// whose index is empty despite assignments or still holds vectors of
// deleted chunks, and drops indexes of classes that no longer exist.
func (s *ClassIsolationService) CleanupOrphanedData(ctx context.Context) (*models.CleanupResult, error) {
	result := &models.CleanupResult{}

	orphans, err := s.store.DeleteOrphanedChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete orphaned chunks: %w", err)
	}
	result.OrphanedChunks = orphans

	invalid, err := s.store.DeleteInvalidAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete invalid assignments: %w", err)
	}
	result.InvalidAssignments = invalid

	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	known := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		known[c.ID] = struct{}{}

		reason, err := s.rebuildReason(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			continue
		}
		if err := s.RebuildClassIndex(ctx, c.ID); err != nil {
			logger.Error("Failed to rebuild class index", "class_id", c.ID, "reason", reason, "error", err)
			continue
		}
		switch reason {
		case "empty":
			result.EmptyIndexes++
		case "stale":
			result.StaleIndexes++
		}
	}

	for _, classID := range s.registry.Classes() {
		if _, ok := known[classID]; ok {
			continue
		}
		if err := s.registry.Drop(classID); err != nil {
			logger.Error("Failed to drop index of deleted class", "class_id", classID, "error", err)
			continue
		}
		result.DroppedIndexes++
	}

	logger.Info("Cleanup completed",
		"orphaned_chunks", result.OrphanedChunks,
		"empty_indexes", result.EmptyIndexes,
		"stale_indexes", result.StaleIndexes,
		"dropped_indexes", result.DroppedIndexes,
		"invalid_assignments", result.InvalidAssignments,
	)
	return result, nil
}

// rebuildReason is "empty" when a class has assignments but no vectors,
// "stale" when its index maps chunks that no longer exist, and "" otherwise
func (s *ClassIsolationService) rebuildReason(ctx context.Context, classID string) (string, error) {
	ids := s.registry.ChunkIDs(classID)
	if len(ids) == 0 {
		docs, err := s.store.ListClassDocuments(ctx, classID)
		if err != nil {
			return "", fmt.Errorf("list class documents: %w", err)
		}
		if len(docs) > 0 {
			return "empty", nil
		}
		return "", nil
	}

	chunks, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("resolve index chunks: %w", err)
	}
	existing := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		existing[c.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			return "stale", nil
		}
	}
	return "", nil
}
