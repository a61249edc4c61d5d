package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"school-copilot/internal/ai"
	"school-copilot/internal/config"
	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/internal/telemetry"
	"school-copilot/internal/vectordb"
	"school-copilot/models"
	"school-copilot/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxChunks           = 5
	DefaultMaxContextLength    = 2000

	previewLength = 200

	noResultsAnswer = "I can't find this in the school materials. Please make sure your question relates to the course content provided by your teacher."
	errorAnswer     = "I'm sorry, I encountered an error processing your question. Please try again."
)

// AccessVerifier decides whether a student may query a class
// scoreTolerance absorbs float32 rounding in similarity comparisons
const scoreTolerance = 1e-6

type AccessVerifier interface {
	VerifyStudentAccess(ctx context.Context, studentID, classID string) bool
}

// RetrievalOptions tunes the query pipeline
type RetrievalOptions struct {
	SimilarityThreshold float64
	MaxChunks           int
	MaxContextLength    int
	EmbedTimeout        time.Duration
}

// DefaultRetrievalOptions returns the standard retrieval settings
func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxChunks:           DefaultMaxChunks,
		MaxContextLength:    DefaultMaxContextLength,
		EmbedTimeout:        30 * time.Second,
	}
}

// RetrievalOptionsFromConfig reads retrieval settings from cfg
func RetrievalOptionsFromConfig(cfg *config.Config) RetrievalOptions {
	return RetrievalOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxChunks:           cfg.MaxChunks,
		MaxContextLength:    cfg.MaxContextLength,
		EmbedTimeout:        cfg.EmbedTimeout,
	}
}

// RAGService answers student questions from the class's own vector index
type RAGService struct {
	store    database.Store
	registry *vectordb.Registry
	embedder ai.Embedder
	access   AccessVerifier
	answerer AnswerGenerator
	opts     RetrievalOptions
	metrics  *telemetry.Metrics
}

// NewRAGService creates the retrieval orchestrator
func NewRAGService(store database.Store, registry *vectordb.Registry, embedder ai.Embedder, access AccessVerifier, answerer AnswerGenerator, opts RetrievalOptions) *RAGService {
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = DefaultMaxContextLength
	}
	if answerer == nil {
		answerer = KeywordAnswerer{}
	}
	return &RAGService{
		store:    store,
		registry: registry,
		embedder: embedder,
		access:   access,
		answerer: answerer,
		opts:     opts,
	}
}

// WithMetrics attaches metrics to the service
func (r *RAGService) WithMetrics(m *telemetry.Metrics) *RAGService {
	r.metrics = m
	return r
}

type scoredChunk struct {
	chunk models.Chunk
	score float64
}

// queryRun carries one query through the pipeline states
type queryRun struct {
	start   time.Time
	classID string
	state   string
	span    trace.Span
}

func (q *queryRun) advance(state string) {
	q.state = state
	q.span.AddEvent(state)
}

// ProcessQuery runs Received → AccessChecked → Embedded → Searched →
// Filtered → Ranked → Answered. It never returns an error: failures are
// reported in the result with Success false.
func (r *RAGService) ProcessQuery(ctx context.Context, query, classID, studentID string) *models.QueryResult {
	tracer := otel.Tracer("rag-service")
	ctx, span := tracer.Start(ctx, "rag.process_query", trace.WithAttributes(
		attribute.String("class_id", classID),
	))
	defer span.End()

	run := &queryRun{start: time.Now(), classID: classID, span: span}
	run.advance(models.QueryStateReceived)

	if r.access == nil || !r.access.VerifyStudentAccess(ctx, studentID, classID) {
		return r.fail(ctx, run, ErrAccessDenied, AccessDeniedMessage)
	}
	run.advance(models.QueryStateAccessChecked)

	embedCtx, cancel := utils.WithBudget(ctx, r.opts.EmbedTimeout)
	vec, err := r.embedder.EmbedOne(embedCtx, query)
	cancel()
	if err != nil {
		return r.fail(ctx, run, err, err.Error())
	}
	run.advance(models.QueryStateEmbedded)

	hits, err := r.registry.Search(classID, vec, r.opts.MaxChunks*2)
	if err != nil {
		return r.fail(ctx, run, err, err.Error())
	}
	run.advance(models.QueryStateSearched)

	candidates, err := r.filter(ctx, classID, hits)
	if err != nil {
		return r.fail(ctx, run, err, err.Error())
	}
	run.advance(models.QueryStateFiltered)
	if len(candidates) == 0 {
		return r.noResults(ctx, run)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > r.opts.MaxChunks {
		candidates = candidates[:r.opts.MaxChunks]
	}
	run.advance(models.QueryStateRanked)

	result, contextText, err := r.assemble(ctx, candidates)
	if err != nil {
		return r.fail(ctx, run, err, err.Error())
	}

	answer, err := r.answerer.Answer(ctx, query, contextText)
	if err != nil {
		return r.fail(ctx, run, err, err.Error())
	}
	result.Answer = answer
	result.Success = true
	result.Outcome = models.QueryOutcomeSuccess
	return r.finish(ctx, run, result)
}

// filter keeps hits at or above the similarity threshold whose chunk still
// exists and belongs to a document assigned to the class
func (r *RAGService) filter(ctx context.Context, classID string, hits []vectordb.SearchHit) ([]scoredChunk, error) {
	// Scores are float32; a hit exactly at the threshold must survive
	// rounding of the query and stored vectors
	floor := float32(r.opts.SimilarityThreshold) - scoreTolerance
	kept := make([]vectordb.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= floor {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	ids := make([]string, len(kept))
	for i, h := range kept {
		ids[i] = h.ChunkID
	}
	chunks, err := r.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	docs, err := r.store.ListClassDocuments(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("load class documents: %w", err)
	}
	assigned := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		assigned[d.ID] = struct{}{}
	}

	out := make([]scoredChunk, 0, len(kept))
	for _, h := range kept {
		c, ok := byID[h.ChunkID]
		if !ok {
			continue
		}
		if _, ok := assigned[c.DocumentID]; !ok {
			logger.Warn("Dropping hit from unassigned document",
				"class_id", classID,
				"chunk_id", c.ID,
				"document_id", c.DocumentID,
			)
			continue
		}
		out = append(out, scoredChunk{chunk: c, score: clamp01(float64(h.Score))})
	}
	return out, nil
}

// assemble builds citations, the deduplicated document list, confidence
// and the capped context text
func (r *RAGService) assemble(ctx context.Context, candidates []scoredChunk) (*models.QueryResult, string, error) {
	result := &models.QueryResult{
		Citations:     make([]models.Citation, 0, len(candidates)),
		DocumentsUsed: []models.DocumentReference{},
	}

	docs := make(map[string]*models.Document)
	parts := make([]string, 0, len(candidates))
	var total float64

	for _, sc := range candidates {
		parts = append(parts, sc.chunk.Content)
		total += sc.score

		doc, ok := docs[sc.chunk.DocumentID]
		if !ok {
			d, err := r.store.GetDocument(ctx, sc.chunk.DocumentID)
			if errors.Is(err, database.ErrNotFound) {
				docs[sc.chunk.DocumentID] = nil
				continue
			}
			if err != nil {
				return nil, "", fmt.Errorf("load document: %w", err)
			}
			doc = d
			docs[d.ID] = d
			result.DocumentsUsed = append(result.DocumentsUsed, models.DocumentReference{
				DocumentID:   d.ID,
				DocumentName: d.Name,
			})
		}
		if doc == nil {
			continue
		}

		result.Citations = append(result.Citations, models.Citation{
			DocumentID:     doc.ID,
			DocumentName:   doc.Name,
			ChunkID:        sc.chunk.ID,
			PageNumber:     sc.chunk.PageNumber,
			Section:        sc.chunk.Section,
			RelevanceScore: sc.score,
			ContentPreview: truncate(sc.chunk.Content, previewLength),
		})
	}

	result.Confidence = clamp01(total / float64(len(candidates)))
	return result, truncate(strings.Join(parts, "\n\n"), r.opts.MaxContextLength), nil
}

func (r *RAGService) noResults(ctx context.Context, run *queryRun) *models.QueryResult {
	return r.finish(ctx, run, &models.QueryResult{
		Success:       true,
		Answer:        noResultsAnswer,
		Citations:     []models.Citation{},
		DocumentsUsed: []models.DocumentReference{},
		Confidence:    0,
		Outcome:       models.QueryOutcomeNoResults,
	})
}

func (r *RAGService) fail(ctx context.Context, run *queryRun, err error, message string) *models.QueryResult {
	run.span.RecordError(err)
	if !errors.Is(err, ErrAccessDenied) {
		logger.Error("Query failed", "class_id", run.classID, "state", run.state, "error", err)
	}
	return r.finish(ctx, run, &models.QueryResult{
		Success:       false,
		Answer:        errorAnswer,
		Citations:     []models.Citation{},
		DocumentsUsed: []models.DocumentReference{},
		Error:         message,
		Outcome:       models.QueryOutcomeError,
		FailedState:   run.state,
	})
}

func (r *RAGService) finish(ctx context.Context, run *queryRun, result *models.QueryResult) *models.QueryResult {
	run.advance(models.QueryStateAnswered)
	elapsed := time.Since(run.start)
	result.State = run.state
	result.ProcessingTimeMS = elapsed.Milliseconds()

	run.span.SetAttributes(
		attribute.String("query.outcome", result.Outcome),
		attribute.Int("query.citations", len(result.Citations)),
	)
	r.metrics.RecordQuery(ctx, run.classID, result.Outcome, result.Success, elapsed.Seconds(), len(result.Citations))
	return result
}

// GetClassIndexStats describes a class's vector index
func (r *RAGService) GetClassIndexStats(classID string) models.IndexStats {
	return r.registry.GetIndexStats(classID)
}

// LoadExistingIndexes warms the registry from disk for every known class.
// A class whose artifacts cannot be read is logged and skipped.
func (r *RAGService) LoadExistingIndexes(ctx context.Context) (int, error) {
	classes, err := r.store.ListClasses(ctx)
	if err != nil {
		return 0, fmt.Errorf("list classes: %w", err)
	}

	loaded := 0
	for _, c := range classes {
		ok, err := r.registry.LoadIndex(c.ID)
		if err != nil {
			logger.Error("Failed to load class index", "class_id", c.ID, "error", err)
			continue
		}
		if ok {
			loaded++
		}
	}

	logger.Info("Loaded class indexes", "classes", len(classes), "loaded", loaded)
	return loaded, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate cuts s to n characters and appends "..." when it was longer
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
