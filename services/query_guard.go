package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"school-copilot/internal/database"
	"school-copilot/internal/logger"
	"school-copilot/models"
)

const (
	maxQueryLength = 1000
	minQueryLength = 3
)

var (
	unsafeQueryChars = regexp.MustCompile(`[<>"';\\]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// Admission is a query that passed the gate
type Admission struct {
	Query     string
	Class     *models.Class
	Remaining int
}

// QueryGuard checks class state, student access, the daily quota and the
// query text before any retrieval work happens. An admitted query consumes
// one question of the student's daily quota.
type QueryGuard struct {
	store database.Store
	now   func() time.Time

	// serializes quota read-modify-write
	mu sync.Mutex
}

// NewQueryGuard creates a query gate on top of store
func NewQueryGuard(store database.Store) *QueryGuard {
	return &QueryGuard{store: store, now: time.Now}
}

// Admit runs the gate for one question
func (g *QueryGuard) Admit(ctx context.Context, studentID, classID, query string) (*Admission, error) {
	class, err := g.store.GetClass(ctx, classID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrAccessDenied
	}
	if err != nil {
		return nil, fmt.Errorf("load class: %w", err)
	}
	if !class.Enabled {
		return nil, ErrAccessDenied
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	access, err := g.store.GetStudentAccess(ctx, studentID, classID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrAccessDenied
	}
	if err != nil {
		return nil, fmt.Errorf("load student access: %w", err)
	}
	if !access.Enabled {
		return nil, ErrAccessDenied
	}

	limit := class.DailyQuestionLimit
	if limit <= 0 {
		limit = models.DefaultDailyQuestionLimit
	}

	now := g.now().UTC()
	if access.LastQuestionDate == nil || !sameUTCDay(*access.LastQuestionDate, now) {
		access.DailyQuestionCount = 0
	}
	if access.DailyQuestionCount >= limit {
		return nil, fmt.Errorf("%w (%d)", ErrQuotaExceeded, limit)
	}

	sanitized := SanitizeQuery(query)
	if utf8.RuneCountInString(sanitized) < minQueryLength {
		return nil, fmt.Errorf("%w: query must be at least %d characters", ErrInvalidQuery, minQueryLength)
	}
	if term := FindBlockedTerm(sanitized, class.BlockedTerms); term != "" {
		return nil, ErrBlockedTerm
	}

	remaining := limit - access.DailyQuestionCount - 1
	access.DailyQuestionCount++
	access.LastQuestionDate = &now
	if err := g.store.UpsertStudentAccess(ctx, access); err != nil {
		return nil, fmt.Errorf("update question count: %w", err)
	}

	return &Admission{Query: sanitized, Class: class, Remaining: remaining}, nil
}

// Remaining reports how many questions the student has left today, or
// ErrAccessDenied when the student cannot query the class
func (g *QueryGuard) Remaining(ctx context.Context, studentID, classID string) (int, error) {
	class, err := g.store.GetClass(ctx, classID)
	if err != nil {
		return 0, ErrAccessDenied
	}
	access, err := g.store.GetStudentAccess(ctx, studentID, classID)
	if err != nil || !access.Enabled || !class.Enabled {
		return 0, ErrAccessDenied
	}

	limit := class.DailyQuestionLimit
	if limit <= 0 {
		limit = models.DefaultDailyQuestionLimit
	}
	if access.LastQuestionDate == nil || !sameUTCDay(*access.LastQuestionDate, g.now().UTC()) {
		return limit, nil
	}
	return max(0, limit-access.DailyQuestionCount), nil
}

// SanitizeQuery strips markup and quote characters, caps the length and
// collapses whitespace
func SanitizeQuery(query string) string {
	s := unsafeQueryChars.ReplaceAllString(query, "")
	if r := []rune(s); len(r) > maxQueryLength {
		s = string(r[:maxQueryLength])
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// FindBlockedTerm returns the first blocked term contained in query, case
// insensitively, or ""
func FindBlockedTerm(query string, terms []string) string {
	lower := strings.ToLower(query)
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t != "" && strings.Contains(lower, t) {
			return term
		}
	}
	return ""
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// QueryService is the student-facing question entry point: gate, answer,
// then log
type QueryService struct {
	guard  *QueryGuard
	rag    *RAGService
	logger *QueryLogger
}

// NewQueryService composes the gate, the retrieval orchestrator and the
// query log
func NewQueryService(guard *QueryGuard, rag *RAGService, queryLogger *QueryLogger) *QueryService {
	return &QueryService{guard: guard, rag: rag, logger: queryLogger}
}

// Ask answers query for a student. Gate rejections are returned as errors
// and logged as failed attempts. Every admitted query yields a result.
func (s *QueryService) Ask(ctx context.Context, studentID, classID, query string) (*models.QueryResult, error) {
	admission, err := s.guard.Admit(ctx, studentID, classID, query)
	if err != nil {
		s.record(ctx, &models.QueryLog{
			StudentID:    studentID,
			ClassID:      classID,
			QueryText:    query,
			Success:      false,
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	result := s.rag.ProcessQuery(ctx, admission.Query, classID, studentID)
	remaining := admission.Remaining
	result.RemainingQuestions = &remaining

	s.record(ctx, &models.QueryLog{
		StudentID:      studentID,
		ClassID:        classID,
		QueryText:      admission.Query,
		ResponseTimeMS: result.ProcessingTimeMS,
		Success:        result.Success,
		CitationCount:  len(result.Citations),
		Confidence:     result.Confidence,
		ErrorMessage:   result.Error,
	})
	return result, nil
}

// Remaining reports the student's remaining questions for the class
func (s *QueryService) Remaining(ctx context.Context, studentID, classID string) (int, error) {
	return s.guard.Remaining(ctx, studentID, classID)
}

// record writes a log entry with a detached context so it survives a
// cancelled request. Log failures never fail the query.
func (s *QueryService) record(ctx context.Context, entry *models.QueryLog) {
	if s.logger == nil {
		return
	}
	if err := s.logger.Log(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("Query log write failed", "class_id", entry.ClassID, "error", err)
	}
}
