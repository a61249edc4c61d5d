package models

// Query processing states, in order
const (
	QueryStateReceived      = "received"
	QueryStateAccessChecked = "access_checked"
	QueryStateEmbedded      = "embedded"
	QueryStateSearched      = "searched"
	QueryStateFiltered      = "filtered"
	QueryStateRanked        = "ranked"
	QueryStateAnswered      = "answered"
)

// Terminal query outcomes. Every finished query is in QueryStateAnswered
// with one of these outcomes.
const (
	QueryOutcomeSuccess   = "success"
	QueryOutcomeNoResults = "no_results"
	QueryOutcomeError     = "error"
)

// Citation attributes part of an answer to a chunk
type Citation struct {
	DocumentID     string  `json:"document_id"`
	DocumentName   string  `json:"document_name"`
	ChunkID        string  `json:"chunk_id"`
	PageNumber     *int    `json:"page_number,omitempty"`
	Section        *string `json:"section,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	ContentPreview string  `json:"content_preview"`
}

// QueryResult is the outcome of a question. Failures are reported through
// Success and Error, never as a Go error. FailedState is the state the
// query was in when it failed.
type QueryResult struct {
	Success            bool                `json:"success"`
	Answer             string              `json:"answer"`
	Citations          []Citation          `json:"citations"`
	DocumentsUsed      []DocumentReference `json:"documents_used"`
	Confidence         float64             `json:"confidence"`
	ProcessingTimeMS   int64               `json:"processing_time_ms"`
	Error              string              `json:"error,omitempty"`
	State              string              `json:"state"`
	Outcome            string              `json:"outcome"`
	FailedState        string              `json:"failed_state,omitempty"`
	RemainingQuestions *int                `json:"remaining_questions,omitempty"`
}

// QueryRequest is the body of a student question
type QueryRequest struct {
	Query   string `json:"query" binding:"required"`
	ClassID string `json:"class_id" binding:"required"`
}
