package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	QueryCounter        metric.Int64Counter
	QueryDuration       metric.Float64Histogram
	RetrievalHits       metric.Int64Histogram
	IndexOperations     metric.Int64Counter
	IndexDuration       metric.Float64Histogram
	AuditRuns           metric.Int64Counter
	IsolationWarnings   metric.Int64Counter
	TokensUsed          metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("school-copilot")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queryCounter, err := meter.Int64Counter(
		"queries.total",
		metric.WithDescription("Total student queries by terminal state"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"query.duration",
		metric.WithDescription("Query processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	retrievalHits, err := meter.Int64Histogram(
		"retrieval.hits",
		metric.WithDescription("Chunks kept after similarity filtering per query"),
	)
	if err != nil {
		return nil, err
	}

	indexOperations, err := meter.Int64Counter(
		"index.operations.total",
		metric.WithDescription("Vector index operations"),
	)
	if err != nil {
		return nil, err
	}

	indexDuration, err := meter.Float64Histogram(
		"document.indexing.duration",
		metric.WithDescription("Document indexing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	auditRuns, err := meter.Int64Counter(
		"isolation.audits.total",
		metric.WithDescription("Class isolation audits run"),
	)
	if err != nil {
		return nil, err
	}

	isolationWarnings, err := meter.Int64Counter(
		"isolation.warnings.total",
		metric.WithDescription("Isolation audits that ended in WARNING"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"gemini.tokens.used",
		metric.WithDescription("Total Gemini tokens used"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		QueryCounter:        queryCounter,
		QueryDuration:       queryDuration,
		RetrievalHits:       retrievalHits,
		IndexOperations:     indexOperations,
		IndexDuration:       indexDuration,
		AuditRuns:           auditRuns,
		IsolationWarnings:   isolationWarnings,
		TokensUsed:          tokensUsed,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(ctx context.Context, method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("status", status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, seconds, attrs)
}

// RecordQuery records a finished query
func (m *Metrics) RecordQuery(ctx context.Context, classID, state string, success bool, seconds float64, hits int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("class_id", classID),
		attribute.String("query.state", state),
		attribute.Bool("query.success", success),
	)

	m.QueryCounter.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, seconds, attrs)
	m.RetrievalHits.Record(ctx, int64(hits), metric.WithAttributes(attribute.String("class_id", classID)))
}

// RecordIndexOperation records an add, remove, rebuild or save on a class index
func (m *Metrics) RecordIndexOperation(ctx context.Context, classID, operation string, success bool) {
	if m == nil {
		return
	}
	m.IndexOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class_id", classID),
		attribute.String("index.operation", operation),
		attribute.Bool("index.success", success),
	))
}

// RecordDocumentIndexing records document extraction, chunking and embedding
func (m *Metrics) RecordDocumentIndexing(ctx context.Context, fileType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.IndexDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("document.type", fileType),
		attribute.String("document.status", status),
	))
}

// RecordAudit records an isolation audit and its verdict
func (m *Metrics) RecordAudit(ctx context.Context, classID, status string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("class_id", classID),
		attribute.String("isolation.status", status),
	)
	m.AuditRuns.Add(ctx, 1, attrs)
	if status != "SECURE" {
		m.IsolationWarnings.Add(ctx, 1, attrs)
	}
}

// RecordTokensUsed records Gemini token usage
func (m *Metrics) RecordTokensUsed(ctx context.Context, tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(ctx, tokens, metric.WithAttributes(
		attribute.String("gemini.model", model),
		attribute.String("service", "gemini"),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(ctx context.Context, service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}
