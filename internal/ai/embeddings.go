package ai

import (
	"context"
	"errors"
	"fmt"

	"school-copilot/internal/config"
	"school-copilot/internal/logger"
	"school-copilot/utils"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// DefaultBatchSize is the number of texts sent per embedding call
const DefaultBatchSize = 32

var (
	// ErrEmbedderUnavailable means the embedding model could not be reached.
	// It is fatal to the operation that triggered it.
	ErrEmbedderUnavailable = errors.New("embedding model unavailable")

	// ErrDimensionMismatch means a model returned vectors of the wrong width
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder maps text to fixed-width unit vectors
type Embedder interface {
	Name() string
	Dimension() int
	// Embed embeds document texts. Output order matches input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne embeds a single query text
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder returns the embedder selected by EMBEDDINGS_PROVIDER.
// Default provider is Google Generative AI (text-embedding-004).
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.EmbeddingsProvider {
	case "google", "":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
		}
		return NewGoogleEmbedder(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel, cfg.VectorDimensions, cfg.GeminiTier)

	case "hash":
		return NewHashEmbedder(cfg.VectorDimensions), nil

	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
}

// embedInBatches runs fn over consecutive slices of at most size texts and
// concatenates the normalized results.
func embedInBatches(ctx context.Context, texts []string, size, dim int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + size
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vectors), end-start)
		}
		for _, v := range vectors {
			if len(v) != dim {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
			}
			out = append(out, utils.L2Normalize(v))
		}
	}
	return out, nil
}

// GoogleEmbedder calls the Gemini embedding API behind a circuit breaker
// and a request rate limiter.
type GoogleEmbedder struct {
	client      *genai.Client
	docModel    *genai.EmbeddingModel
	queryModel  *genai.EmbeddingModel
	modelName   string
	dim         int
	batchSize   int
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dim int, tier string) (*GoogleEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	docModel := client.EmbeddingModel(model)
	docModel.TaskType = genai.TaskTypeRetrievalDocument
	queryModel := client.EmbeddingModel(model)
	queryModel.TaskType = genai.TaskTypeRetrievalQuery

	limits := getRateLimits(tier)

	return &GoogleEmbedder{
		client:      client,
		docModel:    docModel,
		queryModel:  queryModel,
		modelName:   model,
		dim:         dim,
		batchSize:   DefaultBatchSize,
		breaker:     newBreaker("GeminiEmbeddings"),
		rateLimiter: rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), max(1, limits.RPM/10)),
	}, nil
}

func (g *GoogleEmbedder) Name() string { return "google:" + g.modelName }

func (g *GoogleEmbedder) Dimension() int { return g.dim }

func (g *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.embed_documents")
	defer span.End()
	span.SetAttributes(
		attribute.Int("gemini.texts", len(texts)),
		attribute.String("gemini.model", g.modelName),
	)

	return embedInBatches(ctx, texts, g.batchSize, g.dim, func(ctx context.Context, batch []string) ([][]float32, error) {
		return g.call(ctx, g.docModel, batch)
	})
}

func (g *GoogleEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := embedInBatches(ctx, []string{text}, 1, g.dim, func(ctx context.Context, batch []string) ([][]float32, error) {
		return g.call(ctx, g.queryModel, batch)
	})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *GoogleEmbedder) call(ctx context.Context, model *genai.EmbeddingModel, texts []string) ([][]float32, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		batch := model.NewBatch()
		for _, t := range texts {
			batch.AddContent(genai.Text(t))
		}
		return model.BatchEmbedContents(ctx, batch)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logger.Warn("Embedding circuit breaker rejected request", "model", g.modelName)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}

	resp := result.(*genai.BatchEmbedContentsResponse)
	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: empty embedding in response", ErrEmbedderUnavailable)
		}
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

// Close the client
func (g *GoogleEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
