package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

const (
	generationModel = "gemini-2.0-flash"

	answerTemperature = 0.2
	maxAnswerTokens   = 1024
)

var (
	ErrModelUnavailable = errors.New("generation model unavailable")
	ErrTokenBudget      = errors.New("rate limit exceeded: wait before retry")
)

// GeminiClient generates grounded answers. Calls pass through a token
// budget, a request limiter and a circuit breaker, in that order.
type GeminiClient struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	budget  *usageBudget
	tier    string
}

func NewGeminiClient(ctx context.Context, apiKey string, tier string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := client.GenerativeModel(generationModel)
	model.SetTemperature(answerTemperature)
	model.SetMaxOutputTokens(maxAnswerTokens)

	limits := getRateLimits(tier)
	return &GeminiClient{
		client:  client,
		model:   model,
		breaker: newBreaker("GeminiAPI"),
		// 90% of RPM, bursts of a tenth
		limiter: rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), max(1, limits.RPM/10)),
		budget:  newUsageBudget(limits),
		tier:    tier,
	}, nil
}

// GenerateAnswer answers question using only contextChunks
func (gc *GeminiClient) GenerateAnswer(ctx context.Context, question string, contextChunks []string) (string, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.generate_content")
	defer span.End()

	estimated := estimateTokens(question, contextChunks)
	span.SetAttributes(
		attribute.String("gemini.model", generationModel),
		attribute.String("gemini.tier", gc.tier),
		attribute.Int("gemini.estimated_tokens", estimated),
		attribute.Int("gemini.context_chunks", len(contextChunks)),
	)

	if !gc.budget.Reserve(estimated) {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", ErrTokenBudget
	}
	if err := gc.limiter.Wait(ctx); err != nil {
		gc.budget.Settle(estimated, 0)
		return "", err
	}

	prompt := buildPromptWithContext(question, contextChunks)
	result, err := gc.breaker.Execute(func() (any, error) {
		return gc.model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		gc.budget.Settle(estimated, 0)
		recordFailure(span, err)
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	resp := result.(*genai.GenerateContentResponse)
	text := responseText(resp)
	used := tokenUsage(resp, text)
	gc.budget.Settle(estimated, used)
	span.SetAttributes(attribute.Int("gemini.actual_tokens", used))

	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	return text, nil
}

func recordFailure(span trace.Span, err error) {
	span.RecordError(err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
	}
}

// About four characters per token
func estimateTokens(prompt string, chunks []string) int {
	total := len(prompt)
	for _, chunk := range chunks {
		total += 1 + len(chunk)
	}
	return total / 4
}

func tokenUsage(resp *genai.GenerateContentResponse, text string) int {
	if resp.UsageMetadata != nil {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	return max(1, len(text)/4)
}

// responseText joins the text parts of the first candidate with content
func responseText(resp *genai.GenerateContentResponse) string {
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		return strings.TrimSpace(sb.String())
	}
	return ""
}

func buildPromptWithContext(question string, contextChunks []string) string {
	var sb strings.Builder
	sb.WriteString("You are a school co-pilot. Answer the student's question using ONLY the course material below. ")
	sb.WriteString("If the material does not contain the answer, reply exactly: I can't find this in the school materials.\n\n")
	for i, chunk := range contextChunks {
		fmt.Fprintf(&sb, "Material %d:\n%s\n\n", i+1, chunk)
	}
	fmt.Fprintf(&sb, "Question: %s", question)
	return sb.String()
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
