package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"school-copilot/internal/ai"
	"school-copilot/internal/config"
	"school-copilot/internal/logger"
)

const (
	notFoundAnswer = "I can't find this in the school materials."
	answerPrefix   = "Based on the course materials: "

	minSharedWords    = 2
	maxAnswerSentence = 3
)

// AnswerGenerator derives a short answer to query from the retrieved
// context. It returns the not-found answer when the query shares fewer than
// two words with the context.
type AnswerGenerator interface {
	Answer(ctx context.Context, query, contextText string) (string, error)
}

// NewAnswerGenerator returns the generator selected by ANSWER_PROVIDER
func NewAnswerGenerator(ctx context.Context, cfg *config.Config) (AnswerGenerator, error) {
	switch cfg.AnswerProvider {
	case "keyword", "":
		return KeywordAnswerer{}, nil
	case "gemini":
		client, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiTier)
		if err != nil {
			return nil, err
		}
		return NewGeminiAnswerer(client), nil
	default:
		return nil, fmt.Errorf("unknown answer provider: %s", cfg.AnswerProvider)
	}
}

// KeywordAnswerer answers by quoting context sentences that mention a
// query word
type KeywordAnswerer struct{}

func (KeywordAnswerer) Answer(_ context.Context, query, contextText string) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		return notFoundAnswer, nil
	}

	queryWords := strings.Fields(strings.ToLower(query))
	contextWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(contextText)) {
		contextWords[w] = struct{}{}
	}

	shared := make(map[string]struct{})
	for _, w := range queryWords {
		if _, ok := contextWords[w]; ok {
			shared[w] = struct{}{}
		}
	}
	if len(shared) < minSharedWords {
		return notFoundAnswer, nil
	}

	var picked []string
	for _, sentence := range strings.Split(contextText, ".") {
		lower := strings.ToLower(sentence)
		for _, w := range queryWords {
			if strings.Contains(lower, w) {
				picked = append(picked, strings.TrimSpace(sentence))
				break
			}
		}
		if len(picked) == maxAnswerSentence {
			break
		}
	}
	if len(picked) == 0 {
		return notFoundAnswer, nil
	}

	answer := strings.TrimSpace(strings.Join(picked, ". "))
	if !strings.HasSuffix(answer, ".") {
		answer += "."
	}
	return answerPrefix + answer, nil
}

// ContentGenerator is the generation backend behind GeminiAnswerer
type ContentGenerator interface {
	GenerateAnswer(ctx context.Context, question string, contextChunks []string) (string, error)
}

// GeminiAnswerer asks Gemini for an answer grounded in the context and
// falls back to keyword answering when generation fails
type GeminiAnswerer struct {
	generator ContentGenerator
	fallback  KeywordAnswerer
}

// NewGeminiAnswerer creates a Gemini-backed answer generator
func NewGeminiAnswerer(generator ContentGenerator) *GeminiAnswerer {
	return &GeminiAnswerer{generator: generator}
}

func (g *GeminiAnswerer) Answer(ctx context.Context, query, contextText string) (string, error) {
	// Below the overlap bar nothing in the context can answer the query
	if answer, _ := g.fallback.Answer(ctx, query, contextText); answer == notFoundAnswer {
		return notFoundAnswer, nil
	}

	answer, err := g.generator.GenerateAnswer(ctx, query, []string{contextText})
	if err != nil {
		logger.Warn("Generation failed, using keyword answer", "error", err)
		return g.fallback.Answer(ctx, query, contextText)
	}
	return strings.TrimSpace(answer), nil
}

// Close closes the generation backend when it holds a connection
func (g *GeminiAnswerer) Close() error {
	if c, ok := g.generator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
