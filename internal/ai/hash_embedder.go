package ai

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashEmbedder is a deterministic, offline embedder. Lowercased word
// unigrams and bigrams are hashed into signed buckets, so texts sharing
// vocabulary land close together.
type HashEmbedder struct {
	dim       int
	batchSize int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim, batchSize: DefaultBatchSize}
}

func (h *HashEmbedder) Name() string { return "hash" }

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, h.batchSize, h.dim, func(_ context.Context, batch []string) ([][]float32, error) {
		out := make([][]float32, len(batch))
		for i, t := range batch {
			out[i] = h.vector(t)
		}
		return out, nil
	})
}

func (h *HashEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := h.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dim)
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return v
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	bucket := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[bucket] += weight
}
