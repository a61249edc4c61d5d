package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"school-copilot/internal/ai"
	"school-copilot/internal/logger"
	"school-copilot/utils"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultQueryCacheTTL = time.Hour
	queryCachePrefix     = "qemb:"
)

// CachedEmbedder keeps query embeddings in Redis. Document embeddings are
// passed straight through. Cache failures never fail a query.
type CachedEmbedder struct {
	ai.Embedder
	rdb *redis.Client
	ttl time.Duration
}

// Compile-time check that CachedEmbedder implements ai.Embedder.
var _ ai.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a Redis query cache
func NewCachedEmbedder(inner ai.Embedder, rdb *redis.Client, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	return &CachedEmbedder{Embedder: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.Embedder.Name() + "|" + text))
	return queryCachePrefix + hex.EncodeToString(sum[:])
}

// EmbedOne returns the cached vector for text or embeds and caches it
func (c *CachedEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	getCtx, cancel := utils.WithShortTimeout(ctx)
	raw, err := c.rdb.Get(getCtx, key).Bytes()
	cancel()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(raw, &vec); jerr == nil && len(vec) == c.Embedder.Dimension() {
			return vec, nil
		}
		logger.Warn("Discarding unreadable cached query embedding", "key", key)
	case !errors.Is(err, redis.Nil):
		logger.Warn("Query cache read failed", "error", err)
	}

	vec, err := c.Embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		setCtx, cancel := utils.WithShortTimeout(ctx)
		if err := c.rdb.Set(setCtx, key, data, c.ttl).Err(); err != nil {
			logger.Warn("Query cache write failed", "error", err)
		}
		cancel()
	}
	return vec, nil
}
