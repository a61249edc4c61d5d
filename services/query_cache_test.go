package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedEmbedder(t *testing.T) (*CachedEmbedder, *scriptedEmbedder, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := newScriptedEmbedder(4)
	inner.set("what is algebra", 1, 0, 0, 0)
	return NewCachedEmbedder(inner, rdb, time.Minute), inner, srv
}

func TestCachedEmbedderCachesQueries(t *testing.T) {
	cache, inner, srv := newCachedEmbedder(t)
	ctx := context.Background()

	first, err := cache.EmbedOne(ctx, "what is algebra")
	require.NoError(t, err)
	second, err := cache.EmbedOne(ctx, "what is algebra")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	key := cache.cacheKey("what is algebra")
	require.True(t, srv.Exists(key))
	assert.Equal(t, time.Minute, srv.TTL(key))

	// Batches are not cached
	_, err = cache.Embed(ctx, []string{"what is algebra"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedderSurvivesBadEntries(t *testing.T) {
	cache, inner, srv := newCachedEmbedder(t)
	ctx := context.Background()

	require.NoError(t, srv.Set(cache.cacheKey("what is algebra"), "not json"))
	vec, err := cache.EmbedOne(ctx, "what is algebra")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
	assert.Equal(t, 1, inner.calls)

	// Redis going away falls back to the embedder
	srv.Close()
	vec, err = cache.EmbedOne(ctx, "what is algebra")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedderPropagatesEmbedErrors(t *testing.T) {
	cache, inner, _ := newCachedEmbedder(t)
	inner.err = errEmbedDown

	_, err := cache.EmbedOne(context.Background(), "what is algebra")
	assert.ErrorIs(t, err, errEmbedDown)
}
