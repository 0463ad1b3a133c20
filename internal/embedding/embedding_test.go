package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.7071},
		{"empty", Vector{}, Vector{}, 0.0},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), 0.001)
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize(Vector{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, Vector{0, 0}, Normalize(Vector{0, 0}))
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(128)
	assert.Equal(t, 128, e.Dims())

	a, err := e.Embed(ctx, "the deploy pipeline pushes images to staging")
	require.NoError(t, err)
	require.Len(t, a, 128)

	again, _ := e.Embed(ctx, "the deploy pipeline pushes images to staging")
	assert.Equal(t, a, again)

	near, _ := e.Embed(ctx, "deploy pipeline to staging")
	far, _ := e.Embed(ctx, "grandma bakes sourdough bread on sundays")
	assert.Greater(t, CosineSimilarity(a, near), CosineSimilarity(a, far))
	assert.InDelta(t, 1.0, CosineSimilarity(a, again), 1e-6)
}

type stubEmbedder struct {
	dims  int
	delay time.Duration
	err   error
	calls atomic.Int64
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return make(Vector, s.dims), nil
}

func (s *stubEmbedder) Dims() int { return s.dims }

func TestGuardPassesThrough(t *testing.T) {
	g := NewGuard(&stubEmbedder{dims: 8}, time.Second, 8)
	vec, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 8, g.Dims())
}

func TestGuardProviderFailure(t *testing.T) {
	g := NewGuard(&stubEmbedder{dims: 8, err: errors.New("connection refused")}, time.Second, 8)
	_, err := g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard(&stubEmbedder{dims: 8, delay: 500 * time.Millisecond}, 20*time.Millisecond, 8)

	start := time.Now()
	_, err := g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestGuardDimensionMismatch(t *testing.T) {
	g := NewGuard(&stubEmbedder{dims: 4}, time.Second, 8)
	_, err := g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	assert.NotErrorIs(t, err, model.ErrEmbeddingUnavailable)
}

func TestCachedAvoidsRepeatCalls(t *testing.T) {
	inner := &stubEmbedder{dims: 4}
	c, err := NewCached(inner, 100)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Embed(ctx, "same text")
	require.NoError(t, err)

	// ristretto admits writes asynchronously
	assert.Eventually(t, func() bool {
		before := inner.calls.Load()
		_, _ = c.Embed(ctx, "same text")
		return inner.calls.Load() == before
	}, time.Second, 10*time.Millisecond)

	hits, misses := c.Stats()
	assert.GreaterOrEqual(t, hits, int64(1))
	assert.GreaterOrEqual(t, misses, int64(1))
	assert.Equal(t, 4, c.Dims())
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &stubEmbedder{dims: 4, err: errors.New("boom")}
	c, err := NewCached(inner, 100)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default().Embedding
	g, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Dims, g.Dims())

	vec, err := g.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, cfg.Dims)

	cfg.Provider = "carrier-pigeon"
	_, err = NewFromConfig(cfg)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}
