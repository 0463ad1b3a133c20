package embedding

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// Cached memoizes embeddings by exact text. Query embeddings repeat often
// (the same question asked across tiers and turns) and providers are slow.
type Cached struct {
	inner  Embedder
	cache  *ristretto.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner with a cache holding up to maxEntries vectors.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("max_entries", maxEntries))
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		c.hits.Add(1)
		return v.(Vector), nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Stats returns cache hit and miss counts.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
