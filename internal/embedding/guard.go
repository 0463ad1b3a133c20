package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/model"
)

// Guard bounds provider calls with a timeout and enforces the configured
// dimensionality. Failures surface as model.ErrEmbeddingUnavailable and
// wrong-sized vectors as model.ErrDimensionMismatch. Guard never retries.
type Guard struct {
	inner   Embedder
	timeout time.Duration
	dims    int
}

// NewGuard wraps inner. A zero timeout leaves the caller's deadline in charge.
func NewGuard(inner Embedder, timeout time.Duration, dims int) *Guard {
	if dims <= 0 {
		dims = inner.Dims()
	}
	return &Guard{inner: inner, timeout: timeout, dims: dims}
}

type embedResult struct {
	vec Vector
	err error
}

func (g *Guard) Embed(ctx context.Context, text string) (Vector, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	// providers that ignore ctx must not hold the caller past the deadline
	ch := make(chan embedResult, 1)
	go func() {
		vec, err := g.inner.Embed(ctx, text)
		ch <- embedResult{vec: vec, err: err}
	}()

	var res embedResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding provider timed out",
			goerr.V("timeout", g.timeout.String()), goerr.V("error", ctx.Err().Error()))
	}

	if errors.Is(res.err, model.ErrDimensionMismatch) {
		return nil, res.err
	}
	if res.err != nil {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding provider failed", goerr.V("error", res.err.Error()))
	}
	if len(res.vec) != g.dims {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "provider returned unexpected dimensionality",
			goerr.V("want", g.dims), goerr.V("got", len(res.vec)))
	}
	return res.vec, nil
}

func (g *Guard) Dims() int { return g.dims }

// CacheStats reports hit/miss counts when the provider is cached.
func (g *Guard) CacheStats() (hits, misses int64, ok bool) {
	c, ok := g.inner.(*Cached)
	if !ok {
		return 0, 0, false
	}
	hits, misses = c.Stats()
	return hits, misses, true
}

// Close releases the wrapped provider's resources, if it holds any.
func (g *Guard) Close() {
	if c, ok := g.inner.(interface{ Close() }); ok {
		c.Close()
	}
}
