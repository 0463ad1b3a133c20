// Package memory is the caller-facing engine: it scores, stores, searches
// and assembles memories across the four tiers.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/assemble"
	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/quality"
	"github.com/rcliao/memtier/internal/retrieve"
	"github.com/rcliao/memtier/internal/store"
)

// Engine wires the quality scorer, tier stores, retriever and context
// builder over one backend and one embedding provider.
type Engine struct {
	cfg       config.Config
	scorer    *quality.Scorer
	embedder  embedding.Embedder
	backend   store.Backend
	tiers     map[model.Tier]*store.TierStore
	retriever *retrieve.Retriever
	builder   *assemble.Builder

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type options struct {
	strategy quality.Strategy
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithStrategy replaces the heuristic sub-metric strategy.
func WithStrategy(s quality.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithClock overrides the time source for TTL and recency.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an Engine. cfg must be valid; backend and embedder are owned by
// the Engine from here on and released by Close.
func New(cfg config.Config, backend store.Backend, embedder embedding.Embedder, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	scorer, err := quality.New(cfg.Quality, o.strategy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		scorer:   scorer,
		embedder: embedder,
		backend:  backend,
		tiers:    make(map[model.Tier]*store.TierStore, len(model.AllTiers)),
		stopCh:   make(chan struct{}),
	}

	ids := store.NewIDGenerator()
	var stores []*store.TierStore
	for _, tier := range model.AllTiers {
		ts := store.NewTierStore(tier, cfg.Tier(tier), backend, embedder, ids, store.WithClock(o.now))
		e.tiers[tier] = ts
		stores = append(stores, ts)
	}
	e.retriever = retrieve.New(stores, embedder, cfg.Retrieval, retrieve.WithClock(o.now))
	e.builder = assemble.New(e.retriever, cfg.Context)
	return e, nil
}

// Open builds the backend and embedding provider named by cfg.
func Open(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var backend store.Backend
	switch cfg.Database.Backend {
	case "memory":
		backend = store.NewChromemBackend()
	default:
		path := cfg.Database.Path
		if path == "" {
			path = config.DefaultDBPath()
		}
		b, err := store.NewSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	embedder, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		backend.Close()
		return nil, err
	}

	e, err := New(cfg, backend, embedder)
	if err != nil {
		embedder.Close()
		backend.Close()
		return nil, err
	}
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config { return e.cfg }

// CanRerank reports whether reranking is enabled.
func (e *Engine) CanRerank() bool { return e.retriever.CanRerank() }

func (e *Engine) tier(t model.Tier) (*store.TierStore, error) {
	ts, ok := e.tiers[t]
	if !ok {
		return nil, goerr.Wrap(model.ErrUnknownTier, "tier is not configured", goerr.V("tier", t))
	}
	return ts, nil
}

// StoreRequest asks for text to be scored and stored in a tier.
type StoreRequest struct {
	Text       string           `json:"text" yaml:"text"`
	Tier       model.Tier       `json:"tier,omitempty" yaml:"tier,omitempty"`
	Scope      model.Scope      `json:"scope" yaml:"scope"`
	Metadata   map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Metrics    *quality.Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Context    string           `json:"context,omitempty" yaml:"context,omitempty"`
	EntityName string           `json:"entity_name,omitempty" yaml:"entity_name,omitempty"`
	EntityType string           `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
}

// StoreResult reports where the text went. Rejected is not an error.
type StoreResult struct {
	ID       string              `json:"id,omitempty" yaml:"id,omitempty"`
	Tier     model.Tier          `json:"tier" yaml:"tier"`
	Rejected bool                `json:"rejected" yaml:"rejected"`
	Quality  model.QualityResult `json:"quality" yaml:"quality"`
	Floor    float64             `json:"floor" yaml:"floor"`
}

// Store scores req.Text and persists it when the score reaches the tier's
// floor. The default tier is short_term.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if req.Tier == "" {
		req.Tier = model.TierShortTerm
	}
	ts, err := e.tier(req.Tier)
	if err != nil {
		return nil, err
	}

	q := e.scorer.Score(req.Text, req.Metrics, req.Context)
	res, err := ts.Put(ctx, model.Record{
		Text:       req.Text,
		Metadata:   req.Metadata,
		Scope:      req.Scope,
		Quality:    q,
		EntityName: req.EntityName,
		EntityType: req.EntityType,
	})
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx)
	if res.Rejected {
		logger.Info("memory rejected", "tier", req.Tier, "quality", q.Overall, "floor", res.Floor)
	} else {
		logger.Debug("memory stored", "id", res.ID, "tier", req.Tier, "quality", q.Overall)
	}
	return &StoreResult{ID: res.ID, Tier: req.Tier, Rejected: res.Rejected, Quality: res.Quality, Floor: res.Floor}, nil
}

// EntityRequest appends a new version of a named entity.
type EntityRequest struct {
	Name     string           `json:"name" yaml:"name"`
	Type     string           `json:"type" yaml:"type"`
	Text     string           `json:"text" yaml:"text"`
	Scope    model.Scope      `json:"scope" yaml:"scope"`
	Metadata map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Metrics  *quality.Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Context  string           `json:"context,omitempty" yaml:"context,omitempty"`
}

// PutEntity stores a new version of an entity. Older versions stay in the
// history; lookups return the newest.
func (e *Engine) PutEntity(ctx context.Context, req EntityRequest) (*StoreResult, error) {
	return e.Store(ctx, StoreRequest{
		Text:       req.Text,
		Tier:       model.TierEntity,
		Scope:      req.Scope,
		Metadata:   req.Metadata,
		Metrics:    req.Metrics,
		Context:    req.Context,
		EntityName: req.Name,
		EntityType: req.Type,
	})
}

// LookupEntity returns the newest version of an entity.
func (e *Engine) LookupEntity(ctx context.Context, name, entityType string, scope model.Scope) (*model.Record, error) {
	return e.tiers[model.TierEntity].LatestEntity(ctx, name, entityType, scope)
}

// EntityHistory returns every version of an entity, newest first.
func (e *Engine) EntityHistory(ctx context.Context, name, entityType string, scope model.Scope) ([]model.Record, error) {
	return e.tiers[model.TierEntity].EntityHistory(ctx, name, entityType, scope)
}

// Search runs a similarity search across tiers.
func (e *Engine) Search(ctx context.Context, q retrieve.Query) (*retrieve.Result, error) {
	return e.retriever.Search(ctx, q)
}

// BuildContext assembles a context block under a token budget.
func (e *Engine) BuildContext(ctx context.Context, req assemble.Request) (*model.ContextResult, error) {
	return e.builder.Build(ctx, req)
}

// Get finds a record by id in any tier.
func (e *Engine) Get(ctx context.Context, id string) (*model.Record, error) {
	for _, tier := range model.AllTiers {
		rec, err := e.tiers[tier].Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}
	return nil, goerr.Wrap(model.ErrNotFound, "no such memory", goerr.V("id", id))
}

// Delete removes a record from whichever tier holds it. Deleting a missing
// id succeeds and returns false.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	deleted := false
	for _, tier := range model.AllTiers {
		ok, err := e.tiers[tier].Delete(ctx, id)
		if err != nil {
			return deleted, err
		}
		deleted = deleted || ok
	}
	return deleted, nil
}

// List returns the newest live records of a tier visible to scope.
func (e *Engine) List(ctx context.Context, tier model.Tier, scope model.Scope, limit int) ([]model.Record, error) {
	ts, err := e.tier(tier)
	if err != nil {
		return nil, err
	}
	return ts.List(ctx, store.Filter{Scope: scope}, limit)
}

// SweepExpired removes expired records of one tier, or of every tier when
// tier is empty.
func (e *Engine) SweepExpired(ctx context.Context, tier model.Tier) (int, error) {
	if tier != "" {
		ts, err := e.tier(tier)
		if err != nil {
			return 0, err
		}
		return ts.SweepExpired(ctx)
	}
	total := 0
	for _, t := range model.AllTiers {
		n, err := e.tiers[t].SweepExpired(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Promote copies a short-term record into the long-term tier as a new
// record. The long-term floor still applies; the source is left to expire.
func (e *Engine) Promote(ctx context.Context, id string) (*StoreResult, error) {
	src, err := e.tiers[model.TierShortTerm].Get(ctx, id)
	if err != nil {
		return nil, err
	}

	meta := make(map[string]any, len(src.Metadata)+1)
	for k, v := range src.Metadata {
		meta[k] = v
	}
	meta["promoted_from"] = src.ID

	q := e.scorer.Score(src.Text, quality.FromResult(src.Quality), "")
	res, err := e.tiers[model.TierLongTerm].Put(ctx, model.Record{
		Text:      src.Text,
		Embedding: src.Embedding,
		Metadata:  meta,
		Scope:     src.Scope,
		Quality:   q,
	})
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Info("memory promoted", "from", src.ID, "to", res.ID, "rejected", res.Rejected)
	return &StoreResult{ID: res.ID, Tier: model.TierLongTerm, Rejected: res.Rejected, Quality: res.Quality, Floor: res.Floor}, nil
}

// Stats reports per-tier counts and, when cached, embedding cache counters.
type Stats struct {
	store.Stats `yaml:",inline"`
	CacheHits   int64 `json:"cache_hits,omitempty" yaml:"cache_hits,omitempty"`
	CacheMisses int64 `json:"cache_misses,omitempty" yaml:"cache_misses,omitempty"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st, err := e.backend.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Stats: *st}
	if g, ok := e.embedder.(*embedding.Guard); ok {
		out.CacheHits, out.CacheMisses, _ = g.CacheStats()
	}
	return out, nil
}

// StartSweeper sweeps expired records once now and then every
// sweep.interval until Close. A zero interval disables it.
func (e *Engine) StartSweeper(ctx context.Context) {
	interval := e.cfg.Sweep.Interval
	if interval <= 0 {
		return
	}
	logger := logging.From(ctx)
	sweep := func() {
		if n, err := e.SweepExpired(ctx, ""); err != nil {
			logger.Error("sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("sweep removed expired records", "count", n)
		}
	}
	sweep()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep()
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the sweeper and releases the backend and embedder.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	if c, ok := e.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	return e.backend.Close()
}
