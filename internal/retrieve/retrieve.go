// Package retrieve runs similarity search across memory tiers.
package retrieve

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/store"
)

const defaultLimit = 10

// Query describes one search.
type Query struct {
	Text            string       `json:"query" yaml:"query"`
	Scope           model.Scope  `json:"scope" yaml:"scope"`
	Tiers           []model.Tier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	Limit           int          `json:"limit,omitempty" yaml:"limit,omitempty"`
	RelevanceCutoff float64      `json:"relevance_cutoff,omitempty" yaml:"relevance_cutoff,omitempty"`
	MinQuality      float64      `json:"min_quality,omitempty" yaml:"min_quality,omitempty"`
	Rerank          bool         `json:"rerank,omitempty" yaml:"rerank,omitempty"`
	// EntityName and EntityType narrow the entity tier only.
	EntityName string `json:"entity_name,omitempty" yaml:"entity_name,omitempty"`
	EntityType string `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
}

// Result is a ranked, deduplicated list of records. Partial is set when the
// deadline expired before every tier answered.
type Result struct {
	Records []model.RankedRecord `json:"records" yaml:"records"`
	Partial bool                 `json:"partial,omitempty" yaml:"partial,omitempty"`
}

// Retriever searches a set of tier stores with one embedding provider.
type Retriever struct {
	stores    map[model.Tier]*store.TierStore
	embedder  embedding.Embedder
	overFetch int
	reranker  Reranker
	now       func() time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithReranker enables reranking. Without one, rerank requests keep the
// base order.
func WithReranker(r Reranker) Option {
	return func(rt *Retriever) { rt.reranker = r }
}

// WithClock overrides the time source used for recency.
func WithClock(now func() time.Time) Option {
	return func(rt *Retriever) { rt.now = now }
}

// New returns a Retriever over stores. The reranker is enabled from cfg
// unless an option overrides it.
func New(stores []*store.TierStore, embedder embedding.Embedder, cfg config.RetrievalConfig, opts ...Option) *Retriever {
	r := &Retriever{
		stores:    make(map[model.Tier]*store.TierStore, len(stores)),
		embedder:  embedder,
		overFetch: cfg.OverFetch,
		now:       time.Now,
	}
	if r.overFetch < 1 {
		r.overFetch = 1
	}
	for _, s := range stores {
		r.stores[s.Tier()] = s
	}
	if cfg.RerankEnabled {
		r.reranker = NewWeightedReranker(cfg)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CanRerank reports whether a reranker is configured.
func (r *Retriever) CanRerank() bool { return r.reranker != nil }

type tierHits struct {
	tier model.Tier
	hits []store.Hit
	err  error
}

// Search embeds the query, searches every requested tier in parallel and
// returns at most q.Limit records. Records below the relevance cutoff or
// quality floor are dropped before reranking, so reranking never brings
// them back.
func (r *Retriever) Search(ctx context.Context, q Query) (*Result, error) {
	tiers, err := r.plan(q)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	logger := logging.From(ctx)

	vec, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("search deadline expired while embedding query", "error", err)
			return &Result{Partial: true}, nil
		}
		return nil, err
	}

	ch := make(chan tierHits, len(tiers))
	for _, tier := range tiers {
		f := store.Filter{Scope: q.Scope}
		if tier == model.TierEntity {
			f.EntityName, f.EntityType = q.EntityName, q.EntityType
		}
		go func(ts *store.TierStore, f store.Filter) {
			hits, err := ts.VectorSearch(ctx, vec, f, limit*r.overFetch)
			ch <- tierHits{tier: ts.Tier(), hits: hits, err: err}
		}(r.stores[tier], f)
	}

	res := &Result{}
	var gathered []store.Hit
collect:
	for range tiers {
		select {
		case th := <-ch:
			if th.err != nil {
				if ctx.Err() != nil {
					res.Partial = true
					continue
				}
				return nil, goerr.Wrap(th.err, "tier search failed", goerr.V("tier", th.tier))
			}
			gathered = append(gathered, th.hits...)
		case <-ctx.Done():
			res.Partial = true
			break collect
		}
	}
	if res.Partial {
		logger.Warn("search returned partial results", "query", q.Text, "gathered", len(gathered))
	}

	ranked := make([]model.RankedRecord, 0, len(gathered))
	for _, h := range gathered {
		rel := clamp01(h.Similarity)
		if rel < q.RelevanceCutoff || h.Record.Quality.Overall < q.MinQuality {
			continue
		}
		ranked = append(ranked, model.RankedRecord{Record: h.Record, RelevanceScore: rel, FinalScore: rel})
	}

	if q.Rerank {
		if r.reranker != nil {
			ranked = r.reranker.Rerank(r.now(), ranked)
		} else {
			logger.Debug("rerank requested but no reranker is configured")
		}
	}
	sortRanked(ranked)

	ranked = dedupe(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	res.Records = ranked
	return res, nil
}

// plan resolves the tiers to search and validates the scope against them.
// With no explicit tiers, the user tier is included only when a user id is
// given.
func (r *Retriever) plan(q Query) ([]model.Tier, error) {
	if q.EntityName != "" && q.EntityType == "" {
		return nil, goerr.Wrap(model.ErrScopeMismatch, "entity_name filter requires entity_type",
			goerr.V("entity_name", q.EntityName))
	}

	if len(q.Tiers) == 0 {
		var tiers []model.Tier
		for _, t := range model.AllTiers {
			if _, ok := r.stores[t]; !ok {
				continue
			}
			if t == model.TierUser && q.Scope.UserID == "" {
				continue
			}
			tiers = append(tiers, t)
		}
		return tiers, nil
	}

	seen := make(map[model.Tier]bool, len(q.Tiers))
	var tiers []model.Tier
	for _, t := range q.Tiers {
		if _, ok := r.stores[t]; !ok {
			return nil, goerr.Wrap(model.ErrUnknownTier, "tier is not configured", goerr.V("tier", t))
		}
		if t == model.TierUser && q.Scope.UserID == "" {
			return nil, goerr.Wrap(model.ErrScopeMismatch, "searching the user tier requires scope.user_id")
		}
		if !seen[t] {
			seen[t] = true
			tiers = append(tiers, t)
		}
	}
	return tiers, nil
}

// sortRanked orders by final score, then tier priority, then recency.
func sortRanked(records []model.RankedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if pa, pb := a.Record.Tier.Priority(), b.Record.Tier.Priority(); pa != pb {
			return pa > pb
		}
		return a.Record.CreatedAt.After(b.Record.CreatedAt)
	})
}

// dedupe keeps one record per exact text: the copy from the highest
// priority tier, the better scored one within a tier. Order is preserved.
func dedupe(records []model.RankedRecord) []model.RankedRecord {
	winner := make(map[string]int, len(records))
	for i, rec := range records {
		j, ok := winner[rec.Record.Text]
		if !ok || rec.Record.Tier.Priority() > records[j].Record.Tier.Priority() {
			winner[rec.Record.Text] = i
		}
	}
	out := make([]model.RankedRecord, 0, len(winner))
	for i, rec := range records {
		if winner[rec.Record.Text] == i {
			out = append(out, rec)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

