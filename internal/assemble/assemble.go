// Package assemble packs ranked memories into a context block that fits a
// token budget.
package assemble

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/retrieve"
	"github.com/rcliao/memtier/internal/tokens"
)

const (
	minCandidates = 10
	maxCandidates = 200
)

// Request describes one context build.
type Request struct {
	Query           string             `json:"query" yaml:"query"`
	Scope           model.Scope        `json:"scope" yaml:"scope"`
	Tiers           []model.Tier       `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	TokenBudget     *int               `json:"token_budget,omitempty" yaml:"token_budget,omitempty"`
	TierPriorities  map[string]float64 `json:"tier_priorities,omitempty" yaml:"tier_priorities,omitempty"`
	ModelProfile    string             `json:"model_profile,omitempty" yaml:"model_profile,omitempty"`
	Rerank          bool               `json:"rerank,omitempty" yaml:"rerank,omitempty"`
	RelevanceCutoff float64            `json:"relevance_cutoff,omitempty" yaml:"relevance_cutoff,omitempty"`
	MinQuality      float64            `json:"min_quality,omitempty" yaml:"min_quality,omitempty"`
}

// Budget returns a TokenBudget value. A nil TokenBudget means the configured
// default.
func Budget(n int) *int { return &n }

// Searcher is the retrieval dependency of a Builder.
type Searcher interface {
	Search(ctx context.Context, q retrieve.Query) (*retrieve.Result, error)
}

// Builder assembles context blocks.
type Builder struct {
	searcher Searcher
	cfg      config.ContextConfig
}

// New returns a Builder using cfg for defaults.
func New(searcher Searcher, cfg config.ContextConfig) *Builder {
	return &Builder{searcher: searcher, cfg: cfg}
}

// Build retrieves candidates for req and selects greedily by
// final score times tier priority until the next record would overflow the
// budget. TokensUsed never exceeds the budget. A budget too small for even
// the shortest truncation yields an empty result, not an error.
func (b *Builder) Build(ctx context.Context, req Request) (*model.ContextResult, error) {
	budget := b.cfg.DefaultBudget
	if req.TokenBudget != nil {
		budget = *req.TokenBudget
	}
	if budget <= 0 {
		logging.From(ctx).Debug("budget too small for any record", "budget", budget)
		return &model.ContextResult{Budget: budget, UsedRecords: []string{}}, nil
	}
	profile := req.ModelProfile
	if profile == "" {
		profile = b.cfg.Profile
	}
	counter := tokens.NewCounter(profile)
	priorities := req.TierPriorities
	if len(priorities) == 0 {
		priorities = b.cfg.TierPriorities
	}

	res, err := b.searcher.Search(ctx, retrieve.Query{
		Text:            req.Query,
		Scope:           req.Scope,
		Tiers:           req.Tiers,
		Limit:           candidateLimit(budget, b.cfg.AvgRecordTokens),
		RelevanceCutoff: req.RelevanceCutoff,
		MinQuality:      req.MinQuality,
		Rerank:          req.Rerank,
	})
	if err != nil {
		return nil, err
	}

	out := &model.ContextResult{Budget: budget, UsedRecords: []string{}, Partial: res.Partial}
	candidates := res.Records
	sort.SliceStable(candidates, func(i, j int) bool {
		return weighted(candidates[i], priorities) > weighted(candidates[j], priorities)
	})

	delimCost := counter.Count(b.cfg.Delimiter)
	var selected []model.Record
	used := 0
	for _, c := range candidates {
		cost := counter.Count(c.Record.Text)
		if len(selected) > 0 {
			cost += delimCost
		}
		if used+cost > budget {
			break
		}
		selected = append(selected, c.Record)
		used += cost
	}

	if len(selected) == 0 && len(candidates) > 0 {
		first := candidates[0].Record
		text, ok := Truncate(first.Text, budget, counter)
		if !ok {
			logging.From(ctx).Debug("budget too small for any record", "budget", budget, "id", first.ID)
			return out, nil
		}
		first.Text = text
		selected = append(selected, first)
		out.Truncated = true
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].CreatedAt.After(selected[j].CreatedAt)
	})
	parts := make([]string, len(selected))
	for i, rec := range selected {
		parts[i] = rec.Text
		out.UsedRecords = append(out.UsedRecords, rec.ID)
	}
	out.Text = strings.Join(parts, b.cfg.Delimiter)
	out.TokensUsed = counter.Count(out.Text)
	return out, nil
}

// candidateLimit over-fetches three times the records an average-sized
// budget could hold.
func candidateLimit(budget, avg int) int {
	if avg <= 0 {
		avg = 100
	}
	n := 3 * int(math.Ceil(float64(budget)/float64(avg)))
	return min(max(n, minCandidates), maxCandidates)
}

func weighted(r model.RankedRecord, priorities map[string]float64) float64 {
	p, ok := priorities[string(r.Record.Tier)]
	if !ok {
		p = 1
	}
	return r.FinalScore * p
}
