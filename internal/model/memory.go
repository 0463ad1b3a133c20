// Package model defines the core memory data types.
package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Tier is a logically separate memory store with its own lifetime and scoping rules.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierEntity    Tier = "entity"
	TierUser      Tier = "user"
)

// AllTiers lists every tier in dedupe priority order (highest first).
var AllTiers = []Tier{TierUser, TierEntity, TierLongTerm, TierShortTerm}

// ValidTiers are the allowed tier names.
var ValidTiers = map[Tier]bool{
	TierShortTerm: true,
	TierLongTerm:  true,
	TierEntity:    true,
	TierUser:      true,
}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !ValidTiers[t] {
		return "", goerr.Wrap(ErrUnknownTier, "valid tiers are short_term, long_term, entity, user", goerr.V("tier", s))
	}
	return t, nil
}

// Priority ranks tiers for cross-tier dedupe: user > entity > long_term > short_term.
func (t Tier) Priority() int {
	switch t {
	case TierUser:
		return 4
	case TierEntity:
		return 3
	case TierLongTerm:
		return 2
	case TierShortTerm:
		return 1
	}
	return 0
}

// Scope partitions records for multi-tenant isolation. Empty fields are unset.
type Scope struct {
	UserID  string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
}

// Matches reports whether two scopes agree field-by-field.
// An unset field on either side is a wildcard.
func (s Scope) Matches(other Scope) bool {
	return fieldMatches(s.UserID, other.UserID) &&
		fieldMatches(s.AgentID, other.AgentID) &&
		fieldMatches(s.RunID, other.RunID)
}

func fieldMatches(a, b string) bool {
	return a == "" || b == "" || a == b
}

// QualityResult is a composite 0-1 quality score and its sub-metrics.
type QualityResult struct {
	Overall      float64 `json:"overall" yaml:"overall"`
	Completeness float64 `json:"completeness" yaml:"completeness"`
	Relevance    float64 `json:"relevance" yaml:"relevance"`
	Clarity      float64 `json:"clarity" yaml:"clarity"`
	Accuracy     float64 `json:"accuracy" yaml:"accuracy"`
}

// Record is a single stored memory. Records are never mutated after creation.
type Record struct {
	ID         string         `json:"id" yaml:"id"`
	Tier       Tier           `json:"tier" yaml:"tier"`
	Text       string         `json:"text" yaml:"text"`
	Embedding  []float32      `json:"-" yaml:"-"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Scope      Scope          `json:"scope" yaml:"scope"`
	Quality    QualityResult  `json:"quality" yaml:"quality"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	EntityName string         `json:"entity_name,omitempty" yaml:"entity_name,omitempty"`
	EntityType string         `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
}

// RankedRecord is a search hit carrying both its base and final scores.
type RankedRecord struct {
	Record         Record  `json:"record" yaml:"record"`
	RelevanceScore float64 `json:"relevance_score" yaml:"relevance_score"`
	FinalScore     float64 `json:"final_score" yaml:"final_score"`
	Reranked       bool    `json:"reranked,omitempty" yaml:"reranked,omitempty"`
}

// ContextResult is an assembled block of memory text under a token budget.
type ContextResult struct {
	Text        string   `json:"text" yaml:"text"`
	UsedRecords []string `json:"used_records" yaml:"used_records"`
	TokensUsed  int      `json:"tokens_used" yaml:"tokens_used"`
	Budget      int      `json:"budget" yaml:"budget"`
	Truncated   bool     `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Partial     bool     `json:"partial,omitempty" yaml:"partial,omitempty"`
}
