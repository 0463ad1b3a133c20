// Package store provides the persistence backends and per-tier stores.
package store

import (
	"context"
	"time"

	"github.com/rcliao/memtier/internal/model"
)

// Filter narrows reads within one tier. Empty fields do not constrain.
type Filter struct {
	Scope        model.Scope
	EntityName   string
	EntityType   string
	CreatedAfter time.Time
}

func (f Filter) matches(r *model.Record) bool {
	if !f.Scope.Matches(r.Scope) {
		return false
	}
	if f.EntityName != "" && r.EntityName != f.EntityName {
		return false
	}
	if f.EntityType != "" && r.EntityType != f.EntityType {
		return false
	}
	if !f.CreatedAfter.IsZero() && !r.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	return true
}

// Hit is a vector search match.
type Hit struct {
	Record     model.Record
	Similarity float64
}

// Stats holds backend statistics.
type Stats struct {
	Backend     string      `json:"backend" yaml:"backend"`
	DBPath      string      `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DBSizeBytes int64       `json:"db_size_bytes,omitempty" yaml:"db_size_bytes,omitempty"`
	Total       int         `json:"total" yaml:"total"`
	Tiers       []TierStats `json:"tiers" yaml:"tiers"`
}

// TierStats holds per-tier counts.
type TierStats struct {
	Tier  model.Tier `json:"tier" yaml:"tier"`
	Count int        `json:"count" yaml:"count"`
	Dims  int        `json:"dims,omitempty" yaml:"dims,omitempty"`
}

// Backend is a durable key/value + vector index shared by the tier stores.
// Inserts must be atomic: a record is visible to readers only once fully
// written.
type Backend interface {
	// Insert persists a new record. Records are never updated in place.
	Insert(ctx context.Context, rec *model.Record) error

	// Get returns a record of the tier by id, or model.ErrNotFound.
	Get(ctx context.Context, tier model.Tier, id string) (*model.Record, error)

	// Delete removes a record. Returns false when it did not exist.
	Delete(ctx context.Context, tier model.Tier, id string) (bool, error)

	// DeleteOlderThan removes records created strictly before cutoff.
	DeleteOlderThan(ctx context.Context, tier model.Tier, cutoff time.Time) (int, error)

	// VectorSearch returns up to limit matches ordered by descending cosine similarity.
	VectorSearch(ctx context.Context, tier model.Tier, query []float32, f Filter, limit int) ([]Hit, error)

	// List returns matching records newest first. limit <= 0 means no limit.
	List(ctx context.Context, tier model.Tier, f Filter, limit int) ([]model.Record, error)

	// Count returns the number of records in a tier.
	Count(ctx context.Context, tier model.Tier) (int, error)

	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
