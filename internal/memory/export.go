package memory

import (
	"context"
	"errors"

	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/quality"
	"github.com/rcliao/memtier/internal/store"
)

// Export returns every live record of every tier, newest first per tier.
// Embeddings are not exported; Import recomputes them.
func (e *Engine) Export(ctx context.Context) ([]model.Record, error) {
	var all []model.Record
	for _, tier := range model.AllTiers {
		records, err := e.tiers[tier].List(ctx, store.Filter{}, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// ImportResult counts the outcome of an Import.
type ImportResult struct {
	Imported int `json:"imported" yaml:"imported"`
	Rejected int `json:"rejected" yaml:"rejected"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

// Import stores exported records, keeping their ids and timestamps.
// Quality is recomputed from the exported sub-metrics with the current
// weights, so records may now fall below a floor. Ids already present and
// records already past their tier's TTL are skipped.
func (e *Engine) Import(ctx context.Context, records []model.Record) (*ImportResult, error) {
	res := &ImportResult{}
	for _, rec := range records {
		ts, err := e.tier(rec.Tier)
		if err != nil {
			return res, err
		}
		if ts.TTL() > 0 && !rec.CreatedAt.IsZero() && rec.CreatedAt.Before(ts.Now().Add(-ts.TTL())) {
			res.Skipped++
			continue
		}
		if rec.ID != "" {
			found, err := e.exists(ctx, rec.ID)
			if err != nil {
				return res, err
			}
			if found {
				res.Skipped++
				continue
			}
		}

		rec.Quality = e.scorer.Score(rec.Text, quality.FromResult(rec.Quality), "")
		rec.Embedding = nil
		put, err := ts.Put(ctx, rec)
		if err != nil {
			return res, err
		}
		if put.Rejected {
			res.Rejected++
			continue
		}
		res.Imported++
	}
	logging.From(ctx).Info("import finished", "imported", res.Imported, "rejected", res.Rejected, "skipped", res.Skipped)
	return res, nil
}

// exists looks the id up in every tier, including expired records not yet
// swept, since ids are unique across the backend.
func (e *Engine) exists(ctx context.Context, id string) (bool, error) {
	for _, tier := range model.AllTiers {
		_, err := e.backend.Get(ctx, tier, id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}
