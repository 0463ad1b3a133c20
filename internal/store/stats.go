package store

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/model"
)

// Stats returns per-tier counts and the database size.
func (s *SQLiteBackend) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite", DBPath: s.path}
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	dims := map[string]int{}
	rows, err := s.db.QueryContext(ctx, `SELECT tier, dims FROM tier_dims`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tier dims")
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var d int
		if err := rows.Scan(&tier, &d); err != nil {
			return nil, goerr.Wrap(err, "failed to scan tier dims")
		}
		dims[tier] = d
	}

	for _, tier := range model.AllTiers {
		n, err := s.Count(ctx, tier)
		if err != nil {
			return nil, err
		}
		st.Total += n
		st.Tiers = append(st.Tiers, TierStats{Tier: tier, Count: n, Dims: dims[string(tier)]})
	}
	return st, nil
}
