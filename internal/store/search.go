package store

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/model"
)

// VectorSearch loads the tier's candidate rows matching the filter and ranks
// them by cosine similarity against query.
func (s *SQLiteBackend) VectorSearch(ctx context.Context, tier model.Tier, query []float32, f Filter, limit int) ([]Hit, error) {
	where, args := filterClause(tier, f)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records WHERE `+where, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query vectors", goerr.V("tier", tier))
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record")
		}
		hits = append(hits, Hit{
			Record:     rec,
			Similarity: embedding.CosineSimilarity(query, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate vectors")
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// sortHits orders by similarity, newest first on ties.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Record.ID > hits[j].Record.ID
	})
}
