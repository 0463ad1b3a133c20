package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns one fresh instance of every Backend implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"sqlite":  newTestSQLite(t),
		"chromem": NewChromemBackend(),
	}
}

var testIDs = NewIDGenerator()

func testRecord(tier model.Tier, text string, vec []float32, created time.Time) *model.Record {
	return &model.Record{
		ID:        testIDs.New(created),
		Tier:      tier,
		Text:      text,
		Embedding: vec,
		Quality:   model.QualityResult{Overall: 0.8, Completeness: 0.7, Relevance: 0.9, Clarity: 0.8, Accuracy: 0.75},
		CreatedAt: created,
	}
}

func TestBackendInsertAndGet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
			rec := testRecord(model.TierLongTerm, "the deploy runs on fridays", []float32{1, 0, 0}, created)
			rec.Scope = model.Scope{UserID: "u1", AgentID: "a1"}
			rec.Metadata = map[string]any{"source": "chat"}
			require.NoError(t, b.Insert(ctx, rec))

			got, err := b.Get(ctx, model.TierLongTerm, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.Text, got.Text)
			assert.Equal(t, rec.Scope, got.Scope)
			assert.Equal(t, "chat", got.Metadata["source"])
			assert.InDelta(t, 0.8, got.Quality.Overall, 1e-9)
			assert.InDelta(t, 0.75, got.Quality.Accuracy, 1e-9)
			assert.True(t, created.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, created)
			assert.Len(t, got.Embedding, 3)

			_, err = b.Get(ctx, model.TierShortTerm, rec.ID)
			assert.True(t, errors.Is(err, model.ErrNotFound))
		})
	}
}

func TestBackendDimensionPinnedPerTier(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			require.NoError(t, b.Insert(ctx, testRecord(model.TierLongTerm, "a", []float32{1, 0, 0}, now)))

			err := b.Insert(ctx, testRecord(model.TierLongTerm, "b", []float32{1, 0}, now))
			assert.True(t, errors.Is(err, model.ErrDimensionMismatch), "got %v", err)

			// other tiers pin independently
			require.NoError(t, b.Insert(ctx, testRecord(model.TierShortTerm, "c", []float32{1, 0}, now)))
		})
	}
}

func TestBackendDeleteIdempotent(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := testRecord(model.TierShortTerm, "temp", []float32{0, 1}, time.Now().UTC())
			require.NoError(t, b.Insert(ctx, rec))

			ok, err := b.Delete(ctx, model.TierShortTerm, rec.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = b.Delete(ctx, model.TierShortTerm, rec.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := b.Count(ctx, model.TierShortTerm)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestBackendVectorSearchOrderAndScope(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			near := testRecord(model.TierLongTerm, "near", []float32{1, 0.1, 0}, now)
			near.Scope = model.Scope{UserID: "alice"}
			far := testRecord(model.TierLongTerm, "far", []float32{0, 1, 0}, now)
			global := testRecord(model.TierLongTerm, "global", []float32{1, 0.5, 0}, now)
			other := testRecord(model.TierLongTerm, "other", []float32{1, 0, 0}, now)
			other.Scope = model.Scope{UserID: "bob"}
			for _, r := range []*model.Record{near, far, global, other} {
				require.NoError(t, b.Insert(ctx, r))
			}

			hits, err := b.VectorSearch(ctx, model.TierLongTerm, []float32{1, 0, 0}, Filter{Scope: model.Scope{UserID: "alice"}}, 10)
			require.NoError(t, err)
			var texts []string
			for _, h := range hits {
				texts = append(texts, h.Record.Text)
			}
			// bob's record is excluded; unscoped records match any user
			assert.Equal(t, []string{"near", "global", "far"}, texts)
			for i := 1; i < len(hits); i++ {
				assert.GreaterOrEqual(t, hits[i-1].Similarity, hits[i].Similarity)
			}

			hits, err = b.VectorSearch(ctx, model.TierLongTerm, []float32{1, 0, 0}, Filter{}, 2)
			require.NoError(t, err)
			assert.Len(t, hits, 2)
		})
	}
}

func TestBackendVectorSearchEmptyTier(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			hits, err := b.VectorSearch(context.Background(), model.TierUser, []float32{1, 0}, Filter{}, 5)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestBackendListAndDeleteOlderThan(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, text := range []string{"oldest", "middle", "newest"} {
				require.NoError(t, b.Insert(ctx, testRecord(model.TierShortTerm, text, []float32{1, 0}, base.Add(time.Duration(i)*time.Hour))))
			}

			recs, err := b.List(ctx, model.TierShortTerm, Filter{}, 0)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			assert.Equal(t, "newest", recs[0].Text)
			assert.Equal(t, "oldest", recs[2].Text)

			recs, err = b.List(ctx, model.TierShortTerm, Filter{CreatedAfter: base}, 0)
			require.NoError(t, err)
			assert.Len(t, recs, 2)

			n, err := b.DeleteOlderThan(ctx, model.TierShortTerm, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// sweeping again finds nothing
			n, err = b.DeleteOlderThan(ctx, model.TierShortTerm, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			recs, err = b.List(ctx, model.TierShortTerm, Filter{}, 0)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, "newest", recs[0].Text)
		})
	}
}

func TestBackendEntityFilter(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			a := testRecord(model.TierEntity, "Acme is a vendor", []float32{1, 0}, now)
			a.EntityName, a.EntityType = "Acme", "company"
			p := testRecord(model.TierEntity, "Acme the person", []float32{1, 0}, now)
			p.EntityName, p.EntityType = "Acme", "person"
			require.NoError(t, b.Insert(ctx, a))
			require.NoError(t, b.Insert(ctx, p))

			recs, err := b.List(ctx, model.TierEntity, Filter{EntityName: "Acme", EntityType: "company"}, 0)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, "Acme is a vendor", recs[0].Text)
		})
	}
}

func TestSQLiteStats(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	require.NoError(t, s.Insert(ctx, testRecord(model.TierLongTerm, "x", []float32{1, 0, 0}, time.Now().UTC())))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", st.Backend)
	assert.Equal(t, 1, st.Total)
	assert.Greater(t, st.DBSizeBytes, int64(0))
	for _, ts := range st.Tiers {
		if ts.Tier == model.TierLongTerm {
			assert.Equal(t, 1, ts.Count)
			assert.Equal(t, 3, ts.Dims)
		}
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	rec := testRecord(model.TierUser, "prefers dark mode", []float32{0, 1}, time.Now().UTC())
	rec.Scope.UserID = "u1"
	require.NoError(t, s.Insert(ctx, rec))
	require.NoError(t, s.Close())

	s, err = NewSQLiteBackend(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, model.TierUser, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "prefers dark mode", got.Text)

	err = s.Insert(ctx, testRecord(model.TierUser, "wrong dims", []float32{0, 1, 0}, time.Now().UTC()))
	assert.True(t, errors.Is(err, model.ErrDimensionMismatch))
}
