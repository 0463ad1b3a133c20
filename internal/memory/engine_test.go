package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/assemble"
	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/quality"
	"github.com/rcliao/memtier/internal/retrieve"
	"github.com/rcliao/memtier/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *clock) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Backend = "memory"
	cfg.Sweep.Interval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c := &clock{t: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)}
	guard := embedding.NewGuard(embedding.NewHashEmbedder(cfg.Embedding.Dims), time.Second, cfg.Embedding.Dims)
	e, err := New(cfg, store.NewChromemBackend(), guard, WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, c
}

func TestQualityFormula(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	c, r, cl, a := 0.8, 0.6, 0.9, 0.4
	res, err := e.Store(context.Background(), StoreRequest{
		Text:    "Quarterly revenue grew in the north region.",
		Tier:    model.TierLongTerm,
		Metrics: &quality.Metrics{Completeness: &c, Relevance: &r, Clarity: &cl, Accuracy: &a},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25*c+0.35*r+0.20*cl+0.20*a, res.Quality.Overall, 1e-9)
}

func TestPersistenceFloor(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := e.Store(ctx, StoreRequest{Text: "weak note", Tier: model.TierLongTerm, Metrics: quality.Uniform(0.5)})
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Empty(t, res.ID)
	assert.Equal(t, 0.7, res.Floor)

	res, err = e.Store(ctx, StoreRequest{Text: "strong note", Tier: model.TierLongTerm, Metrics: quality.Uniform(0.8)})
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.NotEmpty(t, res.ID)
}

func TestEndToEndThreeRecords(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	inputs := []struct {
		text    string
		quality float64
	}{
		{"the payment service retries failed charges three times", 0.9},
		{"the payment service logs failed charges", 0.6},
		{"the payment service alerts on failed charges after retries", 0.95},
	}
	stored := map[string]bool{}
	for _, in := range inputs {
		res, err := e.Store(ctx, StoreRequest{Text: in.text, Tier: model.TierLongTerm, Metrics: quality.Uniform(in.quality)})
		require.NoError(t, err)
		if !res.Rejected {
			stored[res.ID] = true
		}
	}
	require.Len(t, stored, 2)

	out, err := e.Search(ctx, retrieve.Query{Text: "payment service failed charges", MinQuality: 0, Limit: 10})
	require.NoError(t, err)
	require.Len(t, out.Records, 2)
	for _, r := range out.Records {
		assert.True(t, stored[r.Record.ID])
	}
	assert.GreaterOrEqual(t, out.Records[0].RelevanceScore, out.Records[1].RelevanceScore)
}

func TestEntityUpsert(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.PutEntity(ctx, EntityRequest{Name: "Acme", Type: "org", Text: "v1", Metrics: quality.Uniform(0.9)})
	require.NoError(t, err)
	_, err = e.PutEntity(ctx, EntityRequest{Name: "Acme", Type: "org", Text: "v2", Metrics: quality.Uniform(0.9)})
	require.NoError(t, err)

	out, err := e.Search(ctx, retrieve.Query{
		Text:       "Acme",
		Tiers:      []model.Tier{model.TierEntity},
		EntityName: "Acme",
		EntityType: "org",
	})
	require.NoError(t, err)
	var texts []string
	for _, r := range out.Records {
		texts = append(texts, r.Record.Text)
	}
	assert.ElementsMatch(t, []string{"v1", "v2"}, texts)

	latest, err := e.LookupEntity(ctx, "Acme", "org", model.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.Text)

	history, err := e.EntityHistory(ctx, "Acme", "org", model.Scope{})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestScopeWildcardThroughEngine(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := e.Store(ctx, StoreRequest{
		Text:    "prefers metric units",
		Tier:    model.TierLongTerm,
		Scope:   model.Scope{UserID: "u1"},
		Metrics: quality.Uniform(0.9),
	})
	require.NoError(t, err)

	out, err := e.Search(ctx, retrieve.Query{Text: "metric units", Scope: model.Scope{UserID: "u1", AgentID: "a1"}})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, res.ID, out.Records[0].Record.ID)

	out, err = e.Search(ctx, retrieve.Query{Text: "metric units", Scope: model.Scope{UserID: "u2"}})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestDeleteIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	ok, err := e.Delete(ctx, "01JZZZZZZZZZZZZZZZZZZZZZZZ")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := e.Store(ctx, StoreRequest{Text: "temporary", Metrics: quality.Uniform(0.9)})
	require.NoError(t, err)

	ok, err = e.Delete(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Delete(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.Get(ctx, res.ID)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestUserTierRequiresUserID(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.Store(context.Background(), StoreRequest{Text: "likes tea", Tier: model.TierUser, Metrics: quality.Uniform(0.9)})
	assert.True(t, errors.Is(err, model.ErrScopeMismatch))

	_, err = e.Store(context.Background(), StoreRequest{Text: "likes tea", Tier: "archive"})
	assert.True(t, errors.Is(err, model.ErrUnknownTier))
}

func TestSweepAndPromote(t *testing.T) {
	e, c := newTestEngine(t, nil)
	ctx := context.Background()

	keep, err := e.Store(ctx, StoreRequest{Text: "release branch is cut on thursdays", Metrics: quality.Uniform(0.85)})
	require.NoError(t, err)
	_, err = e.Store(ctx, StoreRequest{Text: "lunch order is pizza", Metrics: quality.Uniform(0.85)})
	require.NoError(t, err)

	promoted, err := e.Promote(ctx, keep.ID)
	require.NoError(t, err)
	assert.False(t, promoted.Rejected)
	assert.Equal(t, model.TierLongTerm, promoted.Tier)
	assert.InDelta(t, 0.85, promoted.Quality.Overall, 1e-9)

	rec, err := e.Get(ctx, promoted.ID)
	require.NoError(t, err)
	assert.Equal(t, keep.ID, rec.Metadata["promoted_from"])

	c.t = c.t.Add(25 * time.Hour)
	n, err := e.SweepExpired(ctx, model.TierShortTerm)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.SweepExpired(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = e.Get(ctx, promoted.ID)
	assert.NoError(t, err)

	_, err = e.Promote(ctx, promoted.ID)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestPromoteBelowLongTermFloor(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	res, err := e.Store(ctx, StoreRequest{Text: "maybe useful", Metrics: quality.Uniform(0.5)})
	require.NoError(t, err)

	promoted, err := e.Promote(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, promoted.Rejected)
}

func TestBuildContextBudget(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	for _, text := range []string{
		"The on-call rotation changes every Monday at 9am.",
		"Incidents above severity two page the on-call engineer.",
		"The on-call engineer owns the incident channel until handoff.",
	} {
		_, err := e.Store(ctx, StoreRequest{Text: text, Tier: model.TierLongTerm, Metrics: quality.Uniform(0.9)})
		require.NoError(t, err)
	}

	for _, budget := range []int{5, 20, 50, 500} {
		res, err := e.BuildContext(ctx, assemble.Request{Query: "on-call incidents", TokenBudget: assemble.Budget(budget)})
		require.NoError(t, err)
		assert.LessOrEqual(t, res.TokensUsed, budget)
	}

	res, err := e.BuildContext(ctx, assemble.Request{Query: "on-call incidents", TokenBudget: assemble.Budget(500)})
	require.NoError(t, err)
	assert.Len(t, res.UsedRecords, 3)

	for _, budget := range []int{0, -5} {
		res, err := e.BuildContext(ctx, assemble.Request{Query: "on-call incidents", TokenBudget: assemble.Budget(budget)})
		require.NoError(t, err)
		assert.Empty(t, res.Text)
		assert.Equal(t, 0, res.TokensUsed)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src, _ := newTestEngine(t, nil)
	ctx := context.Background()
	_, err := src.Store(ctx, StoreRequest{Text: "builds run on arm64 runners", Tier: model.TierLongTerm, Metrics: quality.Uniform(0.9)})
	require.NoError(t, err)
	_, err = src.PutEntity(ctx, EntityRequest{Name: "Acme", Type: "org", Text: "Acme is a customer", Metrics: quality.Uniform(0.9)})
	require.NoError(t, err)

	records, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	dst, _ := newTestEngine(t, nil)
	res, err := dst.Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	res, err = dst.Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)

	got, err := dst.LookupEntity(ctx, "Acme", "org", model.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "Acme is a customer", got.Text)

	st, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
}

func TestImportSkipsIDPresentInAnotherTier(t *testing.T) {
	cfg := config.Default()
	cfg.Sweep.Interval = 0
	backend, err := store.NewSQLiteBackend(filepath.Join(t.TempDir(), "memtier.db"))
	require.NoError(t, err)
	guard := embedding.NewGuard(embedding.NewHashEmbedder(cfg.Embedding.Dims), time.Second, cfg.Embedding.Dims)
	e, err := New(cfg, backend, guard)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	ctx := context.Background()
	stored, err := e.Store(ctx, StoreRequest{Text: "the api gateway runs envoy", Tier: model.TierLongTerm, Metrics: quality.Uniform(0.9)})
	require.NoError(t, err)

	res, err := e.Import(ctx, []model.Record{
		{ID: stored.ID, Tier: model.TierShortTerm, Text: "the api gateway runs envoy", CreatedAt: time.Now(), Quality: model.QualityResult{Completeness: 0.9, Relevance: 0.9, Clarity: 0.9, Accuracy: 0.9}},
		{Tier: model.TierShortTerm, Text: "staging deploys happen nightly", CreatedAt: time.Now(), Quality: model.QualityResult{Completeness: 0.9, Relevance: 0.9, Clarity: 0.9, Accuracy: 0.9}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Imported)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Quality.Weights.Relevance = 0.5
	_, err := New(cfg, store.NewChromemBackend(), embedding.NewHashEmbedder(8))
	assert.True(t, errors.Is(err, model.ErrInvalidConfig))
}
