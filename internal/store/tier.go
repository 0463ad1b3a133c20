package store

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/embedding"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
)

// TierStore applies one tier's persistence floor, scoping rules and TTL on
// top of a shared Backend.
type TierStore struct {
	tier     model.Tier
	cfg      config.TierConfig
	backend  Backend
	embedder embedding.Embedder
	ids      *IDGenerator
	now      func() time.Time
}

// Option configures a TierStore.
type Option func(*TierStore)

// WithClock overrides the time source, for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(s *TierStore) { s.now = now }
}

// NewTierStore builds the store for one tier. A nil ids gets a fresh generator.
func NewTierStore(tier model.Tier, cfg config.TierConfig, backend Backend, embedder embedding.Embedder, ids *IDGenerator, opts ...Option) *TierStore {
	if ids == nil {
		ids = NewIDGenerator()
	}
	s := &TierStore{
		tier:     tier,
		cfg:      cfg,
		backend:  backend,
		embedder: embedder,
		ids:      ids,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TierStore) Tier() model.Tier { return s.tier }
func (s *TierStore) Floor() float64 { return s.cfg.MinQuality }
func (s *TierStore) TTL() time.Duration { return s.cfg.TTL }
func (s *TierStore) Backend() Backend { return s.backend }
func (s *TierStore) Now() time.Time { return s.now() }

// PutResult reports the outcome of a Put. Rejected is not an error.
type PutResult struct {
	ID       string              `json:"id,omitempty" yaml:"id,omitempty"`
	Rejected bool                `json:"rejected" yaml:"rejected"`
	Quality  model.QualityResult `json:"quality" yaml:"quality"`
	Floor    float64             `json:"floor" yaml:"floor"`
}

// Put persists rec if its quality reaches the tier floor. rec.Quality must
// already be scored. Missing id, timestamp and embedding are filled in.
func (s *TierStore) Put(ctx context.Context, rec model.Record) (PutResult, error) {
	if err := s.checkScope(rec); err != nil {
		return PutResult{}, err
	}

	res := PutResult{Quality: rec.Quality, Floor: s.cfg.MinQuality}
	if rec.Quality.Overall < s.cfg.MinQuality {
		logging.From(ctx).Debug("record below persistence floor",
			"tier", s.tier, "quality", rec.Quality.Overall, "floor", s.cfg.MinQuality)
		res.Rejected = true
		return res, nil
	}

	rec.Tier = s.tier
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.ID == "" {
		rec.ID = s.ids.New(rec.CreatedAt)
	}
	if len(rec.Embedding) == 0 {
		vec, err := s.embedder.Embed(ctx, rec.Text)
		if err != nil {
			return PutResult{}, err
		}
		rec.Embedding = vec
	}
	if err := s.checkDims(len(rec.Embedding)); err != nil {
		return PutResult{}, err
	}

	if err := s.backend.Insert(ctx, &rec); err != nil {
		return PutResult{}, err
	}
	res.ID = rec.ID
	return res, nil
}

// PutEntity appends a new version of the named entity. Earlier versions stay
// in the history.
func (s *TierStore) PutEntity(ctx context.Context, name, entityType string, rec model.Record) (PutResult, error) {
	rec.EntityName = name
	rec.EntityType = entityType
	return s.Put(ctx, rec)
}

// LatestEntity returns the most recent version of an entity.
func (s *TierStore) LatestEntity(ctx context.Context, name, entityType string, scope model.Scope) (*model.Record, error) {
	records, err := s.EntityHistory(ctx, name, entityType, scope)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "no such entity",
			goerr.V("name", name), goerr.V("type", entityType))
	}
	return &records[0], nil
}

// EntityHistory returns every version of an entity, newest first.
func (s *TierStore) EntityHistory(ctx context.Context, name, entityType string, scope model.Scope) ([]model.Record, error) {
	if name == "" || entityType == "" {
		return nil, goerr.Wrap(model.ErrScopeMismatch, "entity lookups need both name and type",
			goerr.V("name", name), goerr.V("type", entityType))
	}
	return s.List(ctx, Filter{Scope: scope, EntityName: name, EntityType: entityType}, 0)
}

// Get returns a live record of this tier.
func (s *TierStore) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.backend.Get(ctx, s.tier, id)
	if err != nil {
		return nil, err
	}
	if s.expired(rec.CreatedAt) {
		return nil, goerr.Wrap(model.ErrNotFound, "record expired", goerr.V("tier", s.tier), goerr.V("id", id))
	}
	return rec, nil
}

// Delete removes a record. Deleting a missing record returns false.
func (s *TierStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.backend.Delete(ctx, s.tier, id)
}

// SweepExpired removes records past the tier's TTL. Tiers without a TTL
// are never swept.
func (s *TierStore) SweepExpired(ctx context.Context) (int, error) {
	if s.cfg.TTL <= 0 {
		return 0, nil
	}
	n, err := s.backend.DeleteOlderThan(ctx, s.tier, s.cutoff())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.From(ctx).Info("swept expired records", "tier", s.tier, "count", n)
	}
	return n, nil
}

// VectorSearch ranks live records of this tier against query.
func (s *TierStore) VectorSearch(ctx context.Context, query []float32, f Filter, limit int) ([]Hit, error) {
	if err := s.checkDims(len(query)); err != nil {
		return nil, err
	}
	return s.backend.VectorSearch(ctx, s.tier, query, s.live(f), limit)
}

// List returns live records newest first.
func (s *TierStore) List(ctx context.Context, f Filter, limit int) ([]model.Record, error) {
	return s.backend.List(ctx, s.tier, s.live(f), limit)
}

func (s *TierStore) Count(ctx context.Context) (int, error) {
	return s.backend.Count(ctx, s.tier)
}

func (s *TierStore) checkScope(rec model.Record) error {
	switch s.tier {
	case model.TierUser:
		if rec.Scope.UserID == "" {
			return goerr.Wrap(model.ErrScopeMismatch, "user tier requires scope.user_id")
		}
	case model.TierEntity:
		if rec.EntityName == "" || rec.EntityType == "" {
			return goerr.Wrap(model.ErrScopeMismatch, "entity tier requires entity_name and entity_type",
				goerr.V("entity_name", rec.EntityName), goerr.V("entity_type", rec.EntityType))
		}
	}
	return nil
}

func (s *TierStore) checkDims(n int) error {
	if want := s.embedder.Dims(); n != want {
		return goerr.Wrap(model.ErrDimensionMismatch, "embedding does not match configured dimensionality",
			goerr.V("tier", s.tier), goerr.V("want", want), goerr.V("got", n))
	}
	return nil
}

func (s *TierStore) cutoff() time.Time {
	return s.now().Add(-s.cfg.TTL)
}

func (s *TierStore) expired(created time.Time) bool {
	return s.cfg.TTL > 0 && created.Before(s.cutoff())
}

// live narrows f to records that have not yet expired.
func (s *TierStore) live(f Filter) Filter {
	if s.cfg.TTL <= 0 {
		return f
	}
	// CreatedAfter is exclusive; expired means strictly before the cutoff
	if after := s.cutoff().Add(-time.Nanosecond); after.After(f.CreatedAfter) {
		f.CreatedAfter = after
	}
	return f
}
