package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/memtier/internal/model"
)

// ChromemBackend implements Backend on an in-process chromem-go database,
// one collection per tier. Nothing is persisted.
type ChromemBackend struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[model.Tier]*chromem.Collection
	dims        map[model.Tier]int
	// chromem has no ordered listing, so creation times are indexed here
	index map[model.Tier]map[string]time.Time
}

// NewChromemBackend creates an empty in-memory backend.
func NewChromemBackend() *ChromemBackend {
	return &ChromemBackend{
		db:          chromem.NewDB(),
		collections: make(map[model.Tier]*chromem.Collection),
		dims:        make(map[model.Tier]int),
		index:       make(map[model.Tier]map[string]time.Time),
	}
}

func (c *ChromemBackend) collection(tier model.Tier) (*chromem.Collection, error) {
	c.mu.RLock()
	col, ok := c.collections[tier]
	c.mu.RUnlock()
	if ok {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[tier]; ok {
		return col, nil
	}
	// embeddings are always supplied, so no embedding func
	col, err := c.db.CreateCollection(string(tier), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection", goerr.V("tier", tier))
	}
	c.collections[tier] = col
	c.index[tier] = make(map[string]time.Time)
	return col, nil
}

func (c *ChromemBackend) Insert(ctx context.Context, rec *model.Record) error {
	col, err := c.collection(rec.Tier)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if d, ok := c.dims[rec.Tier]; ok && d != len(rec.Embedding) {
		c.mu.Unlock()
		return goerr.Wrap(model.ErrDimensionMismatch, "tier was created with another dimensionality",
			goerr.V("tier", rec.Tier), goerr.V("want", d), goerr.V("got", len(rec.Embedding)))
	}
	c.dims[rec.Tier] = len(rec.Embedding)
	c.mu.Unlock()

	meta, err := toDocMetadata(rec)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata:  meta,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("id", rec.ID))
	}

	// indexed after the add so readers never see a half-written record
	c.mu.Lock()
	c.index[rec.Tier][rec.ID] = rec.CreatedAt
	c.mu.Unlock()
	return nil
}

func (c *ChromemBackend) known(tier model.Tier, id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[tier][id]
	return ok
}

func (c *ChromemBackend) Get(ctx context.Context, tier model.Tier, id string) (*model.Record, error) {
	if !c.known(tier, id) {
		return nil, goerr.Wrap(model.ErrNotFound, "no such record", goerr.V("tier", tier), goerr.V("id", id))
	}
	col, err := c.collection(tier)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(model.ErrNotFound, "no such record", goerr.V("tier", tier), goerr.V("id", id), goerr.V("error", err.Error()))
	}
	rec := fromDoc(tier, doc.ID, doc.Content, doc.Embedding, doc.Metadata)
	return &rec, nil
}

func (c *ChromemBackend) Delete(ctx context.Context, tier model.Tier, id string) (bool, error) {
	if !c.known(tier, id) {
		return false, nil
	}
	col, err := c.collection(tier)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	delete(c.index[tier], id)
	c.mu.Unlock()

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return false, goerr.Wrap(err, "failed to delete document", goerr.V("id", id))
	}
	return true, nil
}

func (c *ChromemBackend) DeleteOlderThan(ctx context.Context, tier model.Tier, cutoff time.Time) (int, error) {
	c.mu.RLock()
	var expired []string
	for id, created := range c.index[tier] {
		if created.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()

	n := 0
	for _, id := range expired {
		ok, err := c.Delete(ctx, tier, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

type embeddingQuerier interface {
	Count() int
	QueryEmbedding(ctx context.Context, queryEmbedding []float32, nResults int, where, whereDocument map[string]string) ([]chromem.Result, error)
}

// queryAll ranks every document of col. chromem rejects nResults above the
// live count, so a delete landing between Count and the query is retried
// with the smaller count.
func queryAll(ctx context.Context, col embeddingQuerier, query []float32) ([]chromem.Result, error) {
	n := col.Count()
	for {
		if n == 0 {
			return nil, nil
		}
		results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
		if err == nil {
			return results, nil
		}
		fresh := col.Count()
		if fresh >= n {
			return nil, err
		}
		n = fresh
	}
}

func (c *ChromemBackend) VectorSearch(ctx context.Context, tier model.Tier, query []float32, f Filter, limit int) ([]Hit, error) {
	col, err := c.collection(tier)
	if err != nil {
		return nil, err
	}
	if col.Count() == 0 {
		return nil, nil
	}

	c.mu.RLock()
	d := c.dims[tier]
	c.mu.RUnlock()
	if d != 0 && d != len(query) {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "query does not match tier dimensionality",
			goerr.V("tier", tier), goerr.V("want", d), goerr.V("got", len(query)))
	}

	// chromem's where clause is exact match only, so the wildcard scope
	// filter runs over the full ranking
	results, err := queryAll(ctx, col, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query collection", goerr.V("tier", tier))
	}

	var hits []Hit
	for _, r := range results {
		if !c.known(tier, r.ID) {
			continue
		}
		rec := fromDoc(tier, r.ID, r.Content, r.Embedding, r.Metadata)
		if !f.matches(&rec) {
			continue
		}
		hits = append(hits, Hit{Record: rec, Similarity: float64(r.Similarity)})
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (c *ChromemBackend) List(ctx context.Context, tier model.Tier, f Filter, limit int) ([]model.Record, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.index[tier]))
	for id := range c.index[tier] {
		ids = append(ids, id)
	}
	created := c.index[tier]
	sort.Slice(ids, func(i, j int) bool {
		a, b := created[ids[i]], created[ids[j]]
		if !a.Equal(b) {
			return a.After(b)
		}
		return ids[i] > ids[j]
	})
	c.mu.RUnlock()

	var records []model.Record
	for _, id := range ids {
		rec, err := c.Get(ctx, tier, id)
		if err != nil {
			// deleted concurrently
			continue
		}
		if !f.matches(rec) {
			continue
		}
		records = append(records, *rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (c *ChromemBackend) Count(_ context.Context, tier model.Tier) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index[tier]), nil
}

func (c *ChromemBackend) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "memory"}
	for _, tier := range model.AllTiers {
		n, _ := c.Count(ctx, tier)
		c.mu.RLock()
		d := c.dims[tier]
		c.mu.RUnlock()
		st.Total += n
		st.Tiers = append(st.Tiers, TierStats{Tier: tier, Count: n, Dims: d})
	}
	return st, nil
}

// Close is a no-op; chromem keeps everything in memory.
func (c *ChromemBackend) Close() error {
	return nil
}

const (
	metaUserID       = "user_id"
	metaAgentID      = "agent_id"
	metaRunID        = "run_id"
	metaCreatedAt    = "created_at"
	metaEntityName   = "entity_name"
	metaEntityType   = "entity_type"
	metaQuality      = "quality"
	metaCompleteness = "completeness"
	metaRelevance    = "relevance"
	metaClarity      = "clarity"
	metaAccuracy     = "accuracy"
	metaUser         = "metadata"
)

func toDocMetadata(rec *model.Record) (map[string]string, error) {
	m := map[string]string{
		metaCreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		metaQuality:      formatFloat(rec.Quality.Overall),
		metaCompleteness: formatFloat(rec.Quality.Completeness),
		metaRelevance:    formatFloat(rec.Quality.Relevance),
		metaClarity:      formatFloat(rec.Quality.Clarity),
		metaAccuracy:     formatFloat(rec.Quality.Accuracy),
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set(metaUserID, rec.Scope.UserID)
	set(metaAgentID, rec.Scope.AgentID)
	set(metaRunID, rec.Scope.RunID)
	set(metaEntityName, rec.EntityName)
	set(metaEntityType, rec.EntityType)

	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode metadata", goerr.V("id", rec.ID))
		}
		m[metaUser] = string(b)
	}
	return m, nil
}

func fromDoc(tier model.Tier, id, content string, emb []float32, m map[string]string) model.Record {
	created, _ := time.Parse(time.RFC3339Nano, m[metaCreatedAt])
	return model.Record{
		ID:        id,
		Tier:      tier,
		Text:      content,
		Embedding: emb,
		Metadata:  decodeMetadata(m[metaUser]),
		Scope: model.Scope{
			UserID:  m[metaUserID],
			AgentID: m[metaAgentID],
			RunID:   m[metaRunID],
		},
		Quality: model.QualityResult{
			Overall:      parseFloat(m[metaQuality]),
			Completeness: parseFloat(m[metaCompleteness]),
			Relevance:    parseFloat(m[metaRelevance]),
			Clarity:      parseFloat(m[metaClarity]),
			Accuracy:     parseFloat(m[metaAccuracy]),
		},
		CreatedAt:  created,
		EntityName: m[metaEntityName],
		EntityType: m[metaEntityType],
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

var _ Backend = (*ChromemBackend)(nil)
var _ Backend = (*SQLiteBackend)(nil)

