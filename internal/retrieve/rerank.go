package retrieve

import (
	"math"
	"time"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/model"
)

// Reranker recomputes FinalScore for already filtered records. It must not
// add records; the Retriever re-sorts after it returns.
type Reranker interface {
	Rerank(now time.Time, records []model.RankedRecord) []model.RankedRecord
}

// WeightedReranker blends relevance, stored quality and a linear recency
// boost that decays to zero over Window.
type WeightedReranker struct {
	RelevanceWeight float64
	QualityWeight   float64
	RecencyWeight   float64
	Window          time.Duration
}

// NewWeightedReranker builds a reranker from retrieval settings.
func NewWeightedReranker(cfg config.RetrievalConfig) *WeightedReranker {
	window := cfg.RecencyWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &WeightedReranker{
		RelevanceWeight: cfg.RelevanceWeight,
		QualityWeight:   cfg.QualityWeight,
		RecencyWeight:   cfg.RecencyWeight,
		Window:          window,
	}
}

func (w *WeightedReranker) Rerank(now time.Time, records []model.RankedRecord) []model.RankedRecord {
	for i := range records {
		r := &records[i]
		r.FinalScore = w.RelevanceWeight*r.RelevanceScore +
			w.QualityWeight*r.Record.Quality.Overall +
			w.RecencyWeight*w.recencyBoost(now, r.Record.CreatedAt)
		r.Reranked = true
	}
	return records
}

func (w *WeightedReranker) recencyBoost(now, created time.Time) float64 {
	age := now.Sub(created)
	if age < 0 {
		age = 0
	}
	return math.Max(0, 1-float64(age)/float64(w.Window))
}
