// Package quality scores memory content on a 0-1 scale.
//
// Four sub-metrics (completeness, relevance, clarity, accuracy) are combined
// with a fixed weighted sum. How sub-metrics are derived is pluggable through
// Strategy; the combination step is not.
package quality

import (
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/model"
)

// Metrics are caller-supplied sub-metrics. Nil fields are derived by the
// scorer's Strategy.
type Metrics struct {
	Completeness *float64 `json:"completeness,omitempty" yaml:"completeness,omitempty"`
	Relevance    *float64 `json:"relevance,omitempty" yaml:"relevance,omitempty"`
	Clarity      *float64 `json:"clarity,omitempty" yaml:"clarity,omitempty"`
	Accuracy     *float64 `json:"accuracy,omitempty" yaml:"accuracy,omitempty"`
}

// Uniform returns Metrics with every sub-metric set to v.
func Uniform(v float64) *Metrics {
	return &Metrics{Completeness: &v, Relevance: &v, Clarity: &v, Accuracy: &v}
}

// FromResult turns a previous result back into fully supplied metrics.
func FromResult(r model.QualityResult) *Metrics {
	return &Metrics{
		Completeness: &r.Completeness,
		Relevance:    &r.Relevance,
		Clarity:      &r.Clarity,
		Accuracy:     &r.Accuracy,
	}
}

func (m *Metrics) complete() bool {
	return m != nil && m.Completeness != nil && m.Relevance != nil && m.Clarity != nil && m.Accuracy != nil
}

// Strategy derives sub-metrics for text. context is an optional description
// of the domain the text is expected to be about.
type Strategy interface {
	Derive(text, context string) model.QualityResult
}

// Scorer combines sub-metrics into an overall score.
type Scorer struct {
	weights  config.Weights
	strategy Strategy
}

// New validates the weights and returns a Scorer. A nil strategy selects
// the Heuristic strategy.
func New(cfg config.QualityConfig, strategy Strategy) (*Scorer, error) {
	w := cfg.Weights
	if sum := w.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "quality weights must sum to 1.0", goerr.V("sum", sum))
	}
	if w.Completeness < 0 || w.Relevance < 0 || w.Clarity < 0 || w.Accuracy < 0 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "quality weights must be non-negative")
	}
	if strategy == nil {
		strategy = NewHeuristic(cfg.ExpectedLength)
	}
	return &Scorer{weights: w, strategy: strategy}, nil
}

// Weights returns the configured combination weights.
func (s *Scorer) Weights() config.Weights { return s.weights }

// Score rates text. Supplied metrics take precedence over derived ones.
// Empty text always scores zero.
func (s *Scorer) Score(text string, metrics *Metrics, context string) model.QualityResult {
	if strings.TrimSpace(text) == "" {
		return model.QualityResult{}
	}

	var r model.QualityResult
	if !metrics.complete() {
		r = s.strategy.Derive(text, context)
	}
	if metrics != nil {
		if metrics.Completeness != nil {
			r.Completeness = *metrics.Completeness
		}
		if metrics.Relevance != nil {
			r.Relevance = *metrics.Relevance
		}
		if metrics.Clarity != nil {
			r.Clarity = *metrics.Clarity
		}
		if metrics.Accuracy != nil {
			r.Accuracy = *metrics.Accuracy
		}
	}

	r.Completeness = clamp01(r.Completeness)
	r.Relevance = clamp01(r.Relevance)
	r.Clarity = clamp01(r.Clarity)
	r.Accuracy = clamp01(r.Accuracy)
	r.Overall = s.combine(r)
	return r
}

func (s *Scorer) combine(r model.QualityResult) float64 {
	overall := s.weights.Completeness*r.Completeness +
		s.weights.Relevance*r.Relevance +
		s.weights.Clarity*r.Clarity +
		s.weights.Accuracy*r.Accuracy
	return clamp01(overall)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
