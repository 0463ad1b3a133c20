package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicCompleteness(t *testing.T) {
	h := NewHeuristic(100)
	assert.InDelta(t, 0.5, h.Derive(strings.Repeat("a", 50), "").Completeness, 1e-9)
	assert.Equal(t, 1.0, h.Derive(strings.Repeat("a", 500), "").Completeness)
}

func TestHeuristicRelevance(t *testing.T) {
	h := NewHeuristic(0)
	text := "The deploy pipeline pushes images to the staging cluster."

	assert.Equal(t, neutralRelevance, h.Derive(text, "").Relevance)
	assert.Equal(t, 1.0, h.Derive(text, "deploy pipeline staging").Relevance)
	assert.InDelta(t, 0.5, h.Derive(text, "deploy billing").Relevance, 1e-9)
	assert.Equal(t, 0.0, h.Derive(text, "invoices payroll").Relevance)
}

func TestHeuristicClarity(t *testing.T) {
	h := NewHeuristic(0)
	clear := h.Derive("The service restarts nightly at two. Logs rotate every week.", "").Clarity
	messy := h.Derive("ok so yeah restarts and logs and stuff and more stuff and also things that go on and on without any end in sight because nobody wrote a full stop here at all ever", "").Clarity

	assert.InDelta(t, 1.0, clear, 1e-9)
	assert.Less(t, messy, clear)
}

func TestHeuristicAccuracy(t *testing.T) {
	h := NewHeuristic(0)
	assert.Equal(t, 1.0, h.Derive("No numbers here at all.", "").Accuracy)
	assert.Equal(t, 1.0, h.Derive("Latency is 40 ms. Latency is 40 ms again.", "").Accuracy)
	assert.Equal(t, 0.0, h.Derive("Latency is 40 ms. Later we saw latency is 90 ms.", "").Accuracy)
	assert.InDelta(t, 0.5, h.Derive("Latency is 40. Latency is 90. Budget is 10.", "").Accuracy, 1e-9)
}

func TestHeuristicDeterministic(t *testing.T) {
	h := NewHeuristic(0)
	text := "Acme Corp is a logistics company. Revenue is 12 million."
	first := h.Derive(text, "logistics revenue")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, h.Derive(text, "logistics revenue"))
	}
}
