package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memtier/internal/model"
)

func openaiServer(t *testing.T, handler func(w http.ResponseWriter, req openaiRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openaiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func unitLength(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestOpenAIEmbed(t *testing.T) {
	srv := openaiServer(t, func(w http.ResponseWriter, req openaiRequest) {
		assert.Equal(t, "embed-small", req.Model)
		assert.Equal(t, 4, req.Dimensions)
		assert.Equal(t, "deploy window", req.Input)
		writeJSON(w, map[string]any{"data": []map[string]any{{"index": 0, "embedding": []float32{3, 0, 4, 0}}}})
	})

	e := NewOpenAIEmbedder(srv.URL+"/", "sk-test", "embed-small", 4)
	vec, err := e.Embed(context.Background(), "deploy window")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.InDelta(t, 1.0, unitLength(vec), 1e-6)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.Equal(t, 4, e.Dims())
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := openaiServer(t, func(w http.ResponseWriter, _ openaiRequest) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := NewOpenAIEmbedder(srv.URL, "sk-test", "embed-small", 4).Embed(context.Background(), "x")
	require.Error(t, err)
	values := goerr.Values(err)
	assert.Equal(t, http.StatusTooManyRequests, values["status"])
	assert.Contains(t, values["body"], "rate limited")
}

func TestOpenAIEmptyData(t *testing.T) {
	srv := openaiServer(t, func(w http.ResponseWriter, _ openaiRequest) {
		writeJSON(w, map[string]any{"data": []any{}})
	})

	_, err := NewOpenAIEmbedder(srv.URL, "sk-test", "embed-small", 4).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestOpenAIWrongDimensions(t *testing.T) {
	srv := openaiServer(t, func(w http.ResponseWriter, _ openaiRequest) {
		writeJSON(w, map[string]any{"data": []map[string]any{{"embedding": []float32{1, 0}}}})
	})

	e := NewOpenAIEmbedder(srv.URL, "sk-test", "embed-small", 4)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)

	_, err = NewGuard(e, time.Second, 4).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	assert.NotErrorIs(t, err, model.ErrEmbeddingUnavailable)
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, "release notes", req.Input)
		writeJSON(w, map[string]any{"embeddings": [][]float32{{0, 2, 0}}})
	}))
	defer srv.Close()

	vec, err := NewOllamaEmbedder(srv.URL, "all-minilm", 3).Embed(context.Background(), "release notes")
	require.NoError(t, err)
	assert.Equal(t, Vector{0, 1, 0}, vec)
}

func TestOllamaDefaultDims(t *testing.T) {
	assert.Equal(t, 384, NewOllamaEmbedder("http://localhost:1", "all-minilm", 0).Dims())
	assert.Equal(t, 768, NewOllamaEmbedder("http://localhost:1", "", 0).Dims())
}

func TestOllamaFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
	}{
		{"model missing", http.StatusNotFound, map[string]string{"error": "model not found"}},
		{"no embeddings", http.StatusOK, map[string]any{"embeddings": [][]float32{}}},
		{"empty vector", http.StatusOK, map[string]any{"embeddings": [][]float32{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			_, err := NewOllamaEmbedder(srv.URL, "all-minilm", 3).Embed(context.Background(), "x")
			require.Error(t, err)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, goerr.Values(err)["status"])
			}

			_, err = NewGuard(NewOllamaEmbedder(srv.URL, "all-minilm", 3), time.Second, 3).Embed(context.Background(), "x")
			assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
		})
	}
}

func TestRemoteCancellationIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewGuard(NewOllamaEmbedder(srv.URL, "all-minilm", 3), 0, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Embed(ctx, "x")
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}
