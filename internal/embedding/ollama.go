package embedding

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	remote
	model string
}

type ollamaRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an Ollama embedder. The server defaults to
// $OLLAMA_HOST, then localhost:11434. Known models get their native dims
// when dims is 0: nomic-embed-text 768, all-minilm 384.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims == 0 {
		dims = 768
		if model == "all-minilm" {
			dims = 384
		}
	}
	return &OllamaEmbedder{remote: newRemote("ollama", baseURL, dims), model: model}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var resp ollamaResponse
	if err := e.post(ctx, "/api/embed", ollamaRequest{Model: e.model, Input: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, goerr.New("ollama response has no embeddings", goerr.V("model", e.model))
	}
	return e.vector(resp.Embeddings[0])
}

func (e *OllamaEmbedder) Dims() int { return e.dims }
