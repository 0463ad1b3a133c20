package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. The
// configured dims are requested explicitly so text-embedding-3 models return
// vectors sized for the tier stores.
type OpenAIEmbedder struct {
	remote
	model string
}

type openaiRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openaiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an OpenAI embedder. Empty baseURL and model fall
// back to the public API and text-embedding-3-small; dims 0 means 1536.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	r := newRemote("openai", baseURL, dims)
	if apiKey != "" {
		r.headers["Authorization"] = "Bearer " + apiKey
	}
	return &OpenAIEmbedder{remote: r, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var resp openaiResponse
	if err := e.post(ctx, "/embeddings", openaiRequest{Input: text, Model: e.model, Dimensions: e.dims}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("openai response has no data", goerr.V("model", e.model))
	}
	return e.vector(resp.Data[0].Embedding)
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }
