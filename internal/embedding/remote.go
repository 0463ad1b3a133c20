package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/model"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4096

// remote holds the HTTP plumbing shared by model-server providers.
type remote struct {
	provider string
	baseURL  string
	dims     int
	headers  map[string]string
	client   *http.Client
}

func newRemote(provider, baseURL string, dims int) remote {
	return remote{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		dims:     dims,
		headers:  map[string]string{"Content-Type": "application/json"},
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// post sends in as JSON to path and decodes a 200 response into out.
// Any other status is an error carrying the status and a body excerpt.
func (r remote) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return goerr.Wrap(err, "failed to encode embedding request", goerr.V("provider", r.provider))
	}
	url := r.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to build embedding request", goerr.V("provider", r.provider), goerr.V("url", url))
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "embedding request failed", goerr.V("provider", r.provider), goerr.V("url", url))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return goerr.New("embedding provider returned an error status",
			goerr.V("provider", r.provider), goerr.V("status", resp.StatusCode), goerr.V("body", string(excerpt)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode embedding response", goerr.V("provider", r.provider))
	}
	return nil
}

// vector checks a returned embedding against the configured dimensionality
// and scales it to unit length, the form both backends index.
func (r remote) vector(vec []float32) (Vector, error) {
	if len(vec) == 0 {
		return nil, goerr.New("embedding provider returned no vector", goerr.V("provider", r.provider))
	}
	if len(vec) != r.dims {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "provider vector does not match embedding.dims",
			goerr.V("provider", r.provider), goerr.V("want", r.dims), goerr.V("got", len(vec)))
	}
	return Normalize(vec), nil
}
