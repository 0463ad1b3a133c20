package embedding

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/model"
)

// NewFromConfig builds the provider named by cfg, optionally cached, behind
// a Guard.
func NewFromConfig(cfg config.EmbeddingConfig) (*Guard, error) {
	var provider Embedder
	switch cfg.Provider {
	case "", "hash":
		provider = NewHashEmbedder(cfg.Dims)
	case "ollama":
		provider = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dims)
	case "openai":
		provider = NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dims)
	default:
		return nil, goerr.Wrap(model.ErrInvalidConfig, "unknown embedding provider", goerr.V("provider", cfg.Provider))
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCached(provider, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		provider = cached
	}
	return NewGuard(provider, cfg.Timeout, cfg.Dims), nil
}
