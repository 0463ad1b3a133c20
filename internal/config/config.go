// Package config holds the immutable deployment configuration.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/viper"

	"github.com/rcliao/memtier/internal/model"
)

// Config is loaded once per process and passed by value into each component.
type Config struct {
	Log       LogConfig             `yaml:"log" mapstructure:"log"`
	Database  DatabaseConfig        `yaml:"database" mapstructure:"database"`
	Embedding EmbeddingConfig       `yaml:"embedding" mapstructure:"embedding"`
	Quality   QualityConfig         `yaml:"quality" mapstructure:"quality"`
	Tiers     map[string]TierConfig `yaml:"tiers" mapstructure:"tiers"`
	Retrieval RetrievalConfig       `yaml:"retrieval" mapstructure:"retrieval"`
	Context   ContextConfig         `yaml:"context" mapstructure:"context"`
	Sweep     SweepConfig           `yaml:"sweep" mapstructure:"sweep"`
	Server    ServerConfig          `yaml:"server" mapstructure:"server"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "sqlite" | "memory"
	Path    string `yaml:"path" mapstructure:"path"`
}

type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" mapstructure:"provider"` // "hash" | "ollama" | "openai"
	Model     string        `yaml:"model" mapstructure:"model"`
	URL       string        `yaml:"url" mapstructure:"url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Dims      int           `yaml:"dims" mapstructure:"dims"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheSize int64         `yaml:"cache_size" mapstructure:"cache_size"` // 0 disables the cache
}

// Weights combine quality sub-metrics. They must sum to 1.0.
type Weights struct {
	Completeness float64 `yaml:"completeness" mapstructure:"completeness"`
	Relevance    float64 `yaml:"relevance" mapstructure:"relevance"`
	Clarity      float64 `yaml:"clarity" mapstructure:"clarity"`
	Accuracy     float64 `yaml:"accuracy" mapstructure:"accuracy"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Completeness + w.Relevance + w.Clarity + w.Accuracy
}

type QualityConfig struct {
	Weights        Weights `yaml:"weights" mapstructure:"weights"`
	ExpectedLength int     `yaml:"expected_length" mapstructure:"expected_length"` // runes
}

type TierConfig struct {
	MinQuality float64       `yaml:"min_quality" mapstructure:"min_quality"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"` // 0 = durable
}

type RetrievalConfig struct {
	OverFetch       int           `yaml:"over_fetch" mapstructure:"over_fetch"`
	RerankEnabled   bool          `yaml:"rerank_enabled" mapstructure:"rerank_enabled"`
	RelevanceWeight float64       `yaml:"relevance_weight" mapstructure:"relevance_weight"`
	QualityWeight   float64       `yaml:"quality_weight" mapstructure:"quality_weight"`
	RecencyWeight   float64       `yaml:"recency_weight" mapstructure:"recency_weight"`
	RecencyWindow   time.Duration `yaml:"recency_window" mapstructure:"recency_window"`
}

type ContextConfig struct {
	Delimiter       string             `yaml:"delimiter" mapstructure:"delimiter"`
	Profile         string             `yaml:"profile" mapstructure:"profile"`
	AvgRecordTokens int                `yaml:"avg_record_tokens" mapstructure:"avg_record_tokens"`
	DefaultBudget   int                `yaml:"default_budget" mapstructure:"default_budget"`
	TierPriorities  map[string]float64 `yaml:"tier_priorities" mapstructure:"tier_priorities"`
}

type SweepConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"` // 0 disables the background sweeper
}

type ServerConfig struct {
	Bind string `yaml:"bind" mapstructure:"bind"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// ListenAddr returns the bind:port address string.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// Tier returns the settings for a tier, zero value if unset.
func (c Config) Tier(t model.Tier) TierConfig {
	return c.Tiers[string(t)]
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: "info"},
		Database: DatabaseConfig{Backend: "sqlite"},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dims:      256,
			Timeout:   10 * time.Second,
			CacheSize: 10000,
		},
		Quality: QualityConfig{
			Weights: Weights{
				Completeness: 0.25,
				Relevance:    0.35,
				Clarity:      0.20,
				Accuracy:     0.20,
			},
			ExpectedLength: 200,
		},
		Tiers: map[string]TierConfig{
			string(model.TierShortTerm): {MinQuality: 0.3, TTL: 24 * time.Hour},
			string(model.TierLongTerm):  {MinQuality: 0.7},
			string(model.TierEntity):    {MinQuality: 0.5},
			string(model.TierUser):      {MinQuality: 0.5},
		},
		Retrieval: RetrievalConfig{
			OverFetch:       4,
			RerankEnabled:   true,
			RelevanceWeight: 0.7,
			QualityWeight:   0.2,
			RecencyWeight:   0.1,
			RecencyWindow:   30 * 24 * time.Hour,
		},
		Context: ContextConfig{
			Delimiter:       "\n\n---\n\n",
			Profile:         "default",
			AvgRecordTokens: 100,
			DefaultBudget:   2000,
			TierPriorities: map[string]float64{
				string(model.TierUser):      1.0,
				string(model.TierEntity):    0.9,
				string(model.TierLongTerm):  0.8,
				string(model.TierShortTerm): 0.7,
			},
		},
		Sweep:  SweepConfig{Interval: 10 * time.Minute},
		Server: ServerConfig{Bind: "127.0.0.1", Port: 37800},
	}
}

// Validate checks invariants that must hold before any component is built.
func (c Config) Validate() error {
	if sum := c.Quality.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return goerr.Wrap(model.ErrInvalidConfig, "quality weights must sum to 1.0", goerr.V("sum", sum))
	}
	for _, w := range []float64{c.Quality.Weights.Completeness, c.Quality.Weights.Relevance, c.Quality.Weights.Clarity, c.Quality.Weights.Accuracy} {
		if w < 0 {
			return goerr.Wrap(model.ErrInvalidConfig, "quality weights must be non-negative", goerr.V("weight", w))
		}
	}
	for name, tc := range c.Tiers {
		if !model.ValidTiers[model.Tier(name)] {
			return goerr.Wrap(model.ErrInvalidConfig, "unknown tier in config", goerr.V("tier", name))
		}
		if tc.MinQuality < 0 || tc.MinQuality > 1 {
			return goerr.Wrap(model.ErrInvalidConfig, "min_quality must be within [0,1]", goerr.V("tier", name), goerr.V("min_quality", tc.MinQuality))
		}
		if tc.TTL < 0 {
			return goerr.Wrap(model.ErrInvalidConfig, "ttl must not be negative", goerr.V("tier", name))
		}
	}
	for name := range c.Context.TierPriorities {
		if !model.ValidTiers[model.Tier(name)] {
			return goerr.Wrap(model.ErrInvalidConfig, "unknown tier in context.tier_priorities", goerr.V("tier", name))
		}
	}
	if c.Embedding.Dims <= 0 {
		return goerr.Wrap(model.ErrInvalidConfig, "embedding.dims must be positive", goerr.V("dims", c.Embedding.Dims))
	}
	if c.Retrieval.OverFetch < 1 {
		return goerr.Wrap(model.ErrInvalidConfig, "retrieval.over_fetch must be at least 1")
	}
	if c.Context.AvgRecordTokens <= 0 {
		return goerr.Wrap(model.ErrInvalidConfig, "context.avg_record_tokens must be positive")
	}
	switch c.Database.Backend {
	case "sqlite", "memory":
	default:
		return goerr.Wrap(model.ErrInvalidConfig, "unknown database backend", goerr.V("backend", c.Database.Backend))
	}
	return nil
}

// DefaultDBPath returns $MEMTIER_DB or ~/.memtier/memtier.db.
func DefaultDBPath() string {
	if env := os.Getenv("MEMTIER_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memtier", "memtier.db")
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(strings.TrimPrefix(match, "$")); ok {
			return val
		}
		return match
	})
}

// Load reads configuration from path (or the default search paths when
// empty) and MEMTIER_* environment variables on top of Default().
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("memtier")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "memtier"))
		}
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "memtier"))
	}

	v.SetEnvPrefix("MEMTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return Config{}, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, goerr.Wrap(err, "failed to decode config")
	}
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	cfg.Embedding.URL = expandEnv(cfg.Embedding.URL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("database.backend", d.Database.Backend)
	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.url", d.Embedding.URL)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.dims", d.Embedding.Dims)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)

	v.SetDefault("quality.weights.completeness", d.Quality.Weights.Completeness)
	v.SetDefault("quality.weights.relevance", d.Quality.Weights.Relevance)
	v.SetDefault("quality.weights.clarity", d.Quality.Weights.Clarity)
	v.SetDefault("quality.weights.accuracy", d.Quality.Weights.Accuracy)
	v.SetDefault("quality.expected_length", d.Quality.ExpectedLength)

	for name, tc := range d.Tiers {
		v.SetDefault("tiers."+name+".min_quality", tc.MinQuality)
		v.SetDefault("tiers."+name+".ttl", tc.TTL)
	}

	v.SetDefault("retrieval.over_fetch", d.Retrieval.OverFetch)
	v.SetDefault("retrieval.rerank_enabled", d.Retrieval.RerankEnabled)
	v.SetDefault("retrieval.relevance_weight", d.Retrieval.RelevanceWeight)
	v.SetDefault("retrieval.quality_weight", d.Retrieval.QualityWeight)
	v.SetDefault("retrieval.recency_weight", d.Retrieval.RecencyWeight)
	v.SetDefault("retrieval.recency_window", d.Retrieval.RecencyWindow)

	v.SetDefault("context.delimiter", d.Context.Delimiter)
	v.SetDefault("context.profile", d.Context.Profile)
	v.SetDefault("context.avg_record_tokens", d.Context.AvgRecordTokens)
	v.SetDefault("context.default_budget", d.Context.DefaultBudget)
	for name, p := range d.Context.TierPriorities {
		v.SetDefault("context.tier_priorities."+name, p)
	}

	v.SetDefault("sweep.interval", d.Sweep.Interval)
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
}
