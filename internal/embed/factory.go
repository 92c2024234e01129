package embed

import (
	"fmt"
	"os"
	"strings"

	"github.com/sbarron/ambiance/internal/config"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/telemetry"
)

// New builds the embedder described by cfg and wraps it in an LRU cache
// unless CacheSize is negative.
func New(cfg config.EmbeddingsConfig, metrics *telemetry.Metrics) (Embedder, error) {
	var inner Embedder

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderStatic:
		inner = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOpenAI:
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		if apiKey == "" && cfg.BaseURL == "" {
			return nil, amerrors.ConfigError(
				fmt.Sprintf("openai provider needs an API key in $%s or a local base_url", cfg.APIKeyEnv), nil).
				WithSuggestion("Set embeddings.base_url to a local OpenAI-compatible server or export the API key")
		}
		oe, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     apiKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Metrics:    metrics,
		})
		if err != nil {
			return nil, err
		}
		inner = oe

	default:
		return nil, amerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil)
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize, metrics), nil
}
