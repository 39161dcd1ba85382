package embedder

import (
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	Endpoint  string
	CacheSize int
}

// New creates an embedder with explicit configuration. An empty provider
// selects openai when an API key is present, local otherwise.
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	var opts []APIOption
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, WithEndpoint(cfg.Endpoint))
	}

	switch DetectProvider(cfg) {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache, opts...)
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache, opts...)
	case ProviderLocal:
		return NewLocalProvider(cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider New would use for cfg
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(strings.TrimSpace(cfg.Provider))
	}
	if cfg.APIKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
