package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider  string        // jina, openai or local; empty auto-detects
	APIKey    string        // Falls back to the provider's environment variable
	Model     string        // Overrides the provider default
	Endpoint  string        // Overrides the provider endpoint
	Dimension int           // Required when Model changes the output width; local width
	CacheSize int           // Zero disables the embedding cache
	Timeout   time.Duration // HTTP request timeout
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. RECALLKIT_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{Provider: DetectProvider(), CacheSize: DefaultCacheSize})
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return newHTTPFromConfig(cfg, HTTPConfig{
			Name:      ProviderJina,
			Endpoint:  JinaEndpoint,
			APIKey:    firstNonEmpty(cfg.APIKey, os.Getenv(EnvJinaAPIKey)),
			Model:     DefaultJinaModel,
			Dimension: JinaDimension,
		}, cache)
	case ProviderOpenAI:
		return newHTTPFromConfig(cfg, HTTPConfig{
			Name:      ProviderOpenAI,
			Endpoint:  OpenAIEndpoint,
			APIKey:    firstNonEmpty(cfg.APIKey, os.Getenv(EnvOpenAIAPIKey)),
			Model:     DefaultOpenAIModel,
			Dimension: OpenAIDimension,
		}, cache)
	case ProviderLocal:
		dim := cfg.Dimension
		if dim <= 0 {
			dim = LocalDimension
		}
		local, err := NewLocalProviderWithDimension(dim, cache)
		if err != nil {
			return nil, err
		}
		return local, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

func newHTTPFromConfig(cfg Config, base HTTPConfig, cache *Cache) (Embedder, error) {
	if cfg.Model != "" {
		base.Model = cfg.Model
	}
	if cfg.Endpoint != "" {
		base.Endpoint = cfg.Endpoint
	}
	if cfg.Dimension > 0 {
		base.Dimension = cfg.Dimension
	}
	base.Timeout = cfg.Timeout
	p, err := NewHTTPProvider(base, cache)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
