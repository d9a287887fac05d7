package embedder

import (
	"fmt"
	"os"
	"strings"
)

// EnvProvider selects the provider when the configuration leaves it empty
const EnvProvider = "PAPERRAG_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string // jina, openai, ollama, local; empty means detect
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int // required for non-default models
	CacheSize int // 0 disables caching
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := []Option{
		WithModel(cfg.Model),
		WithBaseURL(cfg.BaseURL),
		WithDimension(cfg.Dimension),
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cache, opts...)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache, opts...)
	case ProviderOllama:
		return NewOllamaProvider(cache, opts...)
	case ProviderLocal:
		return NewLocalProvider(cache, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
// Priority:
// 1. PAPERRAG_EMBEDDING_PROVIDER
// 2. JINA_API_KEY, then OPENAI_API_KEY
// 3. local
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
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
