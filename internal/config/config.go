// Package config loads paperrag settings from defaults, an optional
// paperrag.yaml, .env files and PAPERRAG_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dshills/paperrag/internal/chunker"
	"github.com/dshills/paperrag/internal/embedder"
)

// EnvPrefix is the prefix for environment overrides
const EnvPrefix = "PAPERRAG"

// Config is the full application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Search    SearchConfig    `mapstructure:"search"`
	Download  DownloadConfig  `mapstructure:"download"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"` // empty: detect from API keys
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Dimension int    `mapstructure:"dimension"`
	CacheSize int    `mapstructure:"cache_size"`
}

type ChunkerConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	MaxActive     int `mapstructure:"max_active"`
}

type SearchConfig struct {
	RRFK        float64       `mapstructure:"rrf_k"`
	DefaultTopK int           `mapstructure:"default_top_k"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type DownloadConfig struct {
	Dir           string  `mapstructure:"dir"`
	BaseURL       string  `mapstructure:"base_url"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Source        string  `mapstructure:"source"` // arxiv or local
}

// RedisConfig enables the job status mirror when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HTTPConfig enables the ops server when Addr is set
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Download sources
const (
	SourceArxiv = "arxiv"
	SourceLocal = "local"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(".paperrag", "index.db"))

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.cache_size", embedder.DefaultCacheSize)

	v.SetDefault("chunker.chunk_size", chunker.DefaultChunkSize)
	v.SetDefault("chunker.chunk_overlap", chunker.DefaultChunkOverlap)

	v.SetDefault("jobs.max_concurrent", 10)
	v.SetDefault("jobs.max_active", 10)

	v.SetDefault("search.rrf_k", 60.0)
	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.cache_size", 1000)
	v.SetDefault("search.cache_ttl", time.Hour)

	v.SetDefault("download.dir", filepath.Join(".paperrag", "papers"))
	v.SetDefault("download.base_url", "https://arxiv.org/pdf/")
	v.SetDefault("download.rate_per_second", 1.0/3.0)
	v.SetDefault("download.source", SourceArxiv)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("http.addr", "")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. path names an explicit config file; when empty
// paperrag.yaml is looked up in the working directory and ~/.paperrag.
func Load(path string) (*Config, error) {
	// Missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("paperrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.paperrag")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Embedding.Provider {
	case "", embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderOllama, embedder.ProviderLocal:
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, errors.New("embedding.dimension must not be negative"))
	}
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunker.chunk_size must be positive"))
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errs = append(errs, errors.New("chunker.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.Jobs.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("jobs.max_concurrent must be positive"))
	}
	if c.Jobs.MaxActive < c.Jobs.MaxConcurrent {
		errs = append(errs, errors.New("jobs.max_active must be at least jobs.max_concurrent"))
	}
	if c.Search.RRFK <= 0 {
		errs = append(errs, errors.New("search.rrf_k must be positive"))
	}
	if c.Search.DefaultTopK <= 0 || c.Search.DefaultTopK > 100 {
		errs = append(errs, errors.New("search.default_top_k must be in [1, 100]"))
	}
	switch c.Download.Source {
	case SourceArxiv:
		if c.Download.RatePerSecond <= 0 {
			errs = append(errs, errors.New("download.rate_per_second must be positive"))
		}
	case SourceLocal:
	default:
		errs = append(errs, fmt.Errorf("download.source %q is not supported", c.Download.Source))
	}
	if strings.TrimSpace(c.Download.Dir) == "" {
		errs = append(errs, errors.New("download.dir is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}

	return errors.Join(errs...)
}

// EmbedderConfig maps the embedding section onto the embedder factory
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
	}
}

// Debug reports whether debug logging is on
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}
