// Package app wires configuration into the storage, embedding, indexing,
// search and ingestion components shared by every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dshills/paperrag/internal/chunker"
	"github.com/dshills/paperrag/internal/config"
	"github.com/dshills/paperrag/internal/embedder"
	"github.com/dshills/paperrag/internal/indexer"
	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/metrics"
	"github.com/dshills/paperrag/internal/pipeline"
	"github.com/dshills/paperrag/internal/searcher"
	"github.com/dshills/paperrag/internal/storage"
)

// App holds the long-lived components
type App struct {
	Config   *config.Config
	Storage  *storage.SQLiteStorage
	Embedder embedder.Embedder
	Jobs     *jobs.Manager
	Metrics  *metrics.Collector
	Indexer  *indexer.HybridIndexer
	Searcher *searcher.Searcher
	Pipeline *pipeline.Service

	redis *jobs.RedisMirror
}

// Option adjusts wiring
type Option func(*options)

type options struct {
	downloader pipeline.Downloader
}

// WithDownloader replaces the configured paper source
func WithDownloader(d pipeline.Downloader) Option {
	return func(o *options) { o.downloader = d }
}

// New opens the database and builds every component. The Redis mirror is
// attached only when redis.addr is configured; a Redis outage at startup is
// logged and ingestion continues without it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Storage: store}

	a.Embedder, err = embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	a.Metrics = metrics.New()
	observers := []jobs.Observer{a.Metrics}
	if cfg.Redis.Addr != "" {
		mirror, err := jobs.NewRedisMirror(ctx, jobs.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Printf("app: redis mirror disabled: %v", err)
		} else {
			a.redis = mirror
			observers = append(observers, mirror)
		}
	}
	a.Jobs = jobs.NewManager(jobs.Config{
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrent,
		MaxActiveJobs:     cfg.Jobs.MaxActive,
		Observers:         observers,
	})

	a.Indexer = indexer.New(store, a.Embedder, nil)
	a.Searcher = searcher.NewSearcher(store, a.Embedder, &searcher.Config{
		RRFConstant: cfg.Search.RRFK,
		DefaultTopK: cfg.Search.DefaultTopK,
		CacheSize:   cfg.Search.CacheSize,
		CacheTTL:    cfg.Search.CacheTTL,
		Observer:    a.Metrics,
	})

	dl := o.downloader
	if dl == nil {
		dl, err = NewDownloader(cfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Storage:    store,
		Jobs:       a.Jobs,
		Downloader: dl,
		Chunker: chunker.New(
			chunker.WithChunkSize(cfg.Chunker.ChunkSize),
			chunker.WithOverlap(cfg.Chunker.ChunkOverlap),
		),
		Indexer: a.Indexer,
		Cache:   a.Searcher,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// OpenStorage creates the database directory and opens the index
func OpenStorage(cfg *config.Config) (*storage.SQLiteStorage, error) {
	path := cfg.Database.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// NewDownloader builds the configured paper source
func NewDownloader(cfg *config.Config) (pipeline.Downloader, error) {
	switch cfg.Download.Source {
	case config.SourceLocal:
		return &pipeline.LocalDownloader{Dir: cfg.Download.Dir}, nil
	case config.SourceArxiv, "":
		return pipeline.NewArxivDownloader(pipeline.ArxivConfig{
			Dir:           cfg.Download.Dir,
			BaseURL:       cfg.Download.BaseURL,
			RatePerSecond: cfg.Download.RatePerSecond,
		})
	default:
		return nil, fmt.Errorf("unknown download source %q", cfg.Download.Source)
	}
}

// Close stops running jobs and releases every resource
func (a *App) Close() error {
	var errs []error
	if a.Pipeline != nil {
		errs = append(errs, a.Pipeline.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	return errors.Join(errs...)
}
