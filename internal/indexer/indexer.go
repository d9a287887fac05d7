package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/paperrag/internal/embedder"
	"github.com/dshills/paperrag/internal/sparse"
	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

var (
	// ErrIndexInProgress is returned when the same paper is already being indexed
	ErrIndexInProgress = errors.New("indexing already in progress for paper")
	// ErrMixedPapers is returned when one Index call carries chunks of several papers
	ErrMixedPapers = errors.New("chunks belong to different papers")
)

// pointNamespace scopes point UUIDs to this index
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("paperrag/points"))

// pointPrefixLen is how much chunk text feeds the point ID
const pointPrefixLen = 100

// HybridIndexer writes chunks as points carrying a dense and a sparse vector
type HybridIndexer struct {
	storage  storage.Storage
	embedder embedder.Embedder

	workers   int
	batchSize int

	mu    sync.Mutex
	locks map[string]*IndexLock
}

// Config contains configuration for the indexer
type Config struct {
	Workers   int // Concurrent embedding batches (default: runtime.NumCPU())
	BatchSize int // Texts per embedding request (default: embedder.DefaultBatchSize)
}

// Statistics describes one Index call
type Statistics struct {
	PaperID       string
	PointsIndexed int
	PointsDeleted int
	PointIDs      []string
	EmbedDuration time.Duration
	Duration      time.Duration
}

// New creates a HybridIndexer
func New(store storage.Storage, emb embedder.Embedder, cfg *Config) *HybridIndexer {
	if cfg == nil {
		cfg = &Config{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > embedder.MaxBatchSize {
		batchSize = embedder.DefaultBatchSize
	}
	return &HybridIndexer{
		storage:   store,
		embedder:  emb,
		workers:   workers,
		batchSize: batchSize,
		locks:     make(map[string]*IndexLock),
	}
}

// PointID derives the deterministic UUIDv5 of a chunk. Re-indexing the same
// chunk at the same position yields the same ID, so upserts are idempotent.
func PointID(paperID string, ordinal int, text string) string {
	c := types.Chunk{Text: text}
	name := fmt.Sprintf("%s_%d_%s", paperID, ordinal, c.Prefix(pointPrefixLen))
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// Index embeds and writes chunks of one paper in a single transaction and
// returns the number of points written.
func (idx *HybridIndexer) Index(ctx context.Context, chunks []types.Chunk) (int, error) {
	stats, err := idx.index(ctx, chunks, false)
	if err != nil {
		return 0, err
	}
	return stats.PointsIndexed, nil
}

// Reindex is Index followed by removal of the paper's points that the new
// chunk set no longer produces, in the same transaction.
func (idx *HybridIndexer) Reindex(ctx context.Context, chunks []types.Chunk) (*Statistics, error) {
	return idx.index(ctx, chunks, true)
}

func (idx *HybridIndexer) index(ctx context.Context, chunks []types.Chunk, pruneStale bool) (*Statistics, error) {
	start := time.Now()
	if len(chunks) == 0 {
		return &Statistics{}, nil
	}

	paperID := chunks[0].PaperID
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if chunks[i].PaperID != paperID {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedPapers, paperID, chunks[i].PaperID)
		}
	}

	lock := idx.lockFor(paperID)
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", ErrIndexInProgress, paperID)
	}
	defer lock.Release()

	vectors, err := idx.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	embedDuration := time.Since(start)

	points := make([]*storage.Point, len(chunks))
	ids := make([]string, len(chunks))
	for i := range chunks {
		points[i] = buildPoint(&chunks[i], vectors[i])
		ids[i] = points[i].ID
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range points {
		if err := tx.UpsertPoint(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to store point %d: %w", p.Ordinal, err)
		}
	}

	deleted := 0
	if pruneStale {
		if deleted, err = tx.DeletePointsExcept(ctx, paperID, ids); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Statistics{
		PaperID:       paperID,
		PointsIndexed: len(points),
		PointsDeleted: deleted,
		PointIDs:      ids,
		EmbedDuration: embedDuration,
		Duration:      time.Since(start),
	}, nil
}

// embed runs embedding batches concurrently, bounded by the worker count.
// Nothing is written until every batch succeeds.
func (idx *HybridIndexer) embed(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	for i := 0; i < len(chunks); i += idx.batchSize {
		end := i + idx.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Text)
		}
		offset := i

		g.Go(func() error {
			batch, err := embedder.EmbedTexts(gctx, idx.embedder, texts, idx.batchSize)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", offset, offset+len(texts)-1, err)
			}
			copy(vectors[offset:], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func buildPoint(c *types.Chunk, dense []float32) *storage.Point {
	return &storage.Point{
		ID:            PointID(c.PaperID, c.Ordinal, c.Text),
		PaperID:       c.PaperID,
		Ordinal:       c.Ordinal,
		Section:       string(c.Section),
		SectionTitle:  c.SectionTitle,
		SectionNumber: c.SectionNumber,
		PageNumber:    c.PageNumber,
		Figures:       c.Figures,
		Content:       c.Text,
		Dense:         dense,
		Sparse:        sparse.Encode(c.Text),
	}
}

func (idx *HybridIndexer) lockFor(paperID string) *IndexLock {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	l, ok := idx.locks[paperID]
	if !ok {
		l = &IndexLock{}
		idx.locks[paperID] = l
	}
	return l
}
