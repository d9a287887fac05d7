package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperrag/internal/chunker"
	"github.com/dshills/paperrag/internal/embedder"
	"github.com/dshills/paperrag/internal/indexer"
	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

const samplePaper = `# Sparse Attention at Scale

# Abstract
We study sparse attention for long documents.

# 1 Introduction
Long inputs are expensive. Figure 1 shows the cost curve.

Figure 1: A diagram.

![plot](data:image/png;base64,ABC123)

# 2 Methods
We route tokens to blocks and keep the top scoring blocks per head.

## 2.1 Routing
Routing uses a learned projection.

# References
- Vaswani et al. Attention is all you need.
`

type countingCache struct{ n atomic.Int32 }

func (c *countingCache) InvalidateCache() { c.n.Add(1) }

// gatedDownloader blocks until release is closed
type gatedDownloader struct {
	inner   Downloader
	release chan struct{}
}

func (g *gatedDownloader) Download(ctx context.Context, paperID string) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.inner.Download(ctx, paperID)
}

type failingDownloader struct{}

func (failingDownloader) Download(context.Context, string) (string, error) {
	return "", errors.New("arxiv unreachable")
}

// flakyDownloader fails the first call and delegates afterwards
type flakyDownloader struct {
	inner Downloader
	calls atomic.Int32
}

func (d *flakyDownloader) Download(ctx context.Context, paperID string) (string, error) {
	if d.calls.Add(1) == 1 {
		return "", errors.New("connection reset")
	}
	return d.inner.Download(ctx, paperID)
}

type fixture struct {
	svc   *Service
	store *storage.SQLiteStorage
	jobs  *jobs.Manager
	cache *countingCache
	dir   string
}

func newFixture(t *testing.T, maxConcurrent int, wrap func(Downloader) Downloader) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	var dl Downloader = &LocalDownloader{Dir: dir}
	if wrap != nil {
		dl = wrap(dl)
	}

	f := &fixture{
		store: store,
		jobs:  jobs.NewManager(jobs.Config{MaxConcurrentJobs: maxConcurrent}),
		cache: &countingCache{},
		dir:   dir,
	}
	f.svc, err = New(Deps{
		Storage:    store,
		Jobs:       f.jobs,
		Downloader: dl,
		Chunker:    chunker.New(chunker.WithChunkSize(200), chunker.WithOverlap(20)),
		Indexer:    indexer.New(store, emb, &indexer.Config{Workers: 2}),
		Cache:      f.cache,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.svc.Close() })
	return f
}

func (f *fixture) writePaper(t *testing.T, paperID, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, paperID+".md"), []byte(content), 0o600))
}

func (f *fixture) ingest(t *testing.T, paperID string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := f.svc.RequestIngestion(ctx, paperID)
	require.NoError(t, err)
	require.Equal(t, MethodStarted, req.Method)

	job, err := f.svc.Wait(ctx, paperID)
	require.NoError(t, err)
	return job
}

func TestIngestionCompletes(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.writePaper(t, "2401.00001", samplePaper)

	job := f.ingest(t, "2401.00001")
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, jobs.ProgressCompleted, job.Progress)
	assert.Empty(t, job.Error)

	ctx := context.Background()
	paper, err := f.store.GetPaper(ctx, "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, storage.PaperCompleted, paper.Status)
	assert.Equal(t, "Sparse Attention at Scale", paper.Title)
	assert.False(t, paper.IngestedAt.IsZero())
	assert.Equal(t, filepath.Join(f.dir, "2401.00001.md"), paper.PDFPath)

	count, err := f.store.CountPoints(ctx, "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, paper.ChunkCount, count)
	assert.Greater(t, count, 0)

	sections, err := f.store.ListSections(ctx, "2401.00001")
	require.NoError(t, err)
	keys := make([]string, 0, len(sections))
	for _, s := range sections {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"abstract", "1 introduction", "2 methods", "2.1 routing"}, keys)

	fig, err := f.store.GetFigure(ctx, "2401.00001", "1")
	require.NoError(t, err)
	assert.Equal(t, "A diagram", fig.Caption)
	assert.Equal(t, "ABC123", fig.Data)

	assert.Equal(t, int32(1), f.cache.n.Load())
}

func TestRequestIngestionAlreadyCompleted(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.writePaper(t, "2401.00002", samplePaper)
	f.ingest(t, "2401.00002")

	req, err := f.svc.RequestIngestion(context.Background(), "2401.00002")
	require.NoError(t, err)
	assert.False(t, req.Queued)
	assert.Equal(t, MethodAlreadyCompleted, req.Method)
}

func TestReingestionIsIdempotent(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.writePaper(t, "2401.00003", samplePaper)
	f.ingest(t, "2401.00003")

	ctx := context.Background()
	before, err := f.store.ListPointIDs(ctx, "2401.00003")
	require.NoError(t, err)

	// Force a second run through the whole pipeline.
	require.NoError(t, f.store.UpsertPaper(ctx, &storage.Paper{PaperID: "2401.00003", Status: storage.PaperFailed}))
	f.ingest(t, "2401.00003")

	after, err := f.store.ListPointIDs(ctx, "2401.00003")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReingestionPrunesStalePoints(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.writePaper(t, "2401.00004", samplePaper)
	f.ingest(t, "2401.00004")

	ctx := context.Background()
	require.NoError(t, f.store.UpsertPaper(ctx, &storage.Paper{PaperID: "2401.00004", Status: storage.PaperFailed}))
	f.writePaper(t, "2401.00004", "# Short\n# Abstract\nOnly an abstract now.\n")
	f.ingest(t, "2401.00004")

	paper, err := f.store.GetPaper(ctx, "2401.00004")
	require.NoError(t, err)
	count, err := f.store.CountPoints(ctx, "2401.00004")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, paper.ChunkCount)
}

func TestIngestionFallbackWithoutHeadings(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.writePaper(t, "2401.00005", "Just a wall of text about graph neural networks and message passing.")

	job := f.ingest(t, "2401.00005")
	require.Equal(t, jobs.StatusCompleted, job.Status)

	ctx := context.Background()
	ids, err := f.store.ListPointIDs(ctx, "2401.00005")
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	points, err := f.store.GetPoints(ctx, ids)
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, string(types.SectionFullText), p.Section)
	}
}

func TestIngestionDownloadFailure(t *testing.T) {
	f := newFixture(t, 2, func(Downloader) Downloader { return failingDownloader{} })

	job := f.ingest(t, "2401.00006")
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "download error")
	assert.Contains(t, job.Error, "arxiv unreachable")

	paper, err := f.store.GetPaper(context.Background(), "2401.00006")
	require.NoError(t, err)
	assert.Equal(t, storage.PaperFailed, paper.Status)
	assert.Equal(t, job.Error, paper.ErrorMessage)
	assert.Equal(t, int32(0), f.cache.n.Load())
}

func TestIngestionRetryAfterFailure(t *testing.T) {
	var flaky *flakyDownloader
	f := newFixture(t, 1, func(dl Downloader) Downloader {
		flaky = &flakyDownloader{inner: dl}
		return flaky
	})
	f.writePaper(t, "2401.00008", samplePaper)

	job := f.ingest(t, "2401.00008")
	require.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "connection reset")

	job = f.ingest(t, "2401.00008")
	require.Equal(t, jobs.StatusCompleted, job.Status, job.Error)
	assert.Equal(t, int32(2), flaky.calls.Load())
	assert.Empty(t, job.Error)

	paper, err := f.store.GetPaper(context.Background(), "2401.00008")
	require.NoError(t, err)
	assert.Equal(t, storage.PaperCompleted, paper.Status)
	assert.Equal(t, 0, f.jobs.QueueLength())

	req, err := f.svc.RequestIngestion(context.Background(), "2401.00008")
	require.NoError(t, err)
	assert.Equal(t, MethodAlreadyCompleted, req.Method)
}

func TestIngestionMissingSource(t *testing.T) {
	f := newFixture(t, 2, nil)

	job := f.ingest(t, "2401.00007")
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, ErrPaperNotFound.Error())
}

func TestRequestIngestionQueuesAndDeduplicates(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, 1, func(d Downloader) Downloader {
		return &gatedDownloader{inner: d, release: gate}
	})
	f.writePaper(t, "2401.00008", samplePaper)
	f.writePaper(t, "2401.00009", samplePaper)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := f.svc.RequestIngestion(ctx, "2401.00008")
	require.NoError(t, err)
	assert.Equal(t, MethodStarted, first.Method)
	assert.False(t, first.Queued)

	dup, err := f.svc.RequestIngestion(ctx, "2401.00008")
	require.NoError(t, err)
	assert.Equal(t, MethodAlreadyActive, dup.Method)

	second, err := f.svc.RequestIngestion(ctx, "2401.00009")
	require.NoError(t, err)
	assert.Equal(t, MethodQueued, second.Method)
	assert.True(t, second.Queued)

	paper, err := f.store.GetPaper(ctx, "2401.00009")
	require.NoError(t, err)
	assert.Equal(t, storage.PaperPending, paper.Status)

	close(gate)

	for _, id := range []string{"2401.00008", "2401.00009"} {
		job, err := f.svc.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusCompleted, job.Status, id)
	}
}

func TestRequestIngestionValidation(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, err := f.svc.RequestIngestion(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrEmptyPaperID)

	require.NoError(t, f.svc.Close())
	_, err = f.svc.RequestIngestion(context.Background(), "2401.00010")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
