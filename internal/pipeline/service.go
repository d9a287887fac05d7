package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dshills/paperrag/internal/chunker"
	"github.com/dshills/paperrag/internal/convert"
	"github.com/dshills/paperrag/internal/indexer"
	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/parser"
	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

// Request methods
const (
	MethodStarted          = "started"
	MethodQueued           = "queued"
	MethodAlreadyActive    = "already_active"
	MethodAlreadyCompleted = "already_completed"
)

// ErrClosed is returned once the service is shutting down
var ErrClosed = errors.New("pipeline is closed")

// Request is the answer to an ingestion request
type Request struct {
	Queued bool        `json:"queued"`
	Method string      `json:"method"`
	Status jobs.Status `json:"status"`
}

// CacheInvalidator is told when the index changed
type CacheInvalidator interface {
	InvalidateCache()
}

// Deps wires a Service. Converter, Parser and Chunker get defaults when nil.
type Deps struct {
	Storage    storage.Storage
	Jobs       *jobs.Manager
	Downloader Downloader
	Converter  convert.Converter
	Parser     *parser.Parser
	Chunker    *chunker.Chunker
	Indexer    *indexer.HybridIndexer
	Cache      CacheInvalidator
}

// Service runs ingestion jobs: download, convert, parse, chunk and index.
// Every admitted job runs on its own goroutine; the job manager bounds how
// many are past the queue at once.
type Service struct {
	store      storage.Storage
	jobs       *jobs.Manager
	downloader Downloader
	converter  convert.Converter
	parser     *parser.Parser
	chunker    *chunker.Chunker
	indexer    *indexer.HybridIndexer
	cache      CacheInvalidator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Service
func New(d Deps) (*Service, error) {
	switch {
	case d.Storage == nil:
		return nil, errors.New("pipeline: storage is required")
	case d.Jobs == nil:
		return nil, errors.New("pipeline: job manager is required")
	case d.Downloader == nil:
		return nil, errors.New("pipeline: downloader is required")
	case d.Indexer == nil:
		return nil, errors.New("pipeline: indexer is required")
	}
	if d.Converter == nil {
		d.Converter = convert.NewAuto()
	}
	if d.Parser == nil {
		d.Parser = parser.New()
	}
	if d.Chunker == nil {
		d.Chunker = chunker.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      d.Storage,
		jobs:       d.Jobs,
		downloader: d.Downloader,
		converter:  d.Converter,
		parser:     d.Parser,
		chunker:    d.Chunker,
		indexer:    d.Indexer,
		cache:      d.Cache,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// RequestIngestion starts ingesting a paper unless it is already completed
// or being worked on. A paper whose last run failed is run again. It returns
// immediately; progress is visible through the job manager and the durable
// paper status.
func (s *Service) RequestIngestion(ctx context.Context, paperID string) (Request, error) {
	if paperID == "" {
		return Request{}, types.ErrEmptyPaperID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Request{}, ErrClosed
	}

	paper, err := s.store.GetPaper(ctx, paperID)
	switch {
	case err == nil && paper.Status == storage.PaperCompleted:
		return Request{Method: MethodAlreadyCompleted, Status: jobs.StatusCompleted}, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Request{}, fmt.Errorf("failed to load paper status: %w", err)
	}

	// The durable status is not completed, so a terminal job left in the
	// manager is stale and gets a fresh run.
	job, created := s.jobs.Restart(paperID)
	queued := job.Status == jobs.StatusQueued
	if !created {
		return Request{Queued: queued, Method: MethodAlreadyActive, Status: job.Status}, nil
	}

	if err := s.setPaperStatus(ctx, paperID, storage.PaperPending, nil); err != nil {
		s.jobs.Clear(paperID)
		return Request{}, err
	}

	s.wg.Add(1)
	go s.run(paperID)

	method := MethodStarted
	if queued {
		method = MethodQueued
	}
	return Request{Queued: queued, Method: method, Status: job.Status}, nil
}

// Wait blocks until the paper's job finishes
func (s *Service) Wait(ctx context.Context, paperID string) (jobs.Job, error) {
	return s.jobs.WaitDone(ctx, paperID)
}

// Close stops accepting requests, cancels running jobs and waits for their
// goroutines to exit
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) run(paperID string) {
	defer s.wg.Done()

	if _, err := s.jobs.WaitAdmitted(s.ctx, paperID); err != nil {
		if errors.Is(err, types.ErrConcurrency) {
			log.Printf("pipeline: %s aborted: %v", paperID, err)
			return
		}
		log.Printf("pipeline: %s not started: %v", paperID, err)
		s.jobs.Clear(paperID)
		return
	}

	start := time.Now()
	count, err := s.process(s.ctx, paperID)
	if err != nil {
		s.fail(paperID, err)
		return
	}
	log.Printf("pipeline: %s completed with %d points in %v", paperID, count, time.Since(start))
}

// process runs the stages for one admitted job. Returned errors are
// *types.PipelineError.
func (s *Service) process(ctx context.Context, paperID string) (int, error) {
	s.advance(ctx, paperID, jobs.StatusDownloading, "downloading pdf", jobs.ProgressDownloading, nil)
	path, err := s.downloader.Download(ctx, paperID)
	if err != nil {
		return 0, types.NewPipelineError(types.KindDownload, paperID, err)
	}

	s.advance(ctx, paperID, jobs.StatusParsing, "parsing document", jobs.ProgressParsing,
		func(p *storage.Paper) { p.PDFPath = path })

	text, err := s.converter.Convert(ctx, path)
	if err != nil {
		return 0, types.NewPipelineError(types.KindParse, paperID, err)
	}
	parsed, err := s.parser.Parse(paperID, text)
	if err != nil {
		return 0, types.NewPipelineError(types.KindParse, paperID, err)
	}
	doc := parsed.Document
	if !doc.HasSections() {
		log.Printf("pipeline: %s has no usable headings, chunking abstract and full text", paperID)
	}

	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		return 0, types.NewPipelineError(types.KindParse, paperID, err)
	}
	if len(chunks) == 0 {
		return 0, types.NewPipelineError(types.KindParse, paperID, errors.New("no extractable text"))
	}

	s.advance(ctx, paperID, jobs.StatusIndexing, fmt.Sprintf("indexing %d chunks", len(chunks)), jobs.ProgressIndexing,
		func(p *storage.Paper) { p.Title = doc.Title })

	if err := s.storeOutline(ctx, paperID, doc, parsed.Figures); err != nil {
		return 0, types.NewPipelineError(types.KindIndex, paperID, err)
	}
	stats, err := s.indexer.Reindex(ctx, chunks)
	if err != nil {
		return 0, types.NewPipelineError(types.KindIndex, paperID, err)
	}
	if s.cache != nil {
		s.cache.InvalidateCache()
	}

	err = s.setPaperStatus(ctx, paperID, storage.PaperCompleted, func(p *storage.Paper) {
		p.ChunkCount = stats.PointsIndexed
		p.IngestedAt = time.Now().UTC()
	})
	if err != nil {
		return 0, types.NewPipelineError(types.KindIndex, paperID, err)
	}
	if _, err := s.jobs.Update(paperID, jobs.Update{
		Status:   jobs.StatusCompleted,
		Step:     "done",
		Progress: jobs.ProgressCompleted,
	}); err != nil {
		log.Printf("pipeline: %s finished but job tracking is gone: %v", paperID, err)
	}
	return stats.PointsIndexed, nil
}

// storeOutline replaces the paper's sections and figures in one transaction
func (s *Service) storeOutline(ctx context.Context, paperID string, doc *types.ParsedDocument, figures []types.Figure) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.ReplaceSections(ctx, paperID, doc.Sections); err != nil {
		return fmt.Errorf("failed to store sections: %w", err)
	}
	for i := range figures {
		if err := tx.UpsertFigure(ctx, &figures[i]); err != nil {
			return fmt.Errorf("failed to store figure %s: %w", figures[i].FigureID, err)
		}
	}
	return tx.Commit()
}

// advance moves both the job and the durable paper record to the next stage.
// Durable write failures are logged; the job keeps going.
func (s *Service) advance(ctx context.Context, paperID string, status jobs.Status, step string, progress int, mutate func(*storage.Paper)) {
	if _, err := s.jobs.Update(paperID, jobs.Update{Status: status, Step: step, Progress: progress}); err != nil {
		log.Printf("pipeline: %s update job: %v", paperID, err)
	}
	if err := s.setPaperStatus(ctx, paperID, storage.PaperStatus(status), mutate); err != nil {
		log.Printf("pipeline: %s: %v", paperID, err)
	}
}

func (s *Service) fail(paperID string, err error) {
	log.Printf("pipeline: %s failed: %v", paperID, err)

	// Durable record first: once the job is terminal a retry may start.
	// The service context may be the reason for the failure.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	serr := s.setPaperStatus(ctx, paperID, storage.PaperFailed, func(p *storage.Paper) {
		p.ErrorMessage = err.Error()
	})
	if serr != nil {
		log.Printf("pipeline: %s: %v", paperID, serr)
	}

	if _, uerr := s.jobs.Update(paperID, jobs.Update{Status: jobs.StatusFailed, Error: err.Error()}); uerr != nil {
		log.Printf("pipeline: %s update job: %v", paperID, uerr)
	}
}

// setPaperStatus reads the durable record, applies mutate and writes it back
func (s *Service) setPaperStatus(ctx context.Context, paperID string, status storage.PaperStatus, mutate func(*storage.Paper)) error {
	paper, err := s.store.GetPaper(ctx, paperID)
	if errors.Is(err, storage.ErrNotFound) {
		paper = &storage.Paper{PaperID: paperID}
	} else if err != nil {
		return fmt.Errorf("failed to load paper status: %w", err)
	}

	paper.Status = status
	if status != storage.PaperFailed {
		paper.ErrorMessage = ""
	}
	if mutate != nil {
		mutate(paper)
	}
	if err := s.store.UpsertPaper(ctx, paper); err != nil {
		return fmt.Errorf("failed to save paper status: %w", err)
	}
	return nil
}
