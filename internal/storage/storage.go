package storage

import (
	"context"
	"time"

	"github.com/dshills/paperrag/internal/sparse"
	"github.com/dshills/paperrag/pkg/types"
)

// Storage defines the interface for persisting papers and querying the
// hybrid vector index
type Storage interface {
	// Paper operations
	UpsertPaper(ctx context.Context, paper *Paper) error
	GetPaper(ctx context.Context, paperID string) (*Paper, error)
	ListPapers(ctx context.Context) ([]*Paper, error)
	DeletePaper(ctx context.Context, paperID string) error

	// Outline operations
	ReplaceSections(ctx context.Context, paperID string, sections []types.Section) error
	ListSections(ctx context.Context, paperID string) ([]types.Section, error)

	// Figure operations
	UpsertFigure(ctx context.Context, figure *types.Figure) error
	GetFigure(ctx context.Context, paperID, figureID string) (*types.Figure, error)
	ListFigures(ctx context.Context, paperID string) ([]FigureInfo, error)

	// Point operations
	UpsertPoint(ctx context.Context, point *Point) error
	GetPoints(ctx context.Context, ids []string) (map[string]*Point, error)
	ListPointIDs(ctx context.Context, paperID string) ([]string, error)
	CountPoints(ctx context.Context, paperID string) (int, error)
	DeletePointsExcept(ctx context.Context, paperID string, keep []string) (deletedCount int, err error)

	// Search operations
	SearchDense(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]DenseResult, error)
	SearchSparse(ctx context.Context, vector sparse.Vector, limit int, filters *SearchFilters) ([]SparseResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Storage
	Commit() error
	Rollback() error
}

// PaperStatus is the durable ingestion state of a paper
type PaperStatus string

const (
	PaperPending     PaperStatus = "pending"
	PaperDownloading PaperStatus = "downloading"
	PaperParsing     PaperStatus = "parsing"
	PaperIndexing    PaperStatus = "indexing"
	PaperCompleted   PaperStatus = "completed"
	PaperFailed      PaperStatus = "failed"
)

// Paper is the authoritative ingestion record for one paper
type Paper struct {
	PaperID      string
	Title        string
	Status       PaperStatus
	ChunkCount   int
	PDFPath      string
	ErrorMessage string
	IngestedAt   time.Time // zero until completed
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FigureInfo is figure metadata without the image payload
type FigureInfo struct {
	FigureID string
	PaperID  string
	Section  string
	Caption  string
	SizeB64  int
}

// Point is one indexed chunk: dense and sparse vectors plus payload
type Point struct {
	ID            string
	PaperID       string
	Ordinal       int
	Section       string
	SectionTitle  string
	SectionNumber string
	PageNumber    int
	Figures       []string
	Content       string
	Dense         []float32
	Sparse        sparse.Vector
	CreatedAt     time.Time
}

// SearchFilters narrows the point scan before scoring
type SearchFilters struct {
	PaperIDs []string // match any
	Section  string   // section type, e.g. "methods"
	MinScore float64  // minimum raw similarity
}

// DenseResult is a cosine similarity hit
type DenseResult struct {
	PointID         string
	SimilarityScore float64
}

// SparseResult is a term-overlap hit scored by dot product
type SparseResult struct {
	PointID string
	Score   float64
}

// IndexStatus contains statistics about the index
type IndexStatus struct {
	PapersCount    int
	CompletedCount int
	FailedCount    int
	PointsCount    int
	FiguresCount   int
	TermsCount     int
	IndexSizeMB    float64
	BuildMode      string
	Health         HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	PointsAvailable     bool
	VectorExtensionUsed bool
}
