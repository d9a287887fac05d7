package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/paperrag/internal/embedder"
	"github.com/dshills/paperrag/internal/sparse"
	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

var (
	// ErrEmptyQuery is returned for a blank query string
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrUnsupportedMode is returned for an unknown search mode
	ErrUnsupportedMode = errors.New("unsupported search mode")
	// ErrNotInitialized is returned when the searcher lacks storage or an embedder
	ErrNotInitialized = errors.New("searcher not initialized")
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid SearchMode = "hybrid" // Dense + sparse with RRF
	SearchModeDense  SearchMode = "dense"  // Cosine similarity only
	SearchModeSparse SearchMode = "sparse" // Term overlap only
)

// Defaults
const (
	DefaultRRFConstant = 60.0
	DefaultTopK        = 5
	MaxTopK            = 100
	DefaultCacheSize   = 1000
	DefaultCacheTTL    = time.Hour

	// candidateFactor widens each retrieval before fusion
	candidateFactor = 2
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	PaperIDs []string // empty means all papers
	Section  string   // section type, e.g. "methods"
	TopK     int
	Mode     SearchMode
	UseCache bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	DenseResults  int
	SparseResults int
}

// Observer is notified after every search
type Observer interface {
	QueryCompleted(mode string, duration time.Duration, results int, cacheHit bool, err error)
}

// Config tunes the searcher
type Config struct {
	RRFConstant float64
	DefaultTopK int
	CacheSize   int
	CacheTTL    time.Duration
	Observer    Observer
}

// Searcher fuses dense and sparse retrieval over the point index
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	cache    *expirable.LRU[[32]byte, *SearchResponse]
	observer Observer

	rrfK        float64
	defaultTopK int
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, emb embedder.Embedder, cfg *Config) *Searcher {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Searcher{
		storage:     store,
		embedder:    emb,
		observer:    cfg.Observer,
		rrfK:        cfg.RRFConstant,
		defaultTopK: cfg.DefaultTopK,
	}
	if s.rrfK <= 0 {
		s.rrfK = DefaultRRFConstant
	}
	if s.defaultTopK <= 0 {
		s.defaultTopK = DefaultTopK
	}

	size, ttl := cfg.CacheSize, cfg.CacheTTL
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	s.cache = expirable.NewLRU[[32]byte, *SearchResponse](size, nil, ttl)
	return s
}

// Query returns the ranked results for req
func (s *Searcher) Query(ctx context.Context, req SearchRequest) ([]types.SearchResult, error) {
	resp, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// AsyncResult carries the outcome of QueryAsync
type AsyncResult struct {
	Results []types.SearchResult
	Err     error
}

// QueryAsync runs Query on its own goroutine. The channel receives exactly
// one value and is then closed.
func (s *Searcher) QueryAsync(ctx context.Context, req SearchRequest) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		defer close(out)
		results, err := s.Query(ctx, req)
		out <- AsyncResult{Results: results, Err: err}
	}()
	return out
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (resp *SearchResponse, err error) {
	startTime := time.Now()
	defer func() {
		if s.observer == nil {
			return
		}
		n, hit := 0, false
		if resp != nil {
			n, hit = len(resp.Results), resp.CacheHit
		}
		s.observer.QueryCompleted(string(req.Mode), time.Since(startTime), n, hit, err)
	}()

	if s.storage == nil || s.embedder == nil {
		return nil, ErrNotInitialized
	}
	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	key := computeQueryHash(req)
	if req.UseCache {
		if cached, ok := s.cache.Get(key); ok {
			resp = copySearchResponse(cached)
			resp.CacheHit = true
			resp.Duration = time.Since(startTime)
			return resp, nil
		}
	}

	switch req.Mode {
	case SearchModeHybrid:
		resp, err = s.hybridSearch(ctx, req)
	case SearchModeDense:
		resp, err = s.denseSearch(ctx, req)
	case SearchModeSparse:
		resp, err = s.sparseSearch(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Duration = time.Since(startTime)
	resp.SearchMode = req.Mode

	if req.UseCache {
		s.cache.Add(key, copySearchResponse(resp))
	}
	return resp, nil
}

func (req *SearchRequest) filters() *storage.SearchFilters {
	return &storage.SearchFilters{PaperIDs: req.PaperIDs, Section: req.Section}
}

func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return emb.Vector, nil
}

// hybridSearch runs dense and sparse retrieval concurrently and fuses them
// with Reciprocal Rank Fusion. Either retrieval failing fails the search.
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var dense []storage.DenseResult
	var sparseHits []storage.SparseResult
	limit := req.TopK * candidateFactor

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := s.embedQuery(gctx, req.Query)
		if err != nil {
			return err
		}
		dense, err = s.storage.SearchDense(gctx, vector, limit, req.filters())
		if err != nil {
			return fmt.Errorf("dense retrieval failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sparseHits, err = s.storage.SearchSparse(gctx, sparse.Encode(req.Query), limit, req.filters())
		if err != nil {
			return fmt.Errorf("sparse retrieval failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	denseIDs := make([]string, len(dense))
	for i, d := range dense {
		denseIDs[i] = d.PointID
	}
	sparseIDs := make([]string, len(sparseHits))
	for i, h := range sparseHits {
		sparseIDs[i] = h.PointID
	}

	ranked := ApplyRRF(s.rrfK, denseIDs, sparseIDs)
	results, err := s.fetchResults(ctx, ranked, req.TopK)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		DenseResults:  len(dense),
		SparseResults: len(sparseHits),
	}, nil
}

// denseSearch performs only vector similarity search
func (s *Searcher) denseSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vector, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	dense, err := s.storage.SearchDense(ctx, vector, req.TopK, req.filters())
	if err != nil {
		return nil, fmt.Errorf("dense retrieval failed: %w", err)
	}

	ranked := make([]RankedPoint, len(dense))
	for i, d := range dense {
		ranked[i] = RankedPoint{PointID: d.PointID, Score: DenseScore(d.SimilarityScore), Rank: i + 1}
	}
	results, err := s.fetchResults(ctx, ranked, req.TopK)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: results, TotalResults: len(results), DenseResults: len(dense)}, nil
}

// DenseScore maps a cosine similarity in [-1, 1] onto [0, 1], keeping the
// order. Anti-correlated chunks are valid hits with a low score.
func DenseScore(cosine float64) float64 {
	score := (cosine + 1) / 2
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// sparseSearch performs only term-overlap search
func (s *Searcher) sparseSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	hits, err := s.storage.SearchSparse(ctx, sparse.Encode(req.Query), req.TopK, req.filters())
	if err != nil {
		return nil, fmt.Errorf("sparse retrieval failed: %w", err)
	}

	ranked := make([]RankedPoint, len(hits))
	for i, h := range hits {
		ranked[i] = RankedPoint{PointID: h.PointID, Score: h.Score, Rank: i + 1}
	}
	results, err := s.fetchResults(ctx, ranked, req.TopK)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: results, TotalResults: len(results), SparseResults: len(hits)}, nil
}

// RankedPoint is a point with its fused or raw score
type RankedPoint struct {
	PointID string
	Score   float64
	Rank    int
}

// ApplyRRF fuses ranked ID lists with Reciprocal Rank Fusion:
// score(d) = Σ 1/(k + rank(d)), rank 1-based. Output is sorted by score
// descending, ties by point ID.
func ApplyRRF(k float64, lists ...[]string) []RankedPoint {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / (k + float64(rank+1))
		}
	}

	results := make([]RankedPoint, 0, len(scores))
	for id, score := range scores {
		results = append(results, RankedPoint{PointID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PointID < results[j].PointID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// fetchResults loads payloads for the top ranked points. Points removed by
// a concurrent re-index are skipped; storage errors are returned.
func (s *Searcher) fetchResults(ctx context.Context, ranked []RankedPoint, limit int) ([]types.SearchResult, error) {
	if limit > len(ranked) {
		limit = len(ranked)
	}
	ranked = ranked[:limit]

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.PointID
	}
	points, err := s.storage.GetPoints(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load points: %w", err)
	}

	results := make([]types.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		p, ok := points[r.PointID]
		if !ok {
			continue
		}
		result := types.SearchResult{
			PointID: p.ID,
			Rank:    len(results) + 1,
			Content: p.Content,
			Score:   r.Score,
			Metadata: types.ResultMetadata{
				PaperID:       p.PaperID,
				Section:       p.Section,
				SectionTitle:  p.SectionTitle,
				SectionNumber: p.SectionNumber,
				PageNumber:    p.PageNumber,
				Figures:       p.Figures,
			},
		}
		if err := result.Validate(); err != nil {
			return nil, fmt.Errorf("invalid result %s: %w", p.ID, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// validateRequest normalises the request and applies defaults
func (s *Searcher) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.TopK <= 0 {
		req.TopK = s.defaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}

	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	req.Section = strings.ToLower(strings.TrimSpace(req.Section))

	ids := req.PaperIDs[:0:0]
	for _, id := range req.PaperIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	req.PaperIDs = ids

	return nil
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Metadata.Figures != nil {
			dst.Results[i].Metadata.Figures = append([]string(nil), r.Metadata.Figures...)
		}
	}
	return &dst
}

// computeQueryHash computes a unique hash for a normalised search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.TopK))
	data.WriteString("|")
	data.WriteString(strings.Join(req.PaperIDs, ","))
	data.WriteString("|")
	data.WriteString(req.Section)
	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached response. Called after a paper is
// (re)indexed; cached entries can't be filtered by paper.
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// CacheLen reports the number of cached responses
func (s *Searcher) CacheLen() int {
	return s.cache.Len()
}
