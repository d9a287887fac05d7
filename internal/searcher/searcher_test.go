package searcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperrag/internal/embedder"
	"github.com/dshills/paperrag/internal/indexer"
	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

type brokenEmbedder struct {
	embedder.LocalProvider
}

func (b *brokenEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return nil, errors.New("embedding service down")
}

type recordingObserver struct {
	calls []error
	hits  int
}

func (r *recordingObserver) QueryCompleted(mode string, d time.Duration, n int, hit bool, err error) {
	r.calls = append(r.calls, err)
	if hit {
		r.hits++
	}
}

func setupSearcher(t testing.TB, cfg *Config) (*Searcher, *storage.SQLiteStorage) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	idx := indexer.New(store, emb, nil)
	corpus := map[string][]types.Chunk{
		"p1": {
			{Text: "We train a graph attention network on citation graphs.", Section: types.SectionMethods},
			{Text: "The attention model improves accuracy by four points.", Section: types.SectionResults},
			{Text: "Prior work on convolutional networks for images.", Section: types.SectionRelatedWork},
		},
		"p2": {
			{Text: "Protein folding simulations with molecular dynamics.", Section: types.SectionMethods},
			{Text: "Attention over residues predicts contact maps.", Section: types.SectionResults},
		},
	}
	for paperID, chunks := range corpus {
		for i := range chunks {
			chunks[i].PaperID = paperID
			chunks[i].Ordinal = i
		}
		_, err := idx.Index(context.Background(), chunks)
		require.NoError(t, err)
	}
	return NewSearcher(store, emb, cfg), store
}

func TestQuery_Hybrid(t *testing.T) {
	s, _ := setupSearcher(t, nil)

	results, err := s.Query(context.Background(), SearchRequest{Query: "graph attention network", TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	assert.Contains(t, results[0].Content, "graph attention network")

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		assert.Equal(t, i+1, results[i].Rank)
	}
	// Fused scores are bounded by two first-place contributions
	assert.LessOrEqual(t, results[0].Score, 2.0/(DefaultRRFConstant+1)+1e-12)
}

func TestQuery_FilteredScoping(t *testing.T) {
	s, _ := setupSearcher(t, nil)
	ctx := context.Background()

	results, err := s.Query(ctx, SearchRequest{Query: "attention", PaperIDs: []string{"p2"}, TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "p2", r.Metadata.PaperID)
	}

	results, err = s.Query(ctx, SearchRequest{Query: "attention", Section: "Results", TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "results", r.Metadata.Section)
	}

	results, err = s.Query(ctx, SearchRequest{Query: "attention", PaperIDs: []string{"p1", "p2"}, Section: "methods", TopK: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "methods", r.Metadata.Section)
	}

	results, err = s.Query(ctx, SearchRequest{Query: "attention", PaperIDs: []string{"unknown"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_Modes(t *testing.T) {
	s, _ := setupSearcher(t, nil)
	ctx := context.Background()

	dense, err := s.Query(ctx, SearchRequest{Query: "protein folding", Mode: SearchModeDense, TopK: 1})
	require.NoError(t, err)
	require.Len(t, dense, 1)
	assert.Equal(t, "p2", dense[0].Metadata.PaperID)

	sparseHits, err := s.Query(ctx, SearchRequest{Query: "residues", Mode: SearchModeSparse})
	require.NoError(t, err)
	require.Len(t, sparseHits, 1)
	assert.InDelta(t, 1.0, sparseHits[0].Score, 1e-9)

	_, err = s.Query(ctx, SearchRequest{Query: "x", Mode: "bm25"})
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestQuery_DenseAntiCorrelated(t *testing.T) {
	s, store := setupSearcher(t, nil)
	ctx := context.Background()

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	q, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: "protein folding"})
	require.NoError(t, err)
	opposite := make([]float32, len(q.Vector))
	for i, v := range q.Vector {
		opposite[i] = -v
	}
	require.NoError(t, store.UpsertPoint(ctx, &storage.Point{
		ID:      indexer.PointID("p3", 0, "opposite"),
		PaperID: "p3",
		Section: string(types.SectionOther),
		Content: "A chunk pointing the other way.",
		Dense:   opposite,
	}))

	results, err := s.Query(ctx, SearchRequest{Query: "protein folding", Mode: SearchModeDense, TopK: 20})
	require.NoError(t, err)
	require.Len(t, results, 6)

	last := results[len(results)-1]
	assert.Equal(t, "p3", last.Metadata.PaperID)
	assert.InDelta(t, 0, last.Score, 1e-6)
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
		}
	}
}

func TestDenseScore(t *testing.T) {
	assert.Equal(t, 0.0, DenseScore(-1))
	assert.Equal(t, 0.5, DenseScore(0))
	assert.Equal(t, 1.0, DenseScore(1))
	assert.Equal(t, 1.0, DenseScore(1.0000001))
	assert.Equal(t, 0.0, DenseScore(-1.5))
}

func TestQuery_EmptyQuery(t *testing.T) {
	s, _ := setupSearcher(t, nil)
	_, err := s.Query(context.Background(), SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestQuery_EmbeddingFailurePropagates(t *testing.T) {
	_, store := setupSearcher(t, nil)
	local, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	obs := &recordingObserver{}
	s := NewSearcher(store, &brokenEmbedder{*local}, &Config{Observer: obs})

	results, err := s.Query(context.Background(), SearchRequest{Query: "attention"})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "embedding service down")

	// Sparse mode doesn't need the embedder
	_, err = s.Query(context.Background(), SearchRequest{Query: "attention", Mode: SearchModeSparse})
	assert.NoError(t, err)

	require.Len(t, obs.calls, 2)
	assert.Error(t, obs.calls[0])
	assert.NoError(t, obs.calls[1])
}

func TestQuery_StorageFailurePropagates(t *testing.T) {
	s, store := setupSearcher(t, nil)
	require.NoError(t, store.Close())

	_, err := s.Query(context.Background(), SearchRequest{Query: "attention"})
	assert.Error(t, err)
}

func TestQueryAsync(t *testing.T) {
	s, _ := setupSearcher(t, nil)
	ctx := context.Background()

	want, err := s.Query(ctx, SearchRequest{Query: "contact maps", TopK: 2})
	require.NoError(t, err)

	res, ok := <-s.QueryAsync(ctx, SearchRequest{Query: "contact maps", TopK: 2})
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, want, res.Results)

	res = <-s.QueryAsync(ctx, SearchRequest{})
	assert.ErrorIs(t, res.Err, ErrEmptyQuery)
}

func TestQueryCache(t *testing.T) {
	obs := &recordingObserver{}
	s, _ := setupSearcher(t, &Config{Observer: obs})
	ctx := context.Background()
	req := SearchRequest{Query: "attention", UseCache: true}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, obs.hits)

	// Normalised requests share an entry
	_, err = s.Search(ctx, SearchRequest{Query: "  attention ", UseCache: true, Mode: SearchModeHybrid})
	require.NoError(t, err)
	assert.Equal(t, 2, obs.hits)

	s.InvalidateCache()
	assert.Equal(t, 0, s.CacheLen())
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}

func TestApplyRRF(t *testing.T) {
	k := 60.0
	ranked := ApplyRRF(k, []string{"a", "b", "c"}, []string{"b", "d"})
	require.Len(t, ranked, 4)

	assert.Equal(t, "b", ranked[0].PointID)
	assert.InDelta(t, 1/(k+2)+1/(k+1), ranked[0].Score, 1e-12)
	assert.Equal(t, "a", ranked[1].PointID)
	assert.InDelta(t, 1/(k+1), ranked[1].Score, 1e-12)

	// c and d tie at 1/(k+3) vs 1/(k+2): d ranks higher
	assert.Equal(t, "d", ranked[2].PointID)
	assert.Equal(t, "c", ranked[3].PointID)
	for i, r := range ranked {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestApplyRRF_Monotonic(t *testing.T) {
	// Moving a point up in either list never lowers its fused score
	base := []string{"x", "y", "z", "w"}
	for from := 1; from < len(base); from++ {
		lower := ApplyRRF(60, base, []string{"q"})
		promoted := append([]string{base[from]}, append(append([]string{}, base[:from]...), base[from+1:]...)...)
		higher := ApplyRRF(60, promoted, []string{"q"})
		assert.Greater(t, scoreOf(higher, base[from]), scoreOf(lower, base[from]), fmt.Sprintf("promote %s", base[from]))
	}
}

func TestApplyRRF_TiesByPointID(t *testing.T) {
	ranked := ApplyRRF(0, []string{"b"}, []string{"a"})
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].PointID)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
}

func scoreOf(ranked []RankedPoint, id string) float64 {
	for _, r := range ranked {
		if r.PointID == id {
			return r.Score
		}
	}
	return 0
}
