package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperrag/internal/sparse"
)

func seedSearchPoints(t *testing.T, storage *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	points := []*Point{
		{ID: "m1", PaperID: "p1", Section: "methods", Content: "graph attention network layers", Dense: []float32{1, 0, 0}},
		{ID: "r1", PaperID: "p1", Section: "results", Content: "accuracy improves with attention", Dense: []float32{0.8, 0.6, 0}},
		{ID: "m2", PaperID: "p2", Section: "methods", Content: "convolutional layers and pooling", Dense: []float32{0, 1, 0}},
		{ID: "x2", PaperID: "p2", Section: "other", Content: "unrelated appendix material", Dense: []float32{0, 0, 1}},
	}
	for _, p := range points {
		p.Sparse = sparse.Encode(p.Content)
		require.NoError(t, storage.UpsertPoint(ctx, p))
	}
}

func TestSearchDense(t *testing.T) {
	storage := setupTestDB(t)
	seedSearchPoints(t, storage)
	ctx := context.Background()

	results, err := storage.SearchDense(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "m1", results[0].PointID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.Equal(t, "r1", results[1].PointID)
	assert.InDelta(t, 0.8, results[1].SimilarityScore, 1e-6)

	results, err = storage.SearchDense(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchDense_Filters(t *testing.T) {
	storage := setupTestDB(t)
	seedSearchPoints(t, storage)
	ctx := context.Background()

	results, err := storage.SearchDense(ctx, []float32{1, 0, 0}, 10, &SearchFilters{PaperIDs: []string{"p2"}})
	require.NoError(t, err)
	for _, r := range results {
		assert.Contains(t, []string{"m2", "x2"}, r.PointID)
	}

	results, err = storage.SearchDense(ctx, []float32{1, 0, 0}, 10, &SearchFilters{Section: "methods"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m1", results[0].PointID)

	results, err = storage.SearchDense(ctx, []float32{1, 0, 0}, 10, &SearchFilters{MinScore: 0.5})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchDense_EdgeCases(t *testing.T) {
	storage := setupTestDB(t)
	seedSearchPoints(t, storage)
	ctx := context.Background()

	results, err := storage.SearchDense(ctx, []float32{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Dimension mismatch never matches
	results, err = storage.SearchDense(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSparse(t *testing.T) {
	storage := setupTestDB(t)
	seedSearchPoints(t, storage)
	ctx := context.Background()

	results, err := storage.SearchSparse(ctx, sparse.Encode("attention layers"), 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "m1", results[0].PointID)
	assert.InDelta(t, 2.0, results[0].Score, 1e-9)

	ids := []string{results[1].PointID, results[2].PointID}
	assert.ElementsMatch(t, []string{"r1", "m2"}, ids)

	results, err = storage.SearchSparse(ctx, sparse.Encode("attention"), 10, &SearchFilters{Section: "results"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].PointID)

	results, err = storage.SearchSparse(ctx, sparse.Encode("quantum"), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = storage.SearchSparse(ctx, sparse.Vector{}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSparse_MatchesDotProduct(t *testing.T) {
	storage := setupTestDB(t)
	seedSearchPoints(t, storage)
	ctx := context.Background()

	query := sparse.Encode("attention attention network")
	results, err := storage.SearchSparse(ctx, query, 10, nil)
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PointID
	}
	points, err := storage.GetPoints(ctx, ids)
	require.NoError(t, err)
	for _, r := range results {
		assert.InDelta(t, query.Dot(points[r.PointID].Sparse), r.Score, 1e-9)
	}
}

func TestVectorSerialization(t *testing.T) {
	vec := []float32{0, -1.5, float32(math.Pi), math.MaxFloat32}
	assert.Equal(t, vec, deserializeVector(serializeVector(vec)))
	assert.Empty(t, deserializeVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
