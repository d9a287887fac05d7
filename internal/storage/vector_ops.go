package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/paperrag/internal/sparse"
)

func (s *SQLiteStorage) SearchDense(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]DenseResult, error) {
	return searchDense(ctx, s.querier(), vector, limit, filters)
}

func (s *SQLiteStorage) SearchSparse(ctx context.Context, vector sparse.Vector, limit int, filters *SearchFilters) ([]SparseResult, error) {
	return searchSparse(ctx, s.querier(), vector, limit, filters)
}

// searchDense performs vector similarity search using cosine similarity
func searchDense(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]DenseResult, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []DenseResult{}, nil
	}
	if VectorExtensionAvailable {
		return searchDenseOptimized(ctx, q, queryVector, limit, filters)
	}
	return searchDenseFallback(ctx, q, queryVector, limit, filters)
}

// searchDenseOptimized computes cosine distance inside SQLite via sqlite-vec
func searchDenseOptimized(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]DenseResult, error) {
	blob := serializeVector(queryVector)

	// vec_distance_cosine returns distance; report similarity.
	query := `
		SELECT p.id, 1.0 - vec_distance_cosine(p.dense, ?) AS similarity
		FROM points p
		WHERE p.dimension = ?
	`
	args := []interface{}{blob, len(queryVector)}
	query, args = applyPointFilters(query, args, filters)

	if filters != nil && filters.MinScore > 0 {
		query += " AND (1.0 - vec_distance_cosine(p.dense, ?)) >= ?"
		args = append(args, blob, filters.MinScore)
	}
	query += " ORDER BY similarity DESC, p.id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute dense search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]DenseResult, 0, limit)
	for rows.Next() {
		var r DenseResult
		if err := rows.Scan(&r.PointID, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchDenseFallback loads candidate vectors and ranks them in Go
func searchDenseFallback(ctx context.Context, q querier, queryVector []float32, limit int, filters *SearchFilters) ([]DenseResult, error) {
	query := `
		SELECT p.id, p.dense
		FROM points p
		WHERE p.dimension = ?
	`
	args := []interface{}{len(queryVector)}
	query, args = applyPointFilters(query, args, filters)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		score := cosineSimilarity(queryVector, deserializeVector(blob))
		if filters != nil && filters.MinScore > 0 && score < filters.MinScore {
			continue
		}
		candidates = append(candidates, candidate{pointID: id, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	results := make([]DenseResult, len(candidates))
	for i, c := range candidates {
		results[i] = DenseResult{PointID: c.pointID, SimilarityScore: c.score}
	}
	return results, nil
}

// searchSparse scores points by the dot product of term frequencies. Only
// points sharing at least one term with the query are returned.
func searchSparse(ctx context.Context, q querier, vector sparse.Vector, limit int, filters *SearchFilters) ([]SparseResult, error) {
	if limit <= 0 || len(vector) == 0 {
		return []SparseResult{}, nil
	}

	indices := vector.Indices()
	values := make([]string, len(indices))
	args := make([]interface{}, 0, len(indices)*2+4)
	for i, idx := range indices {
		values[i] = "(?, ?)"
		args = append(args, int64(idx), float64(vector[idx]))
	}

	query := `
		WITH q(term_index, weight) AS (VALUES ` + strings.Join(values, ", ") + `)
		SELECT p.id, SUM(s.tf * q.weight) AS score
		FROM sparse_terms s
		INNER JOIN q ON s.term_index = q.term_index
		INNER JOIN points p ON p.id = s.point_id
		WHERE 1 = 1
	`
	query, args = applyPointFilters(query, args, filters)
	query += " GROUP BY p.id"
	if filters != nil && filters.MinScore > 0 {
		query += " HAVING score >= ?"
		args = append(args, filters.MinScore)
	}
	query += " ORDER BY score DESC, p.id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute sparse search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]SparseResult, 0, limit)
	for rows.Next() {
		var r SparseResult
		if err := rows.Scan(&r.PointID, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// applyPointFilters adds WHERE clause filters on the points table aliased p
func applyPointFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if len(filters.PaperIDs) > 0 {
		placeholders, ids := inClause(filters.PaperIDs)
		query += " AND p.paper_id IN (" + placeholders + ")"
		args = append(args, ids...)
	}

	if filters.Section != "" {
		query += " AND p.section = ?"
		args = append(args, filters.Section)
	}

	return query, args
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is a point with its similarity score
type candidate struct {
	pointID string
	score   float64
}

// sortCandidates orders by score descending, ties by point ID
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pointID < candidates[j].pointID
	})
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
