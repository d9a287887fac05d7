package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/paperrag/internal/sparse"
)

func validatePoint(point *Point) error {
	switch {
	case point.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPoint)
	case point.PaperID == "":
		return fmt.Errorf("%w: missing paper id", ErrInvalidPoint)
	case strings.TrimSpace(point.Content) == "":
		return fmt.Errorf("%w: empty content", ErrInvalidPoint)
	case len(point.Dense) == 0:
		return fmt.Errorf("%w: empty dense vector", ErrInvalidPoint)
	}
	return nil
}

// upsertPointWithQuerier writes a point and replaces its sparse terms.
// Point IDs are deterministic, so re-indexing a paper overwrites in place.
func (s *SQLiteStorage) upsertPointWithQuerier(ctx context.Context, q querier, point *Point) error {
	if err := validatePoint(point); err != nil {
		return err
	}

	figures := point.Figures
	if figures == nil {
		figures = []string{}
	}
	figuresJSON, err := json.Marshal(figures)
	if err != nil {
		return fmt.Errorf("failed to encode figures: %w", err)
	}

	if point.CreatedAt.IsZero() {
		point.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO points (id, paper_id, ordinal, section, section_title, section_number,
		                    page_number, figures, content, dense, dimension, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			paper_id = excluded.paper_id,
			ordinal = excluded.ordinal,
			section = excluded.section,
			section_title = excluded.section_title,
			section_number = excluded.section_number,
			page_number = excluded.page_number,
			figures = excluded.figures,
			content = excluded.content,
			dense = excluded.dense,
			dimension = excluded.dimension
	`
	_, err = q.ExecContext(ctx, query,
		point.ID, point.PaperID, point.Ordinal, point.Section, point.SectionTitle,
		point.SectionNumber, point.PageNumber, string(figuresJSON), point.Content,
		serializeVector(point.Dense), len(point.Dense), point.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM sparse_terms WHERE point_id = ?`, point.ID); err != nil {
		return fmt.Errorf("failed to clear sparse terms: %w", err)
	}
	for _, idx := range point.Sparse.Indices() {
		_, err := q.ExecContext(ctx,
			`INSERT INTO sparse_terms (point_id, term_index, tf) VALUES (?, ?, ?)`,
			point.ID, int64(idx), float64(point.Sparse[idx]))
		if err != nil {
			return fmt.Errorf("failed to insert sparse term: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) UpsertPoint(ctx context.Context, point *Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertPointWithQuerier(ctx, tx, point); err != nil {
		return err
	}
	return tx.Commit()
}

// getPointsWithQuerier loads points with their sparse vectors. Missing IDs
// are absent from the result map.
func (s *SQLiteStorage) getPointsWithQuerier(ctx context.Context, q querier, ids []string) (map[string]*Point, error) {
	points := make(map[string]*Point, len(ids))
	if len(ids) == 0 {
		return points, nil
	}

	placeholders, args := inClause(ids)
	query := `
		SELECT id, paper_id, ordinal, section, section_title, section_number,
		       page_number, figures, content, dense, created_at
		FROM points
		WHERE id IN (` + placeholders + `)
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p Point
		var figuresJSON string
		var dense []byte
		if err := rows.Scan(&p.ID, &p.PaperID, &p.Ordinal, &p.Section, &p.SectionTitle,
			&p.SectionNumber, &p.PageNumber, &figuresJSON, &p.Content, &dense, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(figuresJSON), &p.Figures); err != nil {
			return nil, fmt.Errorf("corrupt figures for point %s: %w", p.ID, err)
		}
		p.Dense = deserializeVector(dense)
		p.Sparse = make(sparse.Vector)
		points[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	termRows, err := q.QueryContext(ctx,
		`SELECT point_id, term_index, tf FROM sparse_terms WHERE point_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load sparse terms: %w", err)
	}
	defer func() { _ = termRows.Close() }()

	for termRows.Next() {
		var pointID string
		var idx int64
		var tf float64
		if err := termRows.Scan(&pointID, &idx, &tf); err != nil {
			return nil, err
		}
		if p, ok := points[pointID]; ok {
			p.Sparse[uint32(idx)] = float32(tf)
		}
	}
	return points, termRows.Err()
}

func (s *SQLiteStorage) GetPoints(ctx context.Context, ids []string) (map[string]*Point, error) {
	return s.getPointsWithQuerier(ctx, s.querier(), ids)
}

func (s *SQLiteStorage) listPointIDsWithQuerier(ctx context.Context, q querier, paperID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM points WHERE paper_id = ? ORDER BY ordinal`, paperID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) ListPointIDs(ctx context.Context, paperID string) ([]string, error) {
	return s.listPointIDsWithQuerier(ctx, s.querier(), paperID)
}

func (s *SQLiteStorage) countPointsWithQuerier(ctx context.Context, q querier, paperID string) (int, error) {
	var count int
	var err error
	if paperID == "" {
		err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&count)
	} else {
		err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE paper_id = ?`, paperID).Scan(&count)
	}
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStorage) CountPoints(ctx context.Context, paperID string) (int, error) {
	return s.countPointsWithQuerier(ctx, s.querier(), paperID)
}

// deletePointsExceptWithQuerier removes a paper's points whose IDs are not
// in keep. Sparse terms cascade.
func (s *SQLiteStorage) deletePointsExceptWithQuerier(ctx context.Context, q querier, paperID string, keep []string) (int, error) {
	query := `DELETE FROM points WHERE paper_id = ?`
	args := []interface{}{paperID}
	if len(keep) > 0 {
		placeholders, keepArgs := inClause(keep)
		query += ` AND id NOT IN (` + placeholders + `)`
		args = append(args, keepArgs...)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale points: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) DeletePointsExcept(ctx context.Context, paperID string, keep []string) (int, error) {
	return s.deletePointsExceptWithQuerier(ctx, s.querier(), paperID, keep)
}

// inClause builds "?,?,?" and the matching args
func inClause(values []string) (string, []interface{}) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}
