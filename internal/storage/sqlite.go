package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/paperrag/internal/sparse"
	"github.com/dshills/paperrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidPoint is returned when a point is missing required fields
	ErrInvalidPoint = errors.New("invalid point")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the applied schema version
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (string, error) {
	return SchemaVersion(ctx, s.db)
}

// RollbackMigration reverts the most recent migration
func (s *SQLiteStorage) RollbackMigration(ctx context.Context) error {
	return RollbackMigration(ctx, s.db)
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction. Every method runs on the transaction:
// the pool holds a single connection, so touching s.db here would block.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Paper operations

func (s *SQLiteStorage) upsertPaperWithQuerier(ctx context.Context, q querier, paper *Paper) error {
	if paper.PaperID == "" {
		return types.ErrEmptyPaperID
	}
	if paper.Status == "" {
		paper.Status = PaperPending
	}

	query := `
		INSERT INTO papers (paper_id, title, status, chunk_count, pdf_path, error_message,
		                    ingested_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(paper_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE papers.title END,
			status = excluded.status,
			chunk_count = excluded.chunk_count,
			pdf_path = CASE WHEN excluded.pdf_path != '' THEN excluded.pdf_path ELSE papers.pdf_path END,
			error_message = excluded.error_message,
			ingested_at = excluded.ingested_at,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	var ingestedAt sql.NullTime
	if !paper.IngestedAt.IsZero() {
		ingestedAt = sql.NullTime{Time: paper.IngestedAt, Valid: true}
	}

	_, err := q.ExecContext(ctx, query,
		paper.PaperID, paper.Title, string(paper.Status), paper.ChunkCount, paper.PDFPath,
		paper.ErrorMessage, ingestedAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert paper: %w", err)
	}
	if paper.CreatedAt.IsZero() {
		paper.CreatedAt = now
	}
	paper.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertPaper(ctx context.Context, paper *Paper) error {
	return s.upsertPaperWithQuerier(ctx, s.querier(), paper)
}

const paperColumns = `paper_id, title, status, chunk_count, pdf_path, error_message,
	ingested_at, created_at, updated_at`

func scanPaper(scan func(dest ...interface{}) error) (*Paper, error) {
	var p Paper
	var status string
	var ingestedAt sql.NullTime
	if err := scan(&p.PaperID, &p.Title, &status, &p.ChunkCount, &p.PDFPath, &p.ErrorMessage,
		&ingestedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = PaperStatus(status)
	if ingestedAt.Valid {
		p.IngestedAt = ingestedAt.Time
	}
	return &p, nil
}

func (s *SQLiteStorage) getPaperWithQuerier(ctx context.Context, q querier, paperID string) (*Paper, error) {
	row := q.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE paper_id = ?`, paperID)
	p, err := scanPaper(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStorage) GetPaper(ctx context.Context, paperID string) (*Paper, error) {
	return s.getPaperWithQuerier(ctx, s.querier(), paperID)
}

func (s *SQLiteStorage) listPapersWithQuerier(ctx context.Context, q querier) ([]*Paper, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+paperColumns+` FROM papers ORDER BY created_at, paper_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	papers := make([]*Paper, 0)
	for rows.Next() {
		p, err := scanPaper(rows.Scan)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

func (s *SQLiteStorage) ListPapers(ctx context.Context) ([]*Paper, error) {
	return s.listPapersWithQuerier(ctx, s.querier())
}

// deletePaperWithQuerier removes a paper and everything derived from it
func (s *SQLiteStorage) deletePaperWithQuerier(ctx context.Context, q querier, paperID string) error {
	statements := []string{
		`DELETE FROM points WHERE paper_id = ?`,
		`DELETE FROM figures WHERE paper_id = ?`,
		`DELETE FROM paper_sections WHERE paper_id = ?`,
		`DELETE FROM papers WHERE paper_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := q.ExecContext(ctx, stmt, paperID); err != nil {
			return fmt.Errorf("failed to delete paper: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) DeletePaper(ctx context.Context, paperID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deletePaperWithQuerier(ctx, tx, paperID); err != nil {
		return err
	}
	return tx.Commit()
}

// Outline operations

func (s *SQLiteStorage) replaceSectionsWithQuerier(ctx context.Context, q querier, paperID string, sections []types.Section) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM paper_sections WHERE paper_id = ?`, paperID); err != nil {
		return fmt.Errorf("failed to clear sections: %w", err)
	}

	query := `
		INSERT INTO paper_sections (paper_id, ordinal, section_key, title, section_type,
		                            section_number, level, is_subsection, page, figure_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, sec := range sections {
		_, err := q.ExecContext(ctx, query,
			paperID, i, sec.Key, sec.Title, string(sec.Type), sec.Number,
			sec.Level, sec.Subsection, sec.Page, len(sec.Figures))
		if err != nil {
			return fmt.Errorf("failed to insert section %q: %w", sec.Key, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) ReplaceSections(ctx context.Context, paperID string, sections []types.Section) error {
	return s.replaceSectionsWithQuerier(ctx, s.querier(), paperID, sections)
}

// listSectionsWithQuerier returns the stored outline. Content is not
// persisted; it lives in the indexed points.
func (s *SQLiteStorage) listSectionsWithQuerier(ctx context.Context, q querier, paperID string) ([]types.Section, error) {
	query := `
		SELECT section_key, title, section_type, section_number, level, is_subsection, page
		FROM paper_sections
		WHERE paper_id = ?
		ORDER BY ordinal
	`
	rows, err := q.QueryContext(ctx, query, paperID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sections := make([]types.Section, 0)
	for rows.Next() {
		var sec types.Section
		var sectionType string
		if err := rows.Scan(&sec.Key, &sec.Title, &sectionType, &sec.Number,
			&sec.Level, &sec.Subsection, &sec.Page); err != nil {
			return nil, err
		}
		sec.Type = types.ParseSectionType(sectionType)
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

func (s *SQLiteStorage) ListSections(ctx context.Context, paperID string) ([]types.Section, error) {
	return s.listSectionsWithQuerier(ctx, s.querier(), paperID)
}

// Figure operations

func (s *SQLiteStorage) upsertFigureWithQuerier(ctx context.Context, q querier, figure *types.Figure) error {
	if err := figure.Validate(); err != nil {
		return fmt.Errorf("invalid figure: %w", err)
	}
	query := `
		INSERT INTO figures (paper_id, figure_id, section, caption, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(paper_id, figure_id) DO UPDATE SET
			section = excluded.section,
			caption = excluded.caption,
			data = excluded.data
	`
	_, err := q.ExecContext(ctx, query,
		figure.PaperID, figure.FigureID, figure.Section, figure.Caption, figure.Data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert figure: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertFigure(ctx context.Context, figure *types.Figure) error {
	return s.upsertFigureWithQuerier(ctx, s.querier(), figure)
}

func (s *SQLiteStorage) getFigureWithQuerier(ctx context.Context, q querier, paperID, figureID string) (*types.Figure, error) {
	query := `
		SELECT figure_id, paper_id, section, caption, data
		FROM figures
		WHERE paper_id = ? AND figure_id = ?
	`
	var f types.Figure
	err := q.QueryRowContext(ctx, query, paperID, figureID).Scan(
		&f.FigureID, &f.PaperID, &f.Section, &f.Caption, &f.Data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStorage) GetFigure(ctx context.Context, paperID, figureID string) (*types.Figure, error) {
	return s.getFigureWithQuerier(ctx, s.querier(), paperID, strings.TrimSpace(figureID))
}

func (s *SQLiteStorage) listFiguresWithQuerier(ctx context.Context, q querier, paperID string) ([]FigureInfo, error) {
	// Figure IDs are text; order numerically when they are numbers.
	query := `
		SELECT figure_id, paper_id, section, caption, length(data)
		FROM figures
		WHERE paper_id = ?
		ORDER BY CAST(figure_id AS INTEGER), figure_id
	`
	rows, err := q.QueryContext(ctx, query, paperID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	figures := make([]FigureInfo, 0)
	for rows.Next() {
		var f FigureInfo
		if err := rows.Scan(&f.FigureID, &f.PaperID, &f.Section, &f.Caption, &f.SizeB64); err != nil {
			return nil, err
		}
		figures = append(figures, f)
	}
	return figures, rows.Err()
}

func (s *SQLiteStorage) ListFigures(ctx context.Context, paperID string) ([]FigureInfo, error) {
	return s.listFiguresWithQuerier(ctx, s.querier(), paperID)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	status := &IndexStatus{BuildMode: BuildMode}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM papers`, &status.PapersCount},
		{`SELECT COUNT(*) FROM papers WHERE status = 'completed'`, &status.CompletedCount},
		{`SELECT COUNT(*) FROM papers WHERE status = 'failed'`, &status.FailedCount},
		{`SELECT COUNT(*) FROM points`, &status.PointsCount},
		{`SELECT COUNT(*) FROM figures`, &status.FiguresCount},
		{`SELECT COUNT(*) FROM sparse_terms`, &status.TermsCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to read status: %w", err)
		}
	}

	var pageCount, pageSize int
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		PointsAvailable:     status.PointsCount > 0,
		VectorExtensionUsed: VectorExtensionAvailable,
	}
	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations

func (t *sqliteTx) UpsertPaper(ctx context.Context, paper *Paper) error {
	return t.storage.upsertPaperWithQuerier(ctx, t.querier(), paper)
}

func (t *sqliteTx) GetPaper(ctx context.Context, paperID string) (*Paper, error) {
	return t.storage.getPaperWithQuerier(ctx, t.querier(), paperID)
}

func (t *sqliteTx) ListPapers(ctx context.Context) ([]*Paper, error) {
	return t.storage.listPapersWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DeletePaper(ctx context.Context, paperID string) error {
	return t.storage.deletePaperWithQuerier(ctx, t.querier(), paperID)
}

func (t *sqliteTx) ReplaceSections(ctx context.Context, paperID string, sections []types.Section) error {
	return t.storage.replaceSectionsWithQuerier(ctx, t.querier(), paperID, sections)
}

func (t *sqliteTx) ListSections(ctx context.Context, paperID string) ([]types.Section, error) {
	return t.storage.listSectionsWithQuerier(ctx, t.querier(), paperID)
}

func (t *sqliteTx) UpsertFigure(ctx context.Context, figure *types.Figure) error {
	return t.storage.upsertFigureWithQuerier(ctx, t.querier(), figure)
}

func (t *sqliteTx) GetFigure(ctx context.Context, paperID, figureID string) (*types.Figure, error) {
	return t.storage.getFigureWithQuerier(ctx, t.querier(), paperID, strings.TrimSpace(figureID))
}

func (t *sqliteTx) ListFigures(ctx context.Context, paperID string) ([]FigureInfo, error) {
	return t.storage.listFiguresWithQuerier(ctx, t.querier(), paperID)
}

func (t *sqliteTx) UpsertPoint(ctx context.Context, point *Point) error {
	return t.storage.upsertPointWithQuerier(ctx, t.querier(), point)
}

func (t *sqliteTx) GetPoints(ctx context.Context, ids []string) (map[string]*Point, error) {
	return t.storage.getPointsWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) ListPointIDs(ctx context.Context, paperID string) ([]string, error) {
	return t.storage.listPointIDsWithQuerier(ctx, t.querier(), paperID)
}

func (t *sqliteTx) CountPoints(ctx context.Context, paperID string) (int, error) {
	return t.storage.countPointsWithQuerier(ctx, t.querier(), paperID)
}

func (t *sqliteTx) DeletePointsExcept(ctx context.Context, paperID string, keep []string) (int, error) {
	return t.storage.deletePointsExceptWithQuerier(ctx, t.querier(), paperID, keep)
}

func (t *sqliteTx) SearchDense(ctx context.Context, vector []float32, limit int, filters *SearchFilters) ([]DenseResult, error) {
	return searchDense(ctx, t.querier(), vector, limit, filters)
}

func (t *sqliteTx) SearchSparse(ctx context.Context, vector sparse.Vector, limit int, filters *SearchFilters) ([]SparseResult, error) {
	return searchSparse(ctx, t.querier(), vector, limit, filters)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite has no nested transactions; savepoints are not used here
	return nil, errors.New("nested transactions not supported")
}
