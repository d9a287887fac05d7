// Package storage provides SQLite-based persistence for ingested papers and
// the hybrid retrieval index.
//
// # Database Schema
//
// Tables:
//   - papers: durable ingestion status per paper (authoritative across restarts)
//   - paper_sections: the parsed section outline, in document order
//   - figures: captioned figures with their base64 PNG payloads
//   - points: one row per chunk with payload and dense vector
//   - sparse_terms: one row per (point, term index) with its term frequency
//
// # Points
//
// Point IDs are deterministic, so re-indexing a paper overwrites its points
// in place. After a successful re-index, DeletePointsExcept removes points
// the new chunking no longer produces.
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	for _, p := range points {
//	    if err := tx.UpsertPoint(ctx, p); err != nil {
//	        return err
//	    }
//	}
//	if _, err := tx.DeletePointsExcept(ctx, paperID, ids); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Search
//
// SearchDense ranks by cosine similarity. SearchSparse ranks by the dot
// product of term frequencies and only returns points sharing a term with
// the query. Both apply SearchFilters in SQL before scoring.
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 and computes
// cosine distance in SQL. The default pure Go build uses modernc.org/sqlite
// and computes similarity in Go.
package storage
