// Package searcher retrieves paper chunks by fusing a dense (embedding)
// ranking with a sparse (term overlap) ranking.
//
// Modes:
//   - hybrid: both rankings merged with Reciprocal Rank Fusion (default)
//   - dense: cosine similarity over chunk embeddings, scored as (1+cos)/2
//   - sparse: dot product over hashed term-frequency vectors
//
// # Usage
//
//	s := searcher.NewSearcher(store, emb, &searcher.Config{RRFConstant: 60})
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:    "how are experts routed",
//	    PaperIDs: []string{"2401.12345"},
//	    Section:  "methods",
//	    TopK:     5,
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s %.4f\n", r.Rank, r.Metadata.SectionTitle, r.Score)
//	}
//
// # Fusion
//
// Each ranking fetches 2*TopK candidates. A point at rank r (1-based) in a
// ranking contributes 1/(k+r); contributions from both rankings are summed
// and ties are broken by point ID so the order is deterministic. Fused scores
// only compare within one response.
//
// Both rankings run concurrently under an errgroup. If either fails the
// query fails: a broken backend never masquerades as "no results".
//
// # Filters
//
// PaperIDs matches any of the listed papers. Section matches the chunk's
// section type (abstract, introduction, methods, results, ...). Filters are
// applied inside the storage scan, before ranking.
//
// # Caching
//
// With UseCache set, responses are kept in an expiring LRU keyed by a hash
// of the normalized request. Reindexing a paper purges the cache through
// InvalidateCache.
//
// # Observers
//
// Config.Observer is told about every query: mode, latency, result count,
// whether the cache answered and the error if any. The metrics package
// implements it.
package searcher
