// Package indexer turns paper chunks into retrieval points.
//
// Each chunk gets a dense vector from the configured embedder and a sparse
// term-frequency vector from package sparse. Point IDs are UUIDv5 over the
// paper ID, the chunk ordinal and the first 100 characters of the text, so
// ingesting the same paper twice overwrites instead of duplicating.
//
// Embedding batches run concurrently before any write; all points of one
// call are then written in a single transaction. A failed call leaves no
// partial batch behind.
package indexer
