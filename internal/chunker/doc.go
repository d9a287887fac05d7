// Package chunker divides parsed papers into overlapping text chunks for
// embedding and search.
//
// Splitting happens in two stages. Sections are chunked independently so a
// chunk never spans two headings; inside a section a sliding window of
// ChunkSize characters advances by ChunkSize-Overlap, with each window end
// pulled back to a paragraph, sentence or word boundary when possible.
//
//	c := chunker.New(chunker.WithChunkSize(1024), chunker.WithOverlap(100))
//	chunks, err := c.Chunk(doc)
//
// Every chunk carries the paper ID, section type, title and number, and the
// figure numbers its text mentions. Documents whose outline has no usable
// text fall back to chunking the abstract and the raw document text.
package chunker
