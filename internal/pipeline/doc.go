// Package pipeline turns ingestion requests into indexed papers.
//
// A request registers a job with the job manager and starts a goroutine
// that waits for admission, then downloads the paper, converts it to
// heading-marked text, parses the outline and figures, chunks the sections
// and writes the chunks to the hybrid index. Each stage is mirrored into the
// durable paper record, which stays authoritative after the in-memory job is
// evicted.
package pipeline
