// Package types provides shared record types for the paperrag ingestion and
// retrieval pipeline.
//
// Each pipeline stage hands the next one an explicit record rather than a
// loosely typed metadata map:
//
//	parser   -> ParsedDocument (Sections, References) + []Figure
//	chunker  -> []Chunk
//	indexer  -> storage.Point (dense + sparse vectors, Chunk payload)
//	searcher -> []SearchResult
//
// # Sections
//
// Section carries both the raw heading text and the classified SectionType:
//
//	sec := types.Section{
//	    Key:    "3.2 ablation study",
//	    Title:  "3.2 Ablation Study",
//	    Number: "3.2",
//	    Type:   types.SectionResults,
//	}
//
// # Errors
//
// Pipeline failures are reported as *PipelineError values whose Kind can be
// matched with errors.Is:
//
//	if errors.Is(err, types.ErrDownload) {
//	    // source unavailable, retry belongs to the caller
//	}
package types
