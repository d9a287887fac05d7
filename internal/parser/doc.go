// Package parser turns converted paper text into a structured outline.
//
// Input is markdown-like text in which headings are '#'-prefixed lines, as
// produced by the converters in package convert. Parsing is a line-oriented
// state machine rather than a set of regular expressions:
//
//   - the first heading is the paper title;
//   - every later heading opens a section that captures lines up to the next
//     heading (headings inside fenced code blocks are body text);
//   - a "references" heading is split into one reference per line;
//   - repeated headings keep both captures, the later one keyed "title (2)".
//
// Each section body then passes through the figure extractor, which removes
// "Figure N: caption." lines paired with an inline base64 PNG image and
// returns them as types.Figure records. Any other inline base64 image is
// stripped and discarded so binary payloads never reach the embedder.
//
// # Basic Usage
//
//	res, err := parser.New().Parse("2401.00001", markdown)
//	if err != nil {
//	    return err
//	}
//	for _, sec := range res.Document.Sections {
//	    fmt.Println(sec.Key, sec.Type, sec.Subsection)
//	}
package parser
