package chunker

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/dshills/paperrag/pkg/types"
)

const (
	// DefaultChunkSize is the window size in characters
	DefaultChunkSize = 1024

	// DefaultChunkOverlap is the number of characters shared by adjacent chunks
	DefaultChunkOverlap = 100

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

var (
	// ErrNilDocument is returned when Chunk is called without a document
	ErrNilDocument = errors.New("document is nil")
	// ErrNoChunks is returned when neither sections nor fallback text yield a chunk
	ErrNoChunks = errors.New("document produced no chunks")
)

// Chunker splits parsed papers into overlapping text windows
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker
type Option func(*Chunker)

// WithChunkSize sets the window size in characters
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks in characters
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize returns the configured window size
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits a document section by section. Sections never share a chunk.
// An abstract with no section of its own is chunked first. When no section
// yields text, the abstract and the raw document text are chunked instead.
func (c *Chunker) Chunk(doc *types.ParsedDocument) ([]types.Chunk, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if doc.PaperID == "" {
		return nil, types.ErrEmptyPaperID
	}

	b := &builder{paperID: doc.PaperID}
	if hasText(doc.Sections) && !hasAbstract(doc.Sections) {
		for _, piece := range c.SplitText(doc.Abstract) {
			b.add(piece, types.SectionAbstract, "Abstract", "", 0)
		}
	}
	for _, sec := range doc.Sections {
		for _, piece := range c.SplitText(sec.Content) {
			b.add(piece, sec.Type, sec.Title, sec.Number, sec.Page)
		}
	}

	if len(b.chunks) == 0 {
		for _, piece := range c.SplitText(doc.Abstract) {
			b.add(piece, types.SectionAbstract, "Abstract", "", 0)
		}
		for _, piece := range c.SplitText(doc.RawText) {
			b.add(piece, types.SectionFullText, doc.Title, "", 0)
		}
	}

	if len(b.chunks) == 0 {
		return nil, ErrNoChunks
	}
	return b.chunks, nil
}

func hasText(sections []types.Section) bool {
	for _, sec := range sections {
		if strings.TrimSpace(sec.Content) != "" {
			return true
		}
	}
	return false
}

func hasAbstract(sections []types.Section) bool {
	for _, sec := range sections {
		if sec.Type == types.SectionAbstract {
			return true
		}
	}
	return false
}

// builder assigns paper-wide ordinals while chunks are appended
type builder struct {
	paperID string
	chunks  []types.Chunk
}

func (b *builder) add(text string, section types.SectionType, title, number string, page int) {
	b.chunks = append(b.chunks, types.Chunk{
		Text:          text,
		PaperID:       b.paperID,
		Section:       section,
		SectionTitle:  title,
		SectionNumber: number,
		PageNumber:    page,
		Figures:       FigureMentions(text),
		Ordinal:       len(b.chunks),
	})
}

// SplitText applies the sliding window to a single block of text. Window
// ends are pulled back to a paragraph, sentence or word boundary when one
// exists in the second half of the window.
func (c *Chunker) SplitText(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.chunkSize {
		return []string{string(runes)}
	}

	pieces := make([]string, 0, len(runes)/(c.chunkSize-c.overlap)+1)
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = boundary(runes, start, end)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = wordStart(runes, next, end)
	}
	return pieces
}

// boundary returns the best cut position in runes[start:end]
func boundary(runes []rune, start, end int) int {
	floor := start + (end-start)/2

	for i := end; i > floor; i-- {
		if runes[i-1] == '\n' && i >= 2 && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if isSentenceEnd(runes[i-1]) && i < len(runes) && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// wordStart moves pos forward to the beginning of a word, staying before limit
func wordStart(runes []rune, pos, limit int) int {
	for i := pos; i < limit; i++ {
		if i == 0 || unicode.IsSpace(runes[i-1]) {
			if !unicode.IsSpace(runes[i]) {
				return i
			}
		}
	}
	return pos
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

var figureMentionPattern = regexp.MustCompile(`(?i)\bfig(?:ure)?s?\.?\s*(\d+)`)

// FigureMentions returns the main figure numbers referenced in text, in
// order of first mention. "Fig. 4b" and "Figure 4(a)" both yield "4".
func FigureMentions(text string) []string {
	matches := figureMentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimLeft(m[1], "0")
		if id == "" {
			id = "0"
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// EstimateTokenCount estimates token count using the chars/4 heuristic
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
