package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dshills/paperrag/pkg/types"
)

var (
	// ErrEmptyDocument is returned when the converted text has no content
	ErrEmptyDocument = errors.New("document has no text")
)

const referencesHeading = "references"

// Result is the output of parsing one document
type Result struct {
	Document *types.ParsedDocument
	Figures  []types.Figure
}

// Parser turns converted paper text into an outline of sections
type Parser struct {
	abstract string
}

// Option configures a parse call
type Option func(*Parser)

// WithAbstract supplies an abstract known from paper metadata. It is used
// when the document has no abstract heading of its own.
func WithAbstract(abstract string) Option {
	return func(p *Parser) {
		p.abstract = strings.TrimSpace(abstract)
	}
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseFile reads a markdown file and parses it
func (p *Parser) ParseFile(paperID, path string, opts ...Option) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.Parse(paperID, string(content), opts...)
}

// Parse builds the section outline and extracts figures. A document without
// headings is not an error: the result has no sections and callers fall back
// to the abstract and raw text.
func (p *Parser) Parse(paperID, text string, opts ...Option) (*Result, error) {
	if paperID == "" {
		return nil, types.ErrEmptyPaperID
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	cfg := *p
	for _, opt := range opts {
		opt(&cfg)
	}

	ol := scanOutline(text)
	doc := &types.ParsedDocument{
		PaperID:  paperID,
		Title:    ol.title,
		Sections: make([]types.Section, 0, len(ol.headings)),
	}
	var figures []types.Figure
	seenFigures := make(map[string]bool)

	for _, h := range ol.headings {
		content := strings.Join(h.lines, "\n")

		if _, rest := SplitSectionNumber(h.key); rest == referencesHeading {
			doc.References = append(doc.References, splitReferences(content)...)
			continue
		}

		cleaned, figs := ExtractFigures(paperID, h.title, content)
		number, _ := SplitSectionNumber(h.title)
		sec := types.Section{
			Key:        h.key,
			Title:      h.title,
			Content:    cleaned,
			Type:       ClassifySection(h.title),
			Number:     number,
			Level:      h.level,
			Page:       h.page,
			Subsection: IsSubsection(h.title),
		}
		for _, f := range figs {
			sec.Figures = append(sec.Figures, types.FigureRef{ID: f.FigureID, Caption: f.Caption})
			if seenFigures[f.FigureID] {
				continue
			}
			seenFigures[f.FigureID] = true
			figures = append(figures, f)
		}
		if sec.Type == types.SectionAbstract && doc.Abstract == "" {
			doc.Abstract = cleaned
		}
		doc.Sections = append(doc.Sections, sec)
	}

	if doc.Abstract == "" {
		doc.Abstract = cfg.abstract
	}
	if doc.Abstract == "" {
		doc.Abstract, _ = ExtractFigures(paperID, "", strings.Join(ol.preamble, "\n"))
	}
	doc.RawText, _ = ExtractFigures(paperID, "", strings.ReplaceAll(text, "\f", ""))

	return &Result{Document: doc, Figures: figures}, nil
}

// splitReferences returns one reference per non-blank line
func splitReferences(content string) []string {
	var refs []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if line == "" {
			continue
		}
		refs = append(refs, line)
	}
	return refs
}
