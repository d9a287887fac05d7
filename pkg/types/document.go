package types

import "strings"

// SectionType is the classified role of a section in a paper
type SectionType string

const (
	SectionAbstract     SectionType = "abstract"
	SectionIntroduction SectionType = "introduction"
	SectionMethods      SectionType = "methods"
	SectionResults      SectionType = "results"
	SectionDiscussion   SectionType = "discussion"
	SectionConclusion   SectionType = "conclusion"
	SectionRelatedWork  SectionType = "related_work"
	SectionOther        SectionType = "other"

	// SectionFullText labels chunks produced by the no-heading fallback
	SectionFullText SectionType = "full_text"
)

// ParseSectionType returns the SectionType for s, or SectionOther
func ParseSectionType(s string) SectionType {
	switch t := SectionType(strings.ToLower(strings.TrimSpace(s))); t {
	case SectionAbstract, SectionIntroduction, SectionMethods, SectionResults,
		SectionDiscussion, SectionConclusion, SectionRelatedWork, SectionFullText:
		return t
	default:
		return SectionOther
	}
}

// FigureRef identifies a figure found inside a section
type FigureRef struct {
	ID      string
	Caption string
}

// Section is one heading-delimited part of a paper
type Section struct {
	Key        string // lower-cased heading, unique within the document
	Title      string // raw heading text
	Content    string // body with figure payloads removed
	Type       SectionType
	Number     string // dotted prefix such as "3.2", empty when absent
	Level      int    // number of leading '#'
	Page       int    // page the heading starts on, 0 when unknown
	Subsection bool
	Figures    []FigureRef
}

// ParsedDocument is the immutable result of parsing one paper
type ParsedDocument struct {
	PaperID    string
	Title      string
	Abstract   string
	Sections   []Section
	References []string

	// RawText is the whole converted text with image payloads stripped.
	// Used when the document has no usable headings.
	RawText string
}

// HasSections reports whether the outline produced at least one section
func (d *ParsedDocument) HasSections() bool {
	return len(d.Sections) > 0
}

// Section returns the section with the given key
func (d *ParsedDocument) Section(key string) (Section, bool) {
	for _, s := range d.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return Section{}, false
}

// Figure is an image extracted from a paper. Figure IDs are only unique
// within a paper, so the identity is (FigureID, PaperID).
type Figure struct {
	FigureID string
	PaperID  string
	Section  string
	Caption  string
	Data     string // base64 payload
}

// Validate checks the composite identity and payload
func (f *Figure) Validate() error {
	if f.PaperID == "" {
		return ErrEmptyPaperID
	}
	if f.FigureID == "" {
		return ErrEmptyFigureID
	}
	if f.Data == "" {
		return ErrEmptyContent
	}
	return nil
}
