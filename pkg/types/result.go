package types

// ResultMetadata is the chunk metadata returned with a search hit
type ResultMetadata struct {
	PaperID       string   `json:"paper_id"`
	Section       string   `json:"section"`
	SectionTitle  string   `json:"section_title,omitempty"`
	SectionNumber string   `json:"section_number,omitempty"`
	PageNumber    int      `json:"page_number,omitempty"`
	Figures       []string `json:"figures,omitempty"`
}

// SearchResult is one fused search hit
type SearchResult struct {
	PointID  string         `json:"-"`
	Rank     int            `json:"-"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"` // fused relevance, not a raw similarity
	Metadata ResultMetadata `json:"metadata"`
}

// Validate checks the result before it leaves the search engine
func (sr *SearchResult) Validate() error {
	if sr.Metadata.PaperID == "" {
		return ErrEmptyPaperID
	}
	if sr.Content == "" {
		return ErrEmptyContent
	}
	if sr.Score < 0 {
		return ErrInvalidScore
	}
	return nil
}
