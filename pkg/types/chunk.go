package types

// Chunk is a bounded span of a section, the unit of indexing and retrieval
type Chunk struct {
	Text          string
	PaperID       string
	Section       SectionType
	SectionTitle  string
	SectionNumber string
	PageNumber    int // 0 when unknown

	// Figures lists figure IDs mentioned in Text
	Figures []string

	// Ordinal is the chunk's position within the paper
	Ordinal int
}

// Validate checks that the chunk can be indexed
func (c *Chunk) Validate() error {
	if c.PaperID == "" {
		return ErrEmptyPaperID
	}
	if c.Text == "" {
		return ErrEmptyContent
	}
	return nil
}

// Prefix returns up to n leading runes of the chunk text
func (c *Chunk) Prefix(n int) string {
	runes := []rune(c.Text)
	if len(runes) <= n {
		return c.Text
	}
	return string(runes[:n])
}
