package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperrag/pkg/types"
)

func TestNew(t *testing.T) {
	c := New()
	assert.Equal(t, DefaultChunkSize, c.ChunkSize())
	assert.Equal(t, DefaultChunkOverlap, c.Overlap())

	c = New(WithChunkSize(100), WithOverlap(200))
	assert.Equal(t, 100, c.ChunkSize())
	assert.Equal(t, 25, c.Overlap(), "overlap larger than the window is clamped")

	c = New(WithChunkSize(-1), WithOverlap(-5))
	assert.Equal(t, DefaultChunkSize, c.ChunkSize())
	assert.Equal(t, DefaultChunkOverlap, c.Overlap())
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ")
}

func TestSplitText_ShortTextSingleChunk(t *testing.T) {
	c := New()
	assert.Equal(t, []string{"hello world"}, c.SplitText("  hello world \n"))
	assert.Nil(t, c.SplitText("   "))
}

func TestSplitText_WindowAndOverlap(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(20))
	text := words(200) // 999 characters

	pieces := c.SplitText(text)
	require.Greater(t, len(pieces), 1)

	for i, p := range pieces {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 100, "piece %d too long", i)
		assert.False(t, strings.HasPrefix(p, "ord"), "piece %d starts mid-word", i)
	}

	for i := 1; i < len(pieces); i++ {
		head := strings.Fields(pieces[i])[0]
		tail := pieces[i-1][len(pieces[i-1])-25:]
		assert.Contains(t, tail, head, "piece %d should start inside the previous tail", i)
	}

	// Every word is covered.
	joined := strings.Join(pieces, " ")
	assert.GreaterOrEqual(t, strings.Count(joined, "word"), 200)
}

func TestSplitText_PrefersSentenceBoundary(t *testing.T) {
	c := New(WithChunkSize(60), WithOverlap(0))
	text := "This is the first sentence of text. This is the second sentence that runs on."

	pieces := c.SplitText(text)
	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "This is the first sentence of text.", pieces[0])
}

func TestSplitText_PrefersParagraphBoundary(t *testing.T) {
	c := New(WithChunkSize(60), WithOverlap(0))
	text := "Short paragraph one. Still one.\n\nParagraph two is here and it is long enough."

	pieces := c.SplitText(text)
	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "Short paragraph one. Still one.", pieces[0])
}

func TestSplitText_NoWhitespaceStillProgresses(t *testing.T) {
	c := New(WithChunkSize(10), WithOverlap(3))
	pieces := c.SplitText(strings.Repeat("x", 35))

	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 10)
	}
	assert.Equal(t, strings.Repeat("x", 10), pieces[0])
	assert.Len(t, pieces, 5)
}

func TestChunk_SectionsNeverShareChunks(t *testing.T) {
	doc := &types.ParsedDocument{
		PaperID: "p1",
		Title:   "Paper",
		Sections: []types.Section{
			{Key: "abstract", Title: "Abstract", Type: types.SectionAbstract, Content: "Short abstract."},
			{Key: "3.2 ablation", Title: "3.2 Ablation", Number: "3.2", Type: types.SectionResults, Page: 4, Content: "See Figure 2 and Fig. 3b."},
			{Key: "empty", Title: "Empty", Type: types.SectionOther},
		},
	}

	chunks, err := New().Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, types.Chunk{
		Text:         "Short abstract.",
		PaperID:      "p1",
		Section:      types.SectionAbstract,
		SectionTitle: "Abstract",
		Ordinal:      0,
	}, chunks[0])

	assert.Equal(t, "3.2", chunks[1].SectionNumber)
	assert.Equal(t, "3.2 Ablation", chunks[1].SectionTitle)
	assert.Equal(t, types.SectionResults, chunks[1].Section)
	assert.Equal(t, 4, chunks[1].PageNumber)
	assert.Equal(t, []string{"2", "3"}, chunks[1].Figures)
	assert.Equal(t, 1, chunks[1].Ordinal)
}

func TestChunk_OrdinalsAcrossSections(t *testing.T) {
	c := New(WithChunkSize(50), WithOverlap(10))
	doc := &types.ParsedDocument{
		PaperID: "p1",
		Sections: []types.Section{
			{Title: "A", Content: words(30)},
			{Title: "B", Content: words(30)},
		},
	}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
	}
	assert.Equal(t, "A", chunks[0].SectionTitle)
	assert.Equal(t, "B", chunks[len(chunks)-1].SectionTitle)
}

func TestChunk_FallbackWithoutSections(t *testing.T) {
	doc := &types.ParsedDocument{
		PaperID:  "p1",
		Title:    "",
		Abstract: "The abstract.",
		RawText:  "The whole body.",
	}

	chunks, err := New().Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, types.SectionAbstract, chunks[0].Section)
	assert.Equal(t, "The abstract.", chunks[0].Text)
	assert.Equal(t, types.SectionFullText, chunks[1].Section)
	assert.Equal(t, "The whole body.", chunks[1].Text)
}

func TestChunk_AbstractWithoutSection(t *testing.T) {
	doc := &types.ParsedDocument{
		PaperID:  "p1",
		Abstract: "The abstract.",
		Sections: []types.Section{{Title: "1 Introduction", Type: types.SectionIntroduction, Content: "Intro."}},
	}

	chunks, err := New().Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, types.SectionAbstract, chunks[0].Section)
	assert.Equal(t, "The abstract.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, types.SectionIntroduction, chunks[1].Section)
	assert.Equal(t, 1, chunks[1].Ordinal)

	// An abstract section already carries the text
	doc.Sections = append([]types.Section{{Title: "Abstract", Type: types.SectionAbstract, Content: "The abstract."}}, doc.Sections...)
	chunks, err = New().Chunk(doc)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestChunk_FallbackWhenSectionsEmpty(t *testing.T) {
	doc := &types.ParsedDocument{
		PaperID:  "p1",
		Sections: []types.Section{{Title: "Intro"}},
		RawText:  "body",
	}

	chunks, err := New().Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.SectionFullText, chunks[0].Section)
}

func TestChunk_Errors(t *testing.T) {
	_, err := New().Chunk(nil)
	assert.ErrorIs(t, err, ErrNilDocument)

	_, err = New().Chunk(&types.ParsedDocument{})
	assert.ErrorIs(t, err, types.ErrEmptyPaperID)

	_, err = New().Chunk(&types.ParsedDocument{PaperID: "p1"})
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestFigureMentions(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"no figures here", nil},
		{"As shown in Figure 3(a) and Fig. 4b", []string{"3", "4"}},
		{"Figures 2 and figure 2 again", []string{"2"}},
		{"fig 07", []string{"7"}},
		{"configuration 5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, FigureMentions(tt.text))
		})
	}
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 25, EstimateTokenCount(strings.Repeat("a", 100)))
}
