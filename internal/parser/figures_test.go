package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFigures_RoundTrip(t *testing.T) {
	content := "Figure 1: A diagram.\n\n![image](data:image/png;base64,ABC123)"

	cleaned, figs := ExtractFigures("p1", "Methods", content)

	require.Len(t, figs, 1)
	assert.Equal(t, "1", figs[0].FigureID)
	assert.Equal(t, "A diagram", figs[0].Caption)
	assert.Equal(t, "ABC123", figs[0].Data)
	assert.Equal(t, "p1", figs[0].PaperID)
	assert.Equal(t, "Methods", figs[0].Section)
	assert.NotContains(t, cleaned, "Figure 1")
	assert.NotContains(t, cleaned, "ABC123")
	assert.Empty(t, cleaned)
}

func TestExtractFigures_LeftToRight(t *testing.T) {
	content := "intro\nFigure 2: Second.\n![a](data:image/png;base64,B)\nmiddle\nFigure 1: First.\n![b](data:image/png;base64,A)\nend"

	cleaned, figs := ExtractFigures("p1", "s", content)

	require.Len(t, figs, 2)
	assert.Equal(t, "2", figs[0].FigureID)
	assert.Equal(t, "1", figs[1].FigureID)
	assert.Equal(t, "intro\nmiddle\nend", cleaned)
}

func TestExtractFigures_StrayImagesDiscarded(t *testing.T) {
	content := "text before\n![](data:image/jpeg;base64,ZZZ)\ninline ![x](data:image/png;base64,QQQ) kept\n![logo](https://example.com/logo.png)"

	cleaned, figs := ExtractFigures("p1", "s", content)

	assert.Empty(t, figs)
	assert.Equal(t, "text before\ninline  kept\n![logo](https://example.com/logo.png)", cleaned)
}

func TestExtractFigures_CaptionWithoutImage(t *testing.T) {
	content := "Figure 3: Orphan caption.\n\nParagraph."

	cleaned, figs := ExtractFigures("p1", "s", content)

	assert.Empty(t, figs)
	assert.Equal(t, "Figure 3: Orphan caption.\n\nParagraph.", cleaned)
}

func TestExtractFigures_CaptionFollowedByCaption(t *testing.T) {
	content := "Figure 1: No image.\nFigure 2: Has image.\n![i](data:image/png;base64,XYZ)"

	cleaned, figs := ExtractFigures("p1", "s", content)

	require.Len(t, figs, 1)
	assert.Equal(t, "2", figs[0].FigureID)
	assert.Equal(t, "Figure 1: No image.", cleaned)
}

func TestExtractFigures_CaptionThenNonPNG(t *testing.T) {
	content := "Figure 4: A photo.\n![p](data:image/jpeg;base64,JJJ)\nrest"

	cleaned, figs := ExtractFigures("p1", "s", content)

	assert.Empty(t, figs)
	assert.Equal(t, "Figure 4: A photo.\nrest", cleaned)
}

func TestExtractFigures_UnterminatedImage(t *testing.T) {
	cleaned, figs := ExtractFigures("p1", "s", "lead ![x](data:image/png;base64,AAAA")

	assert.Empty(t, figs)
	assert.Equal(t, "lead", cleaned)
}

func TestParseCaption(t *testing.T) {
	tests := []struct {
		line    string
		ok      bool
		id      string
		caption string
	}{
		{"Figure 1: A diagram.", true, "1", "A diagram"},
		{"FIGURE 12: Results", true, "12", "Results"},
		{"**Figure 3:** Bold caption.", true, "3", "Bold caption"},
		{"Figure 2b: Sub.", true, "2b", "Sub"},
		{"Figure 1 shows that: x", false, "", ""},
		{"Figures 1: x", false, "", ""},
		{"Figure: missing id", false, "", ""},
		{"Table 1: not a figure", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, ok := parseCaption(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.id, c.id)
				assert.Equal(t, tt.caption, c.text)
			}
		})
	}
}
