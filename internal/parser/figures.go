package parser

import (
	"strings"

	"github.com/dshills/paperrag/pkg/types"
)

const (
	pngDataPrefix   = "data:image/png;base64,"
	imageDataPrefix = "data:image/"
)

// figureState is the extractor's position relative to a caption/image pair
type figureState int

const (
	stateText    figureState = iota // ordinary body text
	stateCaption                    // caption seen, waiting for its image
)

// caption is a parsed "figure N: text." line
type caption struct {
	id   string
	text string
	line string
}

// FigureExtractor pulls captioned inline images out of section text
type FigureExtractor struct {
	paperID string
	section string

	state   figureState
	pending caption
	blanks  []string

	out     []string
	figures []types.Figure
}

// ExtractFigures removes caption+image pairs and any stray inline image
// payloads from content. It returns the cleaned content and the figures
// found, in source order.
func ExtractFigures(paperID, section, content string) (string, []types.Figure) {
	fe := &FigureExtractor{paperID: paperID, section: section}
	for _, line := range strings.Split(content, "\n") {
		fe.step(line)
	}
	fe.flushPending()
	return collapseBlankLines(fe.out), fe.figures
}

func (fe *FigureExtractor) step(line string) {
	switch fe.state {
	case stateCaption:
		if strings.TrimSpace(line) == "" {
			fe.blanks = append(fe.blanks, line)
			return
		}
		if data, ok := parsePNGImageLine(line); ok {
			fe.figures = append(fe.figures, types.Figure{
				FigureID: fe.pending.id,
				PaperID:  fe.paperID,
				Section:  fe.section,
				Caption:  fe.pending.text,
				Data:     data,
			})
			fe.reset()
			return
		}
		// Caption without an image is plain text.
		fe.flushPending()
		fe.step(line)
	default:
		if c, ok := parseCaption(line); ok {
			fe.pending = c
			fe.state = stateCaption
			return
		}
		fe.emit(line)
	}
}

// emit writes a text line after removing stray image payloads
func (fe *FigureExtractor) emit(line string) {
	cleaned, removed := stripInlineImages(line)
	if removed > 0 && strings.TrimSpace(cleaned) == "" {
		return
	}
	fe.out = append(fe.out, cleaned)
}

func (fe *FigureExtractor) flushPending() {
	if fe.state != stateCaption {
		return
	}
	line, blanks := fe.pending.line, fe.blanks
	fe.reset()
	fe.emit(line)
	fe.out = append(fe.out, blanks...)
}

func (fe *FigureExtractor) reset() {
	fe.state = stateText
	fe.pending = caption{}
	fe.blanks = nil
}

// parseCaption recognises "Figure 3: Some caption." (case-insensitive,
// optional emphasis markers). The trailing period is dropped.
func parseCaption(line string) (caption, bool) {
	trimmed := strings.Trim(strings.TrimSpace(line), "*_")
	if len(trimmed) < len("figure 1:") || !strings.EqualFold(trimmed[:6], "figure") {
		return caption{}, false
	}
	rest := trimmed[6:]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return caption{}, false
	}
	id, text, found := strings.Cut(rest, ":")
	if !found {
		return caption{}, false
	}
	id = strings.Trim(strings.TrimSpace(id), "*_")
	if id == "" || strings.ContainsAny(id, " \t") {
		return caption{}, false
	}
	text = strings.TrimSpace(strings.TrimLeft(text, "*_"))
	text = strings.TrimSpace(strings.TrimSuffix(text, "."))
	return caption{id: id, text: text, line: line}, true
}

// parsePNGImageLine returns the base64 payload when the whole line is a
// single markdown image with an inline PNG data URI
func parsePNGImageLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "![") || !strings.HasSuffix(trimmed, ")") {
		return "", false
	}
	_, src, found := strings.Cut(trimmed, "](")
	if !found {
		return "", false
	}
	src = strings.TrimSuffix(src, ")")
	if !strings.HasPrefix(src, pngDataPrefix) {
		return "", false
	}
	data := strings.TrimSpace(src[len(pngDataPrefix):])
	if data == "" || strings.ContainsAny(data, " ()") {
		return "", false
	}
	return data, true
}

// stripInlineImages removes every markdown image whose source is a base64
// data URI. An unterminated image consumes the rest of the line.
func stripInlineImages(line string) (string, int) {
	var b strings.Builder
	removed := 0
	rest := line
	for {
		start := strings.Index(rest, "![")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		mid := strings.Index(rest[start:], "](")
		if mid < 0 {
			b.WriteString(rest)
			break
		}
		srcStart := start + mid + 2
		if !strings.HasPrefix(rest[srcStart:], imageDataPrefix) {
			b.WriteString(rest[:srcStart])
			rest = rest[srcStart:]
			continue
		}
		b.WriteString(rest[:start])
		removed++
		end := strings.IndexByte(rest[srcStart:], ')')
		if end < 0 {
			break
		}
		rest = rest[srcStart+end+1:]
	}
	return b.String(), removed
}

// collapseBlankLines joins lines, trimming and squeezing blank-line runs
func collapseBlankLines(lines []string) string {
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
