// Package figures resolves <figure:ID> markers in answer text against the
// figures stored for a paper.
package figures

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/paperrag/internal/storage"
	"github.com/dshills/paperrag/pkg/types"
)

const (
	markerOpen  = "<figure:"
	markerClose = ">"

	// NotFound replaces markers whose figure isn't stored
	NotFound = "[Figure not found]"
)

// Getter is the storage subset Render needs
type Getter interface {
	GetFigure(ctx context.Context, paperID, figureID string) (*types.Figure, error)
}

// Markers returns the figure IDs referenced in text, in order, without
// duplicates
func Markers(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	scanMarkers(text, func(id string) string {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return ""
	})
	return ids
}

// Render replaces every <figure:ID> marker with the figure's inline image
// and caption. Unknown figures render as NotFound; storage failures abort.
func Render(ctx context.Context, store Getter, paperID, text string) (string, error) {
	if !strings.Contains(text, markerOpen) {
		return text, nil
	}

	resolved := make(map[string]string)
	for _, id := range Markers(text) {
		fig, err := store.GetFigure(ctx, paperID, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			resolved[id] = NotFound
		case err != nil:
			return "", fmt.Errorf("failed to load figure %s: %w", id, err)
		default:
			resolved[id] = Markdown(fig)
		}
	}

	return scanMarkers(text, func(id string) string { return resolved[id] }), nil
}

// Markdown renders a figure as an inline PNG followed by its caption
func Markdown(fig *types.Figure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "![Figure %s](data:image/png;base64,%s)", fig.FigureID, fig.Data)
	if fig.Caption != "" {
		fmt.Fprintf(&b, "\n*Figure %s: %s*", fig.FigureID, fig.Caption)
	}
	return b.String()
}

// scanMarkers walks text and substitutes each well-formed marker with
// replace(id). Malformed markers are copied through.
func scanMarkers(text string, replace func(id string) string) string {
	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, markerOpen)
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		after := rest[start+len(markerOpen):]
		end := strings.Index(after, markerClose)
		id := ""
		if end >= 0 {
			id = strings.TrimSpace(after[:end])
		}
		if id == "" || strings.ContainsAny(id, " \t\n<") {
			b.WriteString(markerOpen)
			rest = after
			continue
		}
		b.WriteString(replace(id))
		rest = after[end+len(markerClose):]
	}
}
