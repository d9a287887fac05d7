package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither PDF nor markdown
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrNoText is returned when conversion yields no text
	ErrNoText = errors.New("conversion produced no text")
)

const mimePDF = "application/pdf"

// Converter turns a downloaded paper into markdown-ish text whose headings
// the parser can outline
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// Auto picks a converter by file extension
type Auto struct {
	PDF      Converter
	Markdown Converter
}

// NewAuto returns the default converter set
func NewAuto() *Auto {
	return &Auto{PDF: &PDF{}, Markdown: &Markdown{}}
}

// Convert implements Converter
func (a *Auto) Convert(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return a.PDF.Convert(ctx, path)
	case ".md", ".markdown", ".txt":
		return a.Markdown.Convert(ctx, path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Markdown reads already converted text as is
type Markdown struct{}

// Convert implements Converter
func (m *Markdown) Convert(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", ErrNoText
	}
	return string(data), nil
}

// PDF extracts text with docconv and promotes section-like lines to
// markdown headings. Page breaks are kept as form feeds.
type PDF struct {
	// KeepPlain disables heading promotion
	KeepPlain bool
}

// Convert implements Converter
func (p *PDF) Convert(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	res, err := docconv.Convert(bytes.NewReader(data), mimePDF, false)
	if err != nil {
		return "", fmt.Errorf("docconv: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Body) == "" {
		return "", ErrNoText
	}

	if p.KeepPlain {
		return res.Body, nil
	}
	return PromoteHeadings(res.Body), nil
}
