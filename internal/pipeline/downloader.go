package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrPaperNotFound is returned when no source has the paper
	ErrPaperNotFound = errors.New("paper source not found")
	// ErrNotPDF is returned when the source answers with something else
	ErrNotPDF = errors.New("response is not a PDF")
)

const (
	DefaultArxivURL        = "https://arxiv.org/pdf/"
	DefaultDownloadTimeout = 60 * time.Second
	defaultArxivRate       = 1.0 / 3.0
)

// Downloader supplies a local file for a paper id
type Downloader interface {
	Download(ctx context.Context, paperID string) (path string, err error)
}

var arxivIDPattern = regexp.MustCompile(`(\d{4}\.\d{4,5})(v\d+)?`)

// NormalizeArxivID extracts the bare arXiv id from forms like
// "arxiv:2401.12345v2". Ids that don't look like arXiv ids are returned as is.
func NormalizeArxivID(paperID string) string {
	if m := arxivIDPattern.FindStringSubmatch(paperID); m != nil {
		return m[1]
	}
	return paperID
}

// ArxivDownloader fetches PDFs from arXiv into a local directory. Files
// already present are reused.
type ArxivDownloader struct {
	dir     string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// ArxivConfig configures an ArxivDownloader
type ArxivConfig struct {
	Dir           string
	BaseURL       string
	RatePerSecond float64
	HTTPClient    *http.Client
}

// NewArxivDownloader creates the download directory and the rate limiter
func NewArxivDownloader(cfg ArxivConfig) (*ArxivDownloader, error) {
	if cfg.Dir == "" {
		return nil, errors.New("download directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArxivURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultArxivRate
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	return &ArxivDownloader{
		dir:     cfg.Dir,
		baseURL: cfg.BaseURL,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

// Path returns where the paper's PDF is stored locally
func (d *ArxivDownloader) Path(paperID string) string {
	return filepath.Join(d.dir, NormalizeArxivID(paperID)+".pdf")
}

// Download implements Downloader
func (d *ArxivDownloader) Download(ctx context.Context, paperID string) (string, error) {
	path := d.Path(paperID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := d.baseURL + NormalizeArxivID(paperID) + ".pdf"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrPaperNotFound, url)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "pdf") {
		return "", fmt.Errorf("%w: %s", ErrNotPDF, ct)
	}

	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write pdf: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store pdf: %w", err)
	}

	log.Printf("pipeline: downloaded %s to %s", url, path)
	return path, nil
}

// localExtensions are tried in order by LocalDownloader
var localExtensions = []string{".pdf", ".md", ".markdown", ".txt"}

// LocalDownloader finds papers already present in a directory, named
// <paper id> plus a known extension
type LocalDownloader struct {
	Dir string
}

// Download implements Downloader
func (d *LocalDownloader) Download(ctx context.Context, paperID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, name := range []string{paperID, NormalizeArxivID(paperID)} {
		for _, ext := range localExtensions {
			path := filepath.Join(d.Dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrPaperNotFound, paperID, d.Dir)
}

// StaticDownloader serves explicitly provided files
type StaticDownloader map[string]string

// Download implements Downloader
func (d StaticDownloader) Download(ctx context.Context, paperID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, ok := d[paperID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPaperNotFound, paperID)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaperNotFound, err)
	}
	return path, nil
}
