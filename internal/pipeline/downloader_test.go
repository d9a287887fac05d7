package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeArxivID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2512.13672", "2512.13672"},
		{"arxiv:2512.13672", "2512.13672"},
		{"2512.13672v1", "2512.13672"},
		{"https://arxiv.org/abs/2401.0123v3", "2401.0123"},
		{"my-local-paper", "my-local-paper"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeArxivID(tt.in))
		})
	}
}

func TestArxivDownloader(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/pdf/2401.12345.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 fake"))
		case "/pdf/2401.99999.pdf":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>captcha</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	d, err := NewArxivDownloader(ArxivConfig{Dir: dir, BaseURL: srv.URL + "/pdf", RatePerSecond: 1000})
	require.NoError(t, err)
	ctx := context.Background()

	path, err := d.Download(ctx, "arxiv:2401.12345v2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2401.12345.pdf"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	// Cached file is reused without another request.
	_, err = d.Download(ctx, "2401.12345")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = d.Download(ctx, "2401.00000")
	assert.ErrorIs(t, err, ErrPaperNotFound)

	_, err = d.Download(ctx, "2401.99999")
	assert.ErrorIs(t, err, ErrNotPDF)
	_, statErr := os.Stat(filepath.Join(dir, "2401.99999.pdf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalDownloader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2401.00001.md"), []byte("# A"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("%PDF"), 0o600))

	d := &LocalDownloader{Dir: dir}
	ctx := context.Background()

	path, err := d.Download(ctx, "arxiv:2401.00001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2401.00001.md"), path)

	path, err = d.Download(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.pdf"), path)

	_, err = d.Download(ctx, "missing")
	assert.ErrorIs(t, err, ErrPaperNotFound)
}

func TestStaticDownloader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	d := StaticDownloader{"p1": path, "p2": filepath.Join(dir, "gone.pdf")}
	got, err := d.Download(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = d.Download(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrPaperNotFound)
	_, err = d.Download(context.Background(), "p3")
	assert.ErrorIs(t, err, ErrPaperNotFound)
}
