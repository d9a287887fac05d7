package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeConfig points the database and paper directory into a temp dir
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "paperrag.yaml")
	content := "database:\n  path: " + filepath.Join(dir, "index.db") + "\n" +
		"embedding:\n  provider: local\n" +
		"download:\n  source: local\n  dir: " + filepath.Join(dir, "papers") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "paperrag version test-version-1.0.0")
	assert.Contains(t, out, "SQLite Driver:")
}

func TestIngestQueryAndPapers(t *testing.T) {
	cfg := writeConfig(t)
	file := filepath.Join(t.TempDir(), "paper.md")
	require.NoError(t, os.WriteFile(file, []byte(`# Retrieval With Routers

# Abstract
We route queries to retrieval experts.

# 1 Methods
Each router scores experts with a learned projection.
`), 0o644))

	out, err := execute(t, "--config", cfg, "ingest", "2403.00003", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 2403.00003")

	out, err = execute(t, "--config", cfg, "ingest", "2403.00003", file)
	require.NoError(t, err)
	assert.Contains(t, out, "already ingested")

	out, err = execute(t, "--config", cfg, "query", "router projection", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"paper_id": "2403.00003"`)
	queryJSON = false

	out, err = execute(t, "--config", cfg, "papers")
	require.NoError(t, err)
	assert.Contains(t, out, "2403.00003")
	assert.Contains(t, out, "completed")
}

func TestMigrateStatus(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n b\tc", 10))
	assert.Equal(t, "héll...", snippet("héllo world", 4))
}
