package workspace

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/orchestrator/internal/common/logger"
)

func testExporter(t *testing.T, cfg ExportConfig) *Exporter {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewExporter(nil, cfg, log)
}

func TestShouldSkipDefaultIgnoreNames(t *testing.T) {
	e := testExporter(t, ExportConfig{})

	assert.True(t, e.shouldSkip(".git"))
	assert.True(t, e.shouldSkip("node_modules"))
	assert.True(t, e.shouldSkip(".claude_data"))
	assert.False(t, e.shouldSkip("src"))
}

func TestShouldSkipIgnoreDot(t *testing.T) {
	e := testExporter(t, ExportConfig{IgnoreDot: true})

	assert.True(t, e.shouldSkip(".env"))
	assert.False(t, e.shouldSkip("src"))
}

func TestShouldSkipCustomIgnoreNames(t *testing.T) {
	e := testExporter(t, ExportConfig{IgnoreNames: map[string]bool{"vendor": true}})

	assert.True(t, e.shouldSkip("vendor"))
	assert.False(t, e.shouldSkip(".git")) // custom set replaces the default, doesn't merge
}

func TestBuildZipSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg.js"), []byte("ignored"), 0o644))

	shouldSkip := func(name string) bool { return name == "node_modules" }
	data, err := buildZip(root, shouldSkip)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"main.go"}, names)
}
