package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsCreatesNestedDirs(t *testing.T) {
	base := t.TempDir()
	paths := NewPaths(base)

	claudeData, err := paths.ClaudeDataDir("user-1", "session-1", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "user-1", "session-1", "workspace", ".claude_data"), claudeData)

	info, err := os.Stat(claudeData)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPathsWithoutCreateDoesNotMkdir(t *testing.T) {
	base := t.TempDir()
	paths := NewPaths(base)

	dir, err := paths.WorkspaceDir("user-1", "session-1", false)
	require.NoError(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("foo"))
	assert.True(t, ValidName("foo.bar-baz_1"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("."))
	assert.False(t, ValidName(".."))
	assert.False(t, ValidName("foo/bar"))
	assert.False(t, ValidName("foo bar"))
}

func TestWithinRoot(t *testing.T) {
	assert.True(t, WithinRoot("/a/b", "/a/b/c"))
	assert.True(t, WithinRoot("/a/b", "/a/b"))
	assert.False(t, WithinRoot("/a/b", "/a/c"))
	assert.False(t, WithinRoot("/a/b", "/a/b/../../etc"))
}

func TestNormalizeManifestPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"foo/bar", "/foo/bar"},
		{"/foo/bar", "/foo/bar"},
		{`foo\bar`, "/foo/bar"},
		{"foo/../bar", ""},
		{"./foo", ""},
		{"//foo//bar//", "/foo/bar"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeManifestPath(tc.in), "input %q", tc.in)
	}
}
