package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTreeFoldersFirstThenAlphabetical(t *testing.T) {
	files := []ManifestFile{
		{Path: "/README.md"},
		{Path: "/src/main.go"},
		{Path: "/src/util/helpers.go"},
		{Path: "/src/Apple.go"},
		{Path: "/assets/logo.png"},
	}

	tree := BuildTree(files)

	require.Len(t, tree, 3)
	assert.Equal(t, "folder", tree[0].Type)
	assert.Equal(t, "assets", tree[0].Name)
	assert.Equal(t, "folder", tree[1].Type)
	assert.Equal(t, "src", tree[1].Name)
	assert.Equal(t, "file", tree[2].Type)
	assert.Equal(t, "README.md", tree[2].Name)

	src := tree[1]
	require.Len(t, src.Children, 3)
	assert.Equal(t, "folder", src.Children[0].Type)
	assert.Equal(t, "util", src.Children[0].Name)
	assert.Equal(t, "Apple.go", src.Children[1].Name)
	assert.Equal(t, "main.go", src.Children[2].Name)
}

func TestBuildTreeSkipsUnsafePaths(t *testing.T) {
	files := []ManifestFile{
		{Path: "../../etc/passwd"},
		{Path: ""},
		{Path: "/ok.txt"},
	}

	tree := BuildTree(files)

	require.Len(t, tree, 1)
	assert.Equal(t, "ok.txt", tree[0].Name)
}

func TestFindFile(t *testing.T) {
	files := []ManifestFile{
		{Path: "/src/main.go", Key: "sessions/1/src/main.go", Size: 42},
	}

	found, ok := FindFile(files, "src/main.go")
	require.True(t, ok)
	assert.Equal(t, "sessions/1/src/main.go", found.Key)
	assert.Equal(t, int64(42), found.Size)

	_, ok = FindFile(files, "missing.go")
	assert.False(t, ok)

	_, ok = FindFile(files, "../../etc/passwd")
	assert.False(t, ok)
}
