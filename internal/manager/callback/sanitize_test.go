package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStatePatchNilInputs(t *testing.T) {
	assert.Nil(t, sanitizeStatePatch(nil, SanitizeConfig{}))

	patch := &StatePatch{CurrentStep: "thinking"}
	assert.Same(t, patch, sanitizeStatePatch(patch, SanitizeConfig{}))
}

func TestSanitizeStatePatchDropsIgnoredNames(t *testing.T) {
	patch := &StatePatch{
		WorkspaceState: &WorkspaceState{
			FileChanges: []FileChange{
				{Path: "/src/main.go", AddedLines: 5, DeletedLines: 1},
				{Path: "/node_modules/pkg/index.js", AddedLines: 100, DeletedLines: 0},
				{Path: "/.git/HEAD", AddedLines: 1, DeletedLines: 0},
			},
		},
	}

	out := sanitizeStatePatch(patch, SanitizeConfig{})

	assert.Len(t, out.WorkspaceState.FileChanges, 1)
	assert.Equal(t, "/src/main.go", out.WorkspaceState.FileChanges[0].Path)
	assert.Equal(t, 5, out.WorkspaceState.TotalAddedLines)
	assert.Equal(t, 1, out.WorkspaceState.TotalDeletedLines)
}

func TestSanitizeStatePatchDropsUnsafePaths(t *testing.T) {
	patch := &StatePatch{
		WorkspaceState: &WorkspaceState{
			FileChanges: []FileChange{
				{Path: "../../etc/passwd", AddedLines: 1},
				{Path: "", AddedLines: 1},
				{Path: "/ok.txt", AddedLines: 2},
			},
		},
	}

	out := sanitizeStatePatch(patch, SanitizeConfig{})

	assert.Len(t, out.WorkspaceState.FileChanges, 1)
	assert.Equal(t, "/ok.txt", out.WorkspaceState.FileChanges[0].Path)
}

func TestSanitizeStatePatchIgnoreDot(t *testing.T) {
	patch := &StatePatch{
		WorkspaceState: &WorkspaceState{
			FileChanges: []FileChange{
				{Path: "/.env", AddedLines: 1},
				{Path: "/src/.hidden/file.go", AddedLines: 1},
				{Path: "/src/main.go", AddedLines: 1},
			},
		},
	}

	out := sanitizeStatePatch(patch, SanitizeConfig{IgnoreDot: true})

	assert.Len(t, out.WorkspaceState.FileChanges, 1)
	assert.Equal(t, "/src/main.go", out.WorkspaceState.FileChanges[0].Path)
}

func TestSanitizeStatePatchCustomIgnoreNames(t *testing.T) {
	patch := &StatePatch{
		WorkspaceState: &WorkspaceState{
			FileChanges: []FileChange{
				{Path: "/vendor/lib.go", AddedLines: 1},
				{Path: "/src/main.go", AddedLines: 1},
			},
		},
	}

	out := sanitizeStatePatch(patch, SanitizeConfig{IgnoreNames: map[string]bool{"vendor": true}})

	assert.Len(t, out.WorkspaceState.FileChanges, 1)
	assert.Equal(t, "/src/main.go", out.WorkspaceState.FileChanges[0].Path)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusComplete.terminal())
	assert.True(t, StatusFailed.terminal())
	assert.False(t, StatusRunning.terminal())
	assert.False(t, StatusAccepted.terminal())
}
