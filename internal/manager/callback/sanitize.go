package callback

import (
	"path"
	"strings"

	"github.com/runflow/orchestrator/internal/workspace"
)

// defaultIgnoreNames names dropped from a state patch's file_changes
// regardless of which path segment they appear in, mirroring the export
// pipeline's own ignore set (internal/workspace.defaultIgnoreNames) since
// both exist to keep noise out of what the user sees for a run.
var defaultIgnoreNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".claude_data": true,
}

// SanitizeConfig controls which file_changes entries are dropped before a
// state patch is forwarded to the Backend.
type SanitizeConfig struct {
	IgnoreNames map[string]bool
	IgnoreDot   bool
}

// sanitizeStatePatch filters patch.WorkspaceState.FileChanges in place,
// dropping entries whose path normalizes to empty or contains an ignored
// segment, then recomputes the aggregate added/deleted line counts. A nil
// patch or one with no workspace state is returned unchanged.
func sanitizeStatePatch(patch *StatePatch, cfg SanitizeConfig) *StatePatch {
	if patch == nil || patch.WorkspaceState == nil {
		return patch
	}
	ignoreNames := cfg.IgnoreNames
	if ignoreNames == nil {
		ignoreNames = defaultIgnoreNames
	}

	ws := patch.WorkspaceState
	kept := make([]FileChange, 0, len(ws.FileChanges))
	var addedTotal, deletedTotal int

	for _, fc := range ws.FileChanges {
		normalized := workspace.NormalizeManifestPath(fc.Path)
		if normalized == "" {
			continue
		}
		if pathIgnored(normalized, ignoreNames, cfg.IgnoreDot) {
			continue
		}
		fc.Path = normalized
		kept = append(kept, fc)
		addedTotal += fc.AddedLines
		deletedTotal += fc.DeletedLines
	}

	ws.FileChanges = kept
	ws.TotalAddedLines = addedTotal
	ws.TotalDeletedLines = deletedTotal
	return patch
}

// pathIgnored reports whether any segment of a normalized ("/a/b/c") path
// matches an ignored name, or (if ignoreDot) starts with a dot.
func pathIgnored(normalized string, ignoreNames map[string]bool, ignoreDot bool) bool {
	for _, segment := range strings.Split(path.Clean(normalized), "/") {
		if segment == "" {
			continue
		}
		if ignoreNames[segment] {
			return true
		}
		if ignoreDot && strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}
