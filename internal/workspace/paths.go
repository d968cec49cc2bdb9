// Package workspace resolves host-side workspace paths for staged
// session content, builds and reads workspace manifests, and exports a
// container's workspace to the blob store after a run reaches a terminal
// state.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Paths resolves the host-side directory layout a session's workspace is
// staged into before its container is created, and that its container
// bind-mounts at /workspace.
type Paths struct {
	BaseDir string
}

// NewPaths creates a Paths rooted at baseDir (WORKSPACE_BASE_DIR).
func NewPaths(baseDir string) *Paths {
	return &Paths{BaseDir: baseDir}
}

// SessionDir returns (creating if needed) the host directory for a
// session: <base>/<user_id>/<session_id>.
func (p *Paths) SessionDir(userID, sessionID string, create bool) (string, error) {
	dir := filepath.Join(p.BaseDir, userID, sessionID)
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// WorkspaceDir returns <session_dir>/workspace, the directory bind-mounted
// as the container's /workspace.
func (p *Paths) WorkspaceDir(userID, sessionID string, create bool) (string, error) {
	sessionDir, err := p.SessionDir(userID, sessionID, create)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(sessionDir, "workspace")
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ClaudeDataDir returns <workspace>/.claude_data, where skills and slash
// commands are staged for the executor's `~/.claude` symlink to pick up.
func (p *Paths) ClaudeDataDir(userID, sessionID string, create bool) (string, error) {
	wsDir, err := p.WorkspaceDir(userID, sessionID, create)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(wsDir, ".claude_data")
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ListUserDirs returns the user ids with a staged workspace directory under
// baseDir, used by the Manager's workspace stats/listing surface.
func ListUserDirs(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	return users, nil
}

// ListSessionDirs returns the session ids staged under a user's workspace
// directory.
func ListSessionDirs(baseDir, userID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(baseDir, userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, e := range entries {
		if e.IsDir() {
			sessions = append(sessions, e.Name())
		}
	}
	return sessions, nil
}

// DirSize returns the total size in bytes of every regular file under dir,
// or 0 if dir doesn't exist.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidName rejects names that aren't safe single path segments — used for
// skill names, slash command names, and attachment ids before they're
// joined into a filesystem path.
func ValidName(name string) bool {
	if name == "." || name == ".." || name == "" {
		return false
	}
	return safeNamePattern.MatchString(name)
}

// WithinRoot reports whether target (already Clean/Abs) is inside root.
func WithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// NormalizeManifestPath cleans an export-relative path the way file-tree
// construction requires: forward slashes, leading "/", and no "." or ".."
// segments. Returns "" if the path is unsafe.
func NormalizeManifestPath(path string) string {
	if path == "" {
		return ""
	}
	normalized := strings.TrimSpace(strings.ReplaceAll(path, "\\", "/"))
	if normalized == "" {
		return ""
	}
	normalized = "/" + strings.TrimLeft(normalized, "/")

	var parts []string
	for _, part := range strings.Split(normalized, "/") {
		if part == "" {
			continue
		}
		if part == "." || part == ".." {
			return ""
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return ""
	}
	return "/" + strings.Join(parts, "/")
}
