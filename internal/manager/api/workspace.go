package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/workspace"
)

// workspaceStats is the aggregate disk usage the Manager reports for its
// staged session workspaces.
type workspaceStats struct {
	Users      int   `json:"users"`
	Sessions   int   `json:"sessions"`
	TotalBytes int64 `json:"total_bytes"`
}

// WorkspaceStats reports disk usage across every staged user/session
// workspace directory under WORKSPACE_BASE_DIR.
// GET /api/v1/workspace/stats
func (h *Handler) WorkspaceStats(c *gin.Context) {
	users, err := workspace.ListUserDirs(h.paths.BaseDir)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("list workspace users failed", err))
		return
	}

	stats := workspaceStats{Users: len(users)}
	for _, user := range users {
		sessions, err := workspace.ListSessionDirs(h.paths.BaseDir, user)
		if err != nil {
			apperrors.RespondError(c, h.logger, apperrors.Internal("list user sessions failed", err))
			return
		}
		stats.Sessions += len(sessions)
		for _, session := range sessions {
			dir, _ := h.paths.SessionDir(user, session, false)
			size, err := workspace.DirSize(dir)
			if err != nil {
				apperrors.RespondError(c, h.logger, apperrors.Internal("compute session disk usage failed", err))
				return
			}
			stats.TotalBytes += size
		}
	}
	c.JSON(http.StatusOK, stats)
}

// workspaceSessionInfo is one session's disk footprint under a user's
// workspace directory.
type workspaceSessionInfo struct {
	SessionID string `json:"session_id"`
	Bytes     int64  `json:"bytes"`
}

// WorkspaceUserSessions lists the sessions a user has a staged workspace
// directory for, with each one's disk usage.
// GET /api/v1/workspace/users/:user
func (h *Handler) WorkspaceUserSessions(c *gin.Context) {
	user := c.Param("user")
	sessionIDs, err := workspace.ListSessionDirs(h.paths.BaseDir, user)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("list user sessions failed", err))
		return
	}

	out := make([]workspaceSessionInfo, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		dir, _ := h.paths.SessionDir(user, sessionID, false)
		size, err := workspace.DirSize(dir)
		if err != nil {
			apperrors.RespondError(c, h.logger, apperrors.Internal("compute session disk usage failed", err))
			return
		}
		out = append(out, workspaceSessionInfo{SessionID: sessionID, Bytes: size})
	}
	c.JSON(http.StatusOK, out)
}

// WorkspaceArchive forces a session's workspace to be exported to the blob
// store on demand, ahead of (or in addition to) the terminal-callback export.
// POST /api/v1/workspace/archive/:user/:session
func (h *Handler) WorkspaceArchive(c *gin.Context) {
	user, session := c.Param("user"), c.Param("session")
	dir, err := h.paths.WorkspaceDir(user, session, false)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("resolve workspace dir failed", err))
		return
	}
	if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
		apperrors.RespondError(c, h.logger, apperrors.NotFound("session workspace not found"))
		return
	}
	result := h.exporter.Export(c.Request.Context(), session, dir)
	c.JSON(http.StatusOK, result)
}

// WorkspaceDelete removes a session's staged workspace from local disk and
// its exported objects from the blob store.
// DELETE /api/v1/workspace/:user/:session
func (h *Handler) WorkspaceDelete(c *gin.Context) {
	user, session := c.Param("user"), c.Param("session")
	dir, err := h.paths.SessionDir(user, session, false)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("resolve session dir failed", err))
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("remove session workspace failed", err))
		return
	}
	if err := h.store.DeletePrefix(c.Request.Context(), fmt.Sprintf("sessions/%s/", session)); err != nil {
		h.logger.Warn("delete exported session objects failed")
	}
	c.Status(http.StatusNoContent)
}

// WorkspaceFiles serves a session's file tree: the live on-disk workspace if
// the container hasn't been torn down yet, falling back to the exported
// manifest in the blob store (whichever shape it was written in).
// GET /api/v1/workspace/files/:user/:session
func (h *Handler) WorkspaceFiles(c *gin.Context) {
	user, session := c.Param("user"), c.Param("session")
	dir, err := h.paths.WorkspaceDir(user, session, false)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("resolve workspace dir failed", err))
		return
	}

	if _, statErr := os.Stat(dir); statErr == nil {
		files, walkErr := workspace.WalkWorkspaceFiles(dir)
		if walkErr != nil {
			apperrors.RespondError(c, h.logger, apperrors.Internal("walk workspace files failed", walkErr))
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": workspace.BuildTree(files)})
		return
	}

	raw, err := h.readManifest(c.Request.Context(), session)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": workspace.ResolveTree(raw)})
}

// WorkspaceFile serves a single file: directly from disk if the live
// workspace still has it, otherwise as a redirect to a presigned blob-store
// URL for the exported copy.
// GET /api/v1/workspace/file/:user/:session?path=
func (h *Handler) WorkspaceFile(c *gin.Context) {
	user, session := c.Param("user"), c.Param("session")
	path := c.Query("path")
	if path == "" {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("path is required"))
		return
	}
	normalized := workspace.NormalizeManifestPath(path)
	if normalized == "" {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("path is invalid"))
		return
	}

	wsDir, err := h.paths.WorkspaceDir(user, session, false)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.Internal("resolve workspace dir failed", err))
		return
	}
	localPath := wsDir + normalized
	if !workspace.WithinRoot(wsDir, localPath) {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("path escapes workspace root"))
		return
	}
	if _, statErr := os.Stat(localPath); statErr == nil {
		c.File(localPath)
		return
	}

	key := fmt.Sprintf("sessions/%s/files%s", session, normalized)
	url, err := h.store.PresignGetURL(c.Request.Context(), key)
	if err != nil {
		apperrors.RespondError(c, h.logger, apperrors.NotFound("file not found"))
		return
	}
	c.Redirect(http.StatusFound, url)
}

// readManifest fetches and decodes a session's exported manifest.json from
// the blob store, using the fixed key convention Exporter.Export writes to.
func (h *Handler) readManifest(ctx context.Context, session string) (workspace.RawManifest, error) {
	key := fmt.Sprintf("sessions/%s/manifest.json", session)
	body, err := h.store.GetObject(ctx, key)
	if err != nil {
		return workspace.RawManifest{}, apperrors.NotFound("session workspace not found")
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return workspace.RawManifest{}, apperrors.Internal("read manifest failed", err)
	}
	var raw workspace.RawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return workspace.RawManifest{}, apperrors.Internal("decode manifest failed", err)
	}
	return raw, nil
}
