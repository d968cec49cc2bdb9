package callback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
	"github.com/runflow/orchestrator/internal/manager/containerpool"
	"github.com/runflow/orchestrator/internal/manager/pullloop"
	"github.com/runflow/orchestrator/internal/manager/sessionindex"
	"github.com/runflow/orchestrator/internal/workspace"
)

// Config holds the Handler's static settings.
type Config struct {
	Sanitize      SanitizeConfig
	ScheduleModes []string
}

// Handler processes callbacks an Executor posts to the Manager: sanitizing
// the state patch, forwarding to the Backend, and on terminal status
// kicking off workspace export, releasing the session's container, and
// waking the pull loop.
type Handler struct {
	backend  *backendclient.Client
	pool     *containerpool.Pool
	exporter *workspace.Exporter
	paths    *workspace.Paths
	sessions *sessionindex.Index
	pull     *pullloop.Loop
	cfg      Config
	log      *logger.Logger
}

func NewHandler(
	backend *backendclient.Client,
	pool *containerpool.Pool,
	exporter *workspace.Exporter,
	paths *workspace.Paths,
	sessions *sessionindex.Index,
	pull *pullloop.Loop,
	cfg Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		backend:  backend,
		pool:     pool,
		exporter: exporter,
		paths:    paths,
		sessions: sessions,
		pull:     pull,
		cfg:      cfg,
		log:      log.WithFields(zap.String("component", "manager-callback")),
	}
}

// Process implements the Manager side of the callback pipeline (spec.md
// §4.6 steps 1-4): log, sanitize, forward, and — for a terminal status —
// trigger the background export, release the container, and wake the pull
// loop for the next claim.
func (h *Handler) Process(ctx context.Context, req Request) (*Response, error) {
	h.logReceived(req)

	req.StatePatch = sanitizeStatePatch(req.StatePatch, h.cfg.Sanitize)

	forward := req
	if req.Status.terminal() {
		pending := "pending"
		forward.WorkspaceExportStatus = &pending
	}
	if err := h.backend.PostCallback(ctx, forward); err != nil {
		h.log.Error("forward callback to backend failed", zap.Error(err), zap.String("session_id", req.SessionID))
		return nil, err
	}

	if req.Status.terminal() {
		h.log.Info("task terminal callback received", zap.String("session_id", req.SessionID), zap.String("status", string(req.Status)))
		userID := h.sessions.Get(req.SessionID)
		go h.exportAndForward(context.Background(), req, userID)
		if err := h.pool.OnTaskComplete(ctx, req.SessionID); err != nil {
			h.log.Error("container pool on_task_complete failed", zap.Error(err), zap.String("session_id", req.SessionID))
		}
		h.sessions.Delete(req.SessionID)
		if accepted, debounce := h.pull.Trigger(ctx, h.cfg.ScheduleModes, "task_complete"); !accepted {
			h.log.Debug("pull loop trigger debounced", zap.String("reason", debounce))
		}
	}

	return &Response{Status: "received", SessionID: req.SessionID, CallbackStatus: req.Status, Progress: req.Progress}, nil
}

func (h *Handler) logReceived(req Request) {
	fields := []zap.Field{
		zap.String("session_id", req.SessionID),
		zap.String("status", string(req.Status)),
		zap.Int("progress", req.Progress),
	}
	if req.SDKSessionID != "" {
		fields = append(fields, zap.String("sdk_session_id", req.SDKSessionID))
	}
	if req.Status.terminal() {
		h.log.Info("callback_received", fields...)
	} else {
		h.log.Debug("callback_received", fields...)
	}

	if req.StatePatch != nil {
		todoCount, mcpCount, fileCount := 0, len(req.StatePatch.MCPStatus), 0
		if req.StatePatch.Todos != nil {
			todoCount = len(req.StatePatch.Todos)
		}
		if req.StatePatch.WorkspaceState != nil {
			fileCount = len(req.StatePatch.WorkspaceState.FileChanges)
		}
		h.log.Debug("callback_state_patch_summary",
			zap.String("session_id", req.SessionID),
			zap.Int("todo_count", todoCount),
			zap.Int("mcp_count", mcpCount),
			zap.Int("file_change_count", fileCount),
		)
	}
}

// exportAndForward runs the workspace export in the background and posts a
// second callback carrying its result, matching the Python service's
// asyncio.create_task(self._export_and_forward(callback)) fire-and-forget.
func (h *Handler) exportAndForward(ctx context.Context, req Request, userID string) {
	result := workspace.ExportResult{Status: "failed"}
	if userID != "" {
		workspaceDir, err := h.paths.WorkspaceDir(userID, req.SessionID, false)
		if err != nil {
			h.log.Error("resolve workspace dir for export failed", zap.Error(err), zap.String("session_id", req.SessionID))
		} else {
			result = h.exporter.Export(ctx, req.SessionID, workspaceDir)
		}
	} else {
		h.log.Warn("no known user for session, skipping export", zap.String("session_id", req.SessionID))
	}

	progress := req.Progress
	if req.Status == StatusComplete {
		progress = 100
	}
	status := result.Status
	followUp := Request{
		SessionID:             req.SessionID,
		Time:                  time.Now().UTC(),
		Status:                req.Status,
		Progress:              progress,
		SDKSessionID:          req.SDKSessionID,
		WorkspaceFilesPrefix:  nonEmptyOrNil(result.WorkspaceFilesPrefix),
		WorkspaceManifestKey:  nonEmptyOrNil(result.WorkspaceManifestKey),
		WorkspaceArchiveKey:   nonEmptyOrNil(result.WorkspaceArchiveKey),
		WorkspaceExportStatus: &status,
	}

	if err := h.backend.PostCallback(ctx, followUp); err != nil {
		h.log.Error("workspace export callback forward failed", zap.Error(err), zap.String("session_id", req.SessionID))
	}
}

func nonEmptyOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
