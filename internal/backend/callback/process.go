package callback

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/backend/repository"
	"github.com/runflow/orchestrator/internal/backend/runqueue"
	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/model"
)

// Broadcaster fans a session or user event out over WebSocket, returning the
// number of clients the event was actually sent to. Implemented by the
// gateway's websocket hub; a Processor built with a nil Broadcaster simply
// skips fan-out (used by tests and offline tooling).
type Broadcaster interface {
	BroadcastSession(sessionID, event string, payload any) int
}

// Processor implements process_agent_callback: persisting everything a
// forwarded executor callback carries and fanning the result out.
type Processor struct {
	repo   *repository.Repository
	runs   *runqueue.Queue
	fanout Broadcaster
	log    *logger.Logger
}

func NewProcessor(repo *repository.Repository, runs *runqueue.Queue, fanout Broadcaster, log *logger.Logger) *Processor {
	return &Processor{repo: repo, runs: runs, fanout: fanout, log: log.WithFields(zap.String("component", "callback-processor"))}
}

// Process persists req against the session/run it names and returns the
// acknowledgement the Manager's HTTP handler replies with.
func (p *Processor) Process(ctx context.Context, req Request) (*Response, error) {
	session, err := p.repo.FindSessionBySDKOrID(ctx, req.SessionID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Code == apperrors.CodeNotFound {
			p.log.Warn("session not found for callback", zap.String("session_id", req.SessionID))
			return &Response{SessionID: req.SessionID, Status: "callback_received", Message: "Session not found yet"}, nil
		}
		return nil, err
	}

	var newMessage map[string]any
	if len(req.NewMessage) > 0 && string(req.NewMessage) != "null" {
		if err := json.Unmarshal(req.NewMessage, &newMessage); err != nil {
			p.log.Warn("callback new_message is not an object", zap.Error(err))
			newMessage = nil
		}
	}

	if err := p.applySessionUpdates(ctx, session, req, newMessage); err != nil {
		return nil, err
	}

	activeRun, err := p.runs.ActiveRunForSession(ctx, session.ID)
	if err != nil {
		p.log.Error("load active run failed", zap.Error(err), zap.String("session_id", session.ID))
	}

	var messageID int64
	if newMessage != nil {
		messageID, err = p.persistMessageAndTools(ctx, session.ID, newMessage)
		if err != nil {
			return nil, err
		}
		p.persistUsage(ctx, session.ID, activeRun, newMessage)
		p.broadcast(session.ID, "message.new", map[string]any{
			"id":           messageID,
			"role":         extractRole(newMessage),
			"content":      newMessage,
			"text_preview": extractTextPreview(contentOf(newMessage)),
			"timestamp":    req.Time,
		})
	}

	if activeRun != nil {
		if err := p.advanceRun(ctx, activeRun, req); err != nil {
			p.log.Error("advance run failed", zap.Error(err), zap.String("session_id", session.ID))
		}
	}

	p.broadcast(session.ID, "session.status", map[string]any{
		"status":       session.Status,
		"progress":     req.Progress,
		"current_step": currentStep(req.StatePatch),
	})
	if req.StatePatch != nil {
		p.broadcast(session.ID, "session.patch", map[string]any{"state_patch": req.StatePatch})
	}
	if req.Status.terminal() {
		p.broadcast(session.ID, "workspace.export", map[string]any{
			"export_status":          session.WorkspaceExportStatus,
			"workspace_manifest_key": session.WorkspaceManifestKey,
			"workspace_files_key":    session.WorkspaceFilesPrefix,
			"workspace_archive_key":  session.WorkspaceArchiveKey,
		})
	}

	return &Response{SessionID: session.ID, Status: string(session.Status), CallbackStatus: req.Status}, nil
}

// Broadcast fans a session event out over WebSocket, for callers outside
// the callback pipeline itself (the user-input-request broker's
// answer/expiry transitions).
func (p *Processor) Broadcast(sessionID, event string, payload any) int {
	return p.broadcast(sessionID, event, payload)
}

func (p *Processor) broadcast(sessionID, event string, payload any) int {
	if p.fanout == nil {
		return 0
	}
	return p.fanout.BroadcastSession(sessionID, event, payload)
}

func currentStep(patch *StatePatch) string {
	if patch == nil {
		return ""
	}
	return patch.CurrentStep
}

func contentOf(message map[string]any) []any {
	content, _ := message["content"].([]any)
	return content
}

// applySessionUpdates persists the sdk_session_id / status / state_patch /
// workspace fields a callback may carry, mutating session in place so later
// steps (fan-out) see the post-update values without a re-read.
func (p *Processor) applySessionUpdates(ctx context.Context, session *model.Session, req Request, newMessage map[string]any) error {
	derivedSDKID := req.SDKSessionID
	if derivedSDKID == "" && newMessage != nil {
		derivedSDKID = extractSDKSessionID(newMessage)
	}
	if derivedSDKID != "" && (session.SDKSessionID == nil || *session.SDKSessionID == "") {
		if err := p.repo.UpdateSessionSDKSessionID(ctx, session.ID, derivedSDKID); err != nil {
			return err
		}
		session.SDKSessionID = &derivedSDKID
		p.log.Info("assigned sdk_session_id", zap.String("session_id", session.ID), zap.String("sdk_session_id", derivedSDKID))
	}

	if req.Status.terminal() {
		newStatus := model.SessionStatus(req.Status)
		if err := p.repo.UpdateSessionStatus(ctx, session.ID, newStatus); err != nil {
			return err
		}
		session.Status = newStatus
	}

	if req.StatePatch != nil {
		patch, err := json.Marshal(req.StatePatch)
		if err != nil {
			return err
		}
		if err := p.repo.UpdateSessionStatePatch(ctx, session.ID, patch); err != nil {
			return err
		}
		session.StatePatch = patch
	}

	if req.WorkspaceFilesPrefix != nil || req.WorkspaceManifestKey != nil || req.WorkspaceArchiveKey != nil || req.WorkspaceExportStatus != nil {
		filesPrefix, manifestKey, archiveKey := session.WorkspaceFilesPrefix, session.WorkspaceManifestKey, session.WorkspaceArchiveKey
		status := session.WorkspaceExportStatus
		if req.WorkspaceFilesPrefix != nil {
			filesPrefix = *req.WorkspaceFilesPrefix
		}
		if req.WorkspaceManifestKey != nil {
			manifestKey = *req.WorkspaceManifestKey
		}
		if req.WorkspaceArchiveKey != nil {
			archiveKey = *req.WorkspaceArchiveKey
		}
		if req.WorkspaceExportStatus != nil {
			status = model.WorkspaceExportStatus(*req.WorkspaceExportStatus)
		}
		if err := p.repo.UpdateSessionWorkspaceExport(ctx, session.ID, filesPrefix, manifestKey, archiveKey, status); err != nil {
			return err
		}
		session.WorkspaceFilesPrefix, session.WorkspaceManifestKey, session.WorkspaceArchiveKey, session.WorkspaceExportStatus = filesPrefix, manifestKey, archiveKey, status
	}

	return nil
}

func (p *Processor) persistMessageAndTools(ctx context.Context, sessionID string, newMessage map[string]any) (int64, error) {
	content := contentOf(newMessage)
	raw, err := json.Marshal(newMessage)
	if err != nil {
		return 0, err
	}

	msg := &model.Message{
		SessionID:   sessionID,
		Role:        extractRole(newMessage),
		Content:     raw,
		TextPreview: extractTextPreview(content),
	}
	if err := p.repo.CreateMessage(ctx, msg); err != nil {
		return 0, err
	}

	for _, block := range extractToolBlocks(content) {
		if block.isUse {
			if err := p.repo.UpsertToolExecutionUse(ctx, sessionID, block.toolUseID, msg.ID, block.toolName, block.toolInput); err != nil {
				p.log.Error("upsert tool execution use failed", zap.Error(err), zap.String("tool_use_id", block.toolUseID))
			}
			continue
		}
		if err := p.repo.UpsertToolExecutionResult(ctx, sessionID, block.toolUseID, msg.ID, block.resultBody, block.isError, nil); err != nil {
			p.log.Error("upsert tool execution result failed", zap.Error(err), zap.String("tool_use_id", block.toolUseID))
		}
	}

	p.log.Info("persisted message", zap.String("session_id", sessionID), zap.Int64("message_id", msg.ID), zap.String("role", string(msg.Role)))
	return msg.ID, nil
}

func (p *Processor) persistUsage(ctx context.Context, sessionID string, activeRun *model.Run, newMessage map[string]any) {
	msgType, _ := newMessage["_type"].(string)
	if !strings.Contains(msgType, "ResultMessage") {
		return
	}
	usage, ok := newMessage["usage"].(map[string]any)
	if !ok || usage == nil {
		return
	}

	usageJSON, err := json.Marshal(usage)
	if err != nil {
		p.log.Error("marshal usage failed", zap.Error(err))
		return
	}

	var totalCost float64
	if v, ok := newMessage["total_cost_usd"].(float64); ok {
		totalCost = v
	}
	var durationMs int64
	if v, ok := newMessage["duration_ms"].(float64); ok {
		durationMs = int64(v)
	}

	entry := &model.UsageLog{
		SessionID:    sessionID,
		TotalCostUSD: totalCost,
		DurationMs:   durationMs,
		Usage:        usageJSON,
		CreatedAt:    time.Now().UTC(),
	}
	if activeRun != nil {
		entry.RunID = &activeRun.ID
	}
	if err := p.repo.CreateUsageLog(ctx, entry); err != nil {
		p.log.Error("persist usage log failed", zap.Error(err), zap.String("session_id", sessionID))
		return
	}
	p.log.Info("persisted usage log", zap.String("session_id", sessionID), zap.Float64("total_cost_usd", totalCost), zap.Int64("duration_ms", durationMs))
}

func (p *Processor) advanceRun(ctx context.Context, run *model.Run, req Request) error {
	var status model.RunStatus
	switch req.Status {
	case StatusRunning:
		status = model.RunRunning
	case StatusComplete:
		status = model.RunCompleted
	case StatusFailed:
		status = model.RunFailed
	default:
		status = run.Status
	}
	return p.runs.AdvanceFromCallback(ctx, run, req.Progress, status)
}
