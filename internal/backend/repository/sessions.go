package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

// CreateSession persists a new session, assigning an ID and timestamps if
// not already set.
func (r *Repository) CreateSession(ctx context.Context, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.Status == "" {
		s.Status = model.SessionPending
	}
	if s.ConfigSnapshot == nil {
		s.ConfigSnapshot = json.RawMessage(`{}`)
	}

	_, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO sessions (id, user_id, sdk_session_id, config_snapshot, state_patch, status,
			workspace_files_prefix, workspace_manifest_key, workspace_archive_key, workspace_export_status,
			title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.UserID, s.SDKSessionID, []byte(s.ConfigSnapshot), nullableJSON(s.StatePatch), s.Status,
		s.WorkspaceFilesPrefix, s.WorkspaceManifestKey, s.WorkspaceArchiveKey, s.WorkspaceExportStatus,
		s.Title, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, or a NotFound apperror if absent.
func (r *Repository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s := &model.Session{}
	err := r.reader().GetContext(ctx, s, r.reader().Rebind(`
		SELECT id, user_id, sdk_session_id, config_snapshot, state_patch, status,
			workspace_files_prefix, workspace_manifest_key, workspace_archive_key, workspace_export_status,
			title, created_at, updated_at
		FROM sessions WHERE id = ?
	`), id)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("session not found")
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// MarkSessionRunning transitions a session to running, called by the
// dispatcher's step 6 ahead of the executor call (step 7) and the run's own
// running transition (step 8, a separate Run-row write via runqueue.Start).
func (r *Repository) MarkSessionRunning(ctx context.Context, id string) error {
	return r.UpdateSessionStatus(ctx, id, model.SessionRunning)
}

// UpdateSessionStatus transitions a session's status and bumps updated_at.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return requireRowsAffected(res, "session")
}

// UpdateSessionStatePatch overwrites a session's accumulated state patch
// (the sanitized diff applied by the callback pipeline).
func (r *Repository) UpdateSessionStatePatch(ctx context.Context, id string, patch json.RawMessage) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE sessions SET state_patch = ?, updated_at = ? WHERE id = ?
	`), []byte(patch), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session state patch: %w", err)
	}
	return requireRowsAffected(res, "session")
}

// UpdateSessionWorkspaceExport records the outcome of a workspace export
// (files prefix, manifest key, archive key, and terminal export status).
func (r *Repository) UpdateSessionWorkspaceExport(ctx context.Context, id, filesPrefix, manifestKey, archiveKey string, status model.WorkspaceExportStatus) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE sessions
		SET workspace_files_prefix = ?, workspace_manifest_key = ?, workspace_archive_key = ?, workspace_export_status = ?, updated_at = ?
		WHERE id = ?
	`), filesPrefix, manifestKey, archiveKey, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session workspace export: %w", err)
	}
	return requireRowsAffected(res, "session")
}

// UpdateSessionWorkspaceExportStatus sets just the export status, leaving
// the files prefix and the manifest and archive keys unchanged.
func (r *Repository) UpdateSessionWorkspaceExportStatus(ctx context.Context, id string, status model.WorkspaceExportStatus) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE sessions SET workspace_export_status = ?, updated_at = ? WHERE id = ?
	`), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session workspace export status: %w", err)
	}
	return requireRowsAffected(res, "session")
}

// UpdateSessionSDKSessionID assigns the session's SDK session id the first
// time a callback derives one; the assignment is one-way (callers should
// only call this when the session's current value is nil).
func (r *Repository) UpdateSessionSDKSessionID(ctx context.Context, id, sdkSessionID string) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE sessions SET sdk_session_id = ?, updated_at = ? WHERE id = ?
	`), sdkSessionID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session sdk_session_id: %w", err)
	}
	return requireRowsAffected(res, "session")
}

// FindSessionBySDKOrID resolves a session by its UUID primary key first,
// falling back to a lookup by sdk_session_id — a callback's `session_id`
// field may carry either, since the executor knows only the SDK session id
// until the Backend's first response tells it the UUID.
func (r *Repository) FindSessionBySDKOrID(ctx context.Context, idOrSDK string) (*model.Session, error) {
	if s, err := r.GetSession(ctx, idOrSDK); err == nil {
		return s, nil
	}

	s := &model.Session{}
	err := r.reader().GetContext(ctx, s, r.reader().Rebind(`
		SELECT id, user_id, sdk_session_id, config_snapshot, state_patch, status,
			workspace_files_prefix, workspace_manifest_key, workspace_archive_key, workspace_export_status,
			title, created_at, updated_at
		FROM sessions WHERE sdk_session_id = ?
	`), idOrSDK)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.NotFound("session not found")
		}
		return nil, fmt.Errorf("find session by sdk session id: %w", err)
	}
	return s, nil
}

// ListSessionsByUser returns a user's sessions ordered most-recent-first.
func (r *Repository) ListSessionsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Session, error) {
	var sessions []*model.Session
	err := r.reader().SelectContext(ctx, &sessions, r.reader().Rebind(`
		SELECT id, user_id, sdk_session_id, config_snapshot, state_patch, status,
			workspace_files_prefix, workspace_manifest_key, workspace_archive_key, workspace_export_status,
			title, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}
