package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

// CreateUserInputRequest persists a mid-run question raised by the executor.
func (r *Repository) CreateUserInputRequest(ctx context.Context, req *model.UserInputRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = model.UserInputPending
	}
	_, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO user_input_requests (id, session_id, tool_name, tool_input, status, answers, expires_at, answered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), req.ID, req.SessionID, req.ToolName, []byte(req.ToolInput), req.Status, nullableJSON(req.Answers), req.ExpiresAt, req.AnsweredAt, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user input request: %w", err)
	}
	return nil
}

// AnswerUserInputRequest records the answer and transitions the request to
// its terminal status (answered or expired).
func (r *Repository) AnswerUserInputRequest(ctx context.Context, id string, status model.UserInputRequestStatus, answers []byte) error {
	now := time.Now().UTC()
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE user_input_requests SET status = ?, answers = ?, answered_at = ? WHERE id = ?
	`), status, answers, now, id)
	if err != nil {
		return fmt.Errorf("answer user input request: %w", err)
	}
	return requireRowsAffected(res, "user input request")
}

// GetUserInputRequest retrieves a single request by ID, lazily transitioning
// a still-pending request past its expiry to expired before returning it.
// expired reports whether this call is what performed that transition, so
// callers can WS-notify only on the edge, not on every poll.
func (r *Repository) GetUserInputRequest(ctx context.Context, id string) (req *model.UserInputRequest, expired bool, err error) {
	req = &model.UserInputRequest{}
	err = r.reader().GetContext(ctx, req, r.reader().Rebind(`
		SELECT id, session_id, tool_name, tool_input, status, answers, expires_at, answered_at, created_at
		FROM user_input_requests WHERE id = ?
	`), id)
	if err != nil {
		if isNoRows(err) {
			return nil, false, apperrors.NotFound("user input request not found")
		}
		return nil, false, fmt.Errorf("get user input request: %w", err)
	}

	if req.Status == model.UserInputPending && time.Now().UTC().After(req.ExpiresAt) {
		if expErr := r.AnswerUserInputRequest(ctx, id, model.UserInputExpired, nil); expErr != nil {
			return nil, false, fmt.Errorf("expire user input request: %w", expErr)
		}
		req.Status = model.UserInputExpired
		expired = true
	}
	return req, expired, nil
}

// ListPendingUserInputRequests returns all pending requests for a session.
func (r *Repository) ListPendingUserInputRequests(ctx context.Context, sessionID string) ([]*model.UserInputRequest, error) {
	var reqs []*model.UserInputRequest
	err := r.reader().SelectContext(ctx, &reqs, r.reader().Rebind(`
		SELECT id, session_id, tool_name, tool_input, status, answers, expires_at, answered_at, created_at
		FROM user_input_requests WHERE session_id = ? AND status = ? ORDER BY created_at ASC
	`), sessionID, model.UserInputPending)
	if err != nil {
		return nil, fmt.Errorf("list pending user input requests: %w", err)
	}
	return reqs, nil
}

// ExpirePendingUserInputRequests marks all still-pending requests whose
// expires_at has passed as expired, returning the number affected.
func (r *Repository) ExpirePendingUserInputRequests(ctx context.Context) (int64, error) {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE user_input_requests SET status = ? WHERE status = ? AND expires_at < ?
	`), model.UserInputExpired, model.UserInputPending, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire user input requests: %w", err)
	}
	return res.RowsAffected()
}
