package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/runflow/orchestrator/internal/db/dialect"
	"github.com/runflow/orchestrator/internal/model"
)

// UpsertToolExecutionUse records a tool_use block, creating the row if this
// is the first time tool_use_id has been seen for the session, or updating
// the input/name in place if a tool_result block for the same tool_use_id
// already created it.
func (r *Repository) UpsertToolExecutionUse(ctx context.Context, sessionID, toolUseID string, messageID int64, toolName string, toolInput []byte) error {
	now := time.Now().UTC()
	var query string
	if dialect.IsPostgres(r.driver) {
		query = `
			INSERT INTO tool_executions (session_id, tool_use_id, message_id, tool_name, tool_input, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, tool_use_id) DO UPDATE
			SET message_id = EXCLUDED.message_id, tool_name = EXCLUDED.tool_name, tool_input = EXCLUDED.tool_input
		`
	} else {
		query = `
			INSERT INTO tool_executions (session_id, tool_use_id, message_id, tool_name, tool_input, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, tool_use_id) DO UPDATE
			SET message_id = excluded.message_id, tool_name = excluded.tool_name, tool_input = excluded.tool_input
		`
	}
	_, err := r.writer().ExecContext(ctx, query, sessionID, toolUseID, messageID, toolName, toolInput, now)
	if err != nil {
		return fmt.Errorf("upsert tool execution use: %w", err)
	}
	return nil
}

// UpsertToolExecutionResult records a tool_result block against the same
// (session_id, tool_use_id) row, creating it if the Use block hasn't arrived
// yet (out-of-order delivery).
func (r *Repository) UpsertToolExecutionResult(ctx context.Context, sessionID, toolUseID string, resultMessageID int64, toolOutput []byte, isError bool, durationMs *int64) error {
	now := time.Now().UTC()
	var query string
	if dialect.IsPostgres(r.driver) {
		query = `
			INSERT INTO tool_executions (session_id, tool_use_id, result_message_id, tool_output, is_error, duration_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, tool_use_id) DO UPDATE
			SET result_message_id = EXCLUDED.result_message_id, tool_output = EXCLUDED.tool_output,
				is_error = EXCLUDED.is_error, duration_ms = EXCLUDED.duration_ms
		`
	} else {
		query = `
			INSERT INTO tool_executions (session_id, tool_use_id, result_message_id, tool_output, is_error, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, tool_use_id) DO UPDATE
			SET result_message_id = excluded.result_message_id, tool_output = excluded.tool_output,
				is_error = excluded.is_error, duration_ms = excluded.duration_ms
		`
	}
	_, err := r.writer().ExecContext(ctx, query, sessionID, toolUseID, resultMessageID, toolOutput, isError, durationMs, now)
	if err != nil {
		return fmt.Errorf("upsert tool execution result: %w", err)
	}
	return nil
}

// ListToolExecutions returns a session's tool executions ordered by id.
func (r *Repository) ListToolExecutions(ctx context.Context, sessionID string) ([]*model.ToolExecution, error) {
	var execs []*model.ToolExecution
	err := r.reader().SelectContext(ctx, &execs, r.reader().Rebind(`
		SELECT id, session_id, tool_use_id, message_id, tool_name, tool_input, tool_output,
			is_error, result_message_id, duration_ms, created_at
		FROM tool_executions WHERE session_id = ? ORDER BY id ASC
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	return execs, nil
}
