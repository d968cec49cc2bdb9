package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/runflow/orchestrator/internal/model"
)

// CreateMessage appends a message to a session's transcript.
func (r *Repository) CreateMessage(ctx context.Context, m *model.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO messages (session_id, role, content, text_preview, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), m.SessionID, m.Role, []byte(m.Content), m.TextPreview, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		m.ID = id
	}
	return nil
}

// ListMessagesCursor returns up to limit messages for a session with id
// greater than afterID, ordered oldest-first — the pagination cursor is the
// message id itself.
func (r *Repository) ListMessagesCursor(ctx context.Context, sessionID string, afterID int64, limit int) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.reader().SelectContext(ctx, &messages, r.reader().Rebind(`
		SELECT id, session_id, role, content, text_preview, created_at
		FROM messages WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?
	`), sessionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
