package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

// UpsertSlashCommand creates or replaces a user's slash command by (user_id, name).
func (r *Repository) UpsertSlashCommand(ctx context.Context, userID, name, body, description string) (*model.SlashCommand, error) {
	existing, err := r.GetSlashCommand(ctx, userID, name)
	now := time.Now().UTC()
	if err == nil {
		existing.Body, existing.Description, existing.UpdatedAt = body, description, now
		_, execErr := r.writer().ExecContext(ctx, r.writer().Rebind(`
			UPDATE slash_commands SET body = ?, description = ?, updated_at = ? WHERE id = ?
		`), body, description, now, existing.ID)
		if execErr != nil {
			return nil, fmt.Errorf("update slash command: %w", execErr)
		}
		return existing, nil
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeSlashCommandNotFound {
		return nil, err
	}

	sc := &model.SlashCommand{ID: uuid.New().String(), UserID: userID, Name: name, Body: body, Description: description, CreatedAt: now, UpdatedAt: now}
	_, err = r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO slash_commands (id, user_id, name, body, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), sc.ID, sc.UserID, sc.Name, sc.Body, sc.Description, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create slash command: %w", err)
	}
	return sc, nil
}

// GetSlashCommand looks up a single slash command by (user_id, name).
func (r *Repository) GetSlashCommand(ctx context.Context, userID, name string) (*model.SlashCommand, error) {
	sc := &model.SlashCommand{}
	err := r.reader().GetContext(ctx, sc, r.reader().Rebind(`
		SELECT id, user_id, name, body, description, created_at, updated_at
		FROM slash_commands WHERE user_id = ? AND name = ?
	`), userID, name)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.New(apperrors.CodeSlashCommandNotFound, fmt.Sprintf("slash command %q not found", name))
		}
		return nil, fmt.Errorf("get slash command: %w", err)
	}
	return sc, nil
}

// ListSlashCommands returns all slash commands for a user, ordered by name.
func (r *Repository) ListSlashCommands(ctx context.Context, userID string) ([]*model.SlashCommand, error) {
	var commands []*model.SlashCommand
	err := r.reader().SelectContext(ctx, &commands, r.reader().Rebind(`
		SELECT id, user_id, name, body, description, created_at, updated_at
		FROM slash_commands WHERE user_id = ? ORDER BY name ASC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("list slash commands: %w", err)
	}
	return commands, nil
}

// ResolveSlashCommandsMap returns a user's slash commands as name -> markdown
// body, the shape `/api/v1/internal/slash-commands/resolve` hands back to the
// Executor Manager for staging into `.claude_data/commands/`.
func (r *Repository) ResolveSlashCommandsMap(ctx context.Context, userID string) (map[string]string, error) {
	commands, err := r.ListSlashCommands(ctx, userID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]string, len(commands))
	for _, c := range commands {
		resolved[c.Name] = c.Body
	}
	return resolved, nil
}

// DeleteSlashCommand removes a user's slash command by name.
func (r *Repository) DeleteSlashCommand(ctx context.Context, userID, name string) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		DELETE FROM slash_commands WHERE user_id = ? AND name = ?
	`), userID, name)
	if err != nil {
		return fmt.Errorf("delete slash command: %w", err)
	}
	return requireRowsAffected(res, "slash command")
}
