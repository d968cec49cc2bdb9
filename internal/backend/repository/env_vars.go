package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

// UpsertEnvVar creates or replaces a user's env var by (user_id, key).
func (r *Repository) UpsertEnvVar(ctx context.Context, userID, key, value string, isSecret bool) (*model.EnvVar, error) {
	existing, err := r.GetEnvVar(ctx, userID, key)
	now := time.Now().UTC()
	if err == nil {
		existing.Value, existing.IsSecret, existing.UpdatedAt = value, isSecret, now
		_, execErr := r.writer().ExecContext(ctx, r.writer().Rebind(`
			UPDATE env_vars SET value = ?, is_secret = ?, updated_at = ? WHERE id = ?
		`), value, isSecret, now, existing.ID)
		if execErr != nil {
			return nil, fmt.Errorf("update env var: %w", execErr)
		}
		return existing, nil
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeEnvVarNotFound {
		return nil, err
	}

	ev := &model.EnvVar{ID: uuid.New().String(), UserID: userID, Key: key, Value: value, IsSecret: isSecret, CreatedAt: now, UpdatedAt: now}
	_, err = r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO env_vars (id, user_id, key, value, is_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), ev.ID, ev.UserID, ev.Key, ev.Value, ev.IsSecret, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create env var: %w", err)
	}
	return ev, nil
}

// GetEnvVar looks up a single env var by (user_id, key), the resolution the
// config resolver's `${env:VAR}` substitution performs.
func (r *Repository) GetEnvVar(ctx context.Context, userID, key string) (*model.EnvVar, error) {
	ev := &model.EnvVar{}
	err := r.reader().GetContext(ctx, ev, r.reader().Rebind(`
		SELECT id, user_id, key, value, is_secret, created_at, updated_at
		FROM env_vars WHERE user_id = ? AND key = ?
	`), userID, key)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.New(apperrors.CodeEnvVarNotFound, fmt.Sprintf("env var %q not found", key))
		}
		return nil, fmt.Errorf("get env var: %w", err)
	}
	return ev, nil
}

// ListEnvVars returns all env vars for a user.
func (r *Repository) ListEnvVars(ctx context.Context, userID string) ([]*model.EnvVar, error) {
	var vars []*model.EnvVar
	err := r.reader().SelectContext(ctx, &vars, r.reader().Rebind(`
		SELECT id, user_id, key, value, is_secret, created_at, updated_at
		FROM env_vars WHERE user_id = ? ORDER BY key ASC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("list env vars: %w", err)
	}
	return vars, nil
}

// EnvVarsMap returns a user's env vars as key -> value, the shape
// `/api/v1/internal/env-vars/map` hands back for `${env:VAR}` substitution.
func (r *Repository) EnvVarsMap(ctx context.Context, userID string) (map[string]string, error) {
	vars, err := r.ListEnvVars(ctx, userID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]string, len(vars))
	for _, v := range vars {
		resolved[v.Key] = v.Value
	}
	return resolved, nil
}

// DeleteEnvVar removes a user's env var by key.
func (r *Repository) DeleteEnvVar(ctx context.Context, userID, key string) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		DELETE FROM env_vars WHERE user_id = ? AND key = ?
	`), userID, key)
	if err != nil {
		return fmt.Errorf("delete env var: %w", err)
	}
	return requireRowsAffected(res, "env var")
}
