package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

// CreatePreset persists a new MCP or skill preset.
func (r *Repository) CreatePreset(ctx context.Context, p *model.Preset) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO presets (id, kind, name, is_active, transport, entry, default_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.Kind, p.Name, p.IsActive, p.Transport, p.Entry, nullableJSON(p.DefaultConfig), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create preset: %w", err)
	}
	return nil
}

// GetPresetByName resolves a preset by its $ref name within a kind, the
// lookup used by the config resolver's `preset:<name>` expansion.
func (r *Repository) GetPresetByName(ctx context.Context, kind model.PresetKind, name string) (*model.Preset, error) {
	p := &model.Preset{}
	err := r.reader().GetContext(ctx, p, r.reader().Rebind(`
		SELECT id, kind, name, is_active, transport, entry, default_config, created_at, updated_at
		FROM presets WHERE kind = ? AND name = ?
	`), kind, name)
	if err != nil {
		if isNoRows(err) {
			return nil, apperrors.New(apperrors.CodeMCPPresetNotFound, fmt.Sprintf("preset %q not found", name))
		}
		return nil, fmt.Errorf("get preset: %w", err)
	}
	return p, nil
}

// ListPresets returns all presets of a given kind.
func (r *Repository) ListPresets(ctx context.Context, kind model.PresetKind) ([]*model.Preset, error) {
	var presets []*model.Preset
	err := r.reader().SelectContext(ctx, &presets, r.reader().Rebind(`
		SELECT id, kind, name, is_active, transport, entry, default_config, created_at, updated_at
		FROM presets WHERE kind = ? ORDER BY name ASC
	`), kind)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	return presets, nil
}

// UpdatePresetActive flips a preset's active flag.
func (r *Repository) UpdatePresetActive(ctx context.Context, id string, active bool) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		UPDATE presets SET is_active = ?, updated_at = ? WHERE id = ?
	`), active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update preset active: %w", err)
	}
	return requireRowsAffected(res, "preset")
}

// DeletePreset removes a preset by ID.
func (r *Repository) DeletePreset(ctx context.Context, id string) error {
	res, err := r.writer().ExecContext(ctx, r.writer().Rebind(`DELETE FROM presets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	return requireRowsAffected(res, "preset")
}
