package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/runflow/orchestrator/internal/model"
)

// CreateUsageLog appends one terminal ResultMessage's usage/cost record.
func (r *Repository) CreateUsageLog(ctx context.Context, u *model.UsageLog) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.writer().ExecContext(ctx, r.writer().Rebind(`
		INSERT INTO usage_logs (session_id, run_id, total_cost_usd, duration_ms, usage, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), u.SessionID, u.RunID, u.TotalCostUSD, u.DurationMs, nullableJSON(u.Usage), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create usage log: %w", err)
	}
	return nil
}

// SumSessionCost returns the total cost in USD accrued across all runs of a
// session.
func (r *Repository) SumSessionCost(ctx context.Context, sessionID string) (float64, error) {
	var total float64
	err := r.reader().GetContext(ctx, &total, r.reader().Rebind(`
		SELECT COALESCE(SUM(total_cost_usd), 0) FROM usage_logs WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("sum session cost: %w", err)
	}
	return total, nil
}
