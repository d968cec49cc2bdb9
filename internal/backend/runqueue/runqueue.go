// Package runqueue implements the Backend's run queue and claim/lease
// protocol: FIFO enqueue, atomic claim-by-worker-id under a lease, and a
// periodic recovery sweep that requeues runs whose lease expired.
package runqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/db"
	"github.com/runflow/orchestrator/internal/db/dialect"
	"github.com/runflow/orchestrator/internal/model"
)

// Queue persists Runs and brokers claim/lease transitions for the pull loop.
type Queue struct {
	pool   *db.Pool
	driver string
}

// NewQueue creates a Queue backed by pool. driver is dialect.SQLite3 or dialect.PGX.
func NewQueue(pool *db.Pool, driver string) *Queue {
	return &Queue{pool: pool, driver: driver}
}

// EnqueueResult is returned by Enqueue.
type EnqueueResult struct {
	RunID     string
	SessionID string
}

// Enqueue creates a Run (and a Session if sessionID is empty) and persists
// both atomically. Returns immediately; the run is picked up by a later claim.
func (q *Queue) Enqueue(ctx context.Context, userID, sessionID, prompt string, mode model.ScheduleMode, scheduledAt *time.Time, configSnapshot []byte) (*EnqueueResult, error) {
	return db.WithTxResult(ctx, q.pool.Writer(), func(tx *sqlx.Tx) (*EnqueueResult, error) {
		now := time.Now().UTC()
		if sessionID == "" {
			sessionID = uuid.New().String()
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO sessions (id, user_id, config_snapshot, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`), sessionID, userID, string(configSnapshot), model.SessionPending, now, now); err != nil {
				return nil, fmt.Errorf("create session: %w", err)
			}
		}

		runID := uuid.New().String()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO runs (id, session_id, prompt, schedule_mode, scheduled_at, status, progress, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		`), runID, sessionID, prompt, mode, scheduledAt, model.RunQueued, now); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}

		return &EnqueueResult{RunID: runID, SessionID: sessionID}, nil
	})
}

// ClaimedRun is a Run handed to a worker along with the context the
// dispatcher needs to resolve config and dispatch without a second round trip.
type ClaimedRun struct {
	RunID          string
	SessionID      string
	UserID         string
	SDKSessionID   *string
	Prompt         string
	ConfigSnapshot []byte
	ScheduleMode   model.ScheduleMode
}

// Claim atomically selects the oldest eligible queued Run in FIFO order
// (scheduled_at-or-created_at, tie-broken by run_id) among scheduleModes,
// marks it claimed under workerID with a lease of leaseSeconds, and returns
// it. Returns (nil, nil) when no row qualifies.
func (q *Queue) Claim(ctx context.Context, workerID string, leaseSeconds int, scheduleModes []model.ScheduleMode) (*ClaimedRun, error) {
	if len(scheduleModes) == 0 {
		return nil, nil
	}
	return db.WithTxResult(ctx, q.pool.Writer(), func(tx *sqlx.Tx) (*ClaimedRun, error) {
		now := time.Now().UTC()

		modeList := make([]string, len(scheduleModes))
		for i, m := range scheduleModes {
			modeList[i] = string(m)
		}

		query, args, err := sqlx.In(`
			SELECT id, session_id, schedule_mode, prompt FROM runs
			WHERE status = ? AND schedule_mode IN (?) AND (scheduled_at IS NULL OR scheduled_at <= ?)
			ORDER BY COALESCE(scheduled_at, created_at) ASC, id ASC
			LIMIT 1
			`+dialect.LockClause(q.driver),
			string(model.RunQueued), modeList, now,
		)
		if err != nil {
			return nil, err
		}
		query = tx.Rebind(query)

		var runID, sessionID, scheduleMode, prompt string
		err = tx.QueryRowxContext(ctx, query, args...).Scan(&runID, &sessionID, &scheduleMode, &prompt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select claimable run: %w", err)
		}

		leaseExpires := now.Add(time.Duration(leaseSeconds) * time.Second)
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE runs SET status = ?, worker_id = ?, lease_expires_at = ?
			WHERE id = ? AND status = ?
		`), model.RunClaimed, workerID, leaseExpires, runID, model.RunQueued); err != nil {
			return nil, fmt.Errorf("claim run: %w", err)
		}

		var userID string
		var sdkSessionID sql.NullString
		var configSnapshot []byte
		if err := tx.QueryRowxContext(ctx, tx.Rebind(`
			SELECT user_id, sdk_session_id, config_snapshot FROM sessions WHERE id = ?
		`), sessionID).Scan(&userID, &sdkSessionID, &configSnapshot); err != nil {
			return nil, fmt.Errorf("load session for claim: %w", err)
		}

		claimed := &ClaimedRun{
			RunID:          runID,
			SessionID:      sessionID,
			UserID:         userID,
			Prompt:         prompt,
			ConfigSnapshot: configSnapshot,
			ScheduleMode:   model.ScheduleMode(scheduleMode),
		}
		if sdkSessionID.Valid {
			claimed.SDKSessionID = &sdkSessionID.String
		}
		return claimed, nil
	})
}

// Start transitions a claimed Run to running, validating the caller still
// holds the lease. Returns apperrors.CodeLeaseLost otherwise.
func (q *Queue) Start(ctx context.Context, runID, workerID string) error {
	return q.transition(ctx, runID, workerID, model.RunClaimed, model.RunRunning, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE runs SET started_at = ? WHERE id = ?`), time.Now().UTC(), runID)
		return err
	})
}

// Fail transitions a running (or claimed) Run to failed with an error message.
func (q *Queue) Fail(ctx context.Context, runID, workerID, errMsg string) error {
	return q.transitionAny(ctx, runID, workerID, model.RunFailed, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE runs SET error_message = ?, finished_at = ? WHERE id = ?
		`), errMsg, time.Now().UTC(), runID)
		return err
	})
}

// Complete transitions a running Run to completed, forcing progress to 100.
func (q *Queue) Complete(ctx context.Context, runID, workerID string) error {
	return q.transition(ctx, runID, workerID, model.RunRunning, model.RunCompleted, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE runs SET progress = 100, finished_at = ? WHERE id = ?
		`), time.Now().UTC(), runID)
		return err
	})
}

// Cancel transitions a claimed or running Run to the canceled terminal state
// (kept distinct from failed so error_message stays reserved for crashes).
func (q *Queue) Cancel(ctx context.Context, runID, workerID string) error {
	return q.transitionAny(ctx, runID, workerID, model.RunCanceled, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE runs SET finished_at = ? WHERE id = ?`), time.Now().UTC(), runID)
		return err
	})
}

func (q *Queue) transition(ctx context.Context, runID, workerID string, from, to model.RunStatus, extra func(*sqlx.Tx) error) error {
	return db.WithTx(ctx, q.pool.Writer(), func(tx *sqlx.Tx) error {
		if err := q.assertLease(ctx, tx, runID, workerID, from); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE runs SET status = ? WHERE id = ?`), to, runID); err != nil {
			return err
		}
		return extra(tx)
	})
}

func (q *Queue) transitionAny(ctx context.Context, runID, workerID string, to model.RunStatus, extra func(*sqlx.Tx) error) error {
	return db.WithTx(ctx, q.pool.Writer(), func(tx *sqlx.Tx) error {
		var currentStatus, currentWorker string
		if err := tx.QueryRowxContext(ctx, tx.Rebind(`SELECT status, COALESCE(worker_id, '') FROM runs WHERE id = ?`), runID).
			Scan(&currentStatus, &currentWorker); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("run not found: " + runID)
			}
			return err
		}
		if currentWorker != workerID {
			return apperrors.LeaseLost("run lease held by a different worker: " + runID)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE runs SET status = ? WHERE id = ?`), to, runID); err != nil {
			return err
		}
		return extra(tx)
	})
}

func (q *Queue) assertLease(ctx context.Context, tx *sqlx.Tx, runID, workerID string, expected model.RunStatus) error {
	var status, worker string
	var leaseExpiresAt sql.NullTime
	err := tx.QueryRowxContext(ctx, tx.Rebind(`
		SELECT status, COALESCE(worker_id, ''), lease_expires_at FROM runs WHERE id = ?
	`), runID).Scan(&status, &worker, &leaseExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("run not found: " + runID)
	}
	if err != nil {
		return err
	}
	if model.RunStatus(status) != expected || worker != workerID {
		return apperrors.LeaseLost("run lease lost: " + runID)
	}
	if leaseExpiresAt.Valid && leaseExpiresAt.Time.Before(time.Now().UTC()) {
		return apperrors.LeaseLost("run lease expired: " + runID)
	}
	return nil
}

// RecoverExpiredLeases requeues any run in {claimed, running} whose lease has
// expired, clearing worker_id but retaining progress for observability.
// Returns the number of runs requeued.
func (q *Queue) RecoverExpiredLeases(ctx context.Context) (int64, error) {
	res, err := q.pool.Writer().ExecContext(ctx, q.pool.Writer().Rebind(`
		UPDATE runs SET status = ?, worker_id = NULL, lease_expires_at = NULL
		WHERE status IN (?, ?) AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
	`), model.RunQueued, model.RunClaimed, model.RunRunning, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpdateProgress sets a Run's progress (0-100), used by the callback pipeline
// as it advances a session's active run.
func (q *Queue) UpdateProgress(ctx context.Context, runID string, progress int) error {
	_, err := q.pool.Writer().ExecContext(ctx, q.pool.Writer().Rebind(`
		UPDATE runs SET progress = ? WHERE id = ?
	`), progress, runID)
	return err
}

// ActiveRunForSession returns the most recently created Run in {claimed,
// running} for a session, or nil if none. Used by the callback pipeline to
// find the run to advance.
func (q *Queue) ActiveRunForSession(ctx context.Context, sessionID string) (*model.Run, error) {
	var run model.Run
	err := q.pool.Reader().GetContext(ctx, &run, q.pool.Reader().Rebind(`
		SELECT * FROM runs WHERE session_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`), sessionID, model.RunClaimed, model.RunRunning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// AdvanceFromCallback applies a callback's reported progress/status to a run
// the callback pipeline resolved via ActiveRunForSession. Unlike Start/
// Complete/Fail it is not lease-checked: the caller already established
// which run owns this session's in-flight task, and the worker_id on the row
// is unrelated to the Backend process applying the update.
func (q *Queue) AdvanceFromCallback(ctx context.Context, run *model.Run, progress int, status model.RunStatus) error {
	return db.WithTx(ctx, q.pool.Writer(), func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		newStatus := run.Status
		startedAt := run.StartedAt

		if status == model.RunRunning && run.Status == model.RunClaimed {
			newStatus = model.RunRunning
			if startedAt == nil {
				startedAt = &now
			}
		}

		finishedAt := run.FinishedAt
		if status == model.RunCompleted || status == model.RunFailed {
			newStatus = status
			finishedAt = &now
			if status == model.RunCompleted {
				progress = 100
			}
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE runs SET status = ?, progress = ?, started_at = ?, finished_at = ? WHERE id = ?
		`), newStatus, progress, startedAt, finishedAt, run.ID)
		return err
	})
}
