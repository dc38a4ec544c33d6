package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/google/uuid"
)

// RunRepository handles workflow-run-related database operations,
// including the quota-checked reservation transaction and the
// durable-store lock fallback over locked_at/locked_by.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, trigger_data,
		       locked_at, locked_by, created_at, started_at, completed_at
		FROM workflow_runs
		WHERE id = $1
	`, id)

	run, err := r.scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, user_id, status, trigger_type, trigger_data,
		       locked_at, locked_by, created_at, started_at, completed_at
		FROM workflow_runs
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ReserveRun executes the reservation atomically: upsert and row-lock the
// month's usage counter, check the concurrent-pending count and the
// monthly quota, increment the counter and create the run row. The usage
// row lock serializes reservations for one user at the database level even
// when the Redis reservation lock is bypassed.
func (r *RunRepository) ReserveRun(ctx context.Context, params persistence.ReserveRunParams) (*models.WorkflowRun, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reservation transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	period := models.UsagePeriod(params.Now)

	var runCount int

	err = tx.QueryRowContext(ctx, `
		INSERT INTO usage_records (id, user_id, period, run_count, updated_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (user_id, period) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING run_count
	`, uuid.New().String(), params.UserID, period, params.Now).Scan(&runCount)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert usage record: %w", err)
	}

	var pending int

	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_runs
		WHERE user_id = $1 AND status IN ($2, $3)
	`, params.UserID, models.RunStatusPending, models.RunStatusRunning).Scan(&pending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending runs: %w", err)
	}

	if pending >= params.MaxConcurrentRuns {
		return nil, persistence.NewRunError("ReserveRun", "", persistence.ErrConcurrentLimit)
	}

	if runCount >= params.MonthlyRunQuota {
		return nil, persistence.NewRunError("ReserveRun", "", persistence.ErrMonthlyLimit)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE usage_records SET run_count = run_count + 1, updated_at = $1
		WHERE user_id = $2 AND period = $3
	`, params.Now, params.UserID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage counter: %w", err)
	}

	runID := params.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	run := &models.WorkflowRun{
		ID:          runID,
		WorkflowID:  params.WorkflowID,
		UserID:      params.UserID,
		Status:      models.RunStatusPending,
		TriggerType: params.TriggerType,
		TriggerData: params.TriggerData,
		CreatedAt:   params.Now,
	}

	triggerDataJSON, err := json.Marshal(run.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, user_id, status, trigger_type, trigger_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.WorkflowID, run.UserID, run.Status, run.TriggerType, triggerDataJSON, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	return run, nil
}

// RollbackReservation undoes a reservation whose enqueue failed: the run
// is marked Failure and the month's counter decremented, in one
// transaction shaped like the one that created them.
func (r *RunRepository) RollbackReservation(ctx context.Context, runID, userID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollback transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE workflow_runs SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4
	`, models.RunStatusFailure, at, runID, models.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewRunError("RollbackReservation", runID, persistence.ErrRunNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE usage_records SET run_count = GREATEST(run_count - 1, 0), updated_at = $1
		WHERE user_id = $2 AND period = $3
	`, at, userID, models.UsagePeriod(at))
	if err != nil {
		return fmt.Errorf("failed to decrement usage counter: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	return nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus, at time.Time) error {
	query := "UPDATE workflow_runs SET status = $1 WHERE id = $2"
	args := []any{status, id}

	switch status {
	case models.RunStatusRunning:
		query = "UPDATE workflow_runs SET status = $1, started_at = COALESCE(started_at, $3) WHERE id = $2"
		args = append(args, at)
	case models.RunStatusSuccess, models.RunStatusFailure:
		query = "UPDATE workflow_runs SET status = $1, completed_at = $3 WHERE id = $2"
		args = append(args, at)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRunNotFound
	}

	return nil
}

// TryLock acquires the durable lock via compare-and-swap on the lock
// columns. Succeeds when the run is unlocked, the existing lock is stale
// (older than ttl), or the caller already owns it.
func (r *RunRepository) TryLock(ctx context.Context, runID, owner string, ttl time.Duration, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs SET locked_at = $1, locked_by = $2
		WHERE id = $3 AND (locked_by IS NULL OR locked_at < $4 OR locked_by = $2)
	`, now, owner, runID, now.Add(-ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire durable run lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected == 1, nil
}

// RenewLock refreshes the lock stamp only while the caller still owns it.
func (r *RunRepository) RenewLock(ctx context.Context, runID, owner string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs SET locked_at = $1
		WHERE id = $2 AND locked_by = $3
	`, now, runID, owner)
	if err != nil {
		return false, fmt.Errorf("failed to renew durable run lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected == 1, nil
}

// Unlock clears the lock columns only while the caller still owns them.
func (r *RunRepository) Unlock(ctx context.Context, runID, owner string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs SET locked_at = NULL, locked_by = NULL
		WHERE id = $1 AND locked_by = $2
	`, runID, owner)
	if err != nil {
		return false, fmt.Errorf("failed to release durable run lock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected == 1, nil
}

// IsLocked reports whether a non-stale lock is present.
func (r *RunRepository) IsLocked(ctx context.Context, runID string, ttl time.Duration, now time.Time) (bool, error) {
	var (
		lockedAt sql.NullTime
		lockedBy sql.NullString
	)

	err := r.db.QueryRowContext(ctx,
		"SELECT locked_at, locked_by FROM workflow_runs WHERE id = $1", runID,
	).Scan(&lockedAt, &lockedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, persistence.ErrRunNotFound
		}

		return false, fmt.Errorf("failed to query run lock: %w", err)
	}

	if !lockedBy.Valid || !lockedAt.Valid {
		return false, nil
	}

	// A stale lock is as good as unlocked.
	return now.Sub(lockedAt.Time) < ttl, nil
}

func (r *RunRepository) scanRun(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowRun, error) {
	var (
		run             models.WorkflowRun
		triggerType     sql.NullString
		triggerDataJSON []byte
		lockedAt        sql.NullTime
		lockedBy        sql.NullString
	)

	err := scanner.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.UserID,
		&run.Status,
		&triggerType,
		&triggerDataJSON,
		&lockedAt,
		&lockedBy,
		&run.CreatedAt,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.TriggerType = triggerType.String
	run.LockedBy = lockedBy.String

	if lockedAt.Valid {
		run.LockedAt = &lockedAt.Time
	}

	if triggerDataJSON != nil {
		err := json.Unmarshal(triggerDataJSON, &run.TriggerData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	return &run, nil
}
