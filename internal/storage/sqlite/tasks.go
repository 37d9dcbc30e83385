package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KohakuBlueleaf/DIG/internal/storage"
	"github.com/KohakuBlueleaf/DIG/internal/types"
)

const taskColumns = "id, task_id, prompt, extra_args, status, created_at, updated_at, image_path"

// scanTask reads one task row. Works for both *sql.Row and *sql.Rows.
func scanTask(row interface{ Scan(...any) error }) (*types.Task, error) {
	var (
		task      types.Task
		extraArgs string
		imagePath sql.NullString
	)
	err := row.Scan(&task.ID, &task.TaskID, &task.Prompt, &extraArgs,
		&task.Status, &task.CreatedAt, &task.UpdatedAt, &imagePath)
	if err != nil {
		return nil, err
	}
	if err := task.UnmarshalExtraArgs(extraArgs); err != nil {
		return nil, err
	}
	task.ImagePath = imagePath.String
	return &task, nil
}

// Submit inserts a new pending task, or resets an existing row with the same
// task_id: prompt and extra_args are replaced, status returns to pending, and
// the artifact reference is cleared. Returns the replaced artifact path.
func (s *Store) Submit(ctx context.Context, task *types.Task) (string, error) {
	extraArgs, err := task.MarshalExtraArgs()
	if err != nil {
		return "", wrapDBError("submit task", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapDBError("submit task", err)
	}
	defer func() { _ = tx.Rollback() }() // No-op after successful commit

	var prevArtifact sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT image_path FROM task WHERE task_id = ?`, task.TaskID,
	).Scan(&prevArtifact)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task (task_id, prompt, extra_args, status, created_at, updated_at)
			VALUES (?, ?, ?, 'pending', ?, ?)
		`, task.TaskID, task.Prompt, extraArgs, now, now)
		if err != nil {
			return "", wrapDBError("submit task", err)
		}
		task.CreatedAt = now
	case err != nil:
		return "", wrapDBError("submit task", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE task
			SET prompt = ?, extra_args = ?, status = 'pending', image_path = NULL, updated_at = ?
			WHERE task_id = ?
		`, task.Prompt, extraArgs, now, task.TaskID)
		if err != nil {
			return "", wrapDBError("submit task", err)
		}
	}

	task.Status = types.StatusPending
	task.UpdatedAt = now
	task.ImagePath = ""

	if err := tx.Commit(); err != nil {
		return "", wrapDBError("submit task", err)
	}
	return prevArtifact.String, nil
}

// ClaimNext selects the oldest pending task and transitions it to processing
// in the same transaction. The conditional UPDATE is the mutual-exclusion
// point: if another claimer moved the row first, zero rows are affected and
// the loser gets storage.ErrContended to retry.
func (s *Store) ClaimNext(ctx context.Context) (*types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("claim task", err)
	}
	defer func() { _ = tx.Rollback() }() // No-op after successful commit

	task, err := scanTask(tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM task
		WHERE status = 'pending'
		ORDER BY created_at, task_id
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoPending
	}
	if err != nil {
		if isBusy(err) {
			return nil, storage.ErrContended
		}
		return nil, wrapDBError("claim task", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE task SET status = 'processing', updated_at = ?
		WHERE task_id = ? AND status = 'pending'
	`, now, task.TaskID)
	if err != nil {
		if isBusy(err) {
			return nil, storage.ErrContended
		}
		return nil, wrapDBError("claim task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, wrapDBError("claim task", err)
	}
	if rows == 0 {
		return nil, storage.ErrContended
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return nil, storage.ErrContended
		}
		return nil, wrapDBError("claim task", err)
	}

	task.Status = types.StatusProcessing
	task.UpdatedAt = now
	return task, nil
}

// MarkCompleted transitions processing → completed and records the artifact
// reference. A conditional UPDATE keeps the transition atomic; when it
// affects no rows the follow-up read distinguishes unknown ids from tasks in
// the wrong state.
func (s *Store) MarkCompleted(ctx context.Context, taskID, artifactPath string) error {
	if artifactPath == "" {
		return fmt.Errorf("mark completed: %w: empty artifact path", storage.ErrBadState)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("mark completed", err)
	}
	defer func() { _ = tx.Rollback() }() // No-op after successful commit

	result, err := tx.ExecContext(ctx, `
		UPDATE task SET status = 'completed', image_path = ?, updated_at = ?
		WHERE task_id = ? AND status = 'processing'
	`, artifactPath, now, taskID)
	if err != nil {
		return wrapDBError("mark completed", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapDBError("mark completed", err)
	}
	if rows == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM task WHERE task_id = ?`, taskID,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("mark completed %s: %w", taskID, storage.ErrNotFound)
		}
		if err != nil {
			return wrapDBError("mark completed", err)
		}
		return fmt.Errorf("mark completed %s: %w: status is %s", taskID, storage.ErrBadState, status)
	}

	return wrapDBError("mark completed", tx.Commit())
}

// Reset returns a task to pending from any state. The artifact reference is
// cleared on every transition into pending so a pending task never points at
// stale bytes; the cleared path is returned for sidecar cleanup.
func (s *Store) Reset(ctx context.Context, taskID string) (string, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapDBError("reset task", err)
	}
	defer func() { _ = tx.Rollback() }() // No-op after successful commit

	var prevArtifact sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT image_path FROM task WHERE task_id = ?`, taskID,
	).Scan(&prevArtifact)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("reset task %s: %w", taskID, storage.ErrNotFound)
	}
	if err != nil {
		return "", wrapDBError("reset task", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE task SET status = 'pending', image_path = NULL, updated_at = ?
		WHERE task_id = ?
	`, now, taskID)
	if err != nil {
		return "", wrapDBError("reset task", err)
	}

	if err := tx.Commit(); err != nil {
		return "", wrapDBError("reset task", err)
	}
	return prevArtifact.String, nil
}

// Get loads a task by task_id.
func (s *Store) Get(ctx context.Context, taskID string) (*types.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM task WHERE task_id = ?`, taskID))
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get task %s", taskID), err)
	}
	return task, nil
}

// CountByStatus reports queue depth per lifecycle state. States with no rows
// report zero.
func (s *Store) CountByStatus(ctx context.Context) (map[types.Status]int, error) {
	counts := make(map[types.Status]int, len(types.AllStatuses))
	for _, st := range types.AllStatuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM task GROUP BY status`)
	if err != nil {
		return nil, wrapDBError("count tasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapDBError("count tasks", err)
		}
		counts[types.Status(status)] = n
	}
	return counts, wrapDBError("count tasks", rows.Err())
}

// ResetStale sweeps processing rows last touched before the cutoff back to
// pending. Stuck workers never release tasks on their own (there are no
// leases), so operators run this periodically.
func (s *Store) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		UPDATE task SET status = 'pending', image_path = NULL, updated_at = ?
		WHERE status = 'processing' AND updated_at < ?
	`, now, cutoff)
	if err != nil {
		return 0, wrapDBError("reset stale tasks", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, wrapDBError("reset stale tasks", err)
	}
	return int(rows), nil
}
