// ABOUTME: SQLite persistence for the task lifecycle with guarded transitions.
// ABOUTME: Admission reserves budget atomically; completion settles it in one transaction.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateTask admits a task: in a single transaction it reserves the task's
// estimated cost against the user's budget and inserts the record in
// pending state. On ErrBudgetExceeded no task record is left behind.
// Concurrent admissions for the same user serialize on the budget row, so
// two requests that individually fit but jointly overshoot can never both
// succeed.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Reserve: predicate enforces spent + reserved + estimate <= monthly.
	res, err := tx.ExecContext(ctx, `
		UPDATE budgets
		SET reserved = reserved + ?
		WHERE user_id = ? AND spent + reserved + ? <= monthly_budget
	`, task.EstimatedCost, task.UserID, task.EstimatedCost)
	if err != nil {
		return fmt.Errorf("reserving budget: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking reservation: %w", err)
	}
	if affected == 0 {
		// Distinguish "no budget row" from "budget exhausted".
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM budgets WHERE user_id = ?`, task.UserID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("budget for user %s: %w", task.UserID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("checking budget row: %w", err)
		}
		return ErrBudgetExceeded
	}

	input, err := encodeJSONMap(task.Input)
	if err != nil {
		return fmt.Errorf("encoding input: %w", err)
	}

	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt
	task.State = TaskStatePending

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, agent_id, capability, input, state, error, estimated_cost, cost, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, 0, ?, ?)
	`,
		task.ID,
		task.UserID,
		task.AgentID,
		task.Capability,
		input,
		string(task.State),
		task.EstimatedCost,
		task.CreatedAt.UTC().Format(time.RFC3339Nano),
		task.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task creation: %w", err)
	}

	s.logger.Debug("task admitted",
		"task_id", task.ID,
		"user_id", task.UserID,
		"capability", task.Capability,
		"estimated_cost", task.EstimatedCost,
	)
	return nil
}

// GetTask returns a snapshot of a task.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return task, nil
}

// ListTasks returns task snapshots, newest first, optionally filtered by agent.
func (s *SQLiteStore) ListTasks(ctx context.Context, agentID string, limit, offset int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := taskSelect
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// ClaimTask transitions a task from pending to running. Returns false if
// the task was not pending (already claimed, cancelled, or missing).
func (s *SQLiteStore) ClaimTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(TaskStateRunning), time.Now().UTC().Format(time.RFC3339Nano), id, string(TaskStatePending))
	if err != nil {
		return false, fmt.Errorf("claiming task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking claim: %w", err)
	}
	return affected == 1, nil
}

// CompleteTask transitions a running task to completed, records the result
// and actual cost, and settles the user's budget (spent grows by the actual
// cost, the admission reservation is released), all in one transaction.
// Returns false without side effects when the task is no longer running,
// i.e. a cancellation won the race.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, result map[string]any, cost float64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var estimated float64
	err = tx.QueryRowContext(ctx, `SELECT user_id, estimated_cost FROM tasks WHERE id = ?`, id).Scan(&userID, &estimated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("reading task: %w", err)
	}

	encoded, err := encodeJSONMap(result)
	if err != nil {
		return false, fmt.Errorf("encoding result: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET state = ?, result = ?, cost = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(TaskStateCompleted), encoded, cost, time.Now().UTC().Format(time.RFC3339Nano), id, string(TaskStateRunning))
	if err != nil {
		return false, fmt.Errorf("completing task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking completion: %w", err)
	}
	if affected == 0 {
		// Lost the race against cancellation or reconciliation; the winner
		// already released the reservation. Discard this completion.
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE budgets
		SET spent = spent + ?, reserved = MAX(reserved - ?, 0)
		WHERE user_id = ?
	`, cost, estimated, userID)
	if err != nil {
		return false, fmt.Errorf("settling budget: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing completion: %w", err)
	}

	s.logger.Debug("task completed", "task_id", id, "cost", cost)
	return true, nil
}

// FailTask transitions a pending or running task to failed and releases the
// admission reservation without charging the user. Returns false when the
// task already reached a terminal state.
func (s *SQLiteStore) FailTask(ctx context.Context, id, errMsg string) (bool, error) {
	return s.terminateWithoutCharge(ctx, id, TaskStateFailed, errMsg)
}

// CancelTask transitions a pending or running task to cancelled, releases
// the reservation, and returns the updated snapshot. Returns ErrConflict if
// the task already reached a terminal state, ErrNotFound if it is unknown.
func (s *SQLiteStore) CancelTask(ctx context.Context, id, reason string) (*Task, error) {
	ok, err := s.terminateWithoutCharge(ctx, id, TaskStateCancelled, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return s.GetTask(ctx, id)
}

// terminateWithoutCharge moves a non-terminal task to the given terminal
// state and releases its budget reservation in the same transaction.
func (s *SQLiteStore) terminateWithoutCharge(ctx context.Context, id string, state TaskState, errMsg string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var estimated float64
	err = tx.QueryRowContext(ctx, `SELECT user_id, estimated_cost FROM tasks WHERE id = ?`, id).Scan(&userID, &estimated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("reading task: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET state = ?, error = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?)
	`, string(state), errMsg, time.Now().UTC().Format(time.RFC3339Nano),
		id, string(TaskStatePending), string(TaskStateRunning))
	if err != nil {
		return false, fmt.Errorf("terminating task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking termination: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE budgets SET reserved = MAX(reserved - ?, 0) WHERE user_id = ?
	`, estimated, userID)
	if err != nil {
		return false, fmt.Errorf("releasing reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing termination: %w", err)
	}

	s.logger.Debug("task terminated without charge", "task_id", id, "state", state)
	return true, nil
}

// RunningTasksBefore returns running tasks whose last update predates the
// cutoff. The reconciler forces these orphans to failed.
func (s *SQLiteStore) RunningTasksBefore(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE state = ? AND updated_at < ?
		ORDER BY updated_at ASC
	`, string(TaskStateRunning), cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("querying running tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// PendingTasks returns the oldest pending tasks, used by the engine to
// recover work admitted before a restart.
func (s *SQLiteStore) PendingTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE state = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, string(TaskStatePending), limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

const taskSelect = `
	SELECT id, user_id, agent_id, capability, input, state, result, error,
	       estimated_cost, cost, created_at, updated_at
	FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var input, result sql.NullString
	var state, createdAt, updatedAt string

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.AgentID,
		&task.Capability,
		&input,
		&state,
		&result,
		&task.Error,
		&task.EstimatedCost,
		&task.Cost,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.State = TaskState(state)

	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &task.Input); err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &task.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}

	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &task, nil
}

func encodeJSONMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
