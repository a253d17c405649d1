package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const syncColumns = `task_id, owner_id, task_type, status, progress, started_at, estimated_end_at, ended_at, completed_ops, failed_ops, error`

// HistoryBuilder turns a sync task that just reached a terminal status into
// its history record.
type HistoryBuilder func(SyncTask) SyncHistoryRecord

// CreateSyncTask inserts a running sync task. Returns ErrConflict if the owner
// already has one running.
func (s *Store) CreateSyncTask(ctx context.Context, t SyncTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_tasks (`+syncColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.OwnerID, t.TaskType, string(t.Status), t.Progress,
		formatTime(t.StartedAt), formatTime(t.EstimatedEndAt), formatNullTime(t.EndedAt),
		t.CompletedOps, t.FailedOps, t.Error,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting sync task: %w", err)
	}
	return nil
}

// GetSyncTask returns a sync task by id.
func (s *Store) GetSyncTask(ctx context.Context, id string) (SyncTask, error) {
	return getSyncTask(ctx, s.db, id)
}

// UpdateSyncProgress records progress and op counters for a running task.
// Returns false when the task is no longer running or progress would decrease.
func (s *Store) UpdateSyncProgress(ctx context.Context, id string, progress, completedOps, failedOps int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks SET progress = ?, completed_ops = ?, failed_ops = ?
		WHERE task_id = ? AND status = 'running' AND progress <= ?`,
		progress, completedOps, failedOps, id, progress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishSyncTask moves a running sync task to a terminal status and inserts
// the history record built from the final task state, in one transaction.
// Returns ErrConflict if the task already finished.
func (s *Store) FinishSyncTask(ctx context.Context, id string, to TaskStatus, errMsg string, now time.Time, build HistoryBuilder) (SyncTask, error) {
	if !to.Terminal() {
		return SyncTask{}, fmt.Errorf("finishing sync task %s: %q is not terminal", id, to)
	}
	var out SyncTask
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getSyncTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canTransition(t.Status, to) {
			return ErrConflict
		}

		progress := t.Progress
		if to == StatusCompleted {
			progress = 100
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_tasks SET status = ?, progress = ?, ended_at = ?, error = ?
			WHERE task_id = ? AND status = ?`,
			string(to), progress, formatTime(now), errMsg, id, string(t.Status))
		if err != nil {
			return fmt.Errorf("updating sync task %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}

		t.Status = to
		t.Progress = progress
		t.Error = errMsg
		ended := now
		t.EndedAt = &ended

		if err := insertHistory(ctx, tx, build(t)); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// ListRunningSyncTasks returns running sync tasks started before the cutoff.
// A zero cutoff returns all of them.
func (s *Store) ListRunningSyncTasks(ctx context.Context, startedBefore time.Time) ([]SyncTask, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_tasks WHERE status = 'running'`
	var args []any
	if !startedBefore.IsZero() {
		query += ` AND started_at < ?`
		args = append(args, formatTime(startedBefore))
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing running sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []SyncTask
	for rows.Next() {
		t, err := scanSyncTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func getSyncTask(ctx context.Context, q queryer, id string) (SyncTask, error) {
	row := q.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_tasks WHERE task_id = ?`, id)
	return scanSyncTask(row.Scan)
}

func scanSyncTask(scan func(dest ...any) error) (SyncTask, error) {
	var t SyncTask
	var status, startedAt, estimated string
	var endedAt sql.NullString
	err := scan(&t.TaskID, &t.OwnerID, &t.TaskType, &status, &t.Progress, &startedAt, &estimated,
		&endedAt, &t.CompletedOps, &t.FailedOps, &t.Error)
	if err == sql.ErrNoRows {
		return SyncTask{}, ErrNotFound
	}
	if err != nil {
		return SyncTask{}, err
	}
	t.Status = TaskStatus(status)
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return SyncTask{}, fmt.Errorf("parsing started_at for sync %s: %w", t.TaskID, err)
	}
	if t.EstimatedEndAt, err = parseTime(estimated); err != nil {
		return SyncTask{}, fmt.Errorf("parsing estimated_end_at for sync %s: %w", t.TaskID, err)
	}
	if t.EndedAt, err = parseNullTime(endedAt); err != nil {
		return SyncTask{}, fmt.Errorf("parsing ended_at for sync %s: %w", t.TaskID, err)
	}
	return t, nil
}
