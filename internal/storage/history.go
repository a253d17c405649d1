package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const historyColumns = `hist_id, owner_id, task_id, task_type, status, synced_items, failed_items, duration_seconds, error, started_at, ended_at`

func insertHistory(ctx context.Context, q queryer, r SyncHistoryRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.HistID, r.OwnerID, r.TaskID, r.TaskType, string(r.Status), r.SyncedItems, r.FailedItems,
		r.DurationSeconds, r.Error, formatTime(r.StartedAt), formatTime(r.EndedAt),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting history for task %s: %w", r.TaskID, err)
	}
	return nil
}

// GetHistoryByTask returns the history record written for a sync task.
func (s *Store) GetHistoryByTask(ctx context.Context, taskID string) (SyncHistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM sync_history WHERE task_id = ?`, taskID)
	return scanHistory(row.Scan)
}

func historyWhere(ownerID int64, f HistoryFilter) (string, []any) {
	clauses := []string{"owner_id = ?"}
	args := []any{ownerID}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.TaskType != "" {
		clauses = append(clauses, "task_type = ?")
		args = append(args, f.TaskType)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "ended_at < ?")
		args = append(args, formatTime(f.Until))
	}
	return strings.Join(clauses, " AND "), args
}

// ListHistory returns a page of the owner's history, most recent first.
func (s *Store) ListHistory(ctx context.Context, ownerID int64, f HistoryFilter, req PageRequest) (Page[SyncHistoryRecord], error) {
	req = req.Normalize()
	where, args := historyWhere(ownerID, f)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_history WHERE "+where, args...).Scan(&total); err != nil {
		return Page[SyncHistoryRecord]{}, fmt.Errorf("counting history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM sync_history WHERE `+where+` ORDER BY ended_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, req.PageSize, req.offset())...)
	if err != nil {
		return Page[SyncHistoryRecord]{}, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var records []SyncHistoryRecord
	for rows.Next() {
		r, err := scanHistory(rows.Scan)
		if err != nil {
			return Page[SyncHistoryRecord]{}, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return Page[SyncHistoryRecord]{}, err
	}
	return newPage(records, total, req), nil
}

// HistoryStats aggregates every history record of an owner.
func (s *Store) HistoryStats(ctx context.Context, ownerID int64) (HistoryStats, error) {
	var st HistoryStats
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(synced_items), 0),
			COALESCE(SUM(failed_items), 0),
			MAX(ended_at)
		FROM sync_history WHERE owner_id = ?`, ownerID,
	).Scan(&st.Total, &st.Completed, &st.Failed, &st.Cancelled, &st.SyncedItems, &st.FailedItems, &last)
	if err != nil {
		return HistoryStats{}, fmt.Errorf("aggregating history: %w", err)
	}
	if st.LastSyncAt, err = parseNullTime(last); err != nil {
		return HistoryStats{}, fmt.Errorf("parsing last sync time: %w", err)
	}
	return st, nil
}

func scanHistory(scan func(dest ...any) error) (SyncHistoryRecord, error) {
	var r SyncHistoryRecord
	var status, startedAt, endedAt string
	err := scan(&r.HistID, &r.OwnerID, &r.TaskID, &r.TaskType, &status, &r.SyncedItems, &r.FailedItems,
		&r.DurationSeconds, &r.Error, &startedAt, &endedAt)
	if err == sql.ErrNoRows {
		return SyncHistoryRecord{}, ErrNotFound
	}
	if err != nil {
		return SyncHistoryRecord{}, err
	}
	r.Status = TaskStatus(status)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return SyncHistoryRecord{}, fmt.Errorf("parsing started_at for history %s: %w", r.HistID, err)
	}
	if r.EndedAt, err = parseTime(endedAt); err != nil {
		return SyncHistoryRecord{}, fmt.Errorf("parsing ended_at for history %s: %w", r.HistID, err)
	}
	return r, nil
}
