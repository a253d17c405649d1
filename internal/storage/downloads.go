package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/offsync/internal/kind"
)

// allowedTransitions lists the legal status moves for download and sync tasks.
// Sync tasks are created directly in running.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:     {StatusDownloading, StatusFailed, StatusCancelled},
	StatusDownloading: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning:     {StatusCompleted, StatusFailed, StatusCancelled},
}

func canTransition(from, to TaskStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const downloadColumns = `download_id, owner_id, kind, source_id, offline_id, status, progress, batch_id, started_at, ended_at, error`

// CreateDownloadTask inserts a pending download. Returns ErrConflict if the
// item already has a non-terminal download.
func (s *Store) CreateDownloadTask(ctx context.Context, t DownloadTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_tasks (`+downloadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.DownloadID, t.OwnerID, string(t.Kind), t.SourceID, t.OfflineID, string(t.Status), t.Progress,
		t.BatchID, formatTime(t.StartedAt), formatNullTime(t.EndedAt), t.Error,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting download task: %w", err)
	}
	return nil
}

// GetDownloadTask returns a download task by id.
func (s *Store) GetDownloadTask(ctx context.Context, id string) (DownloadTask, error) {
	return getDownloadTask(ctx, s.db, id)
}

// ActiveDownloadFor returns the non-terminal download for an item, if any.
func (s *Store) ActiveDownloadFor(ctx context.Context, ownerID int64, k kind.Kind, sourceID string) (DownloadTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM download_tasks
		WHERE owner_id = ? AND kind = ? AND source_id = ? AND status IN ('pending', 'downloading')`,
		ownerID, string(k), sourceID)
	return scanDownload(row.Scan)
}

// ListDownloadTasksByBatch returns every download of a batch in creation order.
func (s *Store) ListDownloadTasksByBatch(ctx context.Context, ownerID int64, batchID string) ([]DownloadTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+downloadColumns+` FROM download_tasks
		WHERE owner_id = ? AND batch_id = ? ORDER BY started_at ASC, rowid ASC`, ownerID, batchID)
	if err != nil {
		return nil, fmt.Errorf("listing batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var tasks []DownloadTask
	for rows.Next() {
		t, err := scanDownload(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TransitionDownload moves a download to status to. It returns ErrConflict when
// the current status does not allow the move, and the updated task otherwise.
func (s *Store) TransitionDownload(ctx context.Context, id string, to TaskStatus, errMsg string, now time.Time) (DownloadTask, error) {
	var out DownloadTask
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getDownloadTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canTransition(t.Status, to) {
			return ErrConflict
		}
		if err := transitionDownloadTx(ctx, tx, &t, to, errMsg, now); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func transitionDownloadTx(ctx context.Context, q queryer, t *DownloadTask, to TaskStatus, errMsg string, now time.Time) error {
	var ended sql.NullString
	if to.Terminal() {
		ended = formatNullTime(&now)
	}
	progress := t.Progress
	if to == StatusCompleted {
		progress = 100
	}
	res, err := q.ExecContext(ctx, `
		UPDATE download_tasks SET status = ?, progress = ?, ended_at = ?, error = ?
		WHERE download_id = ? AND status = ?`,
		string(to), progress, ended, errMsg, t.DownloadID, string(t.Status))
	if err != nil {
		return fmt.Errorf("updating download %s: %w", t.DownloadID, err)
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
	if to.Terminal() {
		ended := now
		t.EndedAt = &ended
	}
	return nil
}

// UpdateDownloadProgress records progress for a downloading task. Writes that
// would lower progress, or that arrive after the task left downloading, are
// dropped and reported as false.
func (s *Store) UpdateDownloadProgress(ctx context.Context, id string, progress int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_tasks SET progress = ?
		WHERE download_id = ? AND status = 'downloading' AND progress <= ?`,
		progress, id, progress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteDownload writes the downloaded item through fn and marks the task
// completed in one transaction. If the task is no longer downloading nothing
// is written and ErrConflict is returned.
func (s *Store) CompleteDownload(ctx context.Context, id string, now time.Time, fn ItemMutator) (OfflineItem, error) {
	var out OfflineItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getDownloadTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusDownloading {
			return ErrConflict
		}
		item, err := applyItemTx(ctx, tx, t.OwnerID, t.Kind, t.SourceID, fn)
		if err != nil {
			return err
		}
		if err := transitionDownloadTx(ctx, tx, &t, StatusCompleted, "", now); err != nil {
			return err
		}
		if item.OfflineID != t.OfflineID {
			// The item was created elsewhere after this task was queued.
			if _, err := tx.ExecContext(ctx, `
				UPDATE download_tasks SET offline_id = ?
				WHERE owner_id = ? AND kind = ? AND source_id = ?`,
				item.OfflineID, t.OwnerID, string(t.Kind), t.SourceID); err != nil {
				return fmt.Errorf("relinking downloads of %s: %w", t.SourceID, err)
			}
			t.OfflineID = item.OfflineID
		}
		out = item
		return nil
	})
	return out, err
}

// ListActiveDownloads returns pending or downloading tasks started before the
// cutoff. A zero cutoff returns all of them.
func (s *Store) ListActiveDownloads(ctx context.Context, startedBefore time.Time) ([]DownloadTask, error) {
	query := `SELECT ` + downloadColumns + ` FROM download_tasks WHERE status IN ('pending', 'downloading')`
	var args []any
	if !startedBefore.IsZero() {
		query += ` AND started_at < ?`
		args = append(args, formatTime(startedBefore))
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing active downloads: %w", err)
	}
	defer rows.Close()

	var tasks []DownloadTask
	for rows.Next() {
		t, err := scanDownload(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func getDownloadTask(ctx context.Context, q queryer, id string) (DownloadTask, error) {
	row := q.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM download_tasks WHERE download_id = ?`, id)
	return scanDownload(row.Scan)
}

func scanDownload(scan func(dest ...any) error) (DownloadTask, error) {
	var t DownloadTask
	var k, status, startedAt string
	var endedAt sql.NullString
	err := scan(&t.DownloadID, &t.OwnerID, &k, &t.SourceID, &t.OfflineID, &status, &t.Progress,
		&t.BatchID, &startedAt, &endedAt, &t.Error)
	if err == sql.ErrNoRows {
		return DownloadTask{}, ErrNotFound
	}
	if err != nil {
		return DownloadTask{}, err
	}
	t.Kind = kind.Kind(k)
	t.Status = TaskStatus(status)
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return DownloadTask{}, fmt.Errorf("parsing started_at for download %s: %w", t.DownloadID, err)
	}
	if t.EndedAt, err = parseNullTime(endedAt); err != nil {
		return DownloadTask{}, fmt.Errorf("parsing ended_at for download %s: %w", t.DownloadID, err)
	}
	return t, nil
}
