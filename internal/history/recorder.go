// Package history builds the immutable audit record written when a sync task
// finishes and answers queries over those records.
package history

import (
	"context"

	"github.com/google/uuid"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/storage"
)

// TaskTypeFull syncs every kind.
const TaskTypeFull = "full"

// Recorder builds and queries sync history.
type Recorder struct {
	store *storage.Store
}

func NewRecorder(store *storage.Store) *Recorder {
	return &Recorder{store: store}
}

// Build summarizes a sync task that has just reached a terminal status. It is
// passed to storage.Store.FinishSyncTask so the record is written in the same
// transaction as the transition.
func (r *Recorder) Build(t storage.SyncTask) storage.SyncHistoryRecord {
	ended := t.StartedAt
	if t.EndedAt != nil {
		ended = *t.EndedAt
	}
	duration := int64(ended.Sub(t.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	return storage.SyncHistoryRecord{
		HistID:          uuid.NewString(),
		OwnerID:         t.OwnerID,
		TaskID:          t.TaskID,
		TaskType:        t.TaskType,
		Status:          t.Status,
		SyncedItems:     t.CompletedOps,
		FailedItems:     t.FailedOps,
		DurationSeconds: duration,
		Error:           t.Error,
		StartedAt:       t.StartedAt,
		EndedAt:         ended,
	}
}

// List returns a filtered page of the owner's history, most recent first.
func (r *Recorder) List(ctx context.Context, ownerID int64, f storage.HistoryFilter, req storage.PageRequest) (storage.Page[storage.SyncHistoryRecord], error) {
	if err := validateFilter(f); err != nil {
		return storage.Page[storage.SyncHistoryRecord]{}, err
	}
	page, err := r.store.ListHistory(ctx, ownerID, f, req)
	if err != nil {
		return storage.Page[storage.SyncHistoryRecord]{}, apperr.Infrastructure(err, "listing sync history")
	}
	return page, nil
}

// Stats aggregates the owner's history.
func (r *Recorder) Stats(ctx context.Context, ownerID int64) (storage.HistoryStats, error) {
	st, err := r.store.HistoryStats(ctx, ownerID)
	if err != nil {
		return storage.HistoryStats{}, apperr.Infrastructure(err, "aggregating sync history")
	}
	return st, nil
}

func validateFilter(f storage.HistoryFilter) error {
	if f.Status != "" && !f.Status.Terminal() {
		return apperr.InvalidArgument("status filter must be completed, failed or cancelled, got %q", f.Status)
	}
	if f.TaskType != "" && f.TaskType != TaskTypeFull && !kind.Kind(f.TaskType).Valid() {
		return apperr.InvalidArgument("unknown task type %q", f.TaskType)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return apperr.InvalidArgument("since must be before until")
	}
	return nil
}

// ParseTaskType normalizes "full" or a kind name such as "notes".
func ParseTaskType(s string) (string, error) {
	if s == "" || s == TaskTypeFull {
		return TaskTypeFull, nil
	}
	k, err := kind.Parse(s)
	if err != nil {
		return "", apperr.InvalidArgument("task type must be %q or a kind name, got %q", TaskTypeFull, s)
	}
	return string(k), nil
}
