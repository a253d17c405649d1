package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/history"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/source"
	"github.com/kalambet/offsync/internal/storage"
)

const (
	TypeDownload = "download"
	TypeSync     = "sync"
)

// Task is a point-in-time view of either a download or a sync task.
type Task struct {
	TaskID   string                `json:"task_id"`
	Type     string                `json:"type"`
	Status   storage.TaskStatus    `json:"status"`
	Progress int                   `json:"progress"`
	Download *storage.DownloadTask `json:"download,omitempty"`
	Sync     *storage.SyncTask     `json:"sync,omitempty"`
}

func downloadView(t storage.DownloadTask) Task {
	return Task{TaskID: t.DownloadID, Type: TypeDownload, Status: t.Status, Progress: t.Progress, Download: &t}
}

func syncView(t storage.SyncTask) Task {
	return Task{TaskID: t.TaskID, Type: TypeSync, Status: t.Status, Progress: t.Progress, Sync: &t}
}

// Registry creates, looks up and cancels tasks, handing new ones to the
// Executor.
type Registry struct {
	store *storage.Store
	exec  *Executor
}

func NewRegistry(store *storage.Store, exec *Executor) *Registry {
	return &Registry{store: store, exec: exec}
}

// StartDownload creates a pending download of one source item.
func (r *Registry) StartDownload(ctx context.Context, ownerID int64, k kind.Kind, sourceID, batchID string) (storage.DownloadTask, error) {
	if !k.Valid() {
		return storage.DownloadTask{}, apperr.InvalidArgument("unknown kind %q", k)
	}
	if sourceID == "" {
		return storage.DownloadTask{}, apperr.InvalidArgument("source_id is required")
	}

	if _, err := r.exec.source.GetSourceItem(ctx, k, sourceID); err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return storage.DownloadTask{}, apperr.NotFound("%s %s not found", k, sourceID)
		}
		return storage.DownloadTask{}, apperr.Infrastructure(err, "reading content source")
	}
	if err := r.exec.quota.CheckRoom(ctx, ownerID); err != nil {
		return storage.DownloadTask{}, err
	}

	offlineID := uuid.NewString()
	existing, err := r.store.GetItem(ctx, ownerID, k, sourceID)
	switch {
	case err == nil:
		offlineID = existing.OfflineID
	case !errors.Is(err, storage.ErrNotFound):
		return storage.DownloadTask{}, apperr.Infrastructure(err, "reading offline item")
	}

	task := storage.DownloadTask{
		DownloadID: uuid.NewString(),
		OwnerID:    ownerID,
		Kind:       k,
		SourceID:   sourceID,
		OfflineID:  offlineID,
		Status:     storage.StatusPending,
		BatchID:    batchID,
		StartedAt:  r.exec.clock.Now(),
	}
	if err := r.store.CreateDownloadTask(ctx, task); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.DownloadTask{}, apperr.Conflict("a download of %s %s is already in progress", k, sourceID)
		}
		return storage.DownloadTask{}, apperr.Infrastructure(err, "creating download task")
	}

	if !r.exec.submit(job{typ: jobDownload, id: task.DownloadID}) {
		r.exec.failDownload(ctx, task.DownloadID, ErrMsgQueueFull)
		return storage.DownloadTask{}, apperr.Infrastructure(errors.New(ErrMsgQueueFull), "queueing download")
	}
	r.exec.logger.Info("download queued", "download_id", task.DownloadID, "owner_id", ownerID, "kind", k, "source_id", sourceID)
	return task, nil
}

// StartSync creates a running sync of the owner's unsynced items. taskType is
// "full" or a kind name.
func (r *Registry) StartSync(ctx context.Context, ownerID int64, taskType string) (storage.SyncTask, error) {
	taskType, err := history.ParseTaskType(taskType)
	if err != nil {
		return storage.SyncTask{}, err
	}
	var kinds []kind.Kind
	if taskType != history.TaskTypeFull {
		kinds = []kind.Kind{kind.Kind(taskType)}
	}
	pending, err := r.store.CountUnsyncedItems(ctx, ownerID, kinds)
	if err != nil {
		return storage.SyncTask{}, apperr.Infrastructure(err, "counting unsynced items")
	}

	now := r.exec.clock.Now()
	task := storage.SyncTask{
		TaskID:         uuid.NewString(),
		OwnerID:        ownerID,
		TaskType:       taskType,
		Status:         storage.StatusRunning,
		StartedAt:      now,
		EstimatedEndAt: now.Add(time.Duration(max(pending, 1)) * r.exec.StepDelay()),
	}
	if err := r.store.CreateSyncTask(ctx, task); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.SyncTask{}, apperr.Conflict("a sync is already running")
		}
		return storage.SyncTask{}, apperr.Infrastructure(err, "creating sync task")
	}

	if !r.exec.submit(job{typ: jobSync, id: task.TaskID}) {
		r.exec.finishSync(ctx, task.TaskID, storage.StatusFailed, ErrMsgQueueFull)
		return storage.SyncTask{}, apperr.Infrastructure(errors.New(ErrMsgQueueFull), "queueing sync")
	}
	r.exec.logger.Info("sync started", "task_id", task.TaskID, "owner_id", ownerID, "task_type", taskType, "items", pending)
	return task, nil
}

// Status returns the current stored state of a task owned by ownerID.
func (r *Registry) Status(ctx context.Context, ownerID int64, taskID string) (Task, error) {
	d, err := r.store.GetDownloadTask(ctx, taskID)
	if err == nil {
		if d.OwnerID != ownerID {
			return Task{}, apperr.NotFound("task %s not found", taskID)
		}
		return downloadView(d), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Task{}, apperr.Infrastructure(err, "reading download task")
	}

	s, err := r.store.GetSyncTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && s.OwnerID != ownerID) {
		return Task{}, apperr.NotFound("task %s not found", taskID)
	}
	if err != nil {
		return Task{}, apperr.Infrastructure(err, "reading sync task")
	}
	return syncView(s), nil
}

// Cancel stops a pending or running task. Cancelling a finished task is a
// Conflict.
func (r *Registry) Cancel(ctx context.Context, ownerID int64, taskID string) (Task, error) {
	current, err := r.Status(ctx, ownerID, taskID)
	if err != nil {
		return Task{}, err
	}
	if current.Status.Terminal() {
		return Task{}, apperr.Conflict("task %s is already %s", taskID, current.Status)
	}

	now := r.exec.clock.Now()
	var out Task
	switch current.Type {
	case TypeDownload:
		t, err := r.store.TransitionDownload(ctx, taskID, storage.StatusCancelled, "", now)
		if err != nil {
			return Task{}, r.cancelError(ctx, ownerID, taskID, err)
		}
		out = downloadView(t)
	default:
		t, err := r.store.FinishSyncTask(ctx, taskID, storage.StatusCancelled, "", now, r.exec.build)
		if err != nil {
			return Task{}, r.cancelError(ctx, ownerID, taskID, err)
		}
		out = syncView(t)
	}

	r.exec.cancel(taskID)
	r.exec.logger.Info("task cancelled", "task_id", taskID, "type", out.Type, "owner_id", ownerID)
	return out, nil
}

// cancelError maps a lost race with the executor or the sweep to Conflict.
func (r *Registry) cancelError(ctx context.Context, ownerID int64, taskID string, err error) error {
	if !errors.Is(err, storage.ErrConflict) {
		return apperr.Infrastructure(err, "cancelling task")
	}
	if t, serr := r.Status(ctx, ownerID, taskID); serr == nil {
		return apperr.Conflict("task %s is already %s", taskID, t.Status)
	}
	return apperr.Conflict("task %s already finished", taskID)
}
