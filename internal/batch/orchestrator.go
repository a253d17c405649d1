// Package batch fans a request out over up to MaxItems items, collecting an
// independent outcome for each so one failure never aborts the rest.
package batch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/storage"
	"github.com/kalambet/offsync/internal/tasks"
)

// MaxItems is the largest batch accepted.
const MaxItems = 100

// Downloader starts and cancels download tasks.
type Downloader interface {
	StartDownload(ctx context.Context, ownerID int64, k kind.Kind, sourceID, batchID string) (storage.DownloadTask, error)
	Cancel(ctx context.Context, ownerID int64, taskID string) (tasks.Task, error)
}

// ItemResult is the outcome for one input id.
type ItemResult struct {
	ItemID  string `json:"item_id"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// Result summarizes a batch. Results are in input order.
type Result struct {
	BatchID      string       `json:"batch_id,omitempty"`
	Total        int          `json:"total"`
	SuccessCount int          `json:"success_count"`
	FailCount    int          `json:"fail_count"`
	Results      []ItemResult `json:"results"`
}

// Status reports every download of a batch.
type Status struct {
	BatchID string                     `json:"batch_id"`
	Total   int                        `json:"total"`
	Counts  map[storage.TaskStatus]int `json:"counts"`
	Tasks   []storage.DownloadTask     `json:"tasks"`
}

// CancelResult reports what a batch cancel did.
type CancelResult struct {
	BatchID         string `json:"batch_id"`
	Cancelled       int    `json:"cancelled"`
	AlreadyFinished int    `json:"already_finished"`
}

// Orchestrator runs batch deletes and downloads.
type Orchestrator struct {
	store       *storage.Store
	downloads   Downloader
	concurrency int
	logger      *slog.Logger
}

// New returns an Orchestrator that processes at most concurrency items at
// once. Values below 1 default to 8.
func New(store *storage.Store, downloads Downloader, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = 8
	}
	return &Orchestrator{
		store:       store,
		downloads:   downloads,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// RunBatchDelete deletes the owner's offline items, cascading to their
// download tasks.
func (o *Orchestrator) RunBatchDelete(ctx context.Context, ownerID int64, offlineIDs []string) (Result, error) {
	res, err := o.run(ctx, offlineIDs, func(ctx context.Context, id string) ItemResult {
		if _, err := o.store.DeleteItem(ctx, ownerID, id); err != nil {
			return failure(id, err)
		}
		return ItemResult{ItemID: id, OK: true, Message: "deleted"}
	})
	if err != nil {
		return Result{}, err
	}
	o.logger.Info("batch delete finished", "owner_id", ownerID, "total", res.Total, "failed", res.FailCount)
	return res, nil
}

// RunBatchDownload starts one download per source id, all sharing a new batch id.
func (o *Orchestrator) RunBatchDownload(ctx context.Context, ownerID int64, k kind.Kind, sourceIDs []string) (Result, error) {
	if !k.Valid() {
		return Result{}, apperr.InvalidArgument("unknown kind %q", k)
	}
	batchID := uuid.NewString()
	res, err := o.run(ctx, sourceIDs, func(ctx context.Context, id string) ItemResult {
		task, err := o.downloads.StartDownload(ctx, ownerID, k, id, batchID)
		if err != nil {
			return failure(id, err)
		}
		return ItemResult{ItemID: id, OK: true, Message: "queued", TaskID: task.DownloadID}
	})
	if err != nil {
		return Result{}, err
	}
	res.BatchID = batchID
	o.logger.Info("batch download queued", "owner_id", ownerID, "batch_id", batchID, "total", res.Total, "failed", res.FailCount)
	return res, nil
}

// BatchStatus returns the downloads of a batch with per-status counts.
func (o *Orchestrator) BatchStatus(ctx context.Context, ownerID int64, batchID string) (Status, error) {
	list, err := o.store.ListDownloadTasksByBatch(ctx, ownerID, batchID)
	if err != nil {
		return Status{}, apperr.Infrastructure(err, "listing batch")
	}
	if len(list) == 0 {
		return Status{}, apperr.NotFound("batch %s not found", batchID)
	}
	st := Status{BatchID: batchID, Total: len(list), Counts: make(map[storage.TaskStatus]int), Tasks: list}
	for _, t := range list {
		st.Counts[t.Status]++
	}
	return st, nil
}

// CancelBatch cancels every download of the batch that has not finished yet.
func (o *Orchestrator) CancelBatch(ctx context.Context, ownerID int64, batchID string) (CancelResult, error) {
	st, err := o.BatchStatus(ctx, ownerID, batchID)
	if err != nil {
		return CancelResult{}, err
	}
	out := CancelResult{BatchID: batchID}
	for _, t := range st.Tasks {
		if t.Status.Terminal() {
			out.AlreadyFinished++
			continue
		}
		_, err := o.downloads.Cancel(ctx, ownerID, t.DownloadID)
		switch {
		case err == nil:
			out.Cancelled++
		case errors.Is(err, apperr.ErrConflict):
			out.AlreadyFinished++
		default:
			return out, err
		}
	}
	o.logger.Info("batch cancelled", "owner_id", ownerID, "batch_id", batchID, "cancelled", out.Cancelled)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, ids []string, fn func(context.Context, string) ItemResult) (Result, error) {
	if len(ids) == 0 {
		return Result{}, apperr.InvalidArgument("at least one item id is required")
	}
	if len(ids) > MaxItems {
		return Result{}, apperr.InvalidArgument("at most %d items per batch, got %d", MaxItems, len(ids))
	}
	if err := o.store.Ping(ctx); err != nil {
		return Result{}, apperr.Infrastructure(err, "store unavailable")
	}

	results := make([]ItemResult, len(ids))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = fn(ctx, id)
			return nil
		})
	}
	g.Wait()

	res := Result{Total: len(ids), Results: results}
	for _, r := range results {
		if r.OK {
			res.SuccessCount++
		} else {
			res.FailCount++
		}
	}
	return res, nil
}

func failure(id string, err error) ItemResult {
	msg := apperr.Message(err)
	if errors.Is(err, storage.ErrNotFound) || apperr.CodeOf(err) == apperr.CodeNotFound {
		msg = "not found"
	}
	return ItemResult{ItemID: id, Message: msg}
}
