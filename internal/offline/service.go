// Package offline is the transport-agnostic operation surface. It wires the
// mirror store, reconciler, task registry, batch orchestrator, accountant and
// history recorder together; the REST and MCP adapters call only this.
package offline

import (
	"context"
	"errors"
	"strings"

	"github.com/kalambet/offsync/internal/accounting"
	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/batch"
	"github.com/kalambet/offsync/internal/clock"
	"github.com/kalambet/offsync/internal/history"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/reconcile"
	"github.com/kalambet/offsync/internal/source"
	"github.com/kalambet/offsync/internal/storage"
	"github.com/kalambet/offsync/internal/tasks"
)

// Deps configures a Service.
type Deps struct {
	Store            *storage.Store
	Source           source.ContentSource
	Clock            clock.Clock
	Tasks            tasks.Config
	DefaultLimitMB   int
	BatchConcurrency int
}

// Service exposes every offline operation scoped to an authenticated owner.
type Service struct {
	store      *storage.Store
	clock      clock.Clock
	reconciler *reconcile.Reconciler
	executor   *tasks.Executor
	registry   *tasks.Registry
	batches    *batch.Orchestrator
	accountant *accounting.Accountant
	history    *history.Recorder
}

func New(d Deps) *Service {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	acct := accounting.New(d.Store, clk, d.DefaultLimitMB)
	rec := history.NewRecorder(d.Store)
	exec := tasks.NewExecutor(d.Store, d.Source, acct, rec.Build, clk, d.Tasks)
	reg := tasks.NewRegistry(d.Store, exec)

	return &Service{
		store:      d.Store,
		clock:      clk,
		reconciler: reconcile.New(d.Store, clk, acct),
		executor:   exec,
		registry:   reg,
		batches:    batch.New(d.Store, reg, d.BatchConcurrency),
		accountant: acct,
		history:    rec,
	}
}

// Executor returns the task executor so the caller can run it.
func (s *Service) Executor() *tasks.Executor { return s.executor }

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return apperr.Infrastructure(s.store.Ping(ctx), "store unavailable")
}

func (s *Service) Reconcile(ctx context.Context, ownerID int64, k kind.Kind, sourceID string, version int, payload kind.Payload) (reconcile.Result, error) {
	return s.reconciler.Reconcile(ctx, k, ownerID, sourceID, version, payload)
}

func (s *Service) StartDownload(ctx context.Context, ownerID int64, k kind.Kind, sourceID string) (storage.DownloadTask, error) {
	return s.registry.StartDownload(ctx, ownerID, k, sourceID, "")
}

func (s *Service) StartSync(ctx context.Context, ownerID int64, taskType string) (storage.SyncTask, error) {
	return s.registry.StartSync(ctx, ownerID, taskType)
}

func (s *Service) CancelTask(ctx context.Context, ownerID int64, taskID string) (tasks.Task, error) {
	return s.registry.Cancel(ctx, ownerID, taskID)
}

func (s *Service) GetTaskStatus(ctx context.Context, ownerID int64, taskID string) (tasks.Task, error) {
	return s.registry.Status(ctx, ownerID, taskID)
}

// ListOfflineItems pages through the owner's items. An empty kind lists all kinds.
func (s *Service) ListOfflineItems(ctx context.Context, ownerID int64, k kind.Kind, req storage.PageRequest) (storage.Page[storage.OfflineItem], error) {
	if k != "" && !k.Valid() {
		return storage.Page[storage.OfflineItem]{}, apperr.InvalidArgument("unknown kind %q", k)
	}
	page, err := s.store.ListItems(ctx, ownerID, k, req)
	if err != nil {
		return storage.Page[storage.OfflineItem]{}, apperr.Infrastructure(err, "listing offline items")
	}
	return page, nil
}

func (s *Service) GetOfflineItem(ctx context.Context, ownerID int64, offlineID string) (storage.OfflineItem, error) {
	item, err := s.store.GetItemByID(ctx, ownerID, offlineID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.OfflineItem{}, apperr.NotFound("item %s not found", offlineID)
	}
	if err != nil {
		return storage.OfflineItem{}, apperr.Infrastructure(err, "reading offline item")
	}
	return item, nil
}

// UpdateOfflineItem applies a user edit: the version is bumped and the item
// is flagged for the next sync.
func (s *Service) UpdateOfflineItem(ctx context.Context, ownerID int64, offlineID string, d storage.ItemDetails) (storage.OfflineItem, error) {
	if d.Title == nil && d.Description == nil && !d.SetTags {
		return storage.OfflineItem{}, apperr.InvalidArgument("nothing to update")
	}
	if d.Title != nil && strings.TrimSpace(*d.Title) == "" {
		return storage.OfflineItem{}, apperr.InvalidArgument("title cannot be empty")
	}
	item, err := s.store.UpdateItemDetails(ctx, ownerID, offlineID, d, s.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.OfflineItem{}, apperr.NotFound("item %s not found", offlineID)
	}
	if err != nil {
		return storage.OfflineItem{}, apperr.Infrastructure(err, "updating offline item")
	}
	return item, nil
}

// DeleteOfflineItem removes one item and its download tasks.
func (s *Service) DeleteOfflineItem(ctx context.Context, ownerID int64, offlineID string) (int, error) {
	n, err := s.store.DeleteItem(ctx, ownerID, offlineID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, apperr.NotFound("item %s not found", offlineID)
	}
	if err != nil {
		return 0, apperr.Infrastructure(err, "deleting offline item")
	}
	return n, nil
}

func (s *Service) RunBatchDelete(ctx context.Context, ownerID int64, offlineIDs []string) (batch.Result, error) {
	return s.batches.RunBatchDelete(ctx, ownerID, offlineIDs)
}

func (s *Service) RunBatchDownload(ctx context.Context, ownerID int64, k kind.Kind, sourceIDs []string) (batch.Result, error) {
	return s.batches.RunBatchDownload(ctx, ownerID, k, sourceIDs)
}

func (s *Service) BatchStatus(ctx context.Context, ownerID int64, batchID string) (batch.Status, error) {
	return s.batches.BatchStatus(ctx, ownerID, batchID)
}

func (s *Service) CancelBatch(ctx context.Context, ownerID int64, batchID string) (batch.CancelResult, error) {
	return s.batches.CancelBatch(ctx, ownerID, batchID)
}

func (s *Service) ClearCache(ctx context.Context, ownerID int64) (storage.ClearResult, error) {
	return s.accountant.ClearCache(ctx, ownerID)
}

func (s *Service) SetStorageLimit(ctx context.Context, ownerID int64, limitMB int) (accounting.Usage, error) {
	return s.accountant.SetLimit(ctx, ownerID, limitMB)
}

func (s *Service) GetStorageUsage(ctx context.Context, ownerID int64) (accounting.Usage, error) {
	return s.accountant.GetUsage(ctx, ownerID)
}

func (s *Service) GetSyncHistory(ctx context.Context, ownerID int64, f storage.HistoryFilter, req storage.PageRequest) (storage.Page[storage.SyncHistoryRecord], error) {
	return s.history.List(ctx, ownerID, f, req)
}

func (s *Service) GetSyncStats(ctx context.Context, ownerID int64) (storage.HistoryStats, error) {
	return s.history.Stats(ctx, ownerID)
}
