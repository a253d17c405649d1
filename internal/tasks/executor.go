// Package tasks tracks download and sync tasks through their lifecycle and
// runs them on a bounded worker pool.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/clock"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/source"
	"github.com/kalambet/offsync/internal/storage"
)

const (
	// ErrMsgTimeout is recorded on tasks failed by the sweep.
	ErrMsgTimeout = "timeout"
	// ErrMsgInterrupted is recorded on tasks left active by a previous process.
	ErrMsgInterrupted = "interrupted"
	// ErrMsgQueueFull is recorded on tasks that could not be queued.
	ErrMsgQueueFull = "task queue is full"
)

// QuotaChecker enforces storage quotas on download paths.
type QuotaChecker interface {
	CheckGrowth(ctx context.Context, ownerID int64, deltaBytes int64) error
	CheckRoom(ctx context.Context, ownerID int64) error
}

// Config tunes the executor. Zero fields take defaults.
type Config struct {
	Workers        int
	QueueSize      int
	StepDelay      time.Duration
	Steps          int
	MaxRunDuration time.Duration
	SweepInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.StepDelay <= 0 {
		c.StepDelay = 500 * time.Millisecond
	}
	if c.Steps <= 0 {
		c.Steps = 5
	}
	if c.MaxRunDuration <= 0 {
		c.MaxRunDuration = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

type jobType int

const (
	jobDownload jobType = iota
	jobSync
)

type job struct {
	typ jobType
	id  string
}

// Executor runs queued tasks on a fixed number of workers and sweeps tasks
// that outlive the maximum run duration.
type Executor struct {
	store  *storage.Store
	source source.ContentSource
	quota  QuotaChecker
	build  storage.HistoryBuilder
	clock  clock.Clock
	cfg    Config
	queue  chan job
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewExecutor creates an Executor. build turns finished sync tasks into their
// history records.
func NewExecutor(store *storage.Store, src source.ContentSource, quota QuotaChecker, build storage.HistoryBuilder, clk clock.Clock, cfg Config) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		store:   store,
		source:  src,
		quota:   quota,
		build:   build,
		clock:   clk,
		cfg:     cfg,
		queue:   make(chan job, cfg.QueueSize),
		logger:  slog.Default(),
		running: make(map[string]context.CancelFunc),
	}
}

// StepDelay is the simulated I/O wait between progress steps.
func (e *Executor) StepDelay() time.Duration { return e.cfg.StepDelay }

// Run starts the workers and the sweep loop and blocks until ctx is cancelled.
// Call RecoverOrphans before Run so tasks from a previous process do not
// linger.
func (e *Executor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			e.work(ctx)
			return nil
		})
	}
	g.Go(func() error {
		e.sweepLoop(ctx)
		return nil
	})
	return g.Wait()
}

// submit queues a job without blocking. It reports false when the queue is full.
func (e *Executor) submit(j job) bool {
	select {
	case e.queue <- j:
		return true
	default:
		return false
	}
}

// cancel stops the work for a task if a worker is running it.
func (e *Executor) cancel(id string) {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Executor) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.queue:
			e.runJob(ctx, j)
		}
	}
}

func (e *Executor) runJob(ctx context.Context, j job) {
	taskCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running[j.id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, j.id)
		e.mu.Unlock()
		cancel()
	}()

	switch j.typ {
	case jobDownload:
		e.runDownload(ctx, taskCtx, j.id)
	case jobSync:
		e.runSync(ctx, taskCtx, j.id)
	}
}

// wait sleeps for one step. It returns false if the task was cancelled.
func (e *Executor) wait(ctx context.Context) bool {
	t := time.NewTimer(e.cfg.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runDownload executes one download. Status writes go through ctx so they
// still land when taskCtx has been cancelled; every write is conditional on
// the task still being active.
func (e *Executor) runDownload(ctx, taskCtx context.Context, id string) {
	task, err := e.store.TransitionDownload(ctx, id, storage.StatusDownloading, "", e.clock.Now())
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug("download no longer pending", "download_id", id)
		return
	}
	if err != nil {
		e.logger.Error("starting download", "download_id", id, "error", err)
		return
	}

	payload, err := e.source.GetSourceItem(taskCtx, task.Kind, task.SourceID)
	if err != nil {
		if taskCtx.Err() != nil {
			return
		}
		if errors.Is(err, source.ErrNotFound) {
			e.failDownload(ctx, id, "source item not found")
		} else {
			e.failDownload(ctx, id, fmt.Sprintf("fetching source item: %v", err))
		}
		return
	}

	for step := 1; step <= e.cfg.Steps; step++ {
		if !e.wait(taskCtx) {
			return
		}
		if step == e.cfg.Steps {
			break
		}
		ok, err := e.store.UpdateDownloadProgress(ctx, id, step*100/e.cfg.Steps)
		if err != nil {
			e.failDownload(ctx, id, fmt.Sprintf("recording progress: %v", err))
			return
		}
		if !ok {
			return
		}
	}

	spec, _ := kind.SpecFor(task.Kind)
	size := spec.Size(payload)
	var existingSize int64
	if existing, err := e.store.GetItem(ctx, task.OwnerID, task.Kind, task.SourceID); err == nil {
		existingSize = existing.SizeBytes
	} else if !errors.Is(err, storage.ErrNotFound) {
		e.failDownload(ctx, id, fmt.Sprintf("reading existing item: %v", err))
		return
	}
	if err := e.quota.CheckGrowth(ctx, task.OwnerID, size-existingSize); err != nil {
		e.failDownload(ctx, id, apperr.Message(err))
		return
	}

	now := e.clock.Now()
	item, err := e.store.CompleteDownload(ctx, id, now, func(existing *storage.OfflineItem) (*storage.OfflineItem, error) {
		if existing == nil {
			return &storage.OfflineItem{
				OfflineID: task.OfflineID,
				Title:     spec.Title(payload),
				Payload:   payload,
				SizeBytes: size,
				Version:   1,
				Synced:    true,
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		}
		next := *existing
		if title := spec.Title(payload); title != "" {
			next.Title = title
		}
		next.Payload = payload
		next.SizeBytes = size
		next.Synced = true
		next.UpdatedAt = now
		return &next, nil
	})
	if errors.Is(err, storage.ErrConflict) {
		e.logger.Info("download finished after it was stopped", "download_id", id)
		return
	}
	if err != nil {
		e.failDownload(ctx, id, fmt.Sprintf("storing item: %v", err))
		return
	}
	e.logger.Info("download completed", "download_id", id, "offline_id", item.OfflineID, "size_bytes", size)
}

func (e *Executor) failDownload(ctx context.Context, id, msg string) {
	_, err := e.store.TransitionDownload(ctx, id, storage.StatusFailed, msg, e.clock.Now())
	if errors.Is(err, storage.ErrConflict) {
		return
	}
	if err != nil {
		e.logger.Error("marking download failed", "download_id", id, "error", err)
		return
	}
	e.logger.Warn("download failed", "download_id", id, "error", msg)
}

func (e *Executor) runSync(ctx, taskCtx context.Context, id string) {
	task, err := e.store.GetSyncTask(ctx, id)
	if err != nil {
		e.logger.Error("loading sync task", "task_id", id, "error", err)
		return
	}
	if task.Status != storage.StatusRunning {
		return
	}

	var kinds []kind.Kind
	if k := kind.Kind(task.TaskType); k.Valid() {
		kinds = []kind.Kind{k}
	}
	items, err := e.store.ListUnsyncedItems(ctx, task.OwnerID, kinds)
	if err != nil {
		e.finishSync(ctx, id, storage.StatusFailed, fmt.Sprintf("listing unsynced items: %v", err))
		return
	}

	var completed, failed int
	for i, item := range items {
		if !e.wait(taskCtx) {
			return
		}
		_, err := e.source.GetSourceItem(taskCtx, item.Kind, item.SourceID)
		switch {
		case err == nil:
			if taskCtx.Err() != nil {
				return
			}
			ok, err := e.store.MarkItemSynced(ctx, item.OfflineID, item.Version, e.clock.Now())
			if err != nil {
				e.finishSync(ctx, id, storage.StatusFailed, fmt.Sprintf("marking item synced: %v", err))
				return
			}
			if ok {
				completed++
			} else {
				// Edited or deleted while the sync ran.
				failed++
			}
		case errors.Is(err, source.ErrNotFound):
			failed++
		case taskCtx.Err() != nil:
			return
		default:
			e.finishSync(ctx, id, storage.StatusFailed, fmt.Sprintf("checking source item %s: %v", item.SourceID, err))
			return
		}

		ok, err := e.store.UpdateSyncProgress(ctx, id, (i+1)*100/len(items), completed, failed)
		if err != nil {
			e.finishSync(ctx, id, storage.StatusFailed, fmt.Sprintf("recording progress: %v", err))
			return
		}
		if !ok {
			return
		}
	}

	e.finishSync(ctx, id, storage.StatusCompleted, "")
}

func (e *Executor) finishSync(ctx context.Context, id string, to storage.TaskStatus, msg string) {
	task, err := e.store.FinishSyncTask(ctx, id, to, msg, e.clock.Now(), e.build)
	if errors.Is(err, storage.ErrConflict) {
		return
	}
	if err != nil {
		e.logger.Error("finishing sync task", "task_id", id, "status", to, "error", err)
		return
	}
	e.logger.Info("sync finished",
		"task_id", id,
		"status", to,
		"completed_ops", task.CompletedOps,
		"failed_ops", task.FailedOps,
		"error", msg,
	)
}

func (e *Executor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.Sweep(ctx); err != nil {
				e.logger.Error("task sweep failed", "error", err)
			} else if n > 0 {
				e.logger.Warn("timed out tasks", "count", n)
			}
		}
	}
}

// Sweep fails every task that has been active longer than the maximum run
// duration and returns how many it stopped.
func (e *Executor) Sweep(ctx context.Context) (int, error) {
	return e.failActive(ctx, e.clock.Now().Add(-e.cfg.MaxRunDuration), ErrMsgTimeout)
}

// RecoverOrphans fails every task still active in the store. It must run
// before the executor accepts work.
func (e *Executor) RecoverOrphans(ctx context.Context) (int, error) {
	n, err := e.failActive(ctx, time.Time{}, ErrMsgInterrupted)
	if n > 0 {
		e.logger.Warn("recovered orphaned tasks", "count", n)
	}
	return n, err
}

func (e *Executor) failActive(ctx context.Context, startedBefore time.Time, msg string) (int, error) {
	downloads, err := e.store.ListActiveDownloads(ctx, startedBefore)
	if err != nil {
		return 0, err
	}
	syncs, err := e.store.ListRunningSyncTasks(ctx, startedBefore)
	if err != nil {
		return 0, err
	}

	now := e.clock.Now()
	var n int
	for _, d := range downloads {
		_, err := e.store.TransitionDownload(ctx, d.DownloadID, storage.StatusFailed, msg, now)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("failing download %s: %w", d.DownloadID, err)
		}
		e.cancel(d.DownloadID)
		n++
	}
	for _, s := range syncs {
		_, err := e.store.FinishSyncTask(ctx, s.TaskID, storage.StatusFailed, msg, now, e.build)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("failing sync %s: %w", s.TaskID, err)
		}
		e.cancel(s.TaskID)
		n++
	}
	return n, nil
}
