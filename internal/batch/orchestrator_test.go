package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/storage"
	"github.com/kalambet/offsync/internal/tasks"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDownloader struct {
	mu       sync.Mutex
	startFn  func(ownerID int64, k kind.Kind, sourceID, batchID string) (storage.DownloadTask, error)
	cancelFn func(ownerID int64, taskID string) (tasks.Task, error)
	started  []string
}

func (f *fakeDownloader) StartDownload(_ context.Context, ownerID int64, k kind.Kind, sourceID, batchID string) (storage.DownloadTask, error) {
	f.mu.Lock()
	f.started = append(f.started, sourceID)
	f.mu.Unlock()
	return f.startFn(ownerID, k, sourceID, batchID)
}

func (f *fakeDownloader) Cancel(_ context.Context, ownerID int64, taskID string) (tasks.Task, error) {
	return f.cancelFn(ownerID, taskID)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addItem(t *testing.T, s *storage.Store, owner int64, offlineID string) {
	t.Helper()
	err := s.InsertItem(context.Background(), storage.OfflineItem{
		OfflineID: offlineID,
		Kind:      kind.Note,
		SourceID:  "src-" + offlineID,
		OwnerID:   owner,
		Version:   1,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("InsertItem: %v", err)
	}
}

// TestBatchDeleteScenario deletes ["a","missing","b"] where "missing" belongs
// to someone else.
func TestBatchDeleteScenario(t *testing.T) {
	s := openTestStore(t)
	addItem(t, s, 1, "a")
	addItem(t, s, 1, "b")
	addItem(t, s, 2, "missing")
	o := New(s, nil, 0)

	res, err := o.RunBatchDelete(context.Background(), 1, []string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("RunBatchDelete: %v", err)
	}
	if res.Total != 3 || res.SuccessCount != 2 || res.FailCount != 1 {
		t.Errorf("counts = total %d ok %d failed %d", res.Total, res.SuccessCount, res.FailCount)
	}
	want := []ItemResult{
		{ItemID: "a", OK: true, Message: "deleted"},
		{ItemID: "missing", OK: false, Message: "not found"},
		{ItemID: "b", OK: true, Message: "deleted"},
	}
	for i, w := range want {
		if res.Results[i] != w {
			t.Errorf("results[%d] = %+v, want %+v", i, res.Results[i], w)
		}
	}

	if _, err := s.GetItemByID(context.Background(), 2, "missing"); err != nil {
		t.Errorf("other owner's item was touched: %v", err)
	}
}

func TestBatchSizeLimits(t *testing.T) {
	o := New(openTestStore(t), nil, 0)
	ctx := context.Background()

	if _, err := o.RunBatchDelete(ctx, 1, nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("empty batch = %v, want InvalidArgument", err)
	}
	ids := make([]string, MaxItems+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	if _, err := o.RunBatchDelete(ctx, 1, ids); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("oversized batch = %v, want InvalidArgument", err)
	}

	res, err := o.RunBatchDelete(ctx, 1, ids[:MaxItems])
	if err != nil {
		t.Fatalf("full-size batch: %v", err)
	}
	if res.Total != MaxItems || res.FailCount != MaxItems {
		t.Errorf("counts = %+v", res)
	}
	for i, r := range res.Results {
		if r.ItemID != ids[i] {
			t.Fatalf("results[%d] = %q, want %q (order not preserved)", i, r.ItemID, ids[i])
		}
	}
}

func TestBatchAbortsWhenStoreUnavailable(t *testing.T) {
	s := openTestStore(t)
	s.Close()
	o := New(s, nil, 0)

	_, err := o.RunBatchDelete(context.Background(), 1, []string{"a"})
	if apperr.CodeOf(err) != apperr.CodeInfrastructure {
		t.Errorf("closed store = %v, want INFRASTRUCTURE", err)
	}
}

func TestBatchDownloadIsolatesFailures(t *testing.T) {
	s := openTestStore(t)
	var batchIDs sync.Map
	d := &fakeDownloader{
		startFn: func(ownerID int64, k kind.Kind, sourceID, batchID string) (storage.DownloadTask, error) {
			batchIDs.Store(batchID, true)
			switch sourceID {
			case "missing":
				return storage.DownloadTask{}, apperr.NotFound("%s %s not found", k, sourceID)
			case "busy":
				return storage.DownloadTask{}, apperr.Conflict("a download is already in progress")
			case "boom":
				return storage.DownloadTask{}, apperr.Infrastructure(errors.New("disk on fire"), "creating download task")
			}
			return storage.DownloadTask{DownloadID: "dl-" + sourceID}, nil
		},
	}
	o := New(s, d, 2)

	ids := []string{"ok1", "missing", "busy", "ok2", "boom"}
	res, err := o.RunBatchDownload(context.Background(), 1, kind.Vocabulary, ids)
	if err != nil {
		t.Fatalf("RunBatchDownload: %v", err)
	}
	if res.BatchID == "" {
		t.Error("BatchID is empty")
	}
	if res.SuccessCount+res.FailCount != len(ids) || res.SuccessCount != 2 {
		t.Errorf("counts = %+v", res)
	}
	if res.Results[0].TaskID != "dl-ok1" || res.Results[3].TaskID != "dl-ok2" {
		t.Errorf("task ids = %+v", res.Results)
	}
	if res.Results[1].Message != "not found" {
		t.Errorf("missing message = %q", res.Results[1].Message)
	}
	if res.Results[2].Message != "a download is already in progress" {
		t.Errorf("busy message = %q", res.Results[2].Message)
	}
	if res.Results[4].OK || res.Results[4].Message == "" {
		t.Errorf("infrastructure item = %+v", res.Results[4])
	}

	n := 0
	batchIDs.Range(func(k, _ any) bool {
		n++
		if k != res.BatchID {
			t.Errorf("task used batch %v, want %s", k, res.BatchID)
		}
		return true
	})
	if n != 1 {
		t.Errorf("%d distinct batch ids, want 1", n)
	}

	if _, err := o.RunBatchDownload(context.Background(), 1, kind.Kind("video"), ids); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad kind = %v, want InvalidArgument", err)
	}
}

func TestBatchStatusAndCancel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, st := range []storage.TaskStatus{storage.StatusPending, storage.StatusDownloading, storage.StatusCompleted} {
		err := s.CreateDownloadTask(ctx, storage.DownloadTask{
			DownloadID: fmt.Sprintf("dl-%d", i),
			OwnerID:    1,
			Kind:       kind.Note,
			SourceID:   fmt.Sprintf("n%d", i),
			OfflineID:  fmt.Sprintf("off-%d", i),
			Status:     st,
			BatchID:    "b1",
			StartedAt:  testNow,
		})
		if err != nil {
			t.Fatalf("CreateDownloadTask: %v", err)
		}
	}

	var cancelled []string
	d := &fakeDownloader{
		cancelFn: func(ownerID int64, taskID string) (tasks.Task, error) {
			if taskID == "dl-1" {
				return tasks.Task{}, apperr.Conflict("task %s is already completed", taskID)
			}
			cancelled = append(cancelled, taskID)
			return tasks.Task{TaskID: taskID, Status: storage.StatusCancelled}, nil
		},
	}
	o := New(s, d, 0)

	st, err := o.BatchStatus(ctx, 1, "b1")
	if err != nil {
		t.Fatalf("BatchStatus: %v", err)
	}
	if st.Total != 3 || st.Counts[storage.StatusPending] != 1 || st.Counts[storage.StatusCompleted] != 1 {
		t.Errorf("status = %+v", st)
	}
	if _, err := o.BatchStatus(ctx, 2, "b1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("BatchStatus other owner = %v, want NotFound", err)
	}

	res, err := o.CancelBatch(ctx, 1, "b1")
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if res.Cancelled != 1 || res.AlreadyFinished != 2 || len(cancelled) != 1 || cancelled[0] != "dl-0" {
		t.Errorf("CancelBatch = %+v, cancelled %v", res, cancelled)
	}
}
