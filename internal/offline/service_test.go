package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/clock"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/reconcile"
	"github.com/kalambet/offsync/internal/source"
	"github.com/kalambet/offsync/internal/storage"
	"github.com/kalambet/offsync/internal/tasks"
)

func newTestService(t *testing.T) (*Service, *source.Memory) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	src := source.NewMemory()
	svc := New(Deps{
		Store:  s,
		Source: src,
		Clock:  clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Tasks:  tasks.Config{Workers: 1, StepDelay: time.Millisecond, Steps: 2},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Executor().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc, src
}

func TestEditThenSyncRoundTrip(t *testing.T) {
	svc, src := newTestService(t)
	ctx := context.Background()
	src.Put(kind.Note, "n1", kind.Payload{"title": "Verbs", "content": "to be"})

	res, err := svc.Reconcile(ctx, 1, kind.Note, "n1", 1, kind.Payload{"title": "Verbs", "content": "to be"})
	if err != nil || res.Direction != reconcile.Push {
		t.Fatalf("Reconcile = %+v, %v", res, err)
	}

	title := "Irregular verbs"
	edited, err := svc.UpdateOfflineItem(ctx, 1, res.Item.OfflineID, storage.ItemDetails{Title: &title})
	if err != nil {
		t.Fatalf("UpdateOfflineItem: %v", err)
	}
	if edited.Synced || edited.Version != 2 {
		t.Errorf("edit = synced %v version %d", edited.Synced, edited.Version)
	}

	task, err := svc.StartSync(ctx, 1, "full")
	if err != nil {
		t.Fatalf("StartSync: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := svc.GetTaskStatus(ctx, 1, task.TaskID)
		if err != nil {
			t.Fatalf("GetTaskStatus: %v", err)
		}
		if st.Status == storage.StatusCompleted {
			break
		}
		if st.Status.Terminal() || time.Now().After(deadline) {
			t.Fatalf("sync status = %s", st.Status)
		}
		time.Sleep(2 * time.Millisecond)
	}

	item, _ := svc.GetOfflineItem(ctx, 1, res.Item.OfflineID)
	if !item.Synced {
		t.Error("item not synced after sync completed")
	}

	stats, err := svc.GetSyncStats(ctx, 1)
	if err != nil || stats.Completed != 1 || stats.SyncedItems != 1 {
		t.Errorf("stats = %+v, %v", stats, err)
	}
}

func TestServiceValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ListOfflineItems(ctx, 1, kind.Kind("video"), storage.PageRequest{}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("ListOfflineItems bad kind = %v", err)
	}
	if _, err := svc.UpdateOfflineItem(ctx, 1, "x", storage.ItemDetails{}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("empty update = %v", err)
	}
	blank := "  "
	if _, err := svc.UpdateOfflineItem(ctx, 1, "x", storage.ItemDetails{Title: &blank}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("blank title = %v", err)
	}
	title := "t"
	if _, err := svc.UpdateOfflineItem(ctx, 1, "x", storage.ItemDetails{Title: &title}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing item = %v", err)
	}
	if _, err := svc.GetOfflineItem(ctx, 1, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetOfflineItem missing = %v", err)
	}
	if _, err := svc.DeleteOfflineItem(ctx, 1, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("DeleteOfflineItem missing = %v", err)
	}
	if err := svc.Ping(ctx); err != nil {
		t.Errorf("Ping = %v", err)
	}
}
