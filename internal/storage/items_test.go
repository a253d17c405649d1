package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/offsync/internal/kind"
)

func TestInsertItemUniquePerSource(t *testing.T) {
	s := openTestStore(t)
	seedItem(t, s, 1, kind.Note, "n1", 1, 10)

	dup := OfflineItem{
		OfflineID: "other", Kind: kind.Note, SourceID: "n1", OwnerID: 1,
		Version: 1, CreatedAt: testNow, UpdatedAt: testNow,
	}
	if err := s.InsertItem(context.Background(), dup); !errors.Is(err, ErrConflict) {
		t.Errorf("InsertItem duplicate = %v, want ErrConflict", err)
	}

	// Same source id under another owner or kind is a different item.
	seedItem(t, s, 2, kind.Note, "n1", 1, 10)
	seedItem(t, s, 1, kind.Highlight, "n1", 1, 10)
}

func TestGetItemRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	want := seedItem(t, s, 1, kind.Document, "d1", 3, 4096)

	got, err := s.GetItem(ctx, 1, kind.Document, "d1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.OfflineID != want.OfflineID || got.Version != 3 || got.SizeBytes != 4096 || !got.Synced {
		t.Errorf("GetItem = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "a" {
		t.Errorf("Tags = %v, want [a]", got.Tags)
	}
	if got.Payload["title"] != "title d1" {
		t.Errorf("Payload = %v", got.Payload)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testNow)
	}

	if _, err := s.GetItemByID(ctx, 2, want.OfflineID); err != ErrNotFound {
		t.Errorf("GetItemByID for other owner = %v, want ErrNotFound", err)
	}
	if _, err := s.GetItem(ctx, 1, kind.Document, "missing"); err != ErrNotFound {
		t.Errorf("GetItem missing = %v, want ErrNotFound", err)
	}
}

func TestApplyItemCreatesAndUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.ApplyItem(ctx, 1, kind.Vocabulary, "v1", func(existing *OfflineItem) (*OfflineItem, error) {
		if existing != nil {
			t.Fatal("expected no existing item")
		}
		return &OfflineItem{OfflineID: "new-id", Version: 2, Synced: true, CreatedAt: testNow, UpdatedAt: testNow}, nil
	})
	if err != nil {
		t.Fatalf("ApplyItem create: %v", err)
	}
	if created.OwnerID != 1 || created.Kind != kind.Vocabulary || created.SourceID != "v1" {
		t.Errorf("identity not filled in: %+v", created)
	}

	later := testNow.Add(time.Minute)
	updated, err := s.ApplyItem(ctx, 1, kind.Vocabulary, "v1", func(existing *OfflineItem) (*OfflineItem, error) {
		next := *existing
		next.OfflineID = "ignored"
		next.Version = 5
		next.UpdatedAt = later
		return &next, nil
	})
	if err != nil {
		t.Fatalf("ApplyItem update: %v", err)
	}
	if updated.OfflineID != "new-id" {
		t.Errorf("OfflineID changed to %q", updated.OfflineID)
	}

	got, _ := s.GetItem(ctx, 1, kind.Vocabulary, "v1")
	if got.Version != 5 || !got.UpdatedAt.Equal(later) {
		t.Errorf("stored = version %d updated %v", got.Version, got.UpdatedAt)
	}
}

func TestApplyItemNilLeavesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, kind.Note, "n1", 4, 10)

	got, err := s.ApplyItem(ctx, 1, kind.Note, "n1", func(*OfflineItem) (*OfflineItem, error) { return nil, nil })
	if err != nil || got.Version != 4 {
		t.Errorf("ApplyItem nil = %+v, %v", got, err)
	}

	sentinel := errors.New("boom")
	if _, err := s.ApplyItem(ctx, 1, kind.Note, "n1", func(*OfflineItem) (*OfflineItem, error) { return nil, sentinel }); err != sentinel {
		t.Errorf("ApplyItem error = %v, want sentinel", err)
	}
}

func TestApplyItemRejectsVersionDecrease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, kind.Note, "n1", 4, 10)

	_, err := s.ApplyItem(ctx, 1, kind.Note, "n1", func(existing *OfflineItem) (*OfflineItem, error) {
		next := *existing
		next.Version = 2
		return &next, nil
	})
	if err == nil {
		t.Fatal("expected error when lowering version")
	}
	got, _ := s.GetItem(ctx, 1, kind.Note, "n1")
	if got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}
}

func TestUpdateItemDetailsBumpsVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 1, kind.Note, "n1", 2, 10)

	title := "renamed"
	got, err := s.UpdateItemDetails(ctx, 1, item.OfflineID, ItemDetails{Title: &title, Tags: []string{"x", "y"}, SetTags: true}, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("UpdateItemDetails: %v", err)
	}
	if got.Version != 3 || got.Synced || got.Title != "renamed" || len(got.Tags) != 2 {
		t.Errorf("UpdateItemDetails = %+v", got)
	}

	if _, err := s.UpdateItemDetails(ctx, 9, item.OfflineID, ItemDetails{}, testNow); err != ErrNotFound {
		t.Errorf("UpdateItemDetails other owner = %v, want ErrNotFound", err)
	}
}

func TestListItemsPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedItem(t, s, 1, kind.Highlight, id, 1, 256)
	}
	seedItem(t, s, 1, kind.Review, "r", 1, 128)
	seedItem(t, s, 2, kind.Highlight, "z", 1, 256)

	page, err := s.ListItems(ctx, 1, kind.Highlight, PageRequest{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 || page.Page != 2 {
		t.Errorf("page = total %d pages %d len %d page %d", page.Total, page.TotalPages, len(page.Items), page.Page)
	}

	all, err := s.ListItems(ctx, 1, "", PageRequest{})
	if err != nil {
		t.Fatalf("ListItems all kinds: %v", err)
	}
	if all.Total != 6 || all.PageSize != DefaultPageSize {
		t.Errorf("all = total %d size %d", all.Total, all.PageSize)
	}

	empty, err := s.ListItems(ctx, 3, "", PageRequest{Page: 1, PageSize: 500})
	if err != nil {
		t.Fatalf("ListItems empty: %v", err)
	}
	if empty.Items == nil || empty.TotalPages != 0 || empty.PageSize != MaxPageSize {
		t.Errorf("empty page = %+v", empty)
	}
}

func TestUnsyncedAndMarkSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 1, kind.Note, "n1", 1, 10)
	seedItem(t, s, 1, kind.Highlight, "h1", 1, 10)

	if _, err := s.UpdateItemDetails(ctx, 1, item.OfflineID, ItemDetails{}, testNow); err != nil {
		t.Fatalf("UpdateItemDetails: %v", err)
	}

	unsynced, err := s.ListUnsyncedItems(ctx, 1, nil)
	if err != nil || len(unsynced) != 1 {
		t.Fatalf("ListUnsyncedItems = %d items, %v", len(unsynced), err)
	}
	if n, _ := s.CountUnsyncedItems(ctx, 1, []kind.Kind{kind.Highlight}); n != 0 {
		t.Errorf("unsynced highlights = %d, want 0", n)
	}

	// A stale version does not mark the item.
	ok, err := s.MarkItemSynced(ctx, item.OfflineID, 1, testNow)
	if err != nil || ok {
		t.Errorf("MarkItemSynced stale = %v, %v; want false", ok, err)
	}
	ok, err = s.MarkItemSynced(ctx, item.OfflineID, 2, testNow)
	if err != nil || !ok {
		t.Errorf("MarkItemSynced = %v, %v; want true", ok, err)
	}
	if n, _ := s.CountUnsyncedItems(ctx, 1, nil); n != 0 {
		t.Errorf("unsynced after mark = %d, want 0", n)
	}
}

func TestDeleteItemCascadesDownloads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 1, kind.Document, "d1", 1, 100)

	task := DownloadTask{
		DownloadID: "dl-1", OwnerID: 1, Kind: kind.Document, SourceID: "d1", OfflineID: item.OfflineID,
		Status: StatusCompleted, Progress: 100, StartedAt: testNow, EndedAt: &testNow,
	}
	if err := s.CreateDownloadTask(ctx, task); err != nil {
		t.Fatalf("CreateDownloadTask: %v", err)
	}

	n, err := s.DeleteItem(ctx, 1, item.OfflineID)
	if err != nil || n != 1 {
		t.Fatalf("DeleteItem = %d, %v; want 1, nil", n, err)
	}
	if _, err := s.GetDownloadTask(ctx, "dl-1"); err != ErrNotFound {
		t.Errorf("download after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.DeleteItem(ctx, 1, item.OfflineID); err != ErrNotFound {
		t.Errorf("second DeleteItem = %v, want ErrNotFound", err)
	}
}

func TestUsageAndClearOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, kind.Document, "d1", 1, 1000)
	seedItem(t, s, 1, kind.Document, "d2", 1, 500)
	seedItem(t, s, 1, kind.Vocabulary, "v1", 1, 512)
	seedItem(t, s, 2, kind.Vocabulary, "v1", 1, 512)

	if err := s.CreateDownloadTask(ctx, DownloadTask{
		DownloadID: "dl-1", OwnerID: 1, Kind: kind.Note, SourceID: "n9", OfflineID: "x",
		Status: StatusPending, StartedAt: testNow,
	}); err != nil {
		t.Fatalf("CreateDownloadTask: %v", err)
	}

	usage, err := s.UsageByKind(ctx, 1)
	if err != nil {
		t.Fatalf("UsageByKind: %v", err)
	}
	if usage[kind.Document].Items != 2 || usage[kind.Document].Bytes != 1500 || usage[kind.Vocabulary].Bytes != 512 {
		t.Errorf("usage = %+v", usage)
	}

	res, err := s.ClearOwner(ctx, 1)
	if err != nil {
		t.Fatalf("ClearOwner: %v", err)
	}
	if res.DeletedItems != 3 || res.DeletedTasks != 1 || res.FreedBytes != 2012 {
		t.Errorf("ClearOwner = %+v", res)
	}

	res, err = s.ClearOwner(ctx, 1)
	if err != nil || res != (ClearResult{}) {
		t.Errorf("second ClearOwner = %+v, %v; want zero counts", res, err)
	}

	other, _ := s.UsageByKind(ctx, 2)
	if other[kind.Vocabulary].Items != 1 {
		t.Error("ClearOwner touched another owner's items")
	}
}
