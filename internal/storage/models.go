package storage

import (
	"errors"
	"time"

	"github.com/kalambet/offsync/internal/kind"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness invariant:
// a second mirror for the same source item, a second active download for the
// same item, or a second running sync for the same owner.
var ErrConflict = errors.New("conflict")

// OfflineItem is a client-side mirror of one server entity.
type OfflineItem struct {
	OfflineID   string       `json:"offline_id"`
	Kind        kind.Kind    `json:"kind"`
	SourceID    string       `json:"source_id"`
	OwnerID     int64        `json:"owner_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	Payload     kind.Payload `json:"payload"`
	SizeBytes   int64        `json:"size_bytes"`
	Version     int          `json:"version"`
	Synced      bool         `json:"synced"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a download or sync task.
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusRunning     TaskStatus = "running"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
	StatusCancelled   TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DownloadTask tracks fetching one source item into an offline mirror.
type DownloadTask struct {
	DownloadID string     `json:"download_id"`
	OwnerID    int64      `json:"owner_id"`
	Kind       kind.Kind  `json:"kind"`
	SourceID   string     `json:"source_id"`
	OfflineID  string     `json:"offline_id"`
	Status     TaskStatus `json:"status"`
	Progress   int        `json:"progress"`
	BatchID    string     `json:"batch_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// SyncTask tracks one bulk sync of an owner's unsynced mirrors.
type SyncTask struct {
	TaskID         string     `json:"task_id"`
	OwnerID        int64      `json:"owner_id"`
	TaskType       string     `json:"task_type"`
	Status         TaskStatus `json:"status"`
	Progress       int        `json:"progress"`
	StartedAt      time.Time  `json:"started_at"`
	EstimatedEndAt time.Time  `json:"estimated_end_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CompletedOps   int        `json:"completed_ops"`
	FailedOps      int        `json:"failed_ops"`
	Error          string     `json:"error,omitempty"`
}

// SyncHistoryRecord is the immutable summary written once per finished sync task.
type SyncHistoryRecord struct {
	HistID          string     `json:"hist_id"`
	OwnerID         int64      `json:"owner_id"`
	TaskID          string     `json:"task_id"`
	TaskType        string     `json:"task_type"`
	Status          TaskStatus `json:"status"`
	SyncedItems     int        `json:"synced_items"`
	FailedItems     int        `json:"failed_items"`
	DurationSeconds int64      `json:"duration_seconds"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         time.Time  `json:"ended_at"`
}

// HistoryFilter narrows history queries. Zero values match everything.
type HistoryFilter struct {
	Status   TaskStatus
	TaskType string
	Since    time.Time
	Until    time.Time
}

// HistoryStats aggregates an owner's sync history.
type HistoryStats struct {
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Cancelled   int        `json:"cancelled"`
	SyncedItems int        `json:"synced_items"`
	FailedItems int        `json:"failed_items"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}

// KindUsage is the stored footprint of one kind for one owner.
type KindUsage struct {
	Items int   `json:"items"`
	Bytes int64 `json:"bytes"`
}

// ClearResult reports what a cache clear actually removed.
type ClearResult struct {
	DeletedItems int   `json:"deleted_items"`
	DeletedTasks int   `json:"deleted_tasks"`
	FreedBytes   int64 `json:"freed_bytes"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest selects a 1-indexed page.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the request to valid bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

func newPage[T any](items []T, total int, req PageRequest) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if total > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: pages,
	}
}
