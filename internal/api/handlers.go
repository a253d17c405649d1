package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/offline"
	"github.com/kalambet/offsync/internal/session"
	"github.com/kalambet/offsync/internal/storage"
)

type AppDeps struct {
	Service        *offline.Service
	Validator      session.Validator
	StartTime      time.Time
	RateLimitRPS   float64
	RateLimitBurst int
}

type reconcileRequest struct {
	SourceID string       `json:"source_id"`
	Version  int          `json:"version"`
	Payload  kind.Payload `json:"payload"`
}

type updateItemRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

type downloadRequest struct {
	Kind      string   `json:"kind"`
	SourceID  string   `json:"source_id"`
	SourceIDs []string `json:"source_ids"`
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

type syncRequest struct {
	TaskType string `json:"task_type"`
}

type limitRequest struct {
	LimitMB int `json:"limit_mb"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		r.Use(JWTAuth(deps.Validator))
		r.Use(RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))

		r.Post("/reconcile/{kind}", handleReconcile(deps))

		r.Get("/items", handleListItems(deps))
		r.Post("/items/batch-delete", handleBatchDelete(deps))
		r.Get("/items/{id}", handleGetItem(deps))
		r.Patch("/items/{id}", handleUpdateItem(deps))
		r.Delete("/items/{id}", handleDeleteItem(deps))

		r.Post("/downloads", handleStartDownload(deps))
		r.Post("/downloads/batch", handleBatchDownload(deps))
		r.Get("/downloads/batch/{batchId}", handleBatchStatus(deps))
		r.Post("/downloads/batch/{batchId}/cancel", handleCancelBatch(deps))

		r.Post("/sync", handleStartSync(deps))
		r.Get("/tasks/{id}", handleTaskStatus(deps))
		r.Post("/tasks/{id}/cancel", handleCancelTask(deps))

		r.Get("/history", handleHistory(deps))
		r.Get("/history/stats", handleHistoryStats(deps))

		r.Get("/storage", handleStorageUsage(deps))
		r.Put("/storage/limit", handleSetLimit(deps))
		r.Delete("/storage/cache", handleClearCache(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.Ping(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(deps.StartTime).Seconds()),
		})
	}
}

func handleReconcile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k, err := parseKind(chi.URLParam(r, "kind"))
		if err != nil {
			writeError(w, err)
			return
		}
		var req reconcileRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Service.Reconcile(r.Context(), ownerID(r), k, req.SourceID, req.Version, req.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, res)
	}
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var k kind.Kind
		if s := r.URL.Query().Get("kind"); s != "" {
			parsed, err := parseKind(s)
			if err != nil {
				writeError(w, err)
				return
			}
			k = parsed
		}
		page, err := deps.Service.ListOfflineItems(r.Context(), ownerID(r), k, pageRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, page)
	}
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Service.GetOfflineItem(r.Context(), ownerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, item)
	}
}

func handleUpdateItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateItemRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		d := storage.ItemDetails{Title: req.Title, Description: req.Description}
		if req.Tags != nil {
			d.Tags = *req.Tags
			d.SetTags = true
		}
		item, err := deps.Service.UpdateOfflineItem(r.Context(), ownerID(r), chi.URLParam(r, "id"), d)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, item)
	}
}

func handleDeleteItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		n, err := deps.Service.DeleteOfflineItem(r.Context(), ownerID(r), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, map[string]any{"offline_id": id, "deleted_tasks": n})
	}
}

func handleBatchDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchDeleteRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Service.RunBatchDelete(r.Context(), ownerID(r), req.IDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, res)
	}
}

func handleStartDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req downloadRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		k, err := parseKind(req.Kind)
		if err != nil {
			writeError(w, err)
			return
		}
		task, err := deps.Service.StartDownload(r.Context(), ownerID(r), k, req.SourceID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, task)
	}
}

func handleBatchDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req downloadRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		k, err := parseKind(req.Kind)
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := deps.Service.RunBatchDownload(r.Context(), ownerID(r), k, req.SourceIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

func handleBatchStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Service.BatchStatus(r.Context(), ownerID(r), chi.URLParam(r, "batchId"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, st)
	}
}

func handleCancelBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Service.CancelBatch(r.Context(), ownerID(r), chi.URLParam(r, "batchId"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, res)
	}
}

func handleStartSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if r.ContentLength != 0 {
			if err := decodeBody(w, r, &req); err != nil {
				writeError(w, err)
				return
			}
		}
		task, err := deps.Service.StartSync(r.Context(), ownerID(r), req.TaskType)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, task)
	}
}

func handleTaskStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := deps.Service.GetTaskStatus(r.Context(), ownerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, task)
	}
}

func handleCancelTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := deps.Service.CancelTask(r.Context(), ownerID(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, task)
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := storage.HistoryFilter{
			Status:   storage.TaskStatus(q.Get("status")),
			TaskType: q.Get("task_type"),
		}
		var err error
		if f.Since, err = parseTimeParam(r, "since"); err != nil {
			writeError(w, err)
			return
		}
		if f.Until, err = parseTimeParam(r, "until"); err != nil {
			writeError(w, err)
			return
		}
		page, err := deps.Service.GetSyncHistory(r.Context(), ownerID(r), f, pageRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, page)
	}
}

func handleHistoryStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Service.GetSyncStats(r.Context(), ownerID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, stats)
	}
}

func handleStorageUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := deps.Service.GetStorageUsage(r.Context(), ownerID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, usage)
	}
}

func handleSetLimit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req limitRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		usage, err := deps.Service.SetStorageLimit(r.Context(), ownerID(r), req.LimitMB)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, usage)
	}
}

func handleClearCache(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Service.ClearCache(r.Context(), ownerID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, res)
	}
}

func parseKind(s string) (kind.Kind, error) {
	k, err := kind.Parse(s)
	if err != nil {
		return "", apperr.InvalidArgument("%s", err.Error())
	}
	return k, nil
}

func pageRequest(r *http.Request) storage.PageRequest {
	return storage.PageRequest{
		Page:     parseIntParam(r, "page", 1, 0),
		PageSize: parseIntParam(r, "page_size", storage.DefaultPageSize, storage.MaxPageSize),
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.InvalidArgument("%s must be an RFC3339 timestamp", key)
	}
	return t, nil
}
