package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/offsync/internal/config"
	"github.com/kalambet/offsync/internal/session"
)

type itemView struct {
	OfflineID string    `json:"offline_id"`
	Kind      string    `json:"kind"`
	SourceID  string    `json:"source_id"`
	Title     string    `json:"title"`
	SizeBytes int64     `json:"size_bytes"`
	Version   int       `json:"version"`
	Synced    bool      `json:"synced"`
	UpdatedAt time.Time `json:"updated_at"`
}

type pageView[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type taskView struct {
	TaskID   string `json:"task_id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type batchResultView struct {
	BatchID      string `json:"batch_id"`
	Total        int    `json:"total"`
	SuccessCount int    `json:"success_count"`
	FailCount    int    `json:"fail_count"`
	Results      []struct {
		ItemID  string `json:"item_id"`
		OK      bool   `json:"ok"`
		Message string `json:"message"`
		TaskID  string `json:"task_id"`
	} `json:"results"`
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func syncedLabel(synced bool) string {
	if synced {
		return colorize(colorGreen, "synced")
	}
	return colorize(colorYellow, "pending")
}

func printBatchResult(res batchResultView) {
	for _, r := range res.Results {
		mark := colorize(colorGreen, "✓")
		if !r.OK {
			mark = colorize(colorRed, "✗")
		}
		line := fmt.Sprintf("%s %s  %s", mark, r.ItemID, r.Message)
		if r.TaskID != "" {
			line += "  " + colorize(colorCyan, shortID(r.TaskID))
		}
		fmt.Fprintln(stdout, line)
	}
	printStatus("Total", "%d (%d ok, %d failed)", res.Total, res.SuccessCount, res.FailCount)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed session token for the selected owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		token, err := session.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil).Issue(currentOwner(cfg.MCP.OwnerID), ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default: auth.token_ttl)")
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <kind> <source-id>",
	Short: "Reconcile an incoming item version with the offline copy",
	Long: `Reconcile an incoming item version with the offline copy.

Examples:
  offsync reconcile note n-42 --version 3 --payload '{"title":"Cases","content":"..."}'
  offsync reconcile document d-7 --version 1 --payload-file ./doc.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt("version")
		raw, _ := cmd.Flags().GetString("payload")
		file, _ := cmd.Flags().GetString("payload-file")

		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading payload file: %w", err)
			}
			raw = string(data)
		}
		payload := map[string]any{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/reconcile/"+url.PathEscape(args[0]), map[string]any{
			"source_id": args[1],
			"version":   version,
			"payload":   payload,
		})
		if err != nil {
			return err
		}

		var res struct {
			Accepted         bool     `json:"accepted"`
			ResultingVersion int      `json:"resulting_version"`
			Direction        string   `json:"direction"`
			Item             itemView `json:"item"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if res.Accepted {
			printSuccess("%s accepted at version %d", res.Direction, res.ResultingVersion)
		} else {
			printWarning("%s: offline copy is at version %d", res.Direction, res.ResultingVersion)
		}
		printStatus("Offline id", "%s", res.Item.OfflineID)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Int("version", 0, "incoming version (required)")
	reconcileCmd.Flags().String("payload", "", "item payload as a JSON object")
	reconcileCmd.Flags().String("payload-file", "", "read the payload from a JSON file")
	reconcileCmd.MarkFlagRequired("version")
}

// --- items ---

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage offline items",
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List offline items, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetString("kind")
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("page-size")

		q := url.Values{}
		if k != "" {
			q.Set("kind", k)
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(size))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/items?"+q.Encode())
		if err != nil {
			return err
		}
		var res pageView[itemView]
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Items) == 0 {
			fmt.Fprintln(stdout, "No offline items.")
			return nil
		}
		for _, it := range res.Items {
			fmt.Fprintf(stdout, "%s  %-10s  v%-3d  %-8s  %9s  %s\n",
				colorize(colorCyan, shortID(it.OfflineID)),
				it.Kind,
				it.Version,
				syncedLabel(it.Synced),
				formatBytes(it.SizeBytes),
				it.Title,
			)
		}
		fmt.Fprintf(stdout, "page %d of %d (%d items)\n", res.Page, res.TotalPages, res.Total)
		return nil
	},
}

var itemsShowCmd = &cobra.Command{
	Use:   "show <offline-id>",
	Short: "Show a single offline item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/items/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		return printJSON(item)
	},
}

var itemsEditCmd = &cobra.Command{
	Use:   "edit <offline-id>",
	Short: "Edit an item's title, description or tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			body["title"] = v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			body["description"] = v
		}
		if cmd.Flags().Changed("tags") {
			v, _ := cmd.Flags().GetString("tags")
			body["tags"] = splitList(v)
		}
		if len(body) == 0 {
			return fmt.Errorf("one of --title, --description or --tags is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/v1/items/"+url.PathEscape(args[0]), body)
		if err != nil {
			return err
		}
		var item itemView
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		printSuccess("Updated %s (version %d, pending sync)", shortID(item.OfflineID), item.Version)
		return nil
	},
}

var itemsDeleteCmd = &cobra.Command{
	Use:   "delete <offline-id>",
	Short: "Delete an offline item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/items/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var res struct {
			DeletedTasks int `json:"deleted_tasks"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Deleted %s (%d download tasks)", args[0], res.DeletedTasks)
		return nil
	},
}

var itemsBatchDeleteCmd = &cobra.Command{
	Use:   "batch-delete <offline-id>...",
	Short: "Delete up to 100 offline items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/items/batch-delete", map[string]any{"ids": args})
		if err != nil {
			return err
		}
		var res batchResultView
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printBatchResult(res)
		return nil
	},
}

func init() {
	itemsListCmd.Flags().String("kind", "", "only list items of this kind")
	itemsListCmd.Flags().Int("page", 1, "page number")
	itemsListCmd.Flags().Int("page-size", 20, "items per page (max 100)")
	itemsEditCmd.Flags().String("title", "", "new title")
	itemsEditCmd.Flags().String("description", "", "new description")
	itemsEditCmd.Flags().String("tags", "", "comma-separated tags (replaces existing)")

	itemsCmd.AddCommand(itemsListCmd)
	itemsCmd.AddCommand(itemsShowCmd)
	itemsCmd.AddCommand(itemsEditCmd)
	itemsCmd.AddCommand(itemsDeleteCmd)
	itemsCmd.AddCommand(itemsBatchDeleteCmd)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download server items for offline use",
}

var downloadStartCmd = &cobra.Command{
	Use:   "start <kind> <source-id>",
	Short: "Queue a single download",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/downloads", map[string]any{"kind": args[0], "source_id": args[1]})
		if err != nil {
			return err
		}
		var task struct {
			DownloadID string `json:"download_id"`
			OfflineID  string `json:"offline_id"`
		}
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}
		printSuccess("Queued download %s", task.DownloadID)
		wait, _ := cmd.Flags().GetBool("wait")
		if wait {
			return waitForTask(cmd.Context(), client, task.DownloadID)
		}
		return nil
	},
}

var downloadBatchCmd = &cobra.Command{
	Use:   "batch <kind> <source-id>...",
	Short: "Queue up to 100 downloads as one batch",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/downloads/batch", map[string]any{"kind": args[0], "source_ids": args[1:]})
		if err != nil {
			return err
		}
		var res batchResultView
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printBatchResult(res)
		printStatus("Batch", "%s", res.BatchID)
		return nil
	},
}

var downloadBatchStatusCmd = &cobra.Command{
	Use:   "batch-status <batch-id>",
	Short: "Show the downloads of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/downloads/batch/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var st struct {
			Total  int            `json:"total"`
			Counts map[string]int `json:"counts"`
			Tasks  []struct {
				DownloadID string `json:"download_id"`
				SourceID   string `json:"source_id"`
				Status     string `json:"status"`
				Progress   int    `json:"progress"`
				Error      string `json:"error"`
			} `json:"tasks"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		for _, t := range st.Tasks {
			line := fmt.Sprintf("%s  %-12s %3d%%  %s", colorize(colorCyan, shortID(t.DownloadID)), t.Status, t.Progress, t.SourceID)
			if t.Error != "" {
				line += "  " + colorize(colorRed, t.Error)
			}
			fmt.Fprintln(stdout, line)
		}
		printStatus("Total", "%d", st.Total)
		return nil
	},
}

var downloadBatchCancelCmd = &cobra.Command{
	Use:   "batch-cancel <batch-id>",
	Short: "Cancel every unfinished download of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/downloads/batch/"+url.PathEscape(args[0])+"/cancel", nil)
		if err != nil {
			return err
		}
		var res struct {
			Cancelled       int `json:"cancelled"`
			AlreadyFinished int `json:"already_finished"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Cancelled %d downloads (%d already finished)", res.Cancelled, res.AlreadyFinished)
		return nil
	},
}

func init() {
	downloadStartCmd.Flags().Bool("wait", false, "wait for the download to finish")
	downloadCmd.AddCommand(downloadStartCmd)
	downloadCmd.AddCommand(downloadBatchCmd)
	downloadCmd.AddCommand(downloadBatchStatusCmd)
	downloadCmd.AddCommand(downloadBatchCancelCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every unsynced offline item",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/sync", map[string]any{"task_type": taskType})
		if err != nil {
			return err
		}
		var task struct {
			TaskID         string    `json:"task_id"`
			EstimatedEndAt time.Time `json:"estimated_end_at"`
		}
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}
		printSuccess("Started sync %s", task.TaskID)
		printStatus("Estimated end", "%s", task.EstimatedEndAt.Local().Format(time.Kitchen))
		if wait {
			return waitForTask(cmd.Context(), client, task.TaskID)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("type", "full", `"full" or a single kind`)
	syncCmd.Flags().Bool("wait", false, "wait for the sync to finish")
}

// --- task ---

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect or cancel download and sync tasks",
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/tasks/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var task any
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}
		return printJSON(task)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending or running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/tasks/"+url.PathEscape(args[0])+"/cancel", nil)
		if err != nil {
			return err
		}
		var task taskView
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}
		printSuccess("Cancelled %s task %s", task.Type, task.TaskID)
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCancelCmd)
}

// waitForTask polls until the task reaches a terminal status.
func waitForTask(ctx context.Context, client *apiClient, id string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	last := -1
	for {
		resp, err := client.get(ctx, "/v1/tasks/"+url.PathEscape(id))
		if err != nil {
			return err
		}
		var task taskView
		if err := decodeJSON(resp, &task); err != nil {
			return err
		}
		if task.Progress != last {
			printStep("%s %d%%", task.Status, task.Progress)
			last = task.Progress
		}
		switch task.Status {
		case "completed":
			printSuccess("Task %s completed", shortID(id))
			return nil
		case "failed", "cancelled":
			return fmt.Errorf("task %s %s", shortID(id), task.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, f := range []string{"status", "task_type", "since", "until"} {
			if v, _ := cmd.Flags().GetString(strings.ReplaceAll(f, "_", "-")); v != "" {
				q.Set(f, v)
			}
		}
		page, _ := cmd.Flags().GetInt("page")
		q.Set("page", strconv.Itoa(page))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/history?"+q.Encode())
		if err != nil {
			return err
		}
		var res pageView[struct {
			TaskID          string    `json:"task_id"`
			TaskType        string    `json:"task_type"`
			Status          string    `json:"status"`
			SyncedItems     int       `json:"synced_items"`
			FailedItems     int       `json:"failed_items"`
			DurationSeconds int64     `json:"duration_seconds"`
			EndedAt         time.Time `json:"ended_at"`
		}]
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if len(res.Items) == 0 {
			fmt.Fprintln(stdout, "No sync history.")
			return nil
		}
		for _, h := range res.Items {
			fmt.Fprintf(stdout, "%s  %s  %-10s  %-9s  %d synced, %d failed  %ds\n",
				colorize(colorCyan, shortID(h.TaskID)),
				h.EndedAt.Local().Format(time.DateTime),
				h.TaskType,
				h.Status,
				h.SyncedItems,
				h.FailedItems,
				h.DurationSeconds,
			)
		}
		fmt.Fprintf(stdout, "page %d of %d (%d records)\n", res.Page, res.TotalPages, res.Total)
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate sync statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/history/stats")
		if err != nil {
			return err
		}
		var st struct {
			Total       int        `json:"total"`
			Completed   int        `json:"completed"`
			Failed      int        `json:"failed"`
			Cancelled   int        `json:"cancelled"`
			SyncedItems int        `json:"synced_items"`
			FailedItems int        `json:"failed_items"`
			LastSyncAt  *time.Time `json:"last_sync_at"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatus("Syncs", "%d (%d completed, %d failed, %d cancelled)", st.Total, st.Completed, st.Failed, st.Cancelled)
		printStatus("Items", "%d synced, %d failed", st.SyncedItems, st.FailedItems)
		if st.LastSyncAt != nil {
			printStatus("Last sync", "%s", st.LastSyncAt.Local().Format(time.DateTime))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("status", "", "completed, failed or cancelled")
	historyCmd.Flags().String("task-type", "", `"full" or a kind`)
	historyCmd.Flags().String("since", "", "RFC3339 lower bound (inclusive)")
	historyCmd.Flags().String("until", "", "RFC3339 upper bound (exclusive)")
	historyCmd.Flags().Int("page", 1, "page number")
	historyCmd.AddCommand(historyStatsCmd)
}

// --- storage ---

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show or manage offline storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/storage")
		if err != nil {
			return err
		}
		return printUsage(resp)
	},
}

var storageLimitCmd = &cobra.Command{
	Use:   "limit <mb>",
	Short: "Set the storage quota in MB (1-10240)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mb, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", args[0], err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/v1/storage/limit", map[string]any{"limit_mb": mb})
		if err != nil {
			return err
		}
		return printUsage(resp)
	},
}

var storageClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every offline item and download task",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL offline items. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/storage/cache")
		if err != nil {
			return err
		}
		var res struct {
			DeletedItems int   `json:"deleted_items"`
			DeletedTasks int   `json:"deleted_tasks"`
			FreedBytes   int64 `json:"freed_bytes"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Deleted %d items and %d tasks, freed %s", res.DeletedItems, res.DeletedTasks, formatBytes(res.FreedBytes))
		return nil
	},
}

func init() {
	storageClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	storageCmd.AddCommand(storageLimitCmd)
	storageCmd.AddCommand(storageClearCmd)
}

func printUsage(resp *http.Response) error {
	var u struct {
		UsedBytes  int64   `json:"used_bytes"`
		LimitMB    int     `json:"limit_mb"`
		LimitBytes int64   `json:"limit_bytes"`
		Percent    float64 `json:"percent"`
		PerKind    map[string]struct {
			Items int   `json:"items"`
			Bytes int64 `json:"bytes"`
		} `json:"per_kind"`
	}
	if err := decodeJSON(resp, &u); err != nil {
		return err
	}

	color := colorGreen
	switch {
	case u.Percent >= 90:
		color = colorRed
	case u.Percent >= 75:
		color = colorYellow
	}
	printStatus("Used", "%s of %s (%s)", formatBytes(u.UsedBytes), formatBytes(u.LimitBytes), colorize(color, fmt.Sprintf("%.1f%%", u.Percent)))

	kinds := make([]string, 0, len(u.PerKind))
	for k := range u.PerKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		printStatus("  "+k, "%d items, %s", u.PerKind[k].Items, formatBytes(u.PerKind[k].Bytes))
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every config key with its effective value",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "%-26s %-34s %s\n", k.Key, colorize(colorCyan, k.EnvVar), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret [secret]",
	Short: "Store the JWT signing secret (random when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := ""
		if len(args) == 1 {
			secret = args[0]
		} else {
			secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		}
		if err := config.StoreJWTSecret(secret); err != nil {
			return err
		}
		printSuccess("JWT secret stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
