package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	svc, _ := newTestService(t)
	return MCPDeps{Service: svc, OwnerID: 7}
}

func TestMCPTool_ReconcileItem(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpReconcileItem(deps)

	req := makeCallToolRequest("reconcile_item", map[string]interface{}{
		"kind":      "note",
		"source_id": "n1",
		"version":   float64(3),
		"payload":   map[string]interface{}{"title": "Cases", "content": "nominative"},
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var res struct {
		Accepted         bool   `json:"accepted"`
		ResultingVersion int    `json:"resulting_version"`
		Direction        string `json:"direction"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !res.Accepted || res.ResultingVersion != 3 || res.Direction != "PUSH" {
		t.Errorf("result = %+v", res)
	}

	item, err := deps.Service.ListOfflineItems(context.Background(), 7, kind.Note, storage.PageRequest{})
	if err != nil || item.Total != 1 {
		t.Errorf("owner 7 items = %+v, %v", item, err)
	}
}

func TestMCPTool_ReconcileItemPayloadString(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpReconcileItem(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("reconcile_item", map[string]interface{}{
		"kind":      "vocabulary",
		"source_id": "v1",
		"version":   1,
		"payload":   `{"word":"Baum"}`,
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("reconcile_item", map[string]interface{}{
		"kind":      "vocabulary",
		"source_id": "v1",
		"version":   1,
		"payload":   `{broken`,
	}))
	if !result.IsError {
		t.Error("expected error for malformed payload")
	}
}

func TestMCPTool_ReconcileItemErrors(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpReconcileItem(deps)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing kind", map[string]interface{}{"source_id": "a", "version": 1}, "kind is required"},
		{"bad kind", map[string]interface{}{"kind": "video", "source_id": "a", "version": 1}, "unknown kind"},
		{"missing version", map[string]interface{}{"kind": "note", "source_id": "a"}, "version is required"},
		{"zero version", map[string]interface{}{"kind": "note", "source_id": "a", "version": 0}, "INVALID_ARGUMENT"},
		{"missing required field", map[string]interface{}{"kind": "highlight", "source_id": "a", "version": 1}, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("reconcile_item", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if text := toolText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want it to contain %q", text, tt.want)
			}
		})
	}
}

func TestMCPTool_SyncAndStatus(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, _ := mcpStartSync(deps)(context.Background(), makeCallToolRequest("start_sync", nil))
	if result.IsError {
		t.Fatalf("start_sync: %s", toolText(t, result))
	}
	var task struct {
		TaskID string `json:"task_id"`
	}
	json.Unmarshal([]byte(toolText(t, result)), &task)
	if task.TaskID == "" {
		t.Fatalf("no task id in %s", toolText(t, result))
	}

	result, _ = mcpTaskStatus(deps)(context.Background(), makeCallToolRequest("task_status", map[string]interface{}{"task_id": task.TaskID}))
	if result.IsError {
		t.Fatalf("task_status: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), task.TaskID) {
		t.Errorf("status = %s", toolText(t, result))
	}

	result, _ = mcpTaskStatus(deps)(context.Background(), makeCallToolRequest("task_status", map[string]interface{}{"task_id": "nope"}))
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "NOT_FOUND") {
		t.Errorf("unknown task = %s", toolText(t, result))
	}
}

func TestMCPTool_ListAndUsage(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()
	deps.Service.Reconcile(ctx, 7, kind.Highlight, "h1", 1, kind.Payload{"text": "quoted"})
	deps.Service.Reconcile(ctx, 8, kind.Highlight, "h2", 1, kind.Payload{"text": "not mine"})

	result, _ := mcpListOfflineItems(deps)(ctx, makeCallToolRequest("list_offline_items", map[string]interface{}{"kind": "highlights"}))
	if result.IsError {
		t.Fatalf("list: %s", toolText(t, result))
	}
	var page struct {
		Total int `json:"total"`
	}
	json.Unmarshal([]byte(toolText(t, result)), &page)
	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}

	result, _ = mcpStorageUsage(deps)(ctx, makeCallToolRequest("storage_usage", nil))
	if result.IsError || !strings.Contains(toolText(t, result), `"limit_mb":1024`) {
		t.Errorf("usage = %s", toolText(t, result))
	}
}

func TestNewMCPServerListsTools(t *testing.T) {
	s := NewMCPServer(newTestMCPDeps(t))
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	for _, name := range []string{"reconcile_item", "list_offline_items", "start_sync", "task_status", "storage_usage"} {
		if !strings.Contains(string(b), `"`+name+`"`) {
			t.Errorf("tool %q not listed in %s", name, b)
		}
	}
}
