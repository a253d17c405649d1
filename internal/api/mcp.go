package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/offsync/internal/apperr"
	"github.com/kalambet/offsync/internal/kind"
	"github.com/kalambet/offsync/internal/offline"
	"github.com/kalambet/offsync/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Every tool acts on behalf of
// OwnerID.
type MCPDeps struct {
	Service *offline.Service
	OwnerID int64
}

// NewMCPServer creates an MCP server exposing the offline tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"offsync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("offsync keeps offline copies of learning items in sync with the server."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("reconcile_item",
			mcp.WithDescription("Reconcile an incoming item version against the local offline copy. Higher versions win."),
			mcp.WithString("kind", mcp.Description("Item kind: document, vocabulary, note, highlight or review"), mcp.Required()),
			mcp.WithString("source_id", mcp.Description("Server-side id of the item"), mcp.Required()),
			mcp.WithNumber("version", mcp.Description("Incoming version, at least 1"), mcp.Required()),
			mcp.WithObject("payload", mcp.Description("Item content as a JSON object")),
		),
		mcpReconcileItem(deps),
	)

	s.AddTool(
		mcp.NewTool("list_offline_items",
			mcp.WithDescription("List offline items, newest first."),
			mcp.WithString("kind", mcp.Description("Optional kind filter")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Items per page (default 20, max 100)")),
		),
		mcpListOfflineItems(deps),
	)

	s.AddTool(
		mcp.NewTool("start_sync",
			mcp.WithDescription("Start a sync of every unsynced offline item."),
			mcp.WithString("task_type", mcp.Description("\"full\" (default) or a single kind")),
		),
		mcpStartSync(deps),
	)

	s.AddTool(
		mcp.NewTool("task_status",
			mcp.WithDescription("Report the status of a download or sync task."),
			mcp.WithString("task_id", mcp.Description("Task id returned when the task was started"), mcp.Required()),
		),
		mcpTaskStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("storage_usage",
			mcp.WithDescription("Report offline storage usage against the quota."),
		),
		mcpStorageUsage(deps),
	)

	return s
}

func mcpReconcileItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kindName, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		k, err := kind.Parse(kindName)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		sourceID, err := req.RequireString("source_id")
		if err != nil {
			return mcpError("source_id is required"), nil
		}
		version, err := req.RequireInt("version")
		if err != nil {
			return mcpError("version is required"), nil
		}
		payload, err := payloadArg(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Service.Reconcile(ctx, deps.OwnerID, k, sourceID, version, payload)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpListOfflineItems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var k kind.Kind
		if s := req.GetString("kind", ""); s != "" {
			parsed, err := kind.Parse(s)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			k = parsed
		}
		page, err := deps.Service.ListOfflineItems(ctx, deps.OwnerID, k, storage.PageRequest{
			Page:     req.GetInt("page", 1),
			PageSize: req.GetInt("page_size", storage.DefaultPageSize),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(page), nil
	}
}

func mcpStartSync(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := deps.Service.StartSync(ctx, deps.OwnerID, req.GetString("task_type", ""))
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(task), nil
	}
}

func mcpTaskStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		task, err := deps.Service.GetTaskStatus(ctx, deps.OwnerID, id)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(task), nil
	}
}

func mcpStorageUsage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		usage, err := deps.Service.GetStorageUsage(ctx, deps.OwnerID)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(usage), nil
	}
}

// payloadArg accepts the payload as a JSON object or as a string holding one.
func payloadArg(req mcp.CallToolRequest) (kind.Payload, error) {
	switch v := req.GetArguments()["payload"].(type) {
	case nil:
		return kind.Payload{}, nil
	case map[string]any:
		return kind.Payload(v), nil
	case string:
		var p kind.Payload
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("invalid payload JSON: %v", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("payload must be a JSON object")
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpFailure(err error) *mcp.CallToolResult {
	return mcpError(fmt.Sprintf("%s: %s", apperr.CodeOf(err), apperr.Message(err)))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
