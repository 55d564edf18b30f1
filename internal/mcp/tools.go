package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rotagate/rotagate/internal/service"
)

// registerTools registers the read-only tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("rotagate_list_keys",
			mcp.WithDescription(
				"List all API keys, newest first, with label, status, last four "+
					"characters and rotation count. Raw key values and hashes are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("rotagate_get_key",
			mcp.WithDescription("Get the metadata of a single API key by its numeric id."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("id",
				mcp.Required(),
				mcp.Description("Numeric id of the key"),
			),
		),
		s.handleGetKey,
	)

	srv.AddTool(
		mcp.NewTool("rotagate_key_stats",
			mcp.WithDescription(
				"Aggregate key counts: active keys, revoked keys and the total number "+
					"of rotations performed.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleKeyStats,
	)

	srv.AddTool(
		mcp.NewTool("rotagate_recent_audit",
			mcp.WithDescription(
				"Return the most recent audit log entries, newest first. Each entry "+
					"has an action (CREATE_KEY, KEY_USED, KEY_ROTATED, REVOKE_KEY), "+
					"actor, target, client IP and action-specific metadata.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit",
				mcp.Description(fmt.Sprintf("Maximum number of entries (default %d, max %d)",
					service.DefaultAuditLimit, service.MaxAuditLimit)),
			),
		),
		s.handleRecentAudit,
	)
}

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := s.keys.ListKeys(ctx)
	if err != nil {
		s.logger.Error("mcp: list keys", "error", err)
		return toolError("Failed to list keys: %v", err)
	}
	return successJSON(keys)
}

func (s *MCPServer) handleGetKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireInt(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	if id <= 0 {
		return toolError("Key id must be a positive integer, got %d", id)
	}

	key, err := s.keys.GetKey(ctx, int64(id))
	if errors.Is(err, service.ErrKeyNotFound) {
		return toolError("API key %d not found. Use rotagate_list_keys to see existing ids.", id)
	}
	if err != nil {
		s.logger.Error("mcp: get key", "id", id, "error", err)
		return toolError("Failed to get key %d: %v", id, err)
	}
	return successJSON(key)
}

func (s *MCPServer) handleKeyStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.stats.KeyStats(ctx)
	if err != nil {
		s.logger.Error("mcp: key stats", "error", err)
		return toolError("Failed to compute key stats: %v", err)
	}
	return successJSON(stats)
}

func (s *MCPServer) handleRecentAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(optionalInt(request, "limit", service.DefaultAuditLimit), 1, service.MaxAuditLimit)

	entries, err := s.audit.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("mcp: recent audit", "error", err)
		return toolError("Failed to read the audit log: %v", err)
	}
	return successJSON(entries)
}
