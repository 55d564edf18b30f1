package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const statsURI = "rotagate://keys/stats"

// registerResources adds read-only resources LLM clients can load into
// their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			statsURI,
			"API Key Statistics",
			mcp.WithResourceDescription("Active and revoked key counts and the total rotation count."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)
}

func (s *MCPServer) handleStatsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := s.stats.KeyStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key stats: %w", err)
	}
	b, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key stats: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      statsURI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
