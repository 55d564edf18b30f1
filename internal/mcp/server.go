// Package mcp exposes rotagate's key inventory and audit trail to MCP
// clients. Every tool is read-only: issuing, revoking and rotating keys stay
// on the authenticated HTTP API.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rotagate/rotagate/internal/metrics"
	"github.com/rotagate/rotagate/internal/service"
)

// MCPServer wraps the mcp-go server with rotagate's tool and resource
// registrations.
type MCPServer struct {
	keys   *service.KeyService
	audit  *service.Auditor
	stats  metrics.StatsSource
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all tools and resources.
// The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(keys *service.KeyService, audit *service.Auditor, stats metrics.StatsSource, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		keys:   keys,
		audit:  audit,
		stats:  stats,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"rotagate",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch rotagate
// as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode on addr
// (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
