package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/knowvault/knowvault/internal/store"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	manager *store.Manager
}

// Config holds server dependencies.
type Config struct {
	Manager *store.Manager
	Logger  *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "knowvault-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search the local knowledge bases semantically. Returns ranked content chunks with source attribution and a confidence estimate. Searches all databases when none are named.",
	}, makeSearchHandler(cfg.Manager, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_databases",
		Description: "List all knowledge bases with their descriptions, creation times and document counts.",
	}, makeListHandler(cfg.Manager))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_store_status",
		Description: "Get aggregate status of the knowledge store: database count, total stored chunks and database names.",
	}, makeStatusHandler(cfg.Manager))

	return &Server{
		server:  server,
		manager: cfg.Manager,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
