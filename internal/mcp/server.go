package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/recallkit/internal/logging"
	"github.com/dshills/recallkit/pkg/engine"
)

const (
	// ServerName is the MCP server name
	ServerName = "recallkit"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server around an engine
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	logger *logging.Logger
}

// NewServer creates an MCP server exposing eng. The caller keeps ownership
// of eng and closes it after Serve returns.
func NewServer(eng *engine.Engine, logger *logging.Logger) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		engine: eng,
		logger: logging.OrNoop(logger).WithComponent("mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx ends or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the MCP protocol over the given streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(addRecordTool(), s.handleAddRecord)
	s.mcp.AddTool(updateFieldTool(), s.handleUpdateField)
	s.mcp.AddTool(searchRecordsTool(), s.handleSearchRecords)
	s.mcp.AddTool(backfillEmbeddingsTool(), s.handleBackfillEmbeddings)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(getStatsTool(), s.handleGetStats)
	s.mcp.AddTool(clearAllTool(), s.handleClearAll)
}
