package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/gochunk/internal/logger"
	"github.com/dshills/gochunk/internal/pipeline"
	"github.com/dshills/gochunk/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "gochunk"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Options holds the defaults used when a tool call leaves a parameter out
type Options struct {
	DocsDir string
	Glob    string
	Workers int
	Clean   bool
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	store  storage.Store
	driver *pipeline.Driver
	opts   Options
	logger logger.Logger
}

// NewServer creates a new MCP server instance. The caller owns store.
func NewServer(store storage.Store, driver *pipeline.Driver, opts Options, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Glob == "" {
		opts.Glob = pipeline.DefaultGlob
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:    mcpServer,
		store:  store,
		driver: driver,
		opts:   opts,
		logger: log,
	}
	s.registerTools()

	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", "name", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(chunkCorpusTool(), s.handleChunkCorpus)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(listChunksTool(), s.handleListChunks)
}
