package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/pipeline"
	"github.com/dshills/paperrag/internal/searcher"
	"github.com/dshills/paperrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "paperrag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Ingester starts ingestion jobs
type Ingester interface {
	RequestIngestion(ctx context.Context, paperID string) (pipeline.Request, error)
}

// Deps are the collaborators the tools call into
type Deps struct {
	Storage  storage.Storage
	Jobs     *jobs.Manager
	Ingester Ingester
	Searcher *searcher.Searcher
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	jobs     *jobs.Manager
	ingester Ingester
	searcher *searcher.Searcher
}

// NewServer creates a new MCP server instance. The caller owns the
// dependencies and closes them after Serve returns.
func NewServer(d Deps) (*Server, error) {
	if d.Storage == nil || d.Jobs == nil || d.Searcher == nil {
		return nil, errors.New("storage, jobs and searcher are required")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		storage:  d.Storage,
		jobs:     d.Jobs,
		ingester: d.Ingester,
		searcher: d.Searcher,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	if s.ingester != nil {
		s.mcp.AddTool(requestIngestionTool(), s.handleRequestIngestion)
	}
	s.mcp.AddTool(getJobStatusTool(), s.handleGetJobStatus)
	s.mcp.AddTool(listJobsTool(), s.handleListJobs)

	s.mcp.AddTool(queryPapersTool(), s.handleQueryPapers)

	s.mcp.AddTool(getFigureTool(), s.handleGetFigure)
	s.mcp.AddTool(listFiguresTool(), s.handleListFigures)
	s.mcp.AddTool(listSectionsTool(), s.handleListSections)

	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)

	return nil
}
