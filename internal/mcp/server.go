package mcp

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/triage-mcp/internal/indexer"
	"github.com/dshills/triage-mcp/internal/logger"
	"github.com/dshills/triage-mcp/internal/retriever"
	"github.com/dshills/triage-mcp/internal/triage"
)

const (
	// ServerName is the default MCP server name
	ServerName = "triage-mcp"
	// ServerVersion is the default server version
	ServerVersion = "0.1.0"
)

// Service is the triage pipeline as the tools see it
type Service interface {
	Triage(ctx context.Context, req triage.Request) (*triage.Outcome, error)
	Search(ctx context.Context, q retriever.Query) (*retriever.Response, error)
	Feedback(ctx context.Context, fb triage.Feedback) (*triage.FeedbackResult, error)
	Reply(ctx context.Context, requestID, text string) (*triage.ReplyOutcome, error)
	Status(ctx context.Context) (*triage.StatusReport, error)
}

// Ingester loads knowledge seed files
type Ingester interface {
	IngestPath(ctx context.Context, path string) (*indexer.Statistics, error)
}

// Options customizes a Server
type Options struct {
	Name     string
	Version  string
	Ingester Ingester // Optional; enables ingest_knowledge
	Logger   *logger.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	service  Service
	ingester Ingester
	log      *logger.Logger
}

// NewServer creates a new MCP server instance
func NewServer(svc Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("mcp: service is required")
	}
	if opts.Name == "" {
		opts.Name = ServerName
	}
	if opts.Version == "" {
		opts.Version = ServerVersion
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	s := &Server{
		mcp:      server.NewMCPServer(opts.Name, opts.Version, server.WithToolCapabilities(false)),
		service:  svc,
		ingester: opts.Ingester,
		log:      log.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the stdio transport until ctx is canceled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("serving MCP on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(triageRequestTool(), s.handleTriageRequest)
	s.mcp.AddTool(searchKnowledgeTool(), s.handleSearchKnowledge)
	s.mcp.AddTool(recordFeedbackTool(), s.handleRecordFeedback)
	s.mcp.AddTool(conversationReplyTool(), s.handleConversationReply)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)

	if s.ingester != nil {
		s.mcp.AddTool(ingestKnowledgeTool(), s.handleIngestKnowledge)
	}
}
