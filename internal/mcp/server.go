package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sbarron/ambiance/internal/engine"
	"github.com/sbarron/ambiance/internal/manage"
	"github.com/sbarron/ambiance/pkg/version"
)

// ContextProvider builds context bundles. *engine.Engine implements it.
type ContextProvider interface {
	LocalContext(ctx context.Context, req engine.Request) (*engine.Bundle, error)
}

// Manager runs management actions. *manage.Service implements it.
type Manager interface {
	Do(ctx context.Context, action manage.Action, p manage.Params) *manage.Response
}

// Server is the MCP server.
type Server struct {
	mcp     *mcp.Server
	context ContextProvider
	manager Manager
	logger  *slog.Logger
}

// NewServer creates a Server and registers its tools and resources.
func NewServer(provider ContextProvider, manager Manager, logger *slog.Logger) (*Server, error) {
	if provider == nil {
		return nil, errors.New("context provider is required")
	}
	if manager == nil {
		return nil, errors.New("embedding manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: "ambiance", Version: version.Short()}, nil),
		context: provider,
		manager: manager,
		logger:  logger,
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "local_context", Description: localContextDescription}, s.localContextHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "manage_embeddings", Description: manageDescription}, s.manageHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

// Serve runs the server on transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	if transport != "stdio" {
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// CallTool dispatches a tool call without a transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "local_context":
		var in LocalContextInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.localContext(ctx, in)
	case "manage_embeddings":
		var in ManageEmbeddingsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.manage(ctx, in)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, into any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, into); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) localContextHandler(ctx context.Context, _ *mcp.CallToolRequest, in LocalContextInput) (
	*mcp.CallToolResult,
	*engine.Bundle,
	error,
) {
	b, err := s.localContext(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	text := b.Content
	if text == "" {
		text = summarize(b)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, b, nil
}

func (s *Server) localContext(ctx context.Context, in LocalContextInput) (*engine.Bundle, error) {
	if in.Query == "" {
		return nil, NewInvalidParamsError("query parameter is required")
	}
	if in.ProjectPath == "" {
		return nil, NewInvalidParamsError("project_path parameter is required")
	}
	b, err := s.context.LocalContext(ctx, engine.Request{
		ProjectPath: in.ProjectPath,
		Query:       in.Query,
		TaskType:    engine.TaskType(in.TaskType),
		Threshold:   in.Threshold,
		MaxChunks:   in.MaxChunks,
		TokenBudget: in.TokenBudget,
		Format:      engine.Format(in.Format),
	})
	if err != nil {
		s.logger.Warn("local_context_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return b, nil
}

// summarize explains an empty bundle to the client.
func summarize(b *engine.Bundle) string {
	msg := fmt.Sprintf("No code context available (%s).", b.BaseKind)
	for _, r := range b.Recommendations {
		msg += "\n- " + r
	}
	return msg
}

func (s *Server) manageHandler(ctx context.Context, _ *mcp.CallToolRequest, in ManageEmbeddingsInput) (
	*mcp.CallToolResult,
	*manage.Response,
	error,
) {
	resp, err := s.manage(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	// Failed actions are still answers; the client reads the recommendations.
	return &mcp.CallToolResult{IsError: !resp.Success}, resp, nil
}

func (s *Server) manage(ctx context.Context, in ManageEmbeddingsInput) (*manage.Response, error) {
	if in.Action == "" {
		return nil, NewInvalidParamsError("action parameter is required")
	}
	return s.manager.Do(ctx, manage.Action(in.Action), manage.Params{
		ProjectPath:   in.ProjectPath,
		ProjectID:     in.ProjectID,
		Force:         in.Force,
		AutoFix:       in.AutoFix,
		MaxFixMinutes: in.MaxFixMinutes,
	}), nil
}
