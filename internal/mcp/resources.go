package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sbarron/ambiance/internal/manage"
)

const projectsURI = "ambiance://projects"

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "projects",
		URI:         projectsURI,
		Description: "Projects with stored embeddings",
		MIMEType:    "application/json",
	}, s.projectsHandler)
}

func (s *Server) projectsHandler(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	resp := s.manager.Do(ctx, manage.ActionListProjects, manage.Params{})
	if !resp.Success {
		return nil, &MCPError{Code: ErrCodeInternalError, Message: resp.Error.Message}
	}
	data, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: projectsURI, MIMEType: "application/json", Text: string(data)}},
	}, nil
}
