package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/engine"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/manage"
	"github.com/sbarron/ambiance/internal/store"
)

type fakeProvider struct {
	got engine.Request
	b   *engine.Bundle
	err error
}

func (f *fakeProvider) LocalContext(_ context.Context, req engine.Request) (*engine.Bundle, error) {
	f.got = req
	return f.b, f.err
}

type fakeManager struct {
	action manage.Action
	params manage.Params
	resp   *manage.Response
}

func (f *fakeManager) Do(_ context.Context, action manage.Action, p manage.Params) *manage.Response {
	f.action, f.params = action, p
	if f.resp != nil {
		return f.resp
	}
	return &manage.Response{Success: true, Action: action}
}

func newTestServer(t *testing.T, p *fakeProvider, m *fakeManager) *Server {
	t.Helper()
	srv, err := NewServer(p, m, nil)
	require.NoError(t, err)
	require.NotNil(t, srv.MCPServer())
	return srv
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(nil, &fakeManager{}, nil)
	assert.Error(t, err)
	_, err = NewServer(&fakeProvider{}, nil, nil)
	assert.Error(t, err)
}

func TestCallTool_LocalContext(t *testing.T) {
	// Given: a provider returning a bundle
	p := &fakeProvider{b: &engine.Bundle{Content: "## init.ts", Source: store.SourceCurrent, BaseKind: "full"}}
	srv := newTestServer(t, p, &fakeManager{})

	// When: the tool is called with every argument
	out, err := srv.CallTool(context.Background(), "local_context", map[string]any{
		"project_path": "/src/app",
		"query":        "database initialization",
		"task_type":    "debug",
		"threshold":    0.2,
		"max_chunks":   10,
		"token_budget": 800,
		"format":       "json",
	})

	// Then: the request is forwarded unchanged
	require.NoError(t, err)
	assert.Equal(t, "## init.ts", out.(*engine.Bundle).Content)
	assert.Equal(t, engine.Request{
		ProjectPath: "/src/app",
		Query:       "database initialization",
		TaskType:    engine.TaskDebug,
		Threshold:   0.2,
		MaxChunks:   10,
		TokenBudget: 800,
		Format:      engine.FormatJSON,
	}, p.got)
}

func TestCallTool_LocalContextValidation(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, &fakeManager{})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{"project_path": "/src/app"}},
		{"missing path", map[string]any{"query": "q"}},
		{"wrong type", map[string]any{"query": 7, "project_path": "/src/app"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.CallTool(context.Background(), "local_context", tt.args)
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestCallTool_LocalContextMapsErrors(t *testing.T) {
	p := &fakeProvider{err: amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil)}
	srv := newTestServer(t, p, &fakeManager{})

	_, err := srv.CallTool(context.Background(), "local_context", map[string]any{"project_path": "/a", "query": " "})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "query is empty")
}

func TestCallTool_ManageEmbeddings(t *testing.T) {
	m := &fakeManager{resp: &manage.Response{Success: false, Action: manage.ActionCreate,
		Recommendations: []string{"Check progress with 'ambiance embeddings status'"}}}
	srv := newTestServer(t, &fakeProvider{}, m)

	out, err := srv.CallTool(context.Background(), "manage_embeddings", map[string]any{
		"action":          "create",
		"project_path":    "/src/app",
		"force":           true,
		"auto_fix":        true,
		"max_fix_minutes": 3,
	})

	// Then: failures are answers, not errors
	require.NoError(t, err)
	resp := out.(*manage.Response)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Recommendations)
	assert.Equal(t, manage.ActionCreate, m.action)
	assert.Equal(t, manage.Params{ProjectPath: "/src/app", Force: true, AutoFix: true, MaxFixMinutes: 3}, m.params)
}

func TestCallTool_Unknown(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, &fakeManager{})

	_, err := srv.CallTool(context.Background(), "search", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)

	_, err = srv.CallTool(context.Background(), "manage_embeddings", map[string]any{})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestProjectsResource(t *testing.T) {
	m := &fakeManager{resp: &manage.Response{Success: true, Result: &manage.ProjectList{Count: 0, Projects: []manage.ProjectSummary{}}}}
	srv := newTestServer(t, &fakeProvider{}, m)

	res, err := srv.projectsHandler(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, projectsURI, res.Contents[0].URI)
	assert.JSONEq(t, `{"projects": [], "count": 0}`, res.Contents[0].Text)
	assert.Equal(t, manage.ActionListProjects, m.action)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", amerrors.NotFound("embeddings for project x"), ErrCodeNotIndexed},
		{"busy", amerrors.GenerationInProgress("x"), ErrCodeBusy},
		{"embedding", amerrors.New(amerrors.ErrCodeEmbeddingFailed, "boom", nil), ErrCodeEmbeddingFailed},
		{"validation", amerrors.InvalidInput("bad"), ErrCodeInvalidParams},
		{"network", amerrors.NetworkError("down", nil), ErrCodeTimeout},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"plain", errors.New("x"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
	assert.Nil(t, MapError(nil))

	withHint := MapError(amerrors.GenerationInProgress("x"))
	assert.Contains(t, withHint.Message, amerrors.GenerationInProgress("x").Suggestion)
}
