// Package manage implements the embedding management actions. Every action
// returns a Response; failures are reported in it with recommendations
// instead of as bare errors.
package manage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/config"
	"github.com/sbarron/ambiance/internal/embed"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/project"
	"github.com/sbarron/ambiance/internal/store"
)

// Action names a management operation.
type Action string

const (
	ActionStatus            Action = "status"
	ActionHealthCheck       Action = "health_check"
	ActionCreate            Action = "create"
	ActionUpdate            Action = "update"
	ActionValidate          Action = "validate"
	ActionCheckStale        Action = "check_stale"
	ActionFindDuplicates    Action = "find_duplicates"
	ActionCleanupDuplicates Action = "cleanup_duplicates"
	ActionListProjects      Action = "list_projects"
	ActionDeleteProject     Action = "delete_project"
	ActionProjectDetails    Action = "project_details"
)

// Actions lists every action in display order.
var Actions = []Action{
	ActionStatus, ActionHealthCheck, ActionCreate, ActionUpdate, ActionValidate,
	ActionCheckStale, ActionFindDuplicates, ActionCleanupDuplicates,
	ActionListProjects, ActionDeleteProject, ActionProjectDetails,
}

// ParseAction validates a user-supplied action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", amerrors.InvalidInput(fmt.Sprintf("unknown action %q", s)).
		WithSuggestion("Valid actions: " + actionList())
}

func actionList() string {
	names := make([]string, len(Actions))
	for i, a := range Actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

// Params are the inputs shared by all actions. ProjectPath or ProjectID
// identifies the project; list_projects needs neither.
type Params struct {
	ProjectPath string `json:"project_path,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Force       bool   `json:"force,omitempty"`
	AutoFix     bool   `json:"auto_fix,omitempty"`
	// MaxFixMinutes caps health_check auto-fix time. Zero uses the
	// configured fix timeout.
	MaxFixMinutes int `json:"max_fix_minutes,omitempty"`
}

// ProjectRef identifies the project an action ran against.
type ProjectRef struct {
	ID       string `json:"id"`
	LegacyID string `json:"legacy_id,omitempty"`
	Root     string `json:"root,omitempty"`
	// DataID is the ID actually holding embeddings, when different from ID.
	DataID string `json:"data_id,omitempty"`
}

// Response is the result of an action.
type Response struct {
	Success         bool              `json:"success"`
	Action          Action            `json:"action"`
	Project         *ProjectRef       `json:"project,omitempty"`
	Result          any               `json:"result,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Error           *amerrors.Info    `json:"error,omitempty"`
	Duration        string            `json:"duration,omitempty"`
	Lookup          *store.Resolution `json:"lookup,omitempty"`
}

// Deps are the collaborators of a Service. Store and Embedder are required;
// create, update and health_check auto-fix also need Manager.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Embedder embed.Embedder
	Manager  *generation.Manager
	Lister   chunk.FileLister
	Resolver project.Resolver
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service runs management actions.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	embedder embed.Embedder
	manager  *generation.Manager
	lister   chunk.FileLister
	resolver project.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service, filling optional dependencies with defaults.
func NewService(d Deps) *Service {
	s := &Service{
		cfg:      d.Config,
		store:    d.Store,
		embedder: d.Embedder,
		manager:  d.Manager,
		lister:   d.Lister,
		resolver: d.Resolver,
		logger:   d.Logger,
		now:      d.Now,
	}
	if s.cfg == nil {
		s.cfg = config.NewConfig()
	}
	if s.lister == nil {
		s.lister = chunk.NewWalker()
	}
	if s.resolver == nil {
		s.resolver = project.PathResolver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// target is a resolved project: its identity, and where its data lives.
type target struct {
	ident project.Identity
	res   *store.Resolution
	// hasRoot is false when the project was named by ID and has no record.
	hasRoot bool
}

func (t *target) dataID() string {
	if t.res != nil && t.res.Source == store.SourceLegacy {
		return t.res.ProjectID
	}
	return t.ident.ID
}

func (t *target) ref() *ProjectRef {
	r := &ProjectRef{ID: t.ident.ID, Root: t.ident.Root}
	if t.ident.HasLegacy() {
		r.LegacyID = t.ident.LegacyID
	}
	if id := t.dataID(); id != t.ident.ID {
		r.DataID = id
	}
	return r
}

// Do runs action. It never returns a nil Response.
func (s *Service) Do(ctx context.Context, action Action, p Params) *Response {
	start := s.now()
	resp := s.dispatch(ctx, action, p)
	resp.Action = action
	resp.Duration = s.now().Sub(start).Round(time.Millisecond).String()

	level := slog.LevelInfo
	if !resp.Success {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "manage_action",
		slog.String("action", string(action)),
		slog.Bool("success", resp.Success),
		slog.String("duration", resp.Duration))
	return resp
}

func (s *Service) dispatch(ctx context.Context, action Action, p Params) *Response {
	if action == ActionListProjects {
		return s.listProjects(ctx)
	}
	if _, err := ParseAction(string(action)); err != nil {
		return fail(nil, err)
	}

	t, err := s.resolve(ctx, p)
	if err != nil {
		return fail(nil, err)
	}

	var resp *Response
	switch action {
	case ActionStatus:
		resp = s.status(ctx, t)
	case ActionHealthCheck:
		resp = s.healthCheck(ctx, t, p)
	case ActionCreate:
		resp = s.generate(ctx, t, generation.Options{Clear: true})
	case ActionUpdate:
		resp = s.generate(ctx, t, generation.Options{Incremental: true})
	case ActionValidate:
		resp = s.validate(ctx, t)
	case ActionCheckStale:
		resp = s.checkStale(ctx, t)
	case ActionFindDuplicates:
		resp = s.findDuplicates(ctx, t)
	case ActionCleanupDuplicates:
		resp = s.cleanupDuplicates(ctx, t)
	case ActionDeleteProject:
		resp = s.deleteProject(ctx, t, p)
	case ActionProjectDetails:
		resp = s.projectDetails(ctx, t)
	}
	if resp.Project == nil {
		resp.Project = t.ref()
	}
	if resp.Lookup == nil {
		resp.Lookup = t.res
	}
	return resp
}

// resolve identifies the project from a path, or from an ID through its
// stored record, then runs the lookup strategy.
func (s *Service) resolve(ctx context.Context, p Params) (*target, error) {
	t := &target{}
	switch {
	case p.ProjectPath != "":
		ident, err := s.resolver.Resolve(p.ProjectPath)
		if err != nil {
			return nil, err
		}
		t.ident, t.hasRoot = ident, true
	case p.ProjectID != "":
		t.ident = project.Identity{ID: p.ProjectID}
		rec, err := s.store.GetProject(ctx, p.ProjectID)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.RootPath != "" {
			t.ident.Root, t.hasRoot = rec.RootPath, true
		}
	default:
		return nil, amerrors.InvalidInput("a project path or project ID is required").
			WithSuggestion("Pass the project directory, or --id with an ID from 'ambiance embeddings list_projects'")
	}

	res, err := s.store.Resolve(ctx, t.ident, s.indexing())
	if err != nil {
		return nil, err
	}
	t.res = res
	return t, nil
}

func (s *Service) indexing() store.IndexingChecker {
	if s.manager == nil {
		return nil
	}
	return s.manager
}

// currentDims returns the configured embedder's width, probing it once when
// the provider only learns its width from a response.
func (s *Service) currentDims(ctx context.Context) (int, error) {
	if d := s.embedder.Dimensions(); d > 0 {
		return d, nil
	}
	v, err := s.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

func ok(result any, recs ...string) *Response {
	return &Response{Success: true, Result: result, Recommendations: recs}
}

// fail builds a failed response. The error's suggestion, if any, leads
// the recommendations.
func fail(t *target, err error, recs ...string) *Response {
	info := amerrors.ToInfo(err)
	all := make([]string, 0, len(recs)+1)
	if info.Suggestion != "" {
		all = append(all, info.Suggestion)
	}
	for _, r := range recs {
		if r != info.Suggestion {
			all = append(all, r)
		}
	}
	resp := &Response{Success: false, Error: info, Recommendations: all}
	if t != nil {
		resp.Project = t.ref()
	}
	return resp
}

func notIndexed(t *target) *Response {
	return fail(t, amerrors.NotFound("embeddings for project "+t.ident.ID),
		"Run 'ambiance embeddings create' to index this project")
}

func needsRoot(t *target) *Response {
	return fail(t, amerrors.New(amerrors.ErrCodeInvalidPath, "project root is unknown for this ID", nil),
		"Pass the project directory instead of an ID")
}
