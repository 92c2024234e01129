// Package generation runs embedding generation in the background, at most
// one session per project, and reports progress while it runs.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sbarron/ambiance/internal/project"
	"github.com/sbarron/ambiance/internal/telemetry"
)

// Trigger rejection reasons.
const (
	ReasonAlreadyGenerating = "already generating"
	ReasonLockedElsewhere   = "locked by another process"
	ReasonShuttingDown      = "shutting down"
)

// Options selects what a generation run does.
type Options struct {
	// Clear wipes the project's embeddings before a full run.
	Clear bool
	// Incremental restricts the run to stale and new files.
	Incremental bool
}

// TriggerResult reports the outcome of TriggerGeneration.
type TriggerResult struct {
	Started   bool   `json:"started"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Runner performs one generation run.
type Runner interface {
	Run(ctx context.Context, ident project.Identity, opts Options, t *Tracker) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, ident project.Identity, opts Options, t *Tracker) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, ident project.Identity, opts Options, t *Tracker) error {
	return f(ctx, ident, opts, t)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDataDir enables the cross-process lock under dir.
func WithDataDir(dir string) Option {
	return func(m *Manager) { m.dataDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the registry of generation sessions. It is owned by the
// application root and shared by every surface (MCP tools, CLI, watcher).
type Manager struct {
	runner  Runner
	dataDir string
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager that runs generation with runner.
func NewManager(runner Runner, opts ...Option) *Manager {
	m := &Manager{
		runner:   runner,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TriggerGeneration starts a background run for ident unless one is already
// live for the project. The run is detached from ctx: once started it is
// not cancelled by the caller.
func (m *Manager) TriggerGeneration(ctx context.Context, ident project.Identity, opts Options) TriggerResult {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return TriggerResult{Reason: ReasonShuttingDown}
	}
	if s, ok := m.sessions[ident.ID]; ok && s.IsGenerating {
		m.mu.Unlock()
		m.metrics.GenerationOutcome("rejected")
		return TriggerResult{Reason: ReasonAlreadyGenerating, SessionID: s.ID}
	}

	var lock *FileLock
	if m.dataDir != "" {
		lock = NewProjectLock(m.dataDir, ident.ID)
		acquired, err := lock.TryLock()
		if err != nil || !acquired {
			m.mu.Unlock()
			reason := ReasonLockedElsewhere
			if err != nil {
				reason = err.Error()
			}
			m.metrics.GenerationOutcome("rejected")
			return TriggerResult{Reason: reason}
		}
	}

	s := &Session{
		ID:           uuid.NewString(),
		ProjectID:    ident.ID,
		ProjectPath:  ident.Root,
		IsGenerating: true,
		StartedAt:    m.now(),
	}
	m.sessions[ident.ID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.GenerationOutcome("started")
	m.logger.Info("generation_started",
		slog.String("session_id", s.ID),
		slog.String("project_id", ident.ID),
		slog.String("path", ident.Root),
		slog.Bool("incremental", opts.Incremental),
		slog.Bool("clear", opts.Clear))

	go m.run(context.WithoutCancel(ctx), ident, opts, s, lock)
	return TriggerResult{Started: true, SessionID: s.ID}
}

func (m *Manager) run(ctx context.Context, ident project.Identity, opts Options, s *Session, lock *FileLock) {
	defer m.wg.Done()
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	t := &Tracker{mu: &m.mu, session: s, metrics: m.metrics}
	err := m.safeRun(ctx, ident, opts, t)

	m.mu.Lock()
	done := m.now()
	s.IsGenerating = false
	s.CompletedAt = &done
	if err != nil {
		s.Errors = append(s.Errors, err.Error())
	}
	progress := s.Progress
	errCount := len(s.Errors)
	m.mu.Unlock()

	attrs := []any{
		slog.String("session_id", s.ID),
		slog.String("project_id", ident.ID),
		slog.Int("files", progress.ProcessedFiles),
		slog.Int("chunks", progress.ChunksStored),
		slog.Int("errors", errCount),
		slog.Duration("duration", done.Sub(s.StartedAt)),
	}
	if err != nil {
		m.metrics.GenerationOutcome("failed")
		m.logger.Error("generation_failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	m.metrics.GenerationOutcome("completed")
	m.logger.Info("generation_completed", attrs...)
}

// safeRun turns a runner panic into an error so CompletedAt is always set.
func (m *Manager) safeRun(ctx context.Context, ident project.Identity, opts Options, t *Tracker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return m.runner.Run(ctx, ident, opts, t)
}

// IsGenerating reports whether a session is live for projectID.
func (m *Manager) IsGenerating(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	return ok && s.IsGenerating
}

// GetGenerationStatus returns a snapshot of the latest session of projectID.
func (m *Manager) GetGenerationStatus(projectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// ClearSession forgets a completed session. Live sessions are kept.
func (m *Manager) ClearSession(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	if !ok || s.IsGenerating {
		return false
	}
	delete(m.sessions, projectID)
	return true
}

// Wait blocks until every in-flight session has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close rejects new triggers and waits for in-flight sessions.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
