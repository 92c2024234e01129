package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/config"
	"github.com/sbarron/ambiance/internal/embed"
	"github.com/sbarron/ambiance/internal/engine"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/generation"
	"github.com/sbarron/ambiance/internal/logging"
	"github.com/sbarron/ambiance/internal/manage"
	"github.com/sbarron/ambiance/internal/rank"
	"github.com/sbarron/ambiance/internal/store"
	"github.com/sbarron/ambiance/internal/telemetry"
)

// app is the wired application: one store, embedder and generation
// manager shared by every surface of a single process.
type app struct {
	root     string
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	store    *store.Store
	embedder embed.Embedder
	manager  *generation.Manager
	engine   *engine.Engine
	manage   *manage.Service

	closers []func() error
}

// openApp loads configuration for the project containing dir and wires
// the services. Logs go to <data_dir>/logs/server.log, never stdout.
func openApp(g *globalFlags, dir string) (*app, error) {
	if dir == "" {
		dir = "."
	}
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	a := &app{root: root, cfg: cfg, metrics: telemetry.New()}
	opened := false
	defer func() {
		if !opened {
			_ = a.Close()
		}
	}()

	logPath := filepath.Join(cfg.Paths.DataDir, "logs", "server.log")
	logger, cleanup, err := logging.Setup(g.loggingConfig(logPath, cfg.Server.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger = logger
	prev := slog.Default()
	slog.SetDefault(logger)
	a.closers = append(a.closers, func() error {
		slog.SetDefault(prev)
		cleanup()
		return nil
	})

	a.store, err = store.Open(cfg.StorePath(), store.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.embedder, err = embed.New(cfg.Embeddings, a.metrics)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.embedder.Close)

	pipeline := generation.NewPipeline(a.store, a.embedder, chunk.NewWalker(), chunk.NewBoundaryProducer(),
		generation.PipelineConfig{
			MaxFiles:        cfg.Generation.MaxFiles,
			Exclude:         cfg.Paths.Exclude,
			BatchSize:       cfg.Embeddings.BatchSize,
			Workers:         cfg.Generation.Workers,
			InterBatchDelay: cfg.Generation.InterBatchDelayDuration(),
			Quantize:        cfg.Embeddings.Quantize,
			Prune:           cfg.Generation.PruneGenerations,
		}, logger, a.metrics)
	a.manager = generation.NewManager(pipeline,
		generation.WithDataDir(cfg.Paths.DataDir),
		generation.WithLogger(logger),
		generation.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.manager.Close)

	a.engine, err = engine.New(engine.Deps{
		Config:   cfg,
		Store:    a.store,
		Embedder: a.embedder,
		Manager:  a.manager,
		Recency:  rank.GitRecency{},
	}, engine.WithLogger(logger), engine.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	a.manage = manage.NewService(manage.Deps{
		Config:   cfg,
		Store:    a.store,
		Embedder: a.embedder,
		Manager:  a.manager,
		Logger:   logger,
	})

	logger.Debug("app_opened",
		slog.String("root", root),
		slog.String("store", cfg.StorePath()),
		slog.String("provider", a.embedder.Provider()))
	opened = true
	return a, nil
}

// Close waits for running generation, then releases everything in reverse
// order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func formatError(err error) string {
	return amerrors.FormatForCLI(err)
}
