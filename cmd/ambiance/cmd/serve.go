package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/sbarron/ambiance/internal/mcp"
	"github.com/sbarron/ambiance/internal/project"
	"github.com/sbarron/ambiance/internal/watcher"
)

type serveOptions struct {
	transport   string
	metricsAddr string
	watch       bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server on stdio, exposing the local_context and
manage_embeddings tools to AI assistants.

stdout carries only protocol messages; logs go to the data directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, opts, cmd.Flags().Changed("watch"))
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport to serve on (stdio)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Update embeddings when project files change")

	return cmd
}

func runServe(ctx context.Context, g *globalFlags, opts *serveOptions, watchSet bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(g, ".")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	transport := opts.transport
	if transport == "" {
		transport = a.cfg.Server.Transport
	}
	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = a.cfg.Server.MetricsAddr
	}
	watch := a.cfg.Generation.Watch
	if watchSet {
		watch = opts.watch
	}

	server, err := mcp.NewServer(a.engine, a.manage, a.logger)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		shutdown := serveMetrics(a, metricsAddr)
		defer shutdown()
	}

	// The watcher starts in the background so the MCP handshake is not
	// delayed by walking a large tree.
	if watch {
		go startWatcher(ctx, a)
	}

	return server.Serve(ctx, transport)
}

func serveMetrics(a *app, addr string) func() {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(a), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("metrics_server_starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics_server_failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// metricsRouter serves Prometheus metrics and a liveness probe.
func metricsRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// startWatcher keeps the project's embeddings current until ctx ends.
func startWatcher(ctx context.Context, a *app) {
	ident, err := project.PathResolver{}.Resolve(a.root)
	if err != nil {
		a.logger.Warn("watcher_disabled", slog.String("error", err.Error()))
		return
	}
	w, err := watcher.New(a.root, watcher.Options{
		Debounce: a.cfg.Generation.WatchDebounceDuration(),
		Exclude:  a.cfg.Paths.Exclude,
		Logger:   a.logger,
	})
	if err != nil {
		a.logger.Warn("watcher_disabled", slog.String("error", err.Error()))
		return
	}

	go watcher.NewUpdater(a.manager, ident, a.logger).Run(ctx, w.Batches())
	if err := w.Run(ctx); err != nil {
		a.logger.Warn("watcher_stopped", slog.String("error", err.Error()))
	}
}
