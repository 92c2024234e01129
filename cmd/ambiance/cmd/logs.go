package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sbarron/ambiance/internal/config"
	"github.com/sbarron/ambiance/internal/logging"
	"github.com/sbarron/ambiance/internal/ui"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	file    string
	noColor bool
}

func newLogsCmd() *cobra.Command {
	opts := &logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show server logs",
		Long: `Show the last lines of the server log, optionally following new entries.

Examples:
  ambiance logs                     # last 50 lines
  ambiance logs -f --level warn     # follow warnings and errors
  ambiance logs --filter generation # lines matching a regular expression`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only lines matching this regular expression")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default <data_dir>/logs/server.log)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runLogs(cmd *cobra.Command, opts *logsOptions) error {
	path := opts.file
	if path == "" {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		path = filepath.Join(cfg.Paths.DataDir, "logs", "server.log")
	}

	vc := logging.ViewerConfig{MinLevel: opts.level}
	if opts.filter != "" {
		re, err := regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
		vc.Pattern = re
	}
	out := cmd.OutOrStdout()
	if !opts.noColor && ui.IsTTY(out) && !ui.DetectNoColor() {
		vc.StyleLevel = levelStyler(ui.DefaultStyles())
	}
	viewer := logging.NewViewer(vc)

	if opts.follow {
		return followLogs(cmd.Context(), cmd, viewer, path)
	}
	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		_, _ = fmt.Fprintln(out, viewer.Format(e))
	}
	return nil
}

func followLogs(ctx context.Context, cmd *cobra.Command, viewer *logging.Viewer, path string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)\n", path)
	entries := make(chan logging.Entry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, path, entries) }()

	for {
		select {
		case e := <-entries:
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), viewer.Format(e))
		case err := <-errCh:
			return err
		}
	}
}

func levelStyler(s ui.Styles) func(level, padded string) string {
	byLevel := map[string]lipgloss.Style{
		"debug": s.Dim,
		"info":  s.Success,
		"warn":  s.Warning,
		"error": s.Error,
	}
	return func(level, padded string) string {
		if st, ok := byLevel[level]; ok {
			return st.Render(padded)
		}
		return padded
	}
}
