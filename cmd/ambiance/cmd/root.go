// Package cmd provides the CLI commands for ambiance.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sbarron/ambiance/internal/logging"
	"github.com/sbarron/ambiance/internal/profiling"
	"github.com/sbarron/ambiance/pkg/version"
)

// errReported is returned after a command has already printed its failure,
// so Execute exits non-zero without printing it twice.
var errReported = errors.New("command failed")

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	debug   bool
	profile profiling.Options
	session *profiling.Session
}

// NewRootCmd creates the root command for the ambiance CLI.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "ambiance",
		Short: "Local code context for AI assistants",
		Long: `ambiance indexes a source tree into local embeddings and answers
natural-language queries with a compact, token-budgeted context bundle.

Run 'ambiance serve' to expose it over MCP, or query it directly with
'ambiance context'.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("ambiance version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging (mirrored to stderr)")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = g.start
	cmd.PersistentPostRunE = g.stop

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newContextCmd(g))
	cmd.AddCommand(newEmbeddingsCmd(g))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (g *globalFlags) start(_ *cobra.Command, _ []string) error {
	if !g.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(g.profile, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	g.session = s
	return nil
}

func (g *globalFlags) stop(_ *cobra.Command, _ []string) error {
	if g.session == nil {
		return nil
	}
	err := g.session.Stop()
	g.session = nil
	return err
}

// loggingConfig returns file logging under dataDir at level, or the debug
// configuration when --debug is set.
func (g *globalFlags) loggingConfig(logPath, level string) logging.Config {
	cfg := logging.DefaultConfig()
	if g.debug {
		cfg = logging.DebugConfig()
	} else if level != "" {
		cfg.Level = level
	}
	cfg.FilePath = logPath
	return cfg
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil && !errors.Is(err, errReported) {
		_, _ = fmt.Fprint(root.ErrOrStderr(), formatError(err))
	}
	return err
}
