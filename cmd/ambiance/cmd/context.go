package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sbarron/ambiance/internal/engine"
	"github.com/sbarron/ambiance/internal/ui"
)

type contextOptions struct {
	path      string
	budget    int
	threshold float64
	maxChunks int
	task      string
	format    string
	json      bool
	noColor   bool
}

func newContextCmd(g *globalFlags) *cobra.Command {
	opts := &contextOptions{}

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Build a context bundle for a query",
		Long: `Retrieve the code most relevant to a natural-language query and
print it as a token-budgeted bundle.

Examples:
  ambiance context "database initialization"
  ambiance context "why does login fail" --task troubleshoot --budget 4000
  ambiance context "request flow" --path ~/src/api --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(cmd, g, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.path, "path", "p", ".", "Project directory")
	cmd.Flags().IntVar(&opts.budget, "budget", 0, "Token budget (default from config)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Similarity floor between 0 and 1 (default from config)")
	cmd.Flags().IntVar(&opts.maxChunks, "max-chunks", 0, "Maximum similar chunks (default from config)")
	cmd.Flags().StringVar(&opts.task, "task", "understand", "Task type: understand, overview, troubleshoot, debug, trace")
	cmd.Flags().StringVar(&opts.format, "format", "markdown", "Content format: markdown or json")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the whole bundle as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runContext(cmd *cobra.Command, g *globalFlags, opts *contextOptions, query string) error {
	a, err := openApp(g, opts.path)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bundle, err := a.engine.LocalContext(cmd.Context(), engine.Request{
		ProjectPath: opts.path,
		Query:       query,
		TaskType:    engine.TaskType(opts.task),
		Threshold:   opts.threshold,
		MaxChunks:   opts.maxChunks,
		TokenBudget: opts.budget,
		Format:      engine.Format(opts.format),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.json:
		err = ui.JSON(out, bundle)
	case bundle.Content != "" && engine.Format(opts.format) == engine.FormatJSON:
		_, err = fmt.Fprintln(out, bundle.Content)
	default:
		ui.NewPrinter(out, opts.noColor).Bundle(bundle)
	}
	if err != nil {
		return err
	}

	if a.manager.IsGenerating(bundle.ProjectID) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Embedding generation started; waiting for it to finish...")
	}
	return nil
}
