package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbarron/ambiance/internal/manage"
	"github.com/sbarron/ambiance/internal/ui"
)

const progressInterval = 500 * time.Millisecond

type embeddingsOptions struct {
	id            string
	force         bool
	autoFix       bool
	maxFixMinutes int
	noWait        bool
	json          bool
	noColor       bool
}

func newEmbeddingsCmd(g *globalFlags) *cobra.Command {
	opts := &embeddingsOptions{}

	actions := make([]string, len(manage.Actions))
	for i, a := range manage.Actions {
		actions[i] = string(a)
	}

	cmd := &cobra.Command{
		Use:   "embeddings <action> [path]",
		Short: "Inspect and maintain stored embeddings",
		Long: `Run an embedding management action against a project.

Actions: ` + strings.Join(actions, ", ") + `

Examples:
  ambiance embeddings status
  ambiance embeddings create ~/src/api
  ambiance embeddings health_check --auto-fix
  ambiance embeddings delete_project --id 3f9c2a1b7d4e8f60 --force`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: actions,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 1 {
				path = args[1]
			}
			return runEmbeddings(cmd, g, opts, args[0], path)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Project ID instead of a path")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Confirm destructive actions")
	cmd.Flags().BoolVar(&opts.autoFix, "auto-fix", false, "Repair problems found by health_check")
	cmd.Flags().IntVar(&opts.maxFixMinutes, "max-fix-minutes", 0, "Time budget for --auto-fix (default from config)")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return as soon as generation starts")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output the response as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runEmbeddings(cmd *cobra.Command, g *globalFlags, opts *embeddingsOptions, name, path string) error {
	action, err := manage.ParseAction(name)
	if err != nil {
		return err
	}
	if path == "" && opts.id == "" && action != manage.ActionListProjects {
		path = "."
	}

	a, err := openApp(g, path)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx := cmd.Context()
	params := manage.Params{
		ProjectPath:   path,
		ProjectID:     opts.id,
		Force:         opts.force,
		AutoFix:       opts.autoFix,
		MaxFixMinutes: opts.maxFixMinutes,
	}
	resp := a.manage.Do(ctx, action, params)

	// Generation runs in the background; a CLI process waits for it and
	// reports the final status instead.
	if resp.Success && !opts.noWait && startedGeneration(resp) {
		waitForGeneration(ctx, a, resp.Project, cmd.ErrOrStderr())
		resp = a.manage.Do(ctx, manage.ActionStatus, params)
	}

	out := cmd.OutOrStdout()
	if opts.json {
		err = ui.JSON(out, resp)
	} else {
		err = ui.NewPrinter(out, opts.noColor).Response(resp)
	}
	if err != nil {
		return err
	}
	if !resp.Success {
		return errReported
	}
	return nil
}

func startedGeneration(resp *manage.Response) bool {
	switch r := resp.Result.(type) {
	case *manage.GenerateResult:
		return r.Started
	case *manage.HealthReport:
		for _, fix := range r.Fixes {
			if strings.HasPrefix(fix, "started ") {
				return true
			}
		}
	}
	return false
}

// waitForGeneration blocks until the project's session completes, drawing
// a progress bar on w when it is a terminal.
func waitForGeneration(ctx context.Context, a *app, ref *manage.ProjectRef, w io.Writer) {
	if ref == nil {
		a.manager.Wait()
		return
	}
	tty := ui.IsTTY(w)
	bar := ui.NewProgress(30)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		s, ok := a.manager.GetGenerationStatus(ref.ID)
		if !ok || !s.IsGenerating {
			break
		}
		if tty {
			_, _ = fmt.Fprintf(w, "\r%s", bar.Line(s))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	if tty {
		_, _ = fmt.Fprintln(w)
	}
	a.manager.Wait()
}
