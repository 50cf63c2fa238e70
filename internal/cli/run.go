package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/liveview/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Store string
	Jobs  int
}

// ScenarioResult is one scenario's outcome.
type ScenarioResult struct {
	Name   string               `json:"name"`
	File   string               `json:"file"`
	Pass   bool                 `json:"pass"`
	Errors []string             `json:"errors,omitempty"`
	Trace  []harness.TraceEvent `json:"trace,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run scenarios and print their traces",
		Long: `Run one or more scenario files against a fresh store each and print
every step's notifications, view contents and history depth.

Scenarios run concurrently, each on its own store. With --store (or
store_path in the config) a single scenario's store is written to that file
and kept for inspection.

Exit codes:
  0 - All scenarios passed
  1 - A step or assertion failed
  2 - Command error (unreadable or invalid scenario)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "keep the store in this file (single scenario only)")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "scenarios to run at once")

	return cmd
}

func runScenarios(ctx context.Context, opts *RunOptions, files []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	store := opts.Store
	if store == "" {
		store = opts.Config.StorePath
	}
	if store != "" && len(files) > 1 {
		err := fmt.Errorf("a kept store needs exactly one scenario, got %d", len(files))
		_ = f.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	extra := []harness.Option{}
	if store != "" {
		extra = append(extra, harness.WithStorePath(store))
	}
	results, err := executeAll(ctx, opts.RootOptions, files, opts.Jobs, cmd.ErrOrStderr(), extra...)
	if err != nil {
		_ = f.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	var text strings.Builder
	failed := 0
	for _, r := range results {
		if !r.Pass {
			failed++
		}
		writeScenarioText(&text, r)
	}
	if err := f.Success(results, text.String()); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", failed, len(results)))
	}
	return nil
}

// executeAll loads and runs files with at most jobs in flight. Results keep
// the order of files. A scenario that cannot be loaded or run stops the
// batch.
func executeAll(ctx context.Context, opts *RootOptions, files []string, jobs int, logTo io.Writer, extra ...harness.Option) ([]ScenarioResult, error) {
	results := make([]ScenarioResult, len(files))
	logger := opts.logger(logTo)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := harness.LoadScenario(file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			runOpts := append([]harness.Option{
				harness.WithLogger(logger.With("scenario", s.Name)),
				harness.WithUndoLimit(opts.Config.UndoLimit),
				harness.WithDefaultSchema(opts.Config.SchemaPath),
			}, extra...)
			res, err := harness.Run(s, runOpts...)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			results[i] = ScenarioResult{
				Name:   s.Name,
				File:   file,
				Pass:   res.Pass,
				Errors: res.Errors,
				Trace:  res.Trace,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeScenarioText(w io.Writer, r ScenarioResult) {
	status := "PASS"
	if !r.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d steps)\n", status, r.Name, len(r.Trace))
	for _, ev := range r.Trace {
		line := fmt.Sprintf("  %2d %s", ev.Seq, ev.Op)
		if ev.Table != "" {
			line += " " + ev.Table
		}
		if ev.Description != "" {
			line += fmt.Sprintf(" %q", ev.Description)
		}
		if ev.Error != "" {
			line += " ! " + ev.Error
		}
		fmt.Fprintf(w, "%s  undo=%d redo=%d\n", line, ev.UndoCount, ev.RedoCount)
		for _, n := range ev.Notifications {
			fmt.Fprintf(w, "       ~ %s\n", n)
		}
		for _, n := range ev.Notices {
			fmt.Fprintf(w, "       > %s\n", n)
		}
		for _, name := range slices.Sorted(maps.Keys(ev.Views)) {
			fmt.Fprintf(w, "       %s: %v %s\n", name, ev.Views[name], strings.Join(ev.Events[name], "; "))
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
