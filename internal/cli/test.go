package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/liveview/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Golden string
	Update bool
	Filter string
	Jobs   int
}

// TestResult is the outcome of one scenario's golden comparison.
type TestResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Status string   `json:"status"` // "pass", "fail", "updated"
	Errors []string `json:"errors,omitempty"`
}

// TestSummary aggregates a test run.
type TestSummary struct {
	Results []TestResult `json:"results"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Updated int          `json:"updated"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenarios and compare traces with golden files",
		Long: `Run every *.yaml scenario in a directory and compare each trace with
<golden>/<name>.golden. The golden directory defaults to ../golden next to
the scenarios.

A scenario passes when its steps and assertions pass and its trace matches
the golden file byte for byte. --update rewrites the golden files instead
of comparing.

Exit codes:
  0 - All scenarios passed (or were updated)
  1 - At least one scenario failed
  2 - Command error (missing directory, unreadable scenario)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenario files matching this glob")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 4, "scenarios to run at once")

	return cmd
}

func runTest(opts *TestOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	files, err := scenarioFiles(dir, opts.Filter)
	if err != nil {
		code := ErrCodeInvalid
		if errors.Is(err, fs.ErrNotExist) {
			code = ErrCodeNotFound
		}
		_ = f.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list scenarios", err)
	}
	if len(files) == 0 {
		_ = f.Error(ErrCodeNotFound, "no scenarios in "+dir, nil)
		return NewExitError(ExitCommandError, "no scenarios in "+dir)
	}
	f.VerboseLog("Running %d scenario(s)", len(files))

	golden := opts.Golden
	if golden == "" {
		golden = filepath.Join(dir, "..", "golden")
	}

	results, err := executeAll(cmd.Context(), opts.RootOptions, files, opts.Jobs, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	summary := TestSummary{Results: make([]TestResult, 0, len(results))}
	for _, r := range results {
		tr, err := compareGolden(r, golden, opts.Update)
		if err != nil {
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to compare golden file", err)
		}
		switch tr.Status {
		case "pass":
			summary.Passed++
		case "updated":
			summary.Updated++
		default:
			summary.Failed++
		}
		summary.Results = append(summary.Results, tr)
	}

	if err := f.Success(summary, formatSummary(summary)); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return nil
}

func scenarioFiles(dir, pattern string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if pattern == "" {
		pattern = "*.yaml"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", pattern, err)
	}
	// filepath.Glob returns matches in lexical order.
	return filepath.Glob(filepath.Join(dir, pattern))
}

func compareGolden(r ScenarioResult, dir string, update bool) (TestResult, error) {
	tr := TestResult{Name: r.Name, File: r.File, Errors: r.Errors}

	data, err := harness.MarshalSnapshot(r.Name, &harness.Result{Pass: r.Pass, Trace: r.Trace})
	if err != nil {
		return tr, err
	}
	path := filepath.Join(dir, r.Name+".golden")

	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return tr, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return tr, err
		}
		tr.Status = "updated"
		if !r.Pass {
			tr.Status = "fail"
		}
		return tr, nil
	}

	want, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		tr.Errors = append(tr.Errors, "missing golden file "+path)
	case err != nil:
		return tr, err
	case !bytes.Equal(want, data):
		tr.Errors = append(tr.Errors, "trace differs from "+path)
	}

	tr.Status = "pass"
	if len(tr.Errors) > 0 || !r.Pass {
		tr.Status = "fail"
	}
	return tr, nil
}

func formatSummary(s TestSummary) string {
	var b strings.Builder
	for _, r := range s.Results {
		fmt.Fprintf(&b, "%-7s %s\n", strings.ToUpper(r.Status), r.Name)
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "        %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d passed, %d failed", s.Passed, s.Failed)
	if s.Updated > 0 {
		fmt.Fprintf(&b, ", %d updated", s.Updated)
	}
	b.WriteByte('\n')
	return b.String()
}
