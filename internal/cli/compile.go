package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/liveview/internal/filter"
	"github.com/roach88/liveview/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Table string
}

// CompileResult is the compiled form of a filter descriptor.
type CompileResult struct {
	Table     string `json:"table"`
	Key       string `json:"key"`
	Canonical string `json:"canonical"`
	SQL       string `json:"sql"`
	Params    []any  `json:"params"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <filter.yaml>",
		Short: "Compile a filter descriptor",
		Long: `Compile a YAML or JSON filter descriptor and print its sharing key,
canonical JSON and the SQL the reference host runs for it.

With --table the filter is validated against that table's columns in the
configured catalog.

Example filter:
  where:
    op: and
    conditions:
      - {op: eq, column: done, value: false}
      - {op: like, column: name, pattern: "a%"}
  order: [{column: name, dir: asc}]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "validate against this table")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	result, err := compileFile(opts, path)
	if err != nil {
		_ = f.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile filter", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "key:       %s\n", result.Key)
	fmt.Fprintf(&b, "canonical: %s\n", result.Canonical)
	fmt.Fprintf(&b, "sql:       %s\n", result.SQL)
	fmt.Fprintf(&b, "params:    %v\n", result.Params)
	return f.Success(result, b.String())
}

func compileFile(opts *CompileOptions, path string) (*CompileResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	v, err := ir.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("parse %s: expected a mapping", path)
	}
	flt, err := filter.Decode(obj)
	if err != nil {
		return nil, err
	}

	table := opts.Table
	if table != "" {
		catalog, err := loadCatalog(opts.Config.SchemaPath)
		if err != nil {
			return nil, err
		}
		s, ok := catalog.Lookup(table)
		if !ok {
			return nil, fmt.Errorf("unknown table %q", table)
		}
		if err := filter.Validate(flt, s); err != nil {
			return nil, err
		}
	} else {
		table = "t"
	}

	d, err := filter.Compile(flt)
	if err != nil {
		return nil, err
	}
	stmt, err := filter.ToSQL(table, flt)
	if err != nil {
		return nil, err
	}
	params := stmt.Params
	if params == nil {
		params = []any{}
	}
	return &CompileResult{
		Table:     table,
		Key:       d.Key,
		Canonical: d.String(),
		SQL:       stmt.Text,
		Params:    params,
	}, nil
}
