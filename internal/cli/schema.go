package cli

import (
	"cmp"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/schema"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [catalog.cue | dir]",
		Short: "Print a table catalog",
		Long: `Load a CUE table catalog and print its tables and columns.

Without an argument the configured schema_path is used, and without that the
built-in catalog.

Examples:
  liveview schema
  liveview schema ./schema/tables.cue
  liveview schema ./schema --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runSchema(rootOpts, path, cmd)
		},
	}
}

func runSchema(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	catalog, err := loadCatalog(cmp.Or(path, opts.Config.SchemaPath))
	if err != nil {
		_ = f.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	f.VerboseLog("Loaded %d table(s)", len(catalog.Schemas()))

	return f.Success(catalog.Schemas(), formatCatalog(catalog))
}

func loadCatalog(path string) (*ir.Catalog, error) {
	if path == "" {
		return schema.Default(), nil
	}
	return schema.Load(path)
}

func formatCatalog(c *ir.Catalog) string {
	var b strings.Builder
	for i, s := range c.Schemas() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s (id %d)\n", s.Table.Name, s.Table.ID)
		tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "  id\tint\t\n")
		for _, col := range s.Columns {
			var notes []string
			if col.Nullable {
				notes = append(notes, "nullable")
			}
			if col.References != "" {
				notes = append(notes, "-> "+col.References)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", col.Name, col.Type, strings.Join(notes, ", "))
		}
		tw.Flush()
	}
	return b.String()
}
