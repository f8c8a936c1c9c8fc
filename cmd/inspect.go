package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"neurodb/internal/db"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show tables, columns, row counts and indexes of an embedded store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Path == "" {
			return fmt.Errorf("inspect needs an embedded store (use --db)")
		}
		if _, err := cfg.Descriptor(); err != nil {
			return err
		}
		store, err := db.OpenEmbedded(cmd.Context(), cfg.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		insp, err := store.Inspect(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if inspectJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(insp)
		}
		printInspection(out, insp)
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(inspectCmd)
}

func printInspection(w io.Writer, insp *db.Inspection) {
	fmt.Fprintf(w, "\n  %s\n\n", insp.Path)
	for _, tbl := range insp.Tables {
		fmt.Fprintf(w, "  %s (%d rows)\n", tbl.Name, tbl.Rows)
		t := newTable(w, table.Row{"Column", "Type", "Not null", "Primary key"})
		for _, col := range tbl.Columns {
			t.AppendRow(table.Row{col.Name, col.Type, col.NotNull, col.PrimaryKey})
		}
		t.Render()
		fmt.Fprintln(w)
	}
	if len(insp.Indexes) > 0 {
		t := newTable(w, table.Row{"Index", "Table"})
		for _, idx := range insp.Indexes {
			t.AppendRow(table.Row{idx.Name, idx.Table})
		}
		t.Render()
	}
}
