package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var segmentsJSON bool

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "List stored segments",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		segs, err := backend.ReadSegments(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if segmentsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(segs)
		}

		t := newTable(out, table.Row{"Sid", "Points", "Sampled", "Version", "From", "To"})
		for _, seg := range segs {
			from, to := "-", "-"
			if n := len(seg.Points); n > 0 {
				from, to = fmt.Sprint(seg.Points[0]), fmt.Sprint(seg.Points[n-1])
			}
			t.AppendRow(table.Row{seg.Sid, len(seg.Points), len(seg.SampledPoints), seg.Version, from, to})
		}
		t.AppendFooter(table.Row{fmt.Sprintf("%d segments", len(segs))})
		t.Render()
		return nil
	},
}

func init() {
	segmentsCmd.Flags().BoolVar(&segmentsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(segmentsCmd)
}
