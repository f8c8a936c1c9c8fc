package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var pathJSON bool

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Shortest traced path between two nodes, by Euclidean length",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nids, err := parseInt64s(args)
		if err != nil {
			return err
		}
		m, err := openMirror(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Backend().Close()

		p, err := m.ShortestPath(nids[0], nids[1])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if pathJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}
		fmt.Fprintf(out, "%d hops, length %.2f\n", len(p.Nids)-1, p.Length)
		for i, nid := range p.Nids {
			n, _ := m.Node(nid)
			fmt.Fprintf(out, "  %3d. %d %v\n", i+1, nid, n.Coord)
		}
		return nil
	},
}

func init() {
	pathCmd.Flags().BoolVar(&pathJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(pathCmd)
}
