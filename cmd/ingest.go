package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"neurodb/internal/db"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <segments.yaml>",
	Short: "Store traced segments and generate their node chains",
	Long: `Store traced segments and generate their node chains.

The file holds a list of segments:

  - points: [[0, 0, 0], [4, 0, 0]]
    sampled_points: [[0, 0, 0], [2, 0, 0], [4, 0, 0]]

Each sampled point becomes an unverified node, and consecutive points are linked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		segs, err := readSegments(args[0])
		if err != nil {
			return err
		}

		backend, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close()

		res, err := backend.IngestSegments(cmd.Context(), segs)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ingested %d segments: %d nodes, %d edges", len(res.Segments), len(res.Nodes), len(res.Edges))
		if res.Version > 0 {
			fmt.Fprintf(out, " (version %d)", res.Version)
		}
		fmt.Fprintln(out)

		if v, ok := backend.(db.Versioned); ok {
			sid, version, err := v.MaxSidVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "store at segment %d, version %d\n", sid, version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func readSegments(path string) ([]db.SegmentInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading segments: %w", err)
	}
	var segs []db.SegmentInput
	if err := yaml.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return segs, nil
}
