package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"neurodb/internal/graph"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze traced structure: annotations, topology, loops, review backlog, quality score",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Backend().Close()

		analyzerCfg := cfg.Analyzer
		report, err := graph.Analyze(m, &analyzerCfg)
		if err != nil {
			return fmt.Errorf("analyzing graph: %w", err)
		}

		out := cmd.OutOrStdout()
		if analyzeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		printHumanReadable(out, report, analyzerCfg.TopN)
		return nil
	},
}

func init() {
	d := graph.DefaultConfig()
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output as JSON")
	analyzeCmd.Flags().Int("len-threshold", d.LenThreshold, "Minimum component size to annotate")
	analyzeCmd.Flags().Int("top-n", d.TopN, "Number of top items to show per section")
	analyzeCmd.Flags().Int64("stale-days", d.StaleDays, "Days an unverified node may wait before it counts as backlog")
	analyzeCmd.Flags().Int("hub-threshold", d.HubThreshold, "Degree above which a node is a hub")
	rootCmd.AddCommand(analyzeCmd)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func printHumanReadable(w io.Writer, report *graph.AnalysisReport, topN int) {
	// Score bar
	barLen := int(report.Score * 20)
	if barLen > 20 {
		barLen = 20
	}
	bar := strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
	fmt.Fprintf(w, "\n  Tracing Quality: %.0f%%  [%s]\n", report.Score*100, bar)
	fmt.Fprintf(w, "  breakdown: coverage=%.2f isolation=%.2f loops=%.2f backlog=%.2f\n",
		report.Breakdown.Coverage,
		report.Breakdown.Isolation,
		report.Breakdown.Loops,
		report.Breakdown.Backlog)
	fmt.Fprintf(w, "  session: %s\n\n", report.Session)

	// Annotations
	fmt.Fprintf(w, "  ANNOTATIONS  %d valid components, %.1f voxels traced in total\n",
		len(report.Annotations), report.TracedLength)
	if len(report.Annotations) > 0 {
		t := newTable(w, table.Row{"First nid", "Nodes", "Branches", "Ends", "Length"})
		for i, a := range report.Annotations {
			if i == topN {
				break
			}
			t.AppendRow(table.Row{a.Nodes[0], len(a.Nodes), len(a.Branches), len(a.Ends), fmt.Sprintf("%.1f", a.Length)})
		}
		if len(report.Annotations) > topN {
			t.AppendFooter(table.Row{fmt.Sprintf("... and %d more", len(report.Annotations)-topN)})
		}
		t.Render()
	}

	// Topology
	tp := report.Topology
	fmt.Fprintln(w, "\n  TOPOLOGY")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	fmt.Fprintf(w, "  Nodes: %d  Edges: %d  Components: %d\n", tp.TotalNodes, tp.TotalEdges, tp.NumComponents)
	fmt.Fprintf(w, "  Largest component: %d  Smallest: %d\n", tp.LargestComponent, tp.SmallestComponent)
	fmt.Fprintf(w, "  Review: %d verified, %d unverified, %d rejected\n",
		tp.Review.Verified, tp.Review.Unverified, tp.Review.Rejected)
	if tp.IsolatedCount > 0 {
		fmt.Fprintf(w, "  Isolated: %d nodes without edges\n", tp.IsolatedCount)
	}

	fmt.Fprintln(w, "\n  Degree distribution:")
	for _, b := range tp.DegreeHistogram {
		if b.Count > 0 {
			barWidth := int(math.Log2(float64(b.Count))) + 2
			fmt.Fprintf(w, "    %5s: %6d  %s\n", b.Label, b.Count, strings.Repeat("=", barWidth))
		}
	}

	if len(tp.Hubs) > 0 {
		fmt.Fprintln(w, "\n  Top hubs (degree > threshold):")
		t := newTable(w, table.Row{"Nid", "Coord", "Type", "Degree"})
		for _, hub := range tp.Hubs {
			t.AppendRow(table.Row{hub.Nid, hub.Coord, hub.Type, hub.Degree})
		}
		t.Render()
	}

	// Loops
	lp := report.Loops
	if lp.LoopCount > 0 {
		fmt.Fprintln(w, "\n  LOOPS")
		fmt.Fprintln(w, "  ────────────────────────────────────────")
		fmt.Fprintf(w, "  %d edges on cycles across %d nodes (%d bridges)\n", lp.LoopCount, len(lp.LoopNids), lp.BridgeCount)
		limit := min(len(lp.LoopEdges), 10)
		for _, e := range lp.LoopEdges[:limit] {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}

	// Backlog
	bl := report.Backlog
	if bl.PendingCount > 0 {
		fmt.Fprintln(w, "\n  REVIEW BACKLOG")
		fmt.Fprintln(w, "  ────────────────────────────────────────")
		fmt.Fprintf(w, "  %d unverified nodes waiting, %d of them ends\n", bl.PendingCount, bl.LeafCount)
		t := newTable(w, table.Row{"Nid", "Creator", "Days", "End"})
		for _, p := range bl.Pending {
			t.AppendRow(table.Row{p.Nid, p.Creator, p.DaysSinceUpdate, p.Leaf})
		}
		t.Render()
	}

	fmt.Fprintln(w)
}
