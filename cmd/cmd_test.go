package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"neurodb/internal/db"
	"neurodb/internal/graph"
)

const twoSegments = `
- points: [[0, 0, 0], [2, 0, 0]]
  sampled_points: [[0, 0, 0], [1, 0, 0], [2, 0, 0]]
- points: [[10, 0, 0], [11, 0, 0]]
  sampled_points: [[10, 0, 0], [11, 0, 0]]
`

// resetFlags restores every flag to its default between runs of the shared root command
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func ingested(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	segs := filepath.Join(dir, "segs.yaml")
	if err := os.WriteFile(segs, []byte(twoSegments), 0o600); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "brain.db")
	out, err := run(t, "ingest", segs, "--db", dbPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(out, "ingested 2 segments: 5 nodes, 3 edges") {
		t.Fatalf("unexpected ingest output: %q", out)
	}
	return dbPath
}

func TestAnalyzeJSON(t *testing.T) {
	dbPath := ingested(t)

	out, err := run(t, "analyze", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var report graph.AnalysisReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, out)
	}
	if report.Topology.TotalNodes != 5 || report.Topology.TotalEdges != 3 {
		t.Errorf("expected 5 nodes and 3 edges, got %d and %d",
			report.Topology.TotalNodes, report.Topology.TotalEdges)
	}
	if len(report.Annotations) != 0 {
		t.Errorf("freshly ingested chains end in unverified nodes, got %d annotations", len(report.Annotations))
	}
	if report.TracedLength != 3 {
		t.Errorf("expected traced length 3, got %v", report.TracedLength)
	}
}

func TestCheckMakesComponentValid(t *testing.T) {
	dbPath := ingested(t)

	for _, nid := range []string{"4", "5"} {
		if _, err := run(t, "check", nid, "--db", dbPath); err != nil {
			t.Fatalf("check %s: %v", nid, err)
		}
	}
	out, err := run(t, "analyze", "--db", dbPath, "--json", "--len-threshold", "2")
	if err != nil {
		t.Fatal(err)
	}
	var report graph.AnalysisReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Annotations) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(report.Annotations))
	}
	if got := report.Annotations[0].Nodes; len(got) != 2 || got[0] != 4 {
		t.Errorf("expected component [4 5], got %v", got)
	}

	if _, err := run(t, "uncheck", "5", "--db", dbPath); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "analyze", "--db", dbPath, "--json")
	if err != nil {
		t.Fatal(err)
	}
	report = graph.AnalysisReport{}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Annotations) != 0 {
		t.Errorf("rejected node should drop the component")
	}
}

func TestAnalyzeHumanReadable(t *testing.T) {
	dbPath := ingested(t)
	out, err := run(t, "analyze", "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Tracing Quality", "TOPOLOGY", "Nodes: 5  Edges: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestROI(t *testing.T) {
	dbPath := ingested(t)
	out, err := run(t, "roi", "--db", dbPath, "--", "0", "0", "0", "1", "0", "0")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Fields(out); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("expected nids [1 2], got %v", got)
	}
}

func TestPath(t *testing.T) {
	dbPath := ingested(t)
	out, err := run(t, "path", "1", "3", "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2 hops, length 2.00") {
		t.Errorf("unexpected output: %q", out)
	}

	if _, err := run(t, "path", "1", "4", "--db", dbPath); err == nil {
		t.Error("expected an error between disconnected chains")
	}
}

func TestInspectAndMigrate(t *testing.T) {
	dbPath := ingested(t)

	out, err := run(t, "inspect", "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "nodes (5 rows)") {
		t.Errorf("unexpected inspect output:\n%s", out)
	}

	out, err = run(t, "migrate", "--db", dbPath)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "indexes") {
		t.Errorf("unexpected migrate output:\n%s", out)
	}
}

func TestConfigFileSelectsStore(t *testing.T) {
	dbPath := ingested(t)
	cfgPath := filepath.Join(filepath.Dir(dbPath), "neurodb.yaml")
	if err := os.WriteFile(cfgPath, []byte("path: brain.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "roi", "--", "10", "0", "0", "5", "5", "5")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Fields(out); len(got) != 2 {
		t.Errorf("expected nids [4 5], got %v", got)
	}
}

func TestSegments(t *testing.T) {
	dbPath := ingested(t)

	out, err := run(t, "segments", "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.ToLower(out), "2 segments") {
		t.Errorf("unexpected segments output:\n%s", out)
	}

	out, err = run(t, "segments", "--db", dbPath, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var segs []db.Segment
	if err := json.Unmarshal([]byte(out), &segs); err != nil {
		t.Fatalf("decoding segments: %v\n%s", err, out)
	}
	if len(segs) != 2 || len(segs[0].SampledPoints) != 3 || segs[1].Sid != 2 {
		t.Errorf("unexpected segments: %+v", segs)
	}
}

func TestMetricsFlag(t *testing.T) {
	dbPath := ingested(t)

	out, err := run(t, "check", "4", "--db", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "update_nodes") {
		t.Errorf("metrics printed without --metrics:\n%s", out)
	}

	out, err = run(t, "check", "5", "--db", dbPath, "--metrics")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"update_nodes", "ingest_segments", "embedded", "rows written"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name string
		args []string
	}{
		{"no store selected", []string{"analyze"}},
		{"bad node id", []string{"check", "abc", "--db", "x.db"}},
		{"transfer needs both stores", []string{"transfer", "--db", "x.db"}},
		{"unknown direction", []string{"transfer", "--db", "x.db", "--pg-database", "d", "--direction", "sideways"}},
		{"inspect needs embedded", []string{"inspect", "--pg-database", "d"}},
		{"store without .db extension", []string{"segments", "--db", "brain.sqlite"}},
		{"inspect without .db extension", []string{"inspect", "--db", "brain.sqlite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}
