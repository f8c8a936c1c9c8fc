package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"neurodb/internal/config"
	"neurodb/internal/db"
	"neurodb/internal/graph"
	"neurodb/internal/metrics"
)

var (
	cfgFile     string
	showMetrics bool
	cfg         *config.Config
	logger      = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "neurodb",
	Short: "Store, migrate and analyze traced neuron graphs",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if cfg.Verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		if cfg.File != "" {
			logger.Debug("using config file", slog.String("path", cfg.File))
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if !showMetrics {
			return nil
		}
		return printMetrics(cmd.ErrOrStderr(), prometheus.DefaultGatherer)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to neurodb.yaml (default: search upward from the current directory)")
	pf.String("db", "", "Path to an embedded .db store")
	pf.BoolP("verbose", "v", false, "Debug logging")
	pf.BoolVar(&showMetrics, "metrics", false, "Print store operation counts and timings to stderr when done")
	pf.String("pg-host", "", "Managed store host")
	pf.Int("pg-port", 0, "Managed store port")
	pf.String("pg-user", "", "Managed store user")
	pf.String("pg-password", "", "Managed store password (prefer NEURODB_MANAGED__PASSWORD)")
	pf.String("pg-database", "", "Managed store database")
	pf.String("pg-schema", "", "Managed store schema")
	pf.String("pg-sslmode", "", "Managed store sslmode")
}

// openBackend opens the store selected by the loaded config
func openBackend(ctx context.Context) (db.Backend, error) {
	desc, err := cfg.Descriptor()
	if err != nil {
		return nil, fmt.Errorf("%w (use --db, --pg-database or neurodb.yaml)", err)
	}
	return db.Open(ctx, desc, logger)
}

// openMirror opens the store and mirrors its graph. Closing the backend is the caller's job.
func openMirror(ctx context.Context) (*graph.Mirror, error) {
	backend, err := openBackend(ctx)
	if err != nil {
		return nil, err
	}
	m, err := graph.NewMirror(ctx, backend, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("loading graph: %w", err)
	}
	return m, nil
}

func parseInt64s(args []string) ([]int64, error) {
	nids := make([]int64, 0, len(args))
	for _, a := range args {
		nid, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", a)
		}
		nids = append(nids, nid)
	}
	return nids, nil
}

// printMetrics renders the store operations recorded by this process
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	ops, rows, err := metrics.Collect(g)
	if err != nil {
		return err
	}
	t := newTable(w, table.Row{"Backend", "Op", "OK", "Errors", "Seconds"})
	for _, st := range ops {
		t.AppendRow(table.Row{st.Backend, st.Op, st.OK, st.Errors, fmt.Sprintf("%.4f", st.Seconds)})
	}
	t.Render()
	if len(rows) > 0 {
		t = newTable(w, table.Row{"Backend", "Table", "Rows written"})
		for _, rs := range rows {
			t.AppendRow(table.Row{rs.Backend, rs.Table, rs.Rows})
		}
		t.Render()
	}
	return nil
}
