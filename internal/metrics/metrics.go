// Package metrics holds the Prometheus collectors for the store and the graph mirror.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const (
	operationsName = "neurodb_store_operations_total"
	durationName   = "neurodb_store_operation_duration_seconds"
	rowsName       = "neurodb_rows_written_total"
)

var (
	// StoreOperations counts backend calls by backend kind, operation and outcome.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: operationsName,
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "op", "outcome"},
	)

	// StoreOperationDuration measures backend call latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    durationName,
			Help:    "Duration of storage backend operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"backend", "op"},
	)

	// RowsWritten counts rows inserted per backend and table.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: rowsName,
			Help: "Total number of rows written by table",
		},
		[]string{"backend", "table"},
	)

	// MirrorNodes tracks the node count of the active graph mirror.
	MirrorNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurodb_mirror_nodes",
			Help: "Number of nodes held by the graph mirror",
		},
	)

	// MirrorEdges tracks the edge count of the active graph mirror.
	MirrorEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurodb_mirror_edges",
			Help: "Number of edges held by the graph mirror",
		},
	)
)

// ObserveOp records one backend operation.
func ObserveOp(backend, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StoreOperations.WithLabelValues(backend, op, outcome).Inc()
	StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// AddRows counts n rows written to table.
func AddRows(backend, table string, n int) {
	if n > 0 {
		RowsWritten.WithLabelValues(backend, table).Add(float64(n))
	}
}

// OpStat summarizes one backend operation as seen by a registry.
type OpStat struct {
	Backend string
	Op      string
	OK      float64
	Errors  float64
	Seconds float64
}

// RowStat counts rows written to one table.
type RowStat struct {
	Backend string
	Table   string
	Rows    float64
}

// Collect reads the store collectors out of g. Both lists are sorted by
// backend, then by operation or table.
func Collect(g prometheus.Gatherer) ([]OpStat, []RowStat, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, nil, fmt.Errorf("gathering metrics: %w", err)
	}

	byOp := make(map[[2]string]*OpStat)
	op := func(m *dto.Metric) *OpStat {
		k := [2]string{labelValue(m, "backend"), labelValue(m, "op")}
		st, ok := byOp[k]
		if !ok {
			st = &OpStat{Backend: k[0], Op: k[1]}
			byOp[k] = st
		}
		return st
	}

	var rows []RowStat
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case operationsName:
				if labelValue(m, "outcome") == "error" {
					op(m).Errors += m.GetCounter().GetValue()
				} else {
					op(m).OK += m.GetCounter().GetValue()
				}
			case durationName:
				op(m).Seconds += m.GetHistogram().GetSampleSum()
			case rowsName:
				rows = append(rows, RowStat{
					Backend: labelValue(m, "backend"),
					Table:   labelValue(m, "table"),
					Rows:    m.GetCounter().GetValue(),
				})
			}
		}
	}

	ops := make([]OpStat, 0, len(byOp))
	for _, st := range byOp {
		ops = append(ops, *st)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Backend != ops[j].Backend {
			return ops[i].Backend < ops[j].Backend
		}
		return ops[i].Op < ops[j].Op
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Backend != rows[j].Backend {
			return rows[i].Backend < rows[j].Backend
		}
		return rows[i].Table < rows[j].Table
	})
	return ops, rows, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
