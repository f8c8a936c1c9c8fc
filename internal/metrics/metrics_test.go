package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(stats []OpStat, backend, op string) (OpStat, bool) {
	for _, st := range stats {
		if st.Backend == backend && st.Op == op {
			return st, true
		}
	}
	return OpStat{}, false
}

func TestObserveOpCountsOutcomes(t *testing.T) {
	ok := StoreOperations.WithLabelValues("embedded", "collect_test", "ok")
	failed := StoreOperations.WithLabelValues("embedded", "collect_test", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	start := time.Now().Add(-10 * time.Millisecond)
	ObserveOp("embedded", "collect_test", start, nil)
	ObserveOp("embedded", "collect_test", start, nil)
	ObserveOp("embedded", "collect_test", start, errors.New("boom"))

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))

	ops, _, err := Collect(prometheus.DefaultGatherer)
	require.NoError(t, err)
	st, found := find(ops, "embedded", "collect_test")
	require.True(t, found)
	assert.Equal(t, okBefore+2, st.OK)
	assert.Equal(t, failedBefore+1, st.Errors)
	assert.GreaterOrEqual(t, st.Seconds, 0.03)
}

func TestAddRowsSkipsEmptyBatches(t *testing.T) {
	rows := RowsWritten.WithLabelValues("managed", "collect_test")
	before := testutil.ToFloat64(rows)

	AddRows("managed", "collect_test", 0)
	AddRows("managed", "collect_test", 4)
	assert.Equal(t, before+4, testutil.ToFloat64(rows))

	_, rowStats, err := Collect(prometheus.DefaultGatherer)
	require.NoError(t, err)
	var got float64
	for _, rs := range rowStats {
		if rs.Backend == "managed" && rs.Table == "collect_test" {
			got = rs.Rows
		}
	}
	assert.Equal(t, before+4, got)
}

func TestCollectSorted(t *testing.T) {
	reg := prometheus.NewRegistry()
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{Name: operationsName}, []string{"backend", "op", "outcome"})
	written := prometheus.NewCounterVec(prometheus.CounterOpts{Name: rowsName}, []string{"backend", "table"})
	reg.MustRegister(ops, written)
	ops.WithLabelValues("managed", "add_nodes", "ok").Inc()
	ops.WithLabelValues("embedded", "update_nodes", "ok").Inc()
	ops.WithLabelValues("embedded", "add_edges", "error").Inc()
	written.WithLabelValues("managed", "nodes").Add(2)
	written.WithLabelValues("embedded", "segs").Add(1)

	stats, rows, err := Collect(reg)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, OpStat{Backend: "embedded", Op: "add_edges", Errors: 1}, stats[0])
	assert.Equal(t, OpStat{Backend: "embedded", Op: "update_nodes", OK: 1}, stats[1])
	assert.Equal(t, OpStat{Backend: "managed", Op: "add_nodes", OK: 1}, stats[2])
	assert.Equal(t, []RowStat{
		{Backend: "embedded", Table: "segs", Rows: 1},
		{Backend: "managed", Table: "nodes", Rows: 2},
	}, rows)
}
