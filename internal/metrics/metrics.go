// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leobook/leosync/internal/types"
)

// Metrics records table cycles and full runs. A nil *Metrics is a no-op.
type Metrics struct {
	tableCycles      *prometheus.CounterVec
	tableDuration    *prometheus.HistogramVec
	rowsMoved        *prometheus.CounterVec
	parityMismatches *prometheus.CounterVec
	runs             *prometheus.CounterVec
	lastRun          prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tableCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leosync_table_cycles_total",
			Help: "Table sync cycles by final state",
		}, []string{"table", "state"}),

		tableDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leosync_table_cycle_duration_seconds",
			Help:    "Time to sync one table",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"table"}),

		rowsMoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leosync_rows_total",
			Help: "Rows moved between local and remote by direction",
		}, []string{"table", "direction"}),

		parityMismatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leosync_parity_mismatches_total",
			Help: "Sampled keys whose remote last_updated disagreed after push",
		}, []string{"table"}),

		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leosync_runs_total",
			Help: "Full sync runs by status",
		}, []string{"status"}),

		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "leosync_last_run_timestamp_seconds",
			Help: "Unix time the last full sync run finished",
		}),
	}
}

// ObserveTable records one table cycle.
func (m *Metrics) ObserveTable(r types.TableResult) {
	if m == nil {
		return
	}
	m.tableCycles.WithLabelValues(r.Table, r.State).Inc()
	m.tableDuration.WithLabelValues(r.Table).Observe(r.Duration.Seconds())
	m.rowsMoved.WithLabelValues(r.Table, "pull").Add(float64(r.Pulled))
	m.rowsMoved.WithLabelValues(r.Table, "push").Add(float64(r.Pushed))
	if r.ParityMismatches > 0 {
		m.parityMismatches.WithLabelValues(r.Table).Add(float64(r.ParityMismatches))
	}
}

// ObserveRun records a finished full run.
func (m *Metrics) ObserveRun(r types.RunResult) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(r.Status).Inc()
	m.lastRun.Set(float64(r.FinishedAt.Unix()))
}
