package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	RecordingErrors   *prometheus.CounterVec
	DiffRows          *prometheus.CounterVec
	EmittedRecords    *prometheus.CounterVec
	StoreOpDuration   *prometheus.HistogramVec
	ScheduledQueries  prometheus.Gauge
	ResultSetRows     *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftwatch",
				Name:      "executions_total",
				Help:      "Total scheduled query executions by query and status.",
			},
			[]string{"query", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "driftwatch",
				Name:      "execution_duration_seconds",
				Help:      "Duration of one execute-record-serialize cycle.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"query"},
		),

		RecordingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftwatch",
				Name:      "recording_errors_total",
				Help:      "Total recording failures by error kind.",
			},
			[]string{"kind"},
		),

		DiffRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftwatch",
				Name:      "diff_rows_total",
				Help:      "Total differential rows reported by query and direction.",
			},
			[]string{"query", "direction"},
		),

		EmittedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "driftwatch",
				Name:      "emitted_records_total",
				Help:      "Total records forwarded to the log sink by query.",
			},
			[]string{"query"},
		),

		StoreOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "driftwatch",
				Name:      "store_operation_duration_seconds",
				Help:      "Duration of persisted store operations.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),

		ScheduledQueries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "driftwatch",
				Name:      "scheduled_queries",
				Help:      "Number of queries currently scheduled.",
			},
		),

		ResultSetRows: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "driftwatch",
				Name:      "result_set_rows",
				Help:      "Size of raw result sets in rows.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"query"},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.RecordingErrors,
		m.DiffRows,
		m.EmittedRecords,
		m.StoreOpDuration,
		m.ScheduledQueries,
		m.ResultSetRows,
	)

	return m
}

// RecordExecution records metrics for one completed execution cycle.
func (m *Metrics) RecordExecution(query, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(query, status).Inc()
	m.ExecutionDuration.WithLabelValues(query).Observe(durationSec)
}

// RecordDiff records the size of a computed delta.
func (m *Metrics) RecordDiff(query string, added, removed int) {
	m.DiffRows.WithLabelValues(query, "added").Add(float64(added))
	m.DiffRows.WithLabelValues(query, "removed").Add(float64(removed))
}

// RecordError records a recording failure by kind.
func (m *Metrics) RecordError(kind string) {
	m.RecordingErrors.WithLabelValues(kind).Inc()
}
