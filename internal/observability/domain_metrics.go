package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckpipe_registrations_total",
			Help: "Total number of dataset registrations.",
		},
	)
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckpipe_queries_total",
			Help: "Total number of pipeline queries by outcome status.",
		},
		[]string{"status"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckpipe_query_duration_seconds",
			Help:    "Wall-clock duration of one query file, execution through export.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckpipe_exports_total",
			Help: "Total number of export artifacts written by format.",
		},
		[]string{"format"},
	)
	exportedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckpipe_exported_rows_total",
			Help: "Total number of result rows written to export artifacts.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		registrationsTotal,
		queriesTotal,
		queryDurationSeconds,
		exportsTotal,
		exportedRowsTotal,
	)
}

func ObserveRegistration() {
	registrationsTotal.Inc()
}

func ObserveQuery(status string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(status).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveExport(format string, rows int) {
	exportsTotal.WithLabelValues(format).Inc()
	if rows > 0 {
		exportedRowsTotal.Add(float64(rows))
	}
}
