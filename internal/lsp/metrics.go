package lsp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/leapstack-labs/sqlsense/internal/lsp")

// metrics are the server's Prometheus collectors.
type metrics struct {
	// requests counts handled messages.
	//
	// Labels:
	//   - method: the JSON-RPC method
	//   - status: "ok" or "error"
	requests *prometheus.CounterVec

	// duration measures how long a message took to handle.
	duration *prometheus.HistogramVec

	// diagnostics counts published diagnostics by severity.
	diagnostics *prometheus.CounterVec

	// documents tracks the number of open documents.
	documents prometheus.Gauge
}

// newMetrics registers the collectors with reg. A nil reg keeps them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlsense",
			Subsystem: "lsp",
			Name:      "requests_total",
			Help:      "Total LSP messages handled by method and status.",
		}, []string{"method", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqlsense",
			Subsystem: "lsp",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling LSP messages.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method"}),
		diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlsense",
			Subsystem: "lsp",
			Name:      "diagnostics_total",
			Help:      "Total diagnostics published by severity.",
		}, []string{"severity"}),
		documents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sqlsense",
			Subsystem: "lsp",
			Name:      "open_documents",
			Help:      "Number of documents open in the server.",
		}),
	}
}
