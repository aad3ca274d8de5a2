package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlsense",
		Subsystem: "scheduler",
		Name:      "jobs_total",
		Help:      "Analysis jobs by outcome (completed, cancelled, empty).",
	}, []string{"outcome"})

	statementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlsense",
		Subsystem: "scheduler",
		Name:      "statements_total",
		Help:      "Statements analysed and registered.",
	})

	statementFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlsense",
		Subsystem: "scheduler",
		Name:      "statement_failures_total",
		Help:      "Statements whose analysis failed and kept their previous result.",
	})

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlsense",
		Subsystem: "scheduler",
		Name:      "cancellations_total",
		Help:      "Running jobs cancelled by an edit.",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sqlsense",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Wall time of analysis jobs.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

var tracer = otel.Tracer("github.com/leapstack-labs/sqlsense/internal/scheduler")
