package analyzer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("workbench.analyzer")

var (
	// phaseDuration tracks the latency of each analysis phase.
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workbench_analyzer_phase_duration_seconds",
		Help:    "Analysis phase duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"phase"})

	// unitsAnalyzed counts analyzed units by outcome.
	unitsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workbench_analyzer_units_total",
		Help: "Analyzed units by result",
	}, []string{"result"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workbench_analyzer_runs_total",
		Help: "Analysis runs by result",
	}, []string{"result"})
)
