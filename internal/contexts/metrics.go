package contexts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("workbench.contexts")

var (
	// contextsCreated counts contexts registered, by language and whether a
	// persisted snapshot was restored.
	contextsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workbench_contexts_created_total",
		Help: "Analysis contexts created by language and origin",
	}, []string{"language", "origin"})

	// contextsUnloaded counts unloads by language and persistence result.
	contextsUnloaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workbench_contexts_unloaded_total",
		Help: "Analysis contexts unloaded by language and save result",
	}, []string{"language", "result"})

	contextsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workbench_contexts_loaded",
		Help: "Analysis contexts currently registered",
	})
)
