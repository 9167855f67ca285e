package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RemoteCalls counts outbound calls by operation, credential class and outcome.
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compta",
		Subsystem: "remote",
		Name:      "calls_total",
		Help:      "Outbound backend calls.",
	}, []string{"operation", "credential", "outcome"})

	RemoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compta",
		Subsystem: "remote",
		Name:      "call_duration_seconds",
		Help:      "Duration of outbound backend calls.",
		Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"operation"})

	// PipelineStages counts stage outcomes of the document pipeline.
	PipelineStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compta",
		Subsystem: "pipeline",
		Name:      "stages_total",
		Help:      "Pipeline stage executions.",
	}, []string{"stage", "outcome"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
