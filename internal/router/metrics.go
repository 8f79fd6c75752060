package router

import "github.com/prometheus/client_golang/prometheus"

// Construction result label values.
const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	backendConstructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_backend_constructions_total",
			Help: "Total number of backend construction attempts by type and result.",
		},
		[]string{"type", "result"},
	)

	backendFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foundry_backend_fallbacks_total",
			Help: "Total number of times a task fell back to the default backend.",
		},
	)
)

func init() {
	prometheus.MustRegister(backendConstructions)
	prometheus.MustRegister(backendFallbacks)
}
