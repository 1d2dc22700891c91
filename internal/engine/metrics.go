package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/flux/internal/model"
)

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_invocations_total",
			Help: "Total number of finished task invocations.",
		},
		[]string{"status"},
	)

	logEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_log_events_dropped_total",
			Help: "Console lines not delivered to slow live log subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal, logEventsDropped)

	// Pre-initialize counter label combinations so they appear in /metrics
	// before the first invocation.
	for _, s := range []string{model.StatusCompleted, model.StatusFailed, model.StatusKilled} {
		invocationsTotal.WithLabelValues(s)
	}
}
