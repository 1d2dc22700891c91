package manager

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for load results.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	unitsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flux_units_loaded",
			Help: "Number of live deployment unit versions.",
		},
	)

	unitLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_unit_loads_total",
			Help: "Total number of deployment unit load attempts.",
		},
		[]string{"result"},
	)

	unitLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flux_unit_load_seconds",
			Help:    "Duration of building a deployment unit, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(unitsLoaded)
	prometheus.MustRegister(unitLoadsTotal)
	prometheus.MustRegister(unitLoadDuration)

	// Pre-initialize counter label combinations so they appear in /metrics
	// before the first load.
	unitLoadsTotal.WithLabelValues(resultSuccess)
	unitLoadsTotal.WithLabelValues(resultFailure)
}
