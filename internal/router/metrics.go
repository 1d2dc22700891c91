package router

import "github.com/prometheus/client_golang/prometheus"

var poolCapacity = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "flux_task_pool_capacity",
		Help: "Configured worker capacity of each task pool.",
	},
	[]string{"task"},
)

func init() {
	prometheus.MustRegister(poolCapacity)
}
