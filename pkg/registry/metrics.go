package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "streamcall_registry_loads_total", Help: "namespace loads by outcome"},
		[]string{"prefix", "outcome"},
	)

	handlersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "streamcall_registry_handlers", Help: "leaves in the active tree of a namespace"},
		[]string{"prefix"},
	)
)

func init() {
	prometheus.MustRegister(reloadsTotal, handlersGauge)
}
