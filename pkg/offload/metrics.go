package offload

import "github.com/prometheus/client_golang/prometheus"

var (
	offloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "streamcall_offloads_total", Help: "offloaded streams by outcome"},
		[]string{"outcome"},
	)

	handshakeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamcall_offload_handshake_seconds",
			Help:    "time from fork to worker ack",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60},
		},
	)

	workersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "streamcall_offload_workers", Help: "workers forked and not yet killed"},
	)
)

func init() {
	prometheus.MustRegister(offloadsTotal, handshakeSeconds, workersRunning)
}
