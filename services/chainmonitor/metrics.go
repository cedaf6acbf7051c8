package chainmonitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusChainBuckets         prometheus.Gauge
	prometheusChainBlocks          prometheus.Gauge
	prometheusChainEvictedBuckets  prometheus.Counter
	prometheusChainNotifications   *prometheus.CounterVec
	prometheusChainUnknownVSPCHash prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainBuckets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodekeeper",
			Subsystem: "chainmonitor",
			Name:      "buckets",
			Help:      "Number of DAA buckets in the window",
		},
	)

	prometheusChainBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodekeeper",
			Subsystem: "chainmonitor",
			Name:      "blocks",
			Help:      "Number of blocks in the window",
		},
	)

	prometheusChainEvictedBuckets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "chainmonitor",
			Name:      "evicted_buckets",
			Help:      "Number of DAA buckets evicted from the window",
		},
	)

	prometheusChainNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "chainmonitor",
			Name:      "notifications",
			Help:      "Number of node notifications processed",
		},
		[]string{"scope"},
	)

	prometheusChainUnknownVSPCHash = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "chainmonitor",
			Name:      "unknown_vspc_hashes",
			Help:      "Number of virtual chain hashes referencing blocks outside the window",
		},
	)
}
