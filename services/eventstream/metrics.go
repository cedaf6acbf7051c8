package eventstream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusEventStreamEvents      *prometheus.CounterVec
	prometheusEventStreamDropped     prometheus.Counter
	prometheusEventStreamSubscribers prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusEventStreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "eventstream",
			Name:      "events",
			Help:      "Number of application events fanned out to subscribers",
		},
		[]string{"kind"},
	)

	prometheusEventStreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "eventstream",
			Name:      "dropped",
			Help:      "Number of events dropped because a subscriber was not keeping up",
		},
	)

	prometheusEventStreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodekeeper",
			Subsystem: "eventstream",
			Name:      "subscribers",
			Help:      "Number of connected subscribers",
		},
	)
}
