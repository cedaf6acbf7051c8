package node

import (
	"sync"

	"github.com/ordishs/gocore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusNodeIntents        *prometheus.CounterVec
	prometheusNodeIntentDuration *prometheus.HistogramVec
	prometheusNodeIntentErrors   *prometheus.CounterVec
	prometheusNodeState          *prometheus.GaugeVec
	prometheusNodeLogLines       *prometheus.CounterVec
	prometheusNodeCtlEvents      *prometheus.CounterVec
)

var stat = gocore.NewStat("node")

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusNodeIntents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "node",
			Name:      "intents",
			Help:      "Number of lifecycle intents processed",
		},
		[]string{"intent"},
	)

	prometheusNodeIntentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodekeeper",
			Subsystem: "node",
			Name:      "intent_duration_seconds",
			Help:      "Duration of lifecycle intents",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"intent"},
	)

	prometheusNodeIntentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "node",
			Name:      "intent_errors",
			Help:      "Number of lifecycle intents that failed",
		},
		[]string{"intent"},
	)

	prometheusNodeState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nodekeeper",
			Subsystem: "node",
			Name:      "state",
			Help:      "Current lifecycle state, 1 for the active state",
		},
		[]string{"state"},
	)

	prometheusNodeLogLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "node",
			Name:      "log_lines",
			Help:      "Number of node log lines received",
		},
		[]string{"kind"},
	)

	prometheusNodeCtlEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodekeeper",
			Subsystem: "node",
			Name:      "ctl_events",
			Help:      "Number of RPC connection events observed",
		},
		[]string{"event"},
	)
}
