package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gallery",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Renders waiting for a worker slot.",
	})
	metricInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gallery",
		Subsystem: "pipeline",
		Name:      "in_flight",
		Help:      "Provider calls currently underway.",
	})
	metricAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gallery",
		Subsystem: "pipeline",
		Name:      "attempts_total",
		Help:      "Provider call attempts.",
	})
	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Subsystem: "pipeline",
		Name:      "rejected_total",
		Help:      "Submissions rejected at admission.",
	}, []string{"reason"})
	metricCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Subsystem: "pipeline",
		Name:      "completed_total",
		Help:      "Renders reaching a terminal state.",
	}, []string{"status"})
)
