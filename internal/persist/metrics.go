package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for writes_total.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the coordinator's Prometheus collectors.
type Metrics struct {
	// Writes counts finished writes.
	// Labels: op (upsert, delete, delete_many), outcome (success, failure)
	Writes *prometheus.CounterVec

	// Retries counts failed attempts that were retried.
	Retries prometheus.Counter

	// Failures counts writes abandoned after exhausting retries.
	Failures prometheus.Counter

	// Dropped counts events rejected because the coordinator was closed.
	Dropped prometheus.Counter

	// QueueDepth is the number of write intents waiting in all lanes.
	QueueDepth prometheus.Gauge

	// WriteDuration measures a write including its retries.
	// Labels: op
	WriteDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todosync",
			Subsystem: "persist",
			Name:      "writes_total",
			Help:      "Durable writes by op and outcome",
		}, []string{"op", "outcome"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "todosync",
			Subsystem: "persist",
			Name:      "retries_total",
			Help:      "Write attempts that failed and were retried",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "todosync",
			Subsystem: "persist",
			Name:      "failures_total",
			Help:      "Writes abandoned after exhausting retries",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "todosync",
			Subsystem: "persist",
			Name:      "dropped_total",
			Help:      "Events dropped because the coordinator was closed",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "todosync",
			Subsystem: "persist",
			Name:      "queue_depth",
			Help:      "Write intents waiting to be applied",
		}),
		WriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "todosync",
			Subsystem: "persist",
			Name:      "write_duration_seconds",
			Help:      "Durable write latency including retries",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
	}
}
