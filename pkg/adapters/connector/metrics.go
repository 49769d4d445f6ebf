package connector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts connector operations by type, operation and outcome.
// A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the connector collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connector_engine",
			Subsystem: "connector",
			Name:      "operations_total",
			Help:      "Connector operations by connector type, operation and outcome.",
		}, []string{"type", "operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "connector_engine",
			Subsystem: "connector",
			Name:      "operation_duration_seconds",
			Help:      "Latency of connector operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "operation"}),
	}
}

func (m *Metrics) observe(connectorType, operation string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.operations.WithLabelValues(connectorType, operation, outcome).Inc()
	m.duration.WithLabelValues(connectorType, operation).Observe(elapsed.Seconds())
}
