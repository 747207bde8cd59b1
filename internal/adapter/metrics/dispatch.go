package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics tracks what happened to inbound direct messages.
type DispatchMetrics struct {
	MessagesTotal    *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
}

// NewDispatchMetrics creates and registers dispatch metrics on the given registry.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Total number of direct messages handled, by outcome.",
		}, []string{"outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time from receipt of a direct message until its handler returned.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.MessagesTotal, m.DispatchDuration)
	return m
}

func (m *DispatchMetrics) ObserveDispatch(outcome string, duration time.Duration) {
	m.MessagesTotal.WithLabelValues(outcome).Inc()
	m.DispatchDuration.Observe(duration.Seconds())
}
