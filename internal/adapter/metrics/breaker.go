package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics exposes circuit breaker state transitions.
type BreakerMetrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
}

// NewBreakerMetrics creates and registers circuit breaker metrics on the given registry.
func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total number of breaker state changes, by target state.",
		}, []string{"name", "to"}),
	}

	reg.MustRegister(m.State, m.Transitions)
	return m
}

// ObserveStateChange records a move to state; level is the numeric form of state.
func (m *BreakerMetrics) ObserveStateChange(name, state string, level int) {
	m.State.WithLabelValues(name).Set(float64(level))
	m.Transitions.WithLabelValues(name, state).Inc()
}
