package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RedisMetrics holds Prometheus metrics for Redis operations.
type RedisMetrics struct {
	OpsTotal   *prometheus.CounterVec
	OpDuration *prometheus.HistogramVec
	DialErrors prometheus.Counter
}

// NewRedisMetrics creates and registers Redis metrics on the given registry.
func NewRedisMetrics(reg prometheus.Registerer) *RedisMetrics {
	m := &RedisMetrics{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis operations, by command and status.",
		}, []string{"operation", "status"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"operation"}),
		DialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "dial_errors_total",
			Help:      "Total number of failed Redis connection attempts.",
		}),
	}

	reg.MustRegister(m.OpsTotal, m.OpDuration, m.DialErrors)
	return m
}

func (m *RedisMetrics) ObserveRedisOp(operation, status string, duration time.Duration) {
	m.OpsTotal.WithLabelValues(operation, status).Inc()
	m.OpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *RedisMetrics) ObserveRedisDialError() {
	m.DialErrors.Inc()
}
