package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SendMetrics tracks outbound whisper posts.
type SendMetrics struct {
	PostsTotal    *prometheus.CounterVec
	PostDuration  prometheus.Histogram
	Truncations   prometheus.Counter
	ChainFailures prometheus.Counter
	Skipped       prometheus.Counter
}

// NewSendMetrics creates and registers outbound send metrics on the given registry.
func NewSendMetrics(reg prometheus.Registerer) *SendMetrics {
	m := &SendMetrics{
		PostsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "posts_total",
			Help:      "Total number of outbound posts, by result.",
		}, []string{"result"}),
		PostDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "post_duration_seconds",
			Help:      "Duration of a single outbound post in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		Truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "truncations_total",
			Help:      "Total number of messages cut to the length limit.",
		}),
		ChainFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "chain_failures_total",
			Help:      "Total number of send chains halted by a failed post.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "skipped_recipients_total",
			Help:      "Total number of recipients never posted to because their chain halted.",
		}),
	}

	reg.MustRegister(m.PostsTotal, m.PostDuration, m.Truncations, m.ChainFailures, m.Skipped)
	return m
}

func (m *SendMetrics) ObservePost(result string, duration time.Duration) {
	m.PostsTotal.WithLabelValues(result).Inc()
	m.PostDuration.Observe(duration.Seconds())
}

func (m *SendMetrics) ObserveTruncation() {
	m.Truncations.Inc()
}

// ObserveChainFailure counts a halted chain and the recipients it skipped.
func (m *SendMetrics) ObserveChainFailure(skipped int) {
	m.ChainFailures.Inc()
	m.Skipped.Add(float64(skipped))
}
