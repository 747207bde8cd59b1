package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the recipient user-ID cache.
type CacheMetrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "user_cache",
			Name:      "hits_total",
			Help:      "Total number of recipient lookups served from cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "user_cache",
			Name:      "misses_total",
			Help:      "Total number of recipient lookups that went to the API.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "user_cache",
			Name:      "expired_total",
			Help:      "Total number of cached recipient IDs dropped after their TTL.",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Evictions)
	return m
}

func (m *CacheMetrics) CacheHit()     { m.Hits.Inc() }
func (m *CacheMetrics) CacheMiss()    { m.Misses.Inc() }
func (m *CacheMetrics) CacheExpired() { m.Evictions.Inc() }
