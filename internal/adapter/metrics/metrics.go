package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pscheid92/whispercmd/internal/platform/version"
)

const namespace = "whispercmd"

// NewRegistry creates a Prometheus registry with Go runtime and process
// collectors plus a constant build_info gauge.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	info := version.Get()
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build metadata of the running binary. Always 1.",
		ConstLabels: prometheus.Labels{"version": info.Version, "commit": info.Commit},
	})
	buildInfo.Set(1)
	reg.MustRegister(buildInfo)
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
