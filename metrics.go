package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dev server collectors. Each instance has its own
// registry so several servers (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	ModuleImports   *prometheus.CounterVec
	ReloadTriggers  *prometheus.CounterVec
	RewriteDuration prometheus.Histogram
	RewriteCache    *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	SocketClients   prometheus.Gauge
	FileChanges     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ModuleImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotserve_module_imports_total",
			Help: "Module fetches performed by a module registry, by result.",
		}, []string{"result"}),
		ReloadTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotserve_reload_triggers_total",
			Help: "Hot reload triggers, by outcome.",
		}, []string{"outcome"}),
		RewriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hotserve_rewrite_duration_seconds",
			Help:    "Time spent rewriting imports of served modules.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		RewriteCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotserve_rewrite_cache_total",
			Help: "Rewrite cache lookups, by result.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hotserve_http_requests_total",
			Help: "HTTP requests served, by status code.",
		}, []string{"code"}),
		SocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotserve_websocket_clients",
			Help: "Connected reload clients.",
		}),
		FileChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotserve_file_changes_total",
			Help: "Debounced file change events.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.ModuleImports,
		m.ReloadTriggers,
		m.RewriteDuration,
		m.RewriteCache,
		m.HTTPRequests,
		m.SocketClients,
		m.FileChanges,
	)
	return m
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
