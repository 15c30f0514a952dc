// Package metrics exposes Prometheus instrumentation for the proxy: request
// counts and latency, origin mirror health, and the core LRUCache's
// occupancy and hit ratio.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/WillKirkmanM/proxy/internal/cache"
)

// Metrics owns a private registry so multiple instances (e.g. one per test)
// never collide on Prometheus's global default registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	backendHealth     *prometheus.GaugeVec
	activeConnections prometheus.Gauge

	cacheBytes   prometheus.Gauge
	cacheItems   prometheus.Gauge
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheHitRate prometheus.Gauge
}

// New creates a metrics collector and registers every instrument with its
// own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "status_code", "backend"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "backend"},
		),
		backendHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proxy_backend_health",
				Help: "Origin mirror health status (1=healthy, 0=unhealthy)",
			},
			[]string{"backend_url"},
		),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_active_connections",
			Help: "Number of active connections",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_cache_bytes",
			Help: "Bytes currently held by the LRU cache",
		}),
		cacheItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_cache_items",
			Help: "Number of entries currently held by the LRU cache",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_hits_total",
			Help: "Cache hits mirrored from the LRU cache (not reset by a cache clear)",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_misses_total",
			Help: "Cache misses mirrored from the LRU cache (not reset by a cache clear)",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_cache_hit_rate",
			Help: "Cache hit rate over hits+misses since last clear",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.backendHealth,
		m.activeConnections,
		m.cacheBytes,
		m.cacheItems,
		m.cacheHits,
		m.cacheMisses,
		m.cacheHitRate,
	)

	return m
}

// RecordRequest records one request's method, status and duration.
func (m *Metrics) RecordRequest(method, statusCode, backend string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, statusCode, backend).Inc()
	m.requestDuration.WithLabelValues(method, backend).Observe(duration.Seconds())
}

// UpdateBackendHealth records a health-check outcome for an origin mirror.
func (m *Metrics) UpdateBackendHealth(backendURL string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.backendHealth.WithLabelValues(backendURL).Set(value)
}

func (m *Metrics) IncrementConnections() { m.activeConnections.Inc() }
func (m *Metrics) DecrementConnections() { m.activeConnections.Dec() }

// ReportCacheStats satisfies cache.Reporter: the LRUCache's periodic
// snapshot (spec.md §4.1 Observability) is mirrored into gauges/counters.
// The counters are raised to the cache's own hits/misses whenever those
// exceed the counter's current value, rather than accumulated independently.
// Prometheus counters cannot decrease, so after a cache Clear they keep their
// earlier value until the cache's counts pass it again.
func (m *Metrics) ReportCacheStats(stats cache.Stats) {
	m.cacheBytes.Set(float64(stats.CurrentBytes))
	m.cacheItems.Set(float64(stats.ItemCount))
	m.cacheHitRate.Set(stats.HitRate)

	prevHits, prevMisses := m.counterValue(m.cacheHits), m.counterValue(m.cacheMisses)
	if delta := float64(stats.Hits) - prevHits; delta > 0 {
		m.cacheHits.Add(delta)
	}
	if delta := float64(stats.Misses) - prevMisses; delta > 0 {
		m.cacheMisses.Add(delta)
	}
}

func (m *Metrics) counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}

// Handler exposes this instance's registry for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments every request passing through it with duration,
// status and active-connection metrics, labeling the series with backend.
func (m *Metrics) Middleware(backend string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.IncrementConnections()
			defer m.DecrementConnections()

			wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			m.RecordRequest(r.Method, strconv.Itoa(wrapper.statusCode), backend, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}
