// Package metrics exposes Prometheus instrumentation for the secret cache
// and the vault gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheErrors     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "akv_cache_hits_total",
			Help: "Secret reads served from the cache",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "akv_cache_misses_total",
			Help: "Secret reads that required a vault round trip",
		}),
		cacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akv_cache_errors_total",
				Help: "Cache store failures by operation",
			},
			[]string{"op"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akv_gateway_requests_total",
				Help: "Requests sent to the vault by method and status code",
			},
			[]string{"method", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "akv_gateway_request_duration_seconds",
				Help:    "Duration of vault requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method"},
		),
	}
}

// CacheHit records a read served from the cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss records a read that went to the vault.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// CacheError records a failed cache operation ("get", "put", "delete").
func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

// Request records a completed vault request. status 0 means the request
// never produced a response.
func (m *Metrics) Request(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(method, label).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
