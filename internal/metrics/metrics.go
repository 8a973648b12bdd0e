// Package metrics exposes Prometheus collectors for the review service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewd"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	sessionsTotal       *prometheus.CounterVec
	sessionsRunning     prometheus.Gauge
	reviewsSaved        prometheus.Counter
	reviewsDuplicate    prometheus.Counter
	reviewsProcessed    prometheus.Counter
	itemFaults          *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	retentionDeleted    prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Scraping sessions that reached a terminal status.",
		}, []string{"status"}),
		sessionsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_running",
			Help:      "Sessions currently being scraped or processed.",
		}),
		reviewsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_saved_total",
			Help:      "Raw reviews inserted.",
		}),
		reviewsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_duplicate_total",
			Help:      "Raw reviews skipped because the session already held them.",
		}),
		reviewsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_processed_total",
			Help:      "Reviews normalized and stored.",
		}),
		itemFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_faults_total",
			Help:      "Per-review failures, labeled by pipeline stage.",
		}, []string{"stage"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching reviews from the storefront.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		retentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Sessions removed by the retention sweep.",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		gatherer: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionStarted marks a session as running.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsRunning.Inc()
}

// SessionFinished records a terminal status and releases the running slot.
func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessionsRunning.Dec()
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// ObserveSave records the outcome of persisting a batch of raw reviews.
func (m *Metrics) ObserveSave(inserted, duplicates int) {
	if m == nil {
		return
	}
	m.reviewsSaved.Add(float64(inserted))
	m.reviewsDuplicate.Add(float64(duplicates))
}

// ObserveProcessed records normalized reviews.
func (m *Metrics) ObserveProcessed(n int) {
	if m == nil {
		return
	}
	m.reviewsProcessed.Add(float64(n))
}

// ObserveFault counts one per-review failure.
func (m *Metrics) ObserveFault(stage string) {
	if m == nil {
		return
	}
	m.itemFaults.WithLabelValues(stage).Inc()
}

// ObserveFetch records a storefront fetch duration.
func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveRetention counts sessions deleted by a sweep.
func (m *Metrics) ObserveRetention(deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.retentionDeleted.Add(float64(deleted))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
