// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	persistenceFailuresTotal   *prometheus.CounterVec
	cancelRequestsTotal        *prometheus.CounterVec
	forcedReleasesTotal        *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	navigationDelaysSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		persistenceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_persistence_failures_total",
				Help: "Durable state writes that failed, labeled by operation.",
			},
			[]string{"op"},
		)

		cancelRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_cancel_requests_total",
				Help: "Cancellation requests, labeled by the job status at request time.",
			},
			[]string{"status"},
		)

		forcedReleasesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_forced_releases_total",
				Help: "Resources torn down by cancellation, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of job workers currently running.",
			},
		)

		navigationDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_navigation_delay_seconds",
				Help:    "Time spent waiting on the navigation rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname, or "unknown".
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePersistenceFailure counts a failed durable write.
func ObservePersistenceFailure(op string) {
	Init()
	persistenceFailuresTotal.WithLabelValues(op).Inc()
}

// ObserveCancelRequest counts a cancellation request.
func ObserveCancelRequest(status string) {
	Init()
	cancelRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveForcedRelease counts a forced teardown; ok=false means it errored.
func ObserveForcedRelease(ok bool) {
	Init()
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	forcedReleasesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveNavigationDelay records time spent in the navigation limiter.
func ObserveNavigationDelay(host string, duration time.Duration) {
	Init()
	navigationDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
