// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerVisitsTotal           *prometheus.CounterVec
	crawlerVisitDurationSeconds  *prometheus.HistogramVec
	crawlerActiveVisits          prometheus.Gauge
	crawlerResolutionsTotal      *prometheus.CounterVec
	crawlerFindingsTotal         *prometheus.CounterVec
	crawlerLookupThrottleSeconds prometheus.Histogram
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	crawlerSessionRecyclesTotal  prometheus.Counter
	crawlerRecoveredPanicsTotal  prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerVisitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rum_crawler_visits_total",
				Help: "Total number of site outcomes recorded, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerVisitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rum_crawler_visit_duration_seconds",
				Help:    "Histogram of browser visit durations, labeled by status.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
			},
			[]string{"status"},
		)

		crawlerActiveVisits = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rum_crawler_active_visits",
				Help: "Number of browser visits currently in flight.",
			},
		)

		crawlerResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rum_crawler_resolutions_total",
				Help: "Total number of domain pre-checks, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerFindingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rum_crawler_findings_total",
				Help: "Total number of instrumentation findings, labeled by library and state.",
			},
			[]string{"library", "state"},
		)

		crawlerLookupThrottleSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rum_crawler_lookup_throttle_seconds",
				Help:    "Histogram of time spent waiting on the resolver throttle.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
			},
		)

		crawlerSessionRecyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rum_crawler_session_recycles_total",
				Help: "Total number of browser sessions replaced after a failed reset.",
			},
		)

		crawlerRecoveredPanicsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rum_crawler_recovered_panics_total",
				Help: "Total number of visit panics recovered by the scheduler.",
			},
		)

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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveVisit records one site outcome and, for browser visits, its duration.
func ObserveVisit(status string, duration time.Duration) {
	Init()
	crawlerVisitsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		crawlerVisitDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// ObserveResolution increments the pre-check counter for the given result.
func ObserveResolution(result string) {
	Init()
	crawlerResolutionsTotal.WithLabelValues(result).Inc()
}

// ObserveFinding increments the finding counter for one probe result.
func ObserveFinding(library, state string) {
	Init()
	crawlerFindingsTotal.WithLabelValues(library, state).Inc()
}

// ObserveLookupThrottle records the duration of a resolver throttle wait.
func ObserveLookupThrottle(duration time.Duration) {
	Init()
	crawlerLookupThrottleSeconds.Observe(duration.Seconds())
}

// IncActiveVisits increments the in-flight visits gauge.
func IncActiveVisits() {
	Init()
	crawlerActiveVisits.Inc()
}

// DecActiveVisits decrements the in-flight visits gauge.
func DecActiveVisits() {
	Init()
	crawlerActiveVisits.Dec()
}

// ObserveSessionRecycle counts a session replaced after a failed reset.
func ObserveSessionRecycle() {
	Init()
	crawlerSessionRecyclesTotal.Inc()
}

// ObserveRecoveredPanic counts a panic caught inside a visit.
func ObserveRecoveredPanic() {
	Init()
	crawlerRecoveredPanicsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
