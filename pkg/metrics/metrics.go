// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RowsProcessedTotal   prometheus.Counter
	RowsRejectedTotal    prometheus.Counter
	BatchFlushesTotal    *prometheus.CounterVec
	RunsTotal            *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	SubmissionsTotal     *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	FallbackQueueDepth   prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RowsProcessedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_rows_processed_total",
				Help: "Total transaction rows accepted and written in batches.",
			},
		),
		RowsRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_rows_rejected_total",
				Help: "Total transaction rows rejected by validation.",
			},
		),
		BatchFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batch_flushes_total",
				Help: "Total batch flush operations by status.",
			},
			[]string{"status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total ingestion runs by terminal status.",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Wall-clock duration of ingestion runs in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
		),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_submissions_total",
				Help: "Total upload submissions by outcome (accepted, rejected, unavailable, error).",
			},
			[]string{"outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "analytics_query_latency_seconds",
				Help:    "Analytics query latency in seconds by view.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"view"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_cache_hits_total",
				Help: "Total analytics cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_cache_misses_total",
				Help: "Total analytics cache misses.",
			},
		),
		FallbackQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_fallback_queue_depth",
				Help: "Number of runs waiting in the synchronous fallback pool.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RowsProcessedTotal,
		m.RowsRejectedTotal,
		m.BatchFlushesTotal,
		m.RunsTotal,
		m.RunDuration,
		m.SubmissionsTotal,
		m.QueryLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.FallbackQueueDepth,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
