// Package metrics defines the Prometheus metric collectors used across the
// index pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueueOfferedTotal    *prometheus.CounterVec
	QueueTakenTotal      *prometheus.CounterVec
	QueueAckedTotal      *prometheus.CounterVec
	QueueDecodeFailures  *prometheus.CounterVec
	QueueTakeDuration    *prometheus.HistogramVec
	IndexBatchDuration   prometheus.Histogram
	IndexBatchesTotal    *prometheus.CounterVec
	IndexWritesTotal     prometheus.Counter
	DeindexWritesTotal   prometheus.Counter
	ReindexEdgesTotal    prometheus.Counter
	CursorWritesTotal    prometheus.Counter
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	VersionBumpsTotal    *prometheus.CounterVec
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
		QueueOfferedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_offered_total",
				Help: "Total events offered to the async queue by queue name.",
			},
			[]string{"queue"},
		),
		QueueTakenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_taken_total",
				Help: "Total events taken from the async queue by queue name.",
			},
			[]string{"queue"},
		),
		QueueAckedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_acked_total",
				Help: "Total events acknowledged after successful processing.",
			},
			[]string{"queue"},
		),
		QueueDecodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_decode_failures_total",
				Help: "Total queued events whose payload could not be decoded.",
			},
			[]string{"queue"},
		),
		QueueTakeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "queue_take_duration_seconds",
				Help:    "Latency of a single dequeue cycle in seconds.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
			},
			[]string{"queue"},
		),
		IndexBatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_batch_duration_seconds",
				Help:    "Latency of index batch execution in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
			},
		),
		IndexBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_batches_total",
				Help: "Total index batches executed by status.",
			},
			[]string{"status"},
		),
		IndexWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_writes_total",
				Help: "Total index write operations batched.",
			},
		),
		DeindexWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deindex_writes_total",
				Help: "Total index delete operations batched.",
			},
		),
		ReindexEdgesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reindex_edges_total",
				Help: "Total edges streamed by bulk reindex jobs.",
			},
		),
		CursorWritesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reindex_cursor_writes_total",
				Help: "Total sampled cursor checkpoints persisted.",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total cache hits by cache name.",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total cache misses by cache name.",
			},
			[]string{"cache"},
		),
		VersionBumpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collection_version_bumps_total",
				Help: "Total collection version bump attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueueOfferedTotal,
		m.QueueTakenTotal,
		m.QueueAckedTotal,
		m.QueueDecodeFailures,
		m.QueueTakeDuration,
		m.IndexBatchDuration,
		m.IndexBatchesTotal,
		m.IndexWritesTotal,
		m.DeindexWritesTotal,
		m.ReindexEdgesTotal,
		m.CursorWritesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.VersionBumpsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
