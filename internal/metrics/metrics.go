package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync item outcomes
const (
	OutcomeApplied  = "applied"
	OutcomeStale    = "stale"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// MetricsRegistry holds all Prometheus metrics for the sync server.
// Methods are safe to call on a nil registry.
type MetricsRegistry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec
	RateLimitedTotal     prometheus.Counter

	// Sync Metrics
	SyncItemsTotal    *prometheus.CounterVec
	BulkBatchDuration *prometheus.HistogramVec
	DeltaRecords      *prometheus.HistogramVec

	// Job Metrics
	TombstonesSweptTotal prometheus.Counter
	SyncJobDuration      *prometheus.HistogramVec
}

// NewMetricsRegistry registers all metrics with reg. The server passes
// prometheus.DefaultRegisterer; tests pass a fresh prometheus.NewRegistry().
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsRegistry {
	f := promauto.With(reg)
	return &MetricsRegistry{
		// HTTP Metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logbook_http_requests_total",
				Help: "Total HTTP requests processed by endpoint, method, and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "logbook_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "logbook_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"endpoint"},
		),
		RateLimitedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "logbook_http_rate_limited_total",
				Help: "Requests rejected by the per-user rate limiter",
			},
		),

		// Sync Metrics
		SyncItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logbook_sync_items_total",
				Help: "Pushed mutations by collection, operation and outcome",
			},
			[]string{"collection", "op", "outcome"},
		),
		BulkBatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "logbook_bulk_batch_duration_seconds",
				Help:    "Time to reconcile one bulk batch in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"collection"},
		),
		DeltaRecords: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "logbook_delta_records",
				Help:    "Records returned per delta fetch",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"collection"},
		),

		// Job Metrics
		TombstonesSweptTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "logbook_tombstones_swept_total",
				Help: "Expired tombstones removed by the retention sweep",
			},
		),
		SyncJobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "logbook_job_duration_seconds",
				Help:    "Background job execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"job_name"},
		),
	}
}

func (m *MetricsRegistry) ObserveSyncItem(collection, op, outcome string) {
	if m == nil {
		return
	}
	m.SyncItemsTotal.WithLabelValues(collection, op, outcome).Inc()
}

func (m *MetricsRegistry) ObserveBulkBatch(collection string, d time.Duration) {
	if m == nil {
		return
	}
	m.BulkBatchDuration.WithLabelValues(collection).Observe(d.Seconds())
}

func (m *MetricsRegistry) ObserveDelta(collection string, records int) {
	if m == nil {
		return
	}
	m.DeltaRecords.WithLabelValues(collection).Observe(float64(records))
}

func (m *MetricsRegistry) ObserveSweep(removed int64, d time.Duration) {
	if m == nil {
		return
	}
	m.TombstonesSweptTotal.Add(float64(removed))
	m.SyncJobDuration.WithLabelValues("tombstone_sweep").Observe(d.Seconds())
}

func (m *MetricsRegistry) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
