package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Collection metrics
	CollectionsTotal    *prometheus.CounterVec
	CollectionDuration  *prometheus.HistogramVec
	FetchErrorsTotal    *prometheus.CounterVec
	MetricRowsWritten   *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileJobsTotal   *prometheus.CounterVec
	ReconcileDatesSynced prometheus.Counter
	ReconcileDatesFailed prometheus.Counter

	// Report metrics
	ReportsGeneratedTotal *prometheus.CounterVec
	ReportDuration        prometheus.Histogram
	EnrichmentFallbacks   prometheus.Counter

	// Scheduler metrics
	ScheduledRunsTotal  *prometheus.CounterVec
	ScheduledRunSkipped *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "searchpulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		CollectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_collections_total",
				Help: "Total number of collect(site, date) calls",
			},
			[]string{"status"},
		),
		CollectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "searchpulse_collection_duration_seconds",
				Help:    "Duration of a single site/date collection",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		FetchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_fetch_errors_total",
				Help: "Upstream analytics fetch errors by kind",
			},
			[]string{"kind"},
		),
		MetricRowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_metric_rows_written_total",
				Help: "Metric rows upserted into the store",
			},
			[]string{"table"},
		),

		ReconcileJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_reconcile_jobs_total",
				Help: "Reconciliation jobs by terminal status",
			},
			[]string{"status"},
		),
		ReconcileDatesSynced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "searchpulse_reconcile_dates_synced_total",
				Help: "Candidate dates where at least one site collected successfully",
			},
		),
		ReconcileDatesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "searchpulse_reconcile_dates_failed_total",
				Help: "Candidate dates where every site failed",
			},
		),

		ReportsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_reports_generated_total",
				Help: "Reports generated by granularity",
			},
			[]string{"granularity", "status"},
		),
		ReportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "searchpulse_report_duration_seconds",
				Help:    "Report aggregation duration",
				Buckets: prometheus.DefBuckets,
			},
		),
		EnrichmentFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "searchpulse_enrichment_fallbacks_total",
				Help: "Times insight enrichment failed and the baseline was used",
			},
		),

		ScheduledRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_scheduled_runs_total",
				Help: "Scheduled job runs by job type and outcome",
			},
			[]string{"job_type", "status"},
		),
		ScheduledRunSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searchpulse_scheduled_runs_skipped_total",
				Help: "Scheduled runs skipped because the job was disabled or already running",
			},
			[]string{"job_type", "reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "searchpulse_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "searchpulse_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CollectionsTotal,
		m.CollectionDuration,
		m.FetchErrorsTotal,
		m.MetricRowsWritten,
		m.ReconcileJobsTotal,
		m.ReconcileDatesSynced,
		m.ReconcileDatesFailed,
		m.ReportsGeneratedTotal,
		m.ReportDuration,
		m.EnrichmentFallbacks,
		m.ScheduledRunsTotal,
		m.ScheduledRunSkipped,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request counts and latencies for every request
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
