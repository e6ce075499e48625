package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Run("creates and registers all metrics", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		if metrics == nil {
			t.Fatal("NewMetrics returned nil")
		}

		if metrics.HTTPRequestsTotal == nil {
			t.Error("HTTPRequestsTotal is nil")
		}
		if metrics.HTTPRequestDuration == nil {
			t.Error("HTTPRequestDuration is nil")
		}
		if metrics.CollectionsTotal == nil {
			t.Error("CollectionsTotal is nil")
		}
		if metrics.FetchErrorsTotal == nil {
			t.Error("FetchErrorsTotal is nil")
		}
		if metrics.MetricRowsWritten == nil {
			t.Error("MetricRowsWritten is nil")
		}
		if metrics.ReconcileJobsTotal == nil {
			t.Error("ReconcileJobsTotal is nil")
		}
		if metrics.ReportsGeneratedTotal == nil {
			t.Error("ReportsGeneratedTotal is nil")
		}
		if metrics.EnrichmentFallbacks == nil {
			t.Error("EnrichmentFallbacks is nil")
		}
		if metrics.ScheduledRunsTotal == nil {
			t.Error("ScheduledRunsTotal is nil")
		}
		if metrics.DBConnectionsActive == nil {
			t.Error("DBConnectionsActive is nil")
		}
	})

	t.Run("metrics are registered with registry", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := NewMetrics(registry)

		// Initialize some metrics to make them appear in Gather()
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Add(0)
		metrics.CollectionsTotal.WithLabelValues("success").Add(0)
		metrics.ReconcileJobsTotal.WithLabelValues("completed").Add(0)
		metrics.ScheduledRunsTotal.WithLabelValues("COLLECTION", "success").Add(0)
		metrics.DBConnectionsActive.Set(0)

		families, err := registry.Gather()
		if err != nil {
			t.Fatalf("Failed to gather metrics: %v", err)
		}
		if len(families) == 0 {
			t.Error("No metrics registered in registry")
		}

		metricNames := make(map[string]bool)
		for _, family := range families {
			metricNames[family.GetName()] = true
		}

		expectedMetrics := []string{
			"searchpulse_http_requests_total",
			"searchpulse_collections_total",
			"searchpulse_reconcile_jobs_total",
			"searchpulse_scheduled_runs_total",
			"searchpulse_db_connections_active",
		}
		for _, name := range expectedMetrics {
			if !metricNames[name] {
				t.Errorf("Expected metric %s not found in registry", name)
			}
		}
	})

	t.Run("panics on duplicate registration", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		NewMetrics(registry)

		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected panic on duplicate registration, but didn't panic")
			}
		}()

		NewMetrics(registry)
	})
}

func TestMetrics_CollectionCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.CollectionsTotal.WithLabelValues("success").Inc()

	expected := `
# HELP searchpulse_collections_total Total number of collect(site, date) calls
# TYPE searchpulse_collections_total counter
searchpulse_collections_total{status="success"} 1
`
	if err := testutil.CollectAndCompare(metrics.CollectionsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	expected := `
# HELP searchpulse_http_requests_total Total number of HTTP requests
# TYPE searchpulse_http_requests_total counter
searchpulse_http_requests_total{method="GET",path="/api/v1/sites",status="404"} 1
`
	if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}

	if count := testutil.CollectAndCount(metrics.HTTPRequestDuration); count != 1 {
		t.Errorf("Expected 1 duration series, got %d", count)
	}
}

func TestMetrics_Handler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.ReconcileDatesSynced.Inc()

	server := httptest.NewServer(metrics.Handler(registry))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to scrape metrics endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}
