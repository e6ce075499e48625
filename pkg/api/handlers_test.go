package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/searchpulse/pkg/access"
	"github.com/platinummonkey/searchpulse/pkg/middleware"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

type fakeScoper struct {
	// accessible maps principal id to the site ids it may read
	accessible map[int64][]int64
}

func (f *fakeScoper) AccessibleSiteIDs(_ context.Context, p access.Principal) ([]int64, error) {
	return f.accessible[p.ID], nil
}

func (f *fakeScoper) FilterSiteIDs(_ context.Context, p access.Principal, requested []int64) ([]int64, error) {
	allowed := make(map[int64]bool)
	for _, id := range f.accessible[p.ID] {
		allowed[id] = true
	}
	var out []int64
	for _, id := range requested {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeAggregator struct {
	report *store.Report
	err    error
}

func (f *fakeAggregator) Aggregate(_ context.Context, siteID int64, _, _ time.Time, granularity string, _ int) (*store.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.report
	r.SiteID = siteID
	r.Granularity = granularity
	return &r, nil
}

func (f *fakeAggregator) AggregateTrailing(_ context.Context, siteID int64, _, _ int) (*store.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.report
	r.SiteID = siteID
	return &r, nil
}

type fakeReconciler struct {
	job     *store.ReconcileJob
	started bool
}

func (f *fakeReconciler) ReconcileWindow(_ context.Context, _ []registry.Site, windowDays int, requestedBy string) (*store.ReconcileJob, error) {
	f.started = true
	job := *f.job
	job.WindowDays = windowDays
	job.RequestedBy = requestedBy
	return &job, nil
}

func (f *fakeReconciler) GetJob(_ context.Context, jobID string) (*store.ReconcileJob, error) {
	return f.job, nil
}

type testServer struct {
	srv       *Server
	storeMock sqlmock.Sqlmock
	regMock   sqlmock.Sqlmock
	scoper    *fakeScoper
	rec       *fakeReconciler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, storeMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	regDB, regMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { regDB.Close() })

	scoper := &fakeScoper{accessible: map[int64][]int64{
		7: {2, 5},
	}}
	rec := &fakeReconciler{job: &store.ReconcileJob{ID: "job-1", Status: "running"}}
	agg := &fakeAggregator{report: &store.Report{ID: "report-1", Clicks: 100}}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	srv := NewServer(store.New(db), registry.NewStore(regDB), scoper, agg, rec, logger, metrics, 14, 5, false)
	return &testServer{srv: srv, storeMock: storeMock, regMock: regMock, scoper: scoper, rec: rec}
}

func doRequest(ts *testServer, method, path string, body []byte, role string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(middleware.HeaderPrincipalID, "7")
	req.Header.Set(middleware.HeaderPrincipalName, "alice")
	if role != "" {
		req.Header.Set(middleware.HeaderPrincipalRole, role)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func siteRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "domain", "display_name", "property_url", "owner_id", "active", "created_at", "updated_at"})
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range ids {
		rows.AddRow(id, "example.com", "Example", "sc-domain:example.com", int64(7), true, now, now)
	}
	return rows
}

func reportRow(id string, siteID int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "site_id", "period_start", "period_end", "granularity",
		"clicks", "impressions", "avg_ctr", "avg_position",
		"clicks_change", "impressions_change", "ctr_change", "position_change",
		"top_pages", "top_queries", "insights", "recommendations",
		"data_coverage", "created_at", "delivered_at",
	}).AddRow(
		id, siteID, "2026-08-14", "2026-08-20", "weekly",
		int64(700), int64(21000), 0.033, 8.1,
		12.5, -3.0, 15.0, -0.4,
		"[]", "[]", `["clicks rose"]`, `["keep publishing"]`,
		1.0, time.Date(2026, 8, 21, 6, 0, 0, 0, time.UTC), nil,
	)
}

func TestListSitesReturnsOnlyAccessibleSites(t *testing.T) {
	ts := newTestServer(t)

	ts.regMock.ExpectQuery("SELECT (.+) FROM sites WHERE id IN").
		WithArgs(int64(2), int64(5)).
		WillReturnRows(siteRows(2, 5))

	rec := doRequest(ts, http.MethodGet, "/api/v1/sites", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sites []registry.Site `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Sites, 2)
}

func TestGetSiteMetricsDeniedSiteReadsAsNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := doRequest(ts, http.MethodGet, "/api/v1/sites/3/metrics", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSiteMetricsAllowedSite(t *testing.T) {
	ts := newTestServer(t)

	rows := sqlmock.NewRows([]string{"site_id", "date", "clicks", "impressions", "ctr", "position", "collected_at"}).
		AddRow(int64(2), "2026-08-19", int64(10), int64(300), 0.033, 9.0, time.Now()).
		AddRow(int64(2), "2026-08-20", int64(12), int64(320), 0.037, 8.8, time.Now())
	ts.storeMock.ExpectQuery("SELECT site_id, date, clicks, impressions").
		WithArgs(int64(2), "2026-08-14", "2026-08-20").
		WillReturnRows(rows)

	rec := doRequest(ts, http.MethodGet, "/api/v1/sites/2/metrics?start=2026-08-14&end=2026-08-20", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metrics []store.DailyMetric `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Metrics, 2)
}

func TestGetSiteMetricsInvalidRange(t *testing.T) {
	ts := newTestServer(t)

	rec := doRequest(ts, http.MethodGet, "/api/v1/sites/2/metrics?start=2026-08-20&end=2026-08-14", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReportForInaccessibleSiteReadsAsNotFound(t *testing.T) {
	ts := newTestServer(t)

	// The report exists but belongs to site 9, outside the caller's scope.
	// The response must be indistinguishable from a missing report.
	ts.storeMock.ExpectQuery("SELECT (.+) FROM reports WHERE id").
		WithArgs("report-x").
		WillReturnRows(reportRow("report-x", 9))

	rec := doRequest(ts, http.MethodGet, "/api/v1/reports/report-x", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReportAllowed(t *testing.T) {
	ts := newTestServer(t)

	ts.storeMock.ExpectQuery("SELECT (.+) FROM reports WHERE id").
		WithArgs("report-x").
		WillReturnRows(reportRow("report-x", 2))

	rec := doRequest(ts, http.MethodGet, "/api/v1/reports/report-x", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report store.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(2), report.SiteID)
	assert.Equal(t, []string{"clicks rose"}, report.Insights)
}

func TestAggregateOnDemand(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"period_start": "2026-08-01",
		"period_end":   "2026-08-14",
		"granularity":  "trailing",
	})
	rec := doRequest(ts, http.MethodPost, "/api/v1/sites/2/aggregate", body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report store.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(2), report.SiteID)
	assert.Equal(t, "trailing", report.Granularity)
}

func TestAggregateRejectsBadDates(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"period_start": "08/01/2026",
		"period_end":   "2026-08-14",
	})
	rec := doRequest(ts, http.MethodPost, "/api/v1/sites/2/aggregate", body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSiteTasksReturnsExactCount(t *testing.T) {
	ts := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"issues": []string{"sitemap returns 500"},
		"count":  3,
	})
	rec := doRequest(ts, http.MethodPost, "/api/v1/sites/2/tasks", body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []struct {
			Title    string `json:"title"`
			Priority int    `json:"priority"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 3)
	assert.Equal(t, 1, resp.Tasks[0].Priority, "technical issues come first")
}

func TestSiteTasksDefaultsCount(t *testing.T) {
	ts := newTestServer(t)

	rec := doRequest(ts, http.MethodPost, "/api/v1/sites/2/tasks", []byte(`{}`), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, 5)
}

func TestSiteTasksClampsOversizedCount(t *testing.T) {
	ts := newTestServer(t)

	rec := doRequest(ts, http.MethodPost, "/api/v1/sites/2/tasks", []byte(`{"count": 100000}`), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, maxTaskCount)
}

func TestReconcileRequiresElevatedRole(t *testing.T) {
	ts := newTestServer(t)

	rec := doRequest(ts, http.MethodPost, "/api/v1/reconcile", []byte(`{}`), "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, ts.rec.started)
}

func TestReconcileStartsJobForAdmin(t *testing.T) {
	ts := newTestServer(t)

	ts.regMock.ExpectQuery("SELECT (.+) FROM sites WHERE active = TRUE").
		WillReturnRows(siteRows(2, 5))

	rec := doRequest(ts, http.MethodPost, "/api/v1/reconcile", []byte(`{"window_days": 7}`), "admin")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, ts.rec.started)

	var job store.ReconcileJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, 7, job.WindowDays)
	assert.Equal(t, "alice", job.RequestedBy)
}

func TestReconcileDefaultsWindow(t *testing.T) {
	ts := newTestServer(t)

	ts.regMock.ExpectQuery("SELECT (.+) FROM sites WHERE active = TRUE").
		WillReturnRows(siteRows(2))

	rec := doRequest(ts, http.MethodPost, "/api/v1/reconcile", []byte(`{}`), "admin")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var job store.ReconcileJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, 14, job.WindowDays)
}

func TestGetReconcileJobMemberIsForbidden(t *testing.T) {
	ts := newTestServer(t)

	rec := doRequest(ts, http.MethodGet, "/api/v1/reconcile/job-1", nil, "member")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMissingPrincipalIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
