package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/searchpulse/pkg/insights"
	"github.com/platinummonkey/searchpulse/pkg/middleware"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/reports"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

const defaultReportListLimit = 50

// listSites returns the sites visible to the caller
func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}

	ids, err := s.scoper.AccessibleSiteIDs(r.Context(), p)
	if err != nil {
		s.serverError(w, r, err, "failed to resolve accessible sites")
		return
	}

	sites, err := s.registry.ListSitesByIDs(r.Context(), ids)
	if err != nil {
		s.serverError(w, r, err, "failed to list sites")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sites": sites})
}

// getSiteMetrics returns one site's daily rows over ?start=&end=
func (s *Server) getSiteMetrics(w http.ResponseWriter, r *http.Request) {
	siteID, ok := s.scopedSiteID(w, r)
	if !ok {
		return
	}

	start, end, err := parseDateRange(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, err := s.store.GetDailyMetrics(r.Context(), siteID, store.Day(start), store.Day(end))
	if err != nil {
		s.serverError(w, r, err, "failed to read daily metrics")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"site_id": siteID,
		"start":   store.Day(start),
		"end":     store.Day(end),
		"metrics": metrics,
	})
}

// listSiteReports returns one site's persisted reports, newest first
func (s *Server) listSiteReports(w http.ResponseWriter, r *http.Request) {
	siteID, ok := s.scopedSiteID(w, r)
	if !ok {
		return
	}

	limit := defaultReportListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := s.store.ListReports(r.Context(), []int64{siteID}, limit)
	if err != nil {
		s.serverError(w, r, err, "failed to list reports")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"reports": list})
}

// getReport returns one report if the caller may see its site
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}

	report, err := s.store.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}

	allowed, err := s.scoper.FilterSiteIDs(r.Context(), p, []int64{report.SiteID})
	if err != nil {
		s.serverError(w, r, err, "failed to check report access")
		return
	}
	if len(allowed) == 0 {
		// Indistinguishable from a missing report so ids don't leak
		s.writeError(w, http.StatusNotFound, "report not found")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type aggregateRequest struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Granularity string `json:"granularity"`
	TopN        int    `json:"top_n"`
}

// aggregate computes a report on demand without persisting it
func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	siteID, ok := s.scopedSiteID(w, r)
	if !ok {
		return
	}

	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, err := store.ParseDay(req.PeriodStart)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid period_start, want YYYY-MM-DD")
		return
	}
	end, err := store.ParseDay(req.PeriodEnd)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid period_end, want YYYY-MM-DD")
		return
	}
	if req.Granularity == "" {
		req.Granularity = reports.GranularityTrailing
	}

	report, err := s.aggregator.Aggregate(r.Context(), siteID, start, end, req.Granularity, req.TopN)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// maxTaskCount bounds caller-requested task list sizes
const maxTaskCount = 50

type tasksRequest struct {
	// Issues are known technical problems (crawl errors, broken pages)
	// supplied by the caller; they outrank every derived suggestion.
	Issues []string `json:"issues"`
	Count  int      `json:"count"`
}

// siteTasks returns a fixed-size follow-up task list derived from the
// trailing week's deltas plus any caller-supplied technical issues
func (s *Server) siteTasks(w http.ResponseWriter, r *http.Request) {
	siteID, ok := s.scopedSiteID(w, r)
	if !ok {
		return
	}

	var req tasksRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Count <= 0 {
		req.Count = s.defaultTaskCount
	}
	if req.Count > maxTaskCount {
		req.Count = maxTaskCount
	}

	report, err := s.aggregator.AggregateTrailing(r.Context(), siteID, 7, 0)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	tasks := insights.Tasks(insights.Deltas{
		Clicks:            report.Clicks,
		Impressions:       report.Impressions,
		AvgCTR:            report.AvgCTR,
		AvgPosition:       report.AvgPosition,
		ClicksChange:      report.ClicksChange,
		ImpressionsChange: report.ImpressionsChange,
		CTRChange:         report.CTRChange,
		PositionChange:    report.PositionChange,
		DataCoverage:      report.DataCoverage,
	}, req.Issues, req.Count)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"site_id":      siteID,
		"period_start": report.PeriodStart,
		"period_end":   report.PeriodEnd,
		"tasks":        tasks,
	})
}

type reconcileRequest struct {
	WindowDays int `json:"window_days"`
}

// reconcile triggers a backfill job over the recent window. Elevated only.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}
	if !p.Elevated() {
		s.writeError(w, http.StatusForbidden, "reconciliation requires an elevated role")
		return
	}

	var req reconcileRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.WindowDays <= 0 {
		req.WindowDays = s.defaultWindowDays
	}

	sites, err := s.registry.ListActiveSites(r.Context())
	if err != nil {
		s.serverError(w, r, err, "failed to list active sites")
		return
	}

	job, err := s.reconciler.ReconcileWindow(r.Context(), sites, req.WindowDays, p.Name)
	if err != nil {
		s.serverError(w, r, err, "failed to start reconciliation")
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

// getReconcileJob returns a job's per-date outcomes. Elevated only.
func (s *Server) getReconcileJob(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}
	if !p.Elevated() {
		s.writeError(w, http.StatusForbidden, "reconciliation requires an elevated role")
		return
	}

	job, err := s.reconciler.GetJob(r.Context(), mux.Vars(r)["jobID"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// scopedSiteID parses {id} and verifies the caller may read that site. A
// denied site reads as 404 so site ids don't leak across tenants.
func (s *Server) scopedSiteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "missing principal")
		return 0, false
	}

	siteID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid site id")
		return 0, false
	}

	allowed, err := s.scoper.FilterSiteIDs(r.Context(), p, []int64{siteID})
	if err != nil {
		s.serverError(w, r, err, "failed to check site access")
		return 0, false
	}
	if len(allowed) == 0 {
		s.writeError(w, http.StatusNotFound, "site not found")
		return 0, false
	}
	return siteID, true
}

// parseDateRange reads ?start=&end=, defaulting to the trailing 28 days
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -27)

	if v := r.URL.Query().Get("start"); v != "" {
		parsed, err := store.ParseDay(v)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidDate("start")
		}
		start = parsed
	}
	if v := r.URL.Query().Get("end"); v != "" {
		parsed, err := store.ParseDay(v)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidDate("end")
		}
		end = parsed
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errInvalidRange{}
	}
	return start, end, nil
}

type errInvalidDate string

func (e errInvalidDate) Error() string { return "invalid " + string(e) + " date, want YYYY-MM-DD" }

type errInvalidRange struct{}

func (errInvalidRange) Error() string { return "end date precedes start date" }

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	observability.FromContext(r.Context()).WithError(err).Error(msg)
	s.writeError(w, http.StatusInternalServerError, msg)
}
