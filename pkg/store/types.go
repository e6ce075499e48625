package store

import "time"

// DayFormat is the canonical layout for calendar dates in the store.
// Dates are persisted as ISO strings so range comparisons behave the same
// on postgres and sqlite.
const DayFormat = "2006-01-02"

// Day formats t as a store calendar date
func Day(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// ParseDay parses a store calendar date
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayFormat, s)
}

// DailyMetric is one site's search performance for one calendar date
type DailyMetric struct {
	SiteID      int64     `json:"site_id"`
	Date        string    `json:"date"`
	Clicks      int64     `json:"clicks"`
	Impressions int64     `json:"impressions"`
	CTR         float64   `json:"ctr"`
	Position    float64   `json:"position"`
	CollectedAt time.Time `json:"collected_at"`
}

// PageMetric is per-page performance for one site and date
type PageMetric struct {
	SiteID      int64   `json:"site_id"`
	Date        string  `json:"date"`
	Page        string  `json:"page"`
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// QueryMetric is per-query performance for one site and date
type QueryMetric struct {
	SiteID      int64   `json:"site_id"`
	Date        string  `json:"date"`
	Query       string  `json:"query"`
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// PeriodTotals are aggregates over an inclusive date range
type PeriodTotals struct {
	Clicks       int64   `json:"clicks"`
	Impressions  int64   `json:"impressions"`
	AvgCTR       float64 `json:"avg_ctr"`
	AvgPosition  float64 `json:"avg_position"`
	DaysWithData int     `json:"days_with_data"`
}

// TopEntry is a ranked page or query over a period
type TopEntry struct {
	Key         string  `json:"key"`
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// Report is a persisted comparative report for one site and period
type Report struct {
	ID          string `json:"id"`
	SiteID      int64  `json:"site_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Granularity string `json:"granularity"`

	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	AvgCTR      float64 `json:"avg_ctr"`
	AvgPosition float64 `json:"avg_position"`

	// Percentage change versus the immediately preceding period of equal
	// length; PositionChange is a point change where negative is better.
	ClicksChange      float64 `json:"clicks_change"`
	ImpressionsChange float64 `json:"impressions_change"`
	CTRChange         float64 `json:"ctr_change"`
	PositionChange    float64 `json:"position_change"`

	TopPages   []TopEntry `json:"top_pages"`
	TopQueries []TopEntry `json:"top_queries"`

	Insights        []string `json:"insights"`
	Recommendations []string `json:"recommendations"`

	// DataCoverage is daysWithData / expectedDays for the period
	DataCoverage float64 `json:"data_coverage"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Job types known to the scheduler
const (
	JobTypeCollection = "COLLECTION"
	JobTypeReporting  = "REPORTING"
)

// ScheduleConfig is the persisted state of one scheduled job type
type ScheduleConfig struct {
	JobType   string     `json:"job_type"`
	CronExpr  string     `json:"cron_expr"`
	Enabled   bool       `json:"enabled"`
	Running   bool       `json:"running"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Reconcile job statuses
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Per-date reconciliation outcomes
const (
	DateStatusPending = "pending"
	DateStatusSynced  = "synced"
	DateStatusFailed  = "failed"
)

// SiteFailure records one site's collection failure for a date
type SiteFailure struct {
	SiteID int64  `json:"site_id"`
	Domain string `json:"domain"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// ReconcileJobDate is the per-date outcome within a reconciliation job
type ReconcileJobDate struct {
	Date     string        `json:"date"`
	Status   string        `json:"status"`
	Failures []SiteFailure `json:"failures,omitempty"`
}

// ReconcileJob is the pollable record of one reconciliation pass
type ReconcileJob struct {
	ID          string             `json:"id"`
	RequestedBy string             `json:"requested_by"`
	WindowDays  int                `json:"window_days"`
	DatesTotal  int                `json:"dates_total"`
	DatesQueued int                `json:"dates_queued"`
	DatesSynced int                `json:"dates_synced"`
	DatesFailed int                `json:"dates_failed"`
	Status      string             `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Dates       []ReconcileJobDate `json:"dates,omitempty"`
}
