package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/searchpulse/pkg/insights"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// Report granularities
const (
	GranularityWeekly   = "weekly"
	GranularityTrailing = "trailing"
)

// Aggregator builds comparative reports from stored metric rows. Every
// report is computed fresh from the store; nothing is cached.
type Aggregator struct {
	store   *store.Store
	synth   insights.Synthesizer
	logger  *observability.Logger
	metrics *observability.Metrics
	lagDays int
	topN    int
	now     func() time.Time
}

// New creates a report aggregator. topN caps the ranked page/query lists.
func New(st *store.Store, synth insights.Synthesizer, logger *observability.Logger, metrics *observability.Metrics, lagDays, topN int) *Aggregator {
	if topN < 1 {
		topN = 10
	}
	return &Aggregator{
		store:   st,
		synth:   synth,
		logger:  logger,
		metrics: metrics,
		lagDays: lagDays,
		topN:    topN,
		now:     time.Now,
	}
}

// Aggregate computes totals, previous-period deltas, ranked lists, and data
// coverage for one site over an inclusive date range. The previous period is
// the equal-length range ending the day before periodStart.
func (a *Aggregator) Aggregate(ctx context.Context, siteID int64, periodStart, periodEnd time.Time, granularity string, topN int) (*store.Report, error) {
	if periodEnd.Before(periodStart) {
		return nil, fmt.Errorf("period end %s precedes period start %s", store.Day(periodEnd), store.Day(periodStart))
	}
	if topN < 1 {
		topN = a.topN
	}

	startDay, endDay := store.Day(periodStart), store.Day(periodEnd)
	expectedDays := int(periodEnd.Sub(periodStart).Hours()/24) + 1

	current, err := a.store.AggregateDailyMetrics(ctx, siteID, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate current period: %w", err)
	}

	prevEnd := periodStart.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(expectedDays - 1))
	previous, err := a.store.AggregateDailyMetrics(ctx, siteID, store.Day(prevStart), store.Day(prevEnd))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate previous period: %w", err)
	}

	topPages, err := a.store.TopPages(ctx, siteID, startDay, endDay, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to rank top pages: %w", err)
	}
	topQueries, err := a.store.TopQueries(ctx, siteID, startDay, endDay, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to rank top queries: %w", err)
	}

	report := &store.Report{
		ID:          uuid.NewString(),
		SiteID:      siteID,
		PeriodStart: startDay,
		PeriodEnd:   endDay,
		Granularity: granularity,

		Clicks:      current.Clicks,
		Impressions: current.Impressions,
		AvgCTR:      current.AvgCTR,
		AvgPosition: current.AvgPosition,

		ClicksChange:      pctChange(float64(current.Clicks), float64(previous.Clicks)),
		ImpressionsChange: pctChange(float64(current.Impressions), float64(previous.Impressions)),
		CTRChange:         pctChange(current.AvgCTR, previous.AvgCTR),
		// Point change, not a percentage: negative means the site moved up
		PositionChange: positionDelta(current, previous),

		TopPages:     topPages,
		TopQueries:   topQueries,
		DataCoverage: float64(current.DaysWithData) / float64(expectedDays),
	}
	return report, nil
}

// AggregateTrailing compares the trailing N days against the N days before
// them, both ending at the reporting lag floor.
func (a *Aggregator) AggregateTrailing(ctx context.Context, siteID int64, days, topN int) (*store.Report, error) {
	if days < 1 {
		return nil, fmt.Errorf("trailing window must be at least 1 day")
	}
	end := a.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -a.lagDays)
	start := end.AddDate(0, 0, -(days - 1))
	return a.Aggregate(ctx, siteID, start, end, GranularityTrailing, topN)
}

// BuildWeeklyReport aggregates the most recent complete week for a site,
// synthesizes insights, and persists the report. The returned report is what
// the delivery layer sends out.
func (a *Aggregator) BuildWeeklyReport(ctx context.Context, site *registry.Site) (*store.Report, error) {
	begin := time.Now()

	end := a.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -a.lagDays)
	start := end.AddDate(0, 0, -6)

	report, err := a.Aggregate(ctx, site.ID, start, end, GranularityWeekly, a.topN)
	if err != nil {
		a.metrics.ReportsGeneratedTotal.WithLabelValues(GranularityWeekly, "failure").Inc()
		return nil, err
	}

	res := a.synth.Synthesize(ctx, insights.Deltas{
		Clicks:            report.Clicks,
		Impressions:       report.Impressions,
		AvgCTR:            report.AvgCTR,
		AvgPosition:       report.AvgPosition,
		ClicksChange:      report.ClicksChange,
		ImpressionsChange: report.ImpressionsChange,
		CTRChange:         report.CTRChange,
		PositionChange:    report.PositionChange,
		DataCoverage:      report.DataCoverage,
	}, report.TopPages, report.TopQueries)
	report.Insights = res.Insights
	report.Recommendations = res.Recommendations

	if err := a.store.SaveReport(ctx, report); err != nil {
		a.metrics.ReportsGeneratedTotal.WithLabelValues(GranularityWeekly, "failure").Inc()
		return nil, fmt.Errorf("failed to save weekly report: %w", err)
	}

	a.metrics.ReportsGeneratedTotal.WithLabelValues(GranularityWeekly, "success").Inc()
	a.metrics.ReportDuration.Observe(time.Since(begin).Seconds())
	a.logger.WithSite(site.ID, site.Domain).WithFields(map[string]interface{}{
		"report_id":    report.ID,
		"period_start": report.PeriodStart,
		"period_end":   report.PeriodEnd,
		"coverage":     report.DataCoverage,
	}).Info("weekly report generated")

	return report, nil
}

// MarkDelivered records the delivery timestamp on a persisted report
func (a *Aggregator) MarkDelivered(ctx context.Context, reportID string, at time.Time) error {
	return a.store.MarkDelivered(ctx, reportID, at)
}

// pctChange is the percentage change from previous to current. A zero
// previous period yields 0, not a division error or an infinite swing.
func pctChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// positionDelta is the point change in average position. Periods without
// data carry a zero average that would fake a huge movement, so either side
// being empty yields 0.
func positionDelta(current, previous *store.PeriodTotals) float64 {
	if current.DaysWithData == 0 || previous.DaysWithData == 0 {
		return 0
	}
	return current.AvgPosition - previous.AvgPosition
}
