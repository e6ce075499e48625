package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/searchconsole"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// Result summarizes what one Collect call wrote
type Result struct {
	ClicksWritten  int64 `json:"clicks_written"`
	PagesWritten   int   `json:"pages_written"`
	QueriesWritten int   `json:"queries_written"`
}

// Collector fetches one site's search performance for one date and persists
// it. Re-collection of an already-stored (site, date) overwrites via upsert.
type Collector struct {
	fetcher searchconsole.Fetcher
	store   *store.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	lagDays int
	now     func() time.Time
}

// New creates a collector. lagDays is the upstream data availability lag:
// dates newer than today minus lagDays are rejected.
func New(fetcher searchconsole.Fetcher, st *store.Store, logger *observability.Logger, metrics *observability.Metrics, lagDays int) *Collector {
	return &Collector{
		fetcher: fetcher,
		store:   st,
		logger:  logger,
		metrics: metrics,
		lagDays: lagDays,
		now:     time.Now,
	}
}

// LatestCollectableDate returns the newest date collection is allowed for
func (c *Collector) LatestCollectableDate() time.Time {
	today := c.now().UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -c.lagDays)
}

// Collect fetches and stores daily totals plus page and query breakdowns for
// one (site, date). Any fetch or write failure fails the whole call; rows
// written before the failure converge on the next successful pass via upsert.
func (c *Collector) Collect(ctx context.Context, site *registry.Site, date time.Time) (*Result, error) {
	start := time.Now()
	day := store.Day(date)
	log := c.logger.WithSite(site.ID, site.Domain).WithField("date", day)

	if floor := c.LatestCollectableDate(); date.After(floor) {
		return nil, &searchconsole.Error{
			Kind:    searchconsole.KindValidation,
			Op:      "Collect",
			SiteRef: site.PropertyURL,
			Err:     fmt.Errorf("date %s is newer than the reporting lag floor %s", day, store.Day(floor)),
		}
	}

	totals, err := c.fetcher.FetchDailyTotals(ctx, site.PropertyURL, date)
	if err != nil {
		c.recordFailure(log, err, start)
		return nil, fmt.Errorf("failed to fetch daily totals: %w", err)
	}

	pages, err := c.fetcher.FetchPageBreakdown(ctx, site.PropertyURL, date)
	if err != nil {
		c.recordFailure(log, err, start)
		return nil, fmt.Errorf("failed to fetch page breakdown: %w", err)
	}

	queries, err := c.fetcher.FetchQueryBreakdown(ctx, site.PropertyURL, date)
	if err != nil {
		c.recordFailure(log, err, start)
		return nil, fmt.Errorf("failed to fetch query breakdown: %w", err)
	}

	if err := c.store.UpsertDailyMetric(ctx, &store.DailyMetric{
		SiteID:      site.ID,
		Date:        day,
		Clicks:      totals.Clicks,
		Impressions: totals.Impressions,
		CTR:         totals.CTR,
		Position:    totals.Position,
	}); err != nil {
		c.recordFailure(log, err, start)
		return nil, fmt.Errorf("failed to store daily metric: %w", err)
	}
	c.metrics.MetricRowsWritten.WithLabelValues("daily_metrics").Inc()

	pageMetrics := make([]store.PageMetric, 0, len(pages))
	for _, p := range pages {
		pageMetrics = append(pageMetrics, store.PageMetric{
			SiteID:      site.ID,
			Date:        day,
			Page:        p.Page,
			Clicks:      p.Clicks,
			Impressions: p.Impressions,
			CTR:         p.CTR,
			Position:    p.Position,
		})
	}
	if err := c.store.UpsertPageMetrics(ctx, pageMetrics); err != nil {
		c.recordFailure(log, err, start)
		return nil, fmt.Errorf("failed to store page metrics: %w", err)
	}
	c.metrics.MetricRowsWritten.WithLabelValues("page_metrics").Add(float64(len(pageMetrics)))

	queryMetrics := make([]store.QueryMetric, 0, len(queries))
	for _, q := range queries {
		queryMetrics = append(queryMetrics, store.QueryMetric{
			SiteID:      site.ID,
			Date:        day,
			Query:       q.Query,
			Clicks:      q.Clicks,
			Impressions: q.Impressions,
			CTR:         q.CTR,
			Position:    q.Position,
		})
	}
	if err := c.store.UpsertQueryMetrics(ctx, queryMetrics); err != nil {
		c.recordFailure(log, err, start)
		return nil, fmt.Errorf("failed to store query metrics: %w", err)
	}
	c.metrics.MetricRowsWritten.WithLabelValues("query_metrics").Add(float64(len(queryMetrics)))

	c.metrics.CollectionsTotal.WithLabelValues("success").Inc()
	c.metrics.CollectionDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	log.WithFields(map[string]interface{}{
		"clicks":  totals.Clicks,
		"pages":   len(pageMetrics),
		"queries": len(queryMetrics),
	}).Info("collected site metrics")

	return &Result{
		ClicksWritten:  totals.Clicks,
		PagesWritten:   len(pageMetrics),
		QueriesWritten: len(queryMetrics),
	}, nil
}

func (c *Collector) recordFailure(log *observability.Logger, err error, start time.Time) {
	kind := searchconsole.KindOf(err)
	c.metrics.FetchErrorsTotal.WithLabelValues(kind.String()).Inc()
	c.metrics.CollectionsTotal.WithLabelValues("failure").Inc()
	c.metrics.CollectionDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
	log.WithError(err).WithField("kind", kind.String()).Warn("collection failed")
}
