package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/searchpulse/pkg/collector"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// Collector collects one site's metrics for one date
type Collector interface {
	Collect(ctx context.Context, site *registry.Site, date time.Time) (*collector.Result, error)
	LatestCollectableDate() time.Time
}

// ReportBuilder builds and persists one site's weekly report
type ReportBuilder interface {
	BuildWeeklyReport(ctx context.Context, site *registry.Site) (*store.Report, error)
	MarkDelivered(ctx context.Context, reportID string, at time.Time) error
}

// Deliverer hands a finished report to the delivery channel (email, webhook).
// The scheduler marks the report delivered only when Deliver returns nil.
type Deliverer interface {
	Deliver(ctx context.Context, site *registry.Site, report *store.Report) error
}

// LogDeliverer is the default delivery channel: it logs the report summary.
// Deployments wire a real channel in its place.
type LogDeliverer struct {
	Logger *observability.Logger
}

// Deliver logs the report headline numbers
func (d *LogDeliverer) Deliver(_ context.Context, site *registry.Site, report *store.Report) error {
	d.Logger.WithSite(site.ID, site.Domain).WithFields(map[string]interface{}{
		"report_id":   report.ID,
		"clicks":      report.Clicks,
		"impressions": report.Impressions,
	}).Info("report ready for delivery")
	return nil
}

// Scheduler runs the recurring collection and reporting jobs. Every trigger
// re-reads the persisted schedule state so operators can disable a job
// without a restart, and a running flag keeps a slow run from overlapping
// the next trigger.
type Scheduler struct {
	store     *store.Store
	registry  *registry.Store
	collector Collector
	reports   ReportBuilder
	deliverer Deliverer
	logger    *observability.Logger
	metrics   *observability.Metrics
	cron      *cron.Cron
	now       func() time.Time
}

// New creates a scheduler
func New(st *store.Store, reg *registry.Store, c Collector, rb ReportBuilder, d Deliverer, logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		store:     st,
		registry:  reg,
		collector: c,
		reports:   rb,
		deliverer: d,
		logger:    logger,
		metrics:   metrics,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start registers the cron entries and begins triggering. Schedule rows are
// seeded if absent; existing rows keep their enabled state. Run locks left
// behind by a crashed worker are released before the first trigger.
func (s *Scheduler) Start(ctx context.Context, collectionExpr, reportingExpr string) error {
	jobs := []struct {
		jobType string
		expr    string
	}{
		{store.JobTypeCollection, collectionExpr},
		{store.JobTypeReporting, reportingExpr},
	}
	for _, j := range jobs {
		if err := s.store.EnsureScheduleConfig(ctx, j.jobType, j.expr); err != nil {
			return fmt.Errorf("failed to seed %s schedule: %w", j.jobType, err)
		}
		if err := s.store.ClearRunning(ctx, j.jobType); err != nil {
			return fmt.Errorf("failed to release stale %s run lock: %w", j.jobType, err)
		}
	}

	if _, err := s.cron.AddFunc(collectionExpr, func() {
		s.Trigger(ctx, store.JobTypeCollection, s.RunCollection)
	}); err != nil {
		return fmt.Errorf("invalid collection schedule %q: %w", collectionExpr, err)
	}
	if _, err := s.cron.AddFunc(reportingExpr, func() {
		s.Trigger(ctx, store.JobTypeReporting, s.RunReporting)
	}); err != nil {
		return fmt.Errorf("invalid reporting schedule %q: %w", reportingExpr, err)
	}

	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"collection_schedule": collectionExpr,
		"reporting_schedule":  reportingExpr,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for in-flight runs
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// Trigger executes one scheduled run of jobType under the persisted state
// machine: disabled rows no-op, a held running flag skips the trigger, and
// the outcome lands in last_run_at/last_error.
func (s *Scheduler) Trigger(ctx context.Context, jobType string, fn func(context.Context) error) {
	log := s.logger.WithField("job_type", jobType)

	cfg, err := s.store.GetScheduleConfig(ctx, jobType)
	if err != nil {
		log.WithError(err).Error("failed to read schedule state")
		return
	}
	if !cfg.Enabled {
		log.Info("job disabled, skipping run")
		s.metrics.ScheduledRunSkipped.WithLabelValues(jobType, "disabled").Inc()
		return
	}

	claimed, err := s.store.TryMarkRunning(ctx, jobType)
	if err != nil {
		log.WithError(err).Error("failed to claim run")
		return
	}
	if !claimed {
		log.Warn("previous run still in progress, skipping trigger")
		s.metrics.ScheduledRunSkipped.WithLabelValues(jobType, "running").Inc()
		return
	}

	runErr := fn(ctx)
	if err := s.store.FinishRun(ctx, jobType, runErr); err != nil {
		log.WithError(err).Error("failed to record run outcome")
	}

	if runErr != nil {
		log.WithError(runErr).Error("scheduled run failed")
		s.metrics.ScheduledRunsTotal.WithLabelValues(jobType, "failure").Inc()
		return
	}
	s.metrics.ScheduledRunsTotal.WithLabelValues(jobType, "success").Inc()
}

// RunCollection collects the latest collectable date for every active site.
// One site's failure never blocks the others; the run errors only when every
// site failed or the registry is unreadable.
func (s *Scheduler) RunCollection(ctx context.Context) error {
	sites, err := s.registry.ListActiveSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sites: %w", err)
	}
	if len(sites) == 0 {
		s.logger.Info("no active sites to collect")
		return nil
	}

	date := s.collector.LatestCollectableDate()
	failed := 0
	for i := range sites {
		site := &sites[i]
		if _, err := s.collector.Collect(ctx, site, date); err != nil {
			failed++
			s.logger.WithError(err).WithSite(site.ID, site.Domain).Warn("site collection failed")
		}
	}

	if failed == len(sites) {
		return fmt.Errorf("collection failed for all %d sites on %s", len(sites), store.Day(date))
	}
	s.logger.WithFields(map[string]interface{}{
		"date":   store.Day(date),
		"sites":  len(sites),
		"failed": failed,
	}).Info("collection run finished")
	return nil
}

// RunReporting builds and delivers the weekly report for every active site.
// A report is marked delivered only after the delivery channel accepts it.
func (s *Scheduler) RunReporting(ctx context.Context) error {
	sites, err := s.registry.ListActiveSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sites: %w", err)
	}

	failed := 0
	for i := range sites {
		site := &sites[i]
		log := s.logger.WithSite(site.ID, site.Domain)

		report, err := s.reports.BuildWeeklyReport(ctx, site)
		if err != nil {
			failed++
			log.WithError(err).Warn("weekly report failed")
			continue
		}

		if err := s.deliverer.Deliver(ctx, site, report); err != nil {
			log.WithError(err).Warn("report delivery failed, will retry next run")
			continue
		}
		if err := s.reports.MarkDelivered(ctx, report.ID, s.now().UTC()); err != nil {
			log.WithError(err).Error("failed to mark report delivered")
		}
	}

	if len(sites) > 0 && failed == len(sites) {
		return fmt.Errorf("reporting failed for all %d sites", len(sites))
	}
	return nil
}
