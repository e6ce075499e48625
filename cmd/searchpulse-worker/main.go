package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/searchpulse/pkg/collector"
	"github.com/platinummonkey/searchpulse/pkg/config"
	"github.com/platinummonkey/searchpulse/pkg/insights"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/reconciler"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/reports"
	"github.com/platinummonkey/searchpulse/pkg/scheduler"
	"github.com/platinummonkey/searchpulse/pkg/searchconsole"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

var (
	runOnce     = flag.Bool("run-once", false, "Run one job and exit instead of scheduling")
	job         = flag.String("job", "collection", "Job to run with --run-once: collection, reporting, or backfill")
	date        = flag.String("date", "", "Date to collect (YYYY-MM-DD). Defaults to the reporting lag floor. Only used with --run-once --job=collection")
	windowDays  = flag.Int("window-days", 0, "Backfill window in days. Only used with --run-once --job=backfill")
	pollSeconds = flag.Int("poll-seconds", 5, "Backfill job poll interval in seconds")
)

func main() {
	flag.Parse()

	startupLog := logrus.New()
	startupLog.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	ctx := context.Background()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.URL,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnLifetime)
	if err != nil {
		startupLog.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	if err := registry.RunMigrations(ctx, st.DB(), cfg.Database.Driver); err != nil {
		startupLog.Fatalf("Failed to run registry migrations: %v", err)
	}
	if err := store.RunMigrations(ctx, st.DB()); err != nil {
		startupLog.Fatalf("Failed to run store migrations: %v", err)
	}

	reg := registry.NewStore(st.DB())

	var tokens oauth2.TokenSource
	if token := os.Getenv("SEARCHPULSE_ANALYTICS_TOKEN"); token != "" {
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	}
	fetcher := searchconsole.NewClient(tokens, cfg.Collector.FetchTimeout,
		searchconsole.WithRowLimit(cfg.Collector.RowLimit))
	coll := collector.New(fetcher, st, logger, metrics, cfg.Collector.ReportingLagDays)
	rec := reconciler.New(coll, st, logger, metrics,
		cfg.Collector.ReportingLagDays, cfg.Collector.MaxParallelSites)

	var synth insights.Synthesizer = insights.NewBaseline()
	if cfg.Insights.EnrichmentEnabled {
		enricher := insights.NewHTTPEnricher(cfg.Insights.EnrichmentURL, cfg.Insights.EnrichmentModel,
			cfg.Insights.EnrichmentAPIKey, cfg.Insights.EnrichmentTimeout)
		synth = insights.NewEnriched(insights.NewBaseline(), enricher, logger, metrics)
	}
	agg := reports.New(st, synth, logger, metrics, cfg.Collector.ReportingLagDays, cfg.Insights.TopN)

	sched := scheduler.New(st, reg, coll, agg, &scheduler.LogDeliverer{Logger: logger}, logger, metrics)

	if *runOnce {
		if err := runSingleJob(ctx, startupLog, cfg, sched, coll, rec, reg); err != nil {
			startupLog.Fatalf("Job failed: %v", err)
		}
		startupLog.Info("Job completed successfully")
		return
	}

	if err := sched.Start(ctx, cfg.Scheduler.CollectionSchedule, cfg.Scheduler.ReportingSchedule); err != nil {
		startupLog.Fatalf("Failed to start scheduler: %v", err)
	}
	startupLog.Infof("Worker started (collection: %s, reporting: %s)",
		cfg.Scheduler.CollectionSchedule, cfg.Scheduler.ReportingSchedule)

	metricsServer := startMetricsServer(cfg, metrics, promRegistry, logger)

	shutdown := observability.NewShutdownManager(logger, metricsServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		sched.Stop()
		return nil
	})
	if err := shutdown.WaitForShutdown(); err != nil {
		startupLog.Errorf("Shutdown finished with errors: %v", err)
		os.Exit(1)
	}
}

func runSingleJob(ctx context.Context, startupLog *logrus.Logger, cfg *config.Config, sched *scheduler.Scheduler, coll *collector.Collector, rec *reconciler.Reconciler, reg *registry.Store) error {
	switch *job {
	case "collection":
		if *date == "" {
			startupLog.Infof("Collecting %s for all active sites", store.Day(coll.LatestCollectableDate()))
			return sched.RunCollection(ctx)
		}
		return collectDate(ctx, startupLog, coll, reg, *date)

	case "reporting":
		startupLog.Info("Building weekly reports for all active sites")
		return sched.RunReporting(ctx)

	case "backfill":
		window := *windowDays
		if window <= 0 {
			window = cfg.Collector.DefaultWindowDays
		}
		return runBackfill(ctx, startupLog, rec, reg, window)

	default:
		return errUnknownJob(*job)
	}
}

func collectDate(ctx context.Context, startupLog *logrus.Logger, coll *collector.Collector, reg *registry.Store, day string) error {
	parsed, err := store.ParseDay(day)
	if err != nil {
		return err
	}
	sites, err := reg.ListActiveSites(ctx)
	if err != nil {
		return err
	}

	startupLog.Infof("Collecting %s for %d sites", day, len(sites))
	failed := 0
	for i := range sites {
		site := &sites[i]
		if _, err := coll.Collect(ctx, site, parsed); err != nil {
			failed++
			startupLog.Warnf("Collection failed for %s: %v", site.Domain, err)
		}
	}
	if failed == len(sites) && len(sites) > 0 {
		return errAllSitesFailed{date: day, sites: len(sites)}
	}
	return nil
}

// runBackfill triggers a reconciliation job and polls it to completion so
// run-once invocations exit with the job's real outcome.
func runBackfill(ctx context.Context, startupLog *logrus.Logger, rec *reconciler.Reconciler, reg *registry.Store, window int) error {
	sites, err := reg.ListActiveSites(ctx)
	if err != nil {
		return err
	}

	job, err := rec.ReconcileWindow(ctx, sites, window, "worker-backfill")
	if err != nil {
		return err
	}
	startupLog.Infof("Backfill job %s queued %d dates over %d days", job.ID, job.DatesQueued, window)

	// The background pass is bounded by the reconciler's job timeout, so a
	// job still running well past that means the worker holding it died.
	interval := time.Duration(*pollSeconds) * time.Second
	deadline := time.Now().Add(backfillPollTimeout)
	for job.Status == store.JobStatusRunning {
		if time.Now().After(deadline) {
			return errBackfillTimedOut{jobID: job.ID, after: backfillPollTimeout}
		}
		time.Sleep(interval)
		job, err = rec.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
	}

	startupLog.Infof("Backfill job %s finished: %d synced, %d failed", job.ID, job.DatesSynced, job.DatesFailed)
	if job.Status == store.JobStatusFailed {
		return errBackfillFailed{jobID: job.ID}
	}
	return nil
}

func startMetricsServer(cfg *config.Config, metrics *observability.Metrics, registry *prometheus.Registry, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", metrics.Handler(registry))
	}

	server := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	return server
}

type errUnknownJob string

func (e errUnknownJob) Error() string {
	return "unknown job " + string(e) + " (want collection, reporting, or backfill)"
}

type errAllSitesFailed struct {
	date  string
	sites int
}

func (e errAllSitesFailed) Error() string {
	return fmt.Sprintf("collection failed for all %d sites on %s", e.sites, e.date)
}

type errBackfillFailed struct {
	jobID string
}

func (e errBackfillFailed) Error() string {
	return "backfill job " + e.jobID + " failed for every date"
}

// backfillPollTimeout runs past the reconciler's one-hour job bound so a
// healthy long pass is never abandoned mid-poll.
const backfillPollTimeout = 90 * time.Minute

type errBackfillTimedOut struct {
	jobID string
	after time.Duration
}

func (e errBackfillTimedOut) Error() string {
	return fmt.Sprintf("backfill job %s still running after %s, giving up polling", e.jobID, e.after)
}
