package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/searchpulse/pkg/async"
	"github.com/platinummonkey/searchpulse/pkg/collector"
	"github.com/platinummonkey/searchpulse/pkg/observability"
	"github.com/platinummonkey/searchpulse/pkg/registry"
	"github.com/platinummonkey/searchpulse/pkg/searchconsole"
	"github.com/platinummonkey/searchpulse/pkg/store"
)

// defaultJobTimeout bounds a detached reconciliation pass
const defaultJobTimeout = time.Hour

// SiteCollector collects one site's metrics for one date
type SiteCollector interface {
	Collect(ctx context.Context, site *registry.Site, date time.Time) (*collector.Result, error)
}

// Reconciler finds calendar dates with missing metric rows inside the
// recent collection window and backfills them. A reconciliation pass is
// recorded as a pollable job so callers can observe progress after the
// trigger call returns.
type Reconciler struct {
	collector   SiteCollector
	store       *store.Store
	logger      *observability.Logger
	metrics     *observability.Metrics
	lagDays     int
	maxParallel int
	jobTimeout  time.Duration
	now         func() time.Time
}

// New creates a reconciler. maxParallel bounds per-date site fan-out.
func New(c SiteCollector, st *store.Store, logger *observability.Logger, metrics *observability.Metrics, lagDays, maxParallel int) *Reconciler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Reconciler{
		collector:   c,
		store:       st,
		logger:      logger,
		metrics:     metrics,
		lagDays:     lagDays,
		maxParallel: maxParallel,
		jobTimeout:  defaultJobTimeout,
		now:         time.Now,
	}
}

// FindMissingDates returns the dates inside the window where at least one of
// the given sites has no daily metric row. The window runs from
// today-lag back windowDays days; dates come back in ascending order.
func (r *Reconciler) FindMissingDates(ctx context.Context, sites []registry.Site, windowDays int) ([]time.Time, error) {
	if len(sites) == 0 || windowDays < 1 {
		return nil, nil
	}

	siteIDs := make([]int64, len(sites))
	for i, s := range sites {
		siteIDs[i] = s.ID
	}

	newest := r.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -r.lagDays)

	var missing []time.Time
	for i := windowDays - 1; i >= 0; i-- {
		date := newest.AddDate(0, 0, -i)
		covered, err := r.store.CoveredSiteIDs(ctx, store.Day(date), siteIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to check coverage for %s: %w", store.Day(date), err)
		}
		if len(covered) < len(siteIDs) {
			missing = append(missing, date)
		}
	}
	return missing, nil
}

// ReconcileWindow creates a job record for the missing dates in the window
// and returns it immediately; collection continues in the background. Poll
// GetJob for per-date outcomes.
func (r *Reconciler) ReconcileWindow(ctx context.Context, sites []registry.Site, windowDays int, requestedBy string) (*store.ReconcileJob, error) {
	missing, err := r.FindMissingDates(ctx, sites, windowDays)
	if err != nil {
		return nil, err
	}

	job := &store.ReconcileJob{
		ID:          uuid.NewString(),
		RequestedBy: requestedBy,
		WindowDays:  windowDays,
		DatesTotal:  len(missing),
		DatesQueued: len(missing),
		Status:      store.JobStatusRunning,
		StartedAt:   r.now().UTC(),
	}
	for _, d := range missing {
		job.Dates = append(job.Dates, store.ReconcileJobDate{
			Date:   store.Day(d),
			Status: store.DateStatusPending,
		})
	}

	if err := r.store.CreateReconcileJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create reconcile job: %w", err)
	}

	if len(missing) == 0 {
		if err := r.store.FinishReconcileJob(ctx, job.ID, store.JobStatusCompleted, 0, 0); err != nil {
			return nil, fmt.Errorf("failed to finish empty reconcile job: %w", err)
		}
		job.Status = store.JobStatusCompleted
		r.metrics.ReconcileJobsTotal.WithLabelValues(store.JobStatusCompleted).Inc()
		return job, nil
	}

	log := r.logger.WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"window_days": windowDays,
		"dates":       len(missing),
		"sites":       len(sites),
	})
	log.Info("starting reconciliation")

	// Detached from the request context: the trigger call returns before
	// collection finishes.
	async.SafeGo(context.Background(), log, r.jobTimeout, "reconcile window", func(bgCtx context.Context) error {
		return r.run(bgCtx, job.ID, sites, missing)
	})

	return job, nil
}

// GetJob returns a job with its per-date outcomes
func (r *Reconciler) GetJob(ctx context.Context, jobID string) (*store.ReconcileJob, error) {
	return r.store.GetReconcileJob(ctx, jobID)
}

func (r *Reconciler) run(ctx context.Context, jobID string, sites []registry.Site, dates []time.Time) error {
	synced, failed := 0, 0

	for _, date := range dates {
		if ctx.Err() != nil {
			r.markFailed(ctx, jobID, synced, failed)
			return ctx.Err()
		}

		status, failures := r.reconcileDate(ctx, sites, date)
		if status == store.DateStatusSynced {
			synced++
			r.metrics.ReconcileDatesSynced.Inc()
		} else {
			failed++
			r.metrics.ReconcileDatesFailed.Inc()
		}

		if err := r.store.SetJobDateOutcome(ctx, jobID, store.Day(date), status, failures); err != nil {
			r.markFailed(ctx, jobID, synced, failed)
			return fmt.Errorf("failed to record outcome for %s: %w", store.Day(date), err)
		}
	}

	r.metrics.ReconcileJobsTotal.WithLabelValues(store.JobStatusCompleted).Inc()
	if err := r.store.FinishReconcileJob(ctx, jobID, store.JobStatusCompleted, synced, failed); err != nil {
		r.markFailed(ctx, jobID, synced, failed)
		return fmt.Errorf("failed to finish job: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"job_id": jobID,
		"synced": synced,
		"failed": failed,
	}).Info("reconciliation finished")
	return nil
}

// markFailed moves a job out of the running state when the pass cannot
// record its outcome, so pollers are not left watching a job that will
// never finish. Best effort; the primary error is what run returns.
func (r *Reconciler) markFailed(ctx context.Context, jobID string, synced, failed int) {
	r.metrics.ReconcileJobsTotal.WithLabelValues(store.JobStatusFailed).Inc()
	if err := r.store.FinishReconcileJob(context.WithoutCancel(ctx), jobID, store.JobStatusFailed, synced, failed); err != nil {
		r.logger.WithError(err).WithField("job_id", jobID).Error("failed to mark reconcile job failed")
	}
}

// reconcileDate collects one date across all sites with bounded parallelism.
// The date is synced when at least one site has data for it afterwards;
// failed only when every attempted site failed. One site's failure never
// cancels its siblings.
func (r *Reconciler) reconcileDate(ctx context.Context, sites []registry.Site, date time.Time) (string, []store.SiteFailure) {
	siteIDs := make([]int64, len(sites))
	for i, s := range sites {
		siteIDs[i] = s.ID
	}
	covered, err := r.store.CoveredSiteIDs(ctx, store.Day(date), siteIDs)
	if err != nil {
		r.logger.WithError(err).WithField("date", store.Day(date)).Error("coverage check failed")
		covered = map[int64]bool{}
	}

	var (
		mu        sync.Mutex
		failures  []store.SiteFailure
		attempted int
		succeeded int
	)

	g := boundedGroup(ctx, r.maxParallel)
	for _, site := range sites {
		if covered[site.ID] {
			continue
		}
		attempted++
		site := site
		g.Go(func() error {
			_, err := r.collector.Collect(ctx, &site, date)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, store.SiteFailure{
					SiteID: site.ID,
					Domain: site.Domain,
					Kind:   searchconsole.KindOf(err).String(),
					Error:  err.Error(),
				})
				return nil
			}
			succeeded++
			return nil
		})
	}
	g.Wait()

	// Sites that already had rows count toward the synced classification:
	// the invariant is "at least one site has data for the date".
	if succeeded > 0 || len(covered) > 0 || attempted == 0 {
		return store.DateStatusSynced, failures
	}
	return store.DateStatusFailed, failures
}

func boundedGroup(ctx context.Context, limit int) *errgroup.Group {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	return g
}
