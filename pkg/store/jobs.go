package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateReconcileJob persists a new reconciliation job record together with
// its queued dates, so the pass is pollable from the moment it is accepted.
func (s *Store) CreateReconcileJob(ctx context.Context, job *ReconcileJob) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_jobs (id, requested_by, window_days, dates_total, dates_queued, status, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, job.ID, job.RequestedBy, job.WindowDays, job.DatesTotal, job.DatesQueued, job.Status, job.StartedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to create reconcile job: %w", err)
		}

		for _, d := range job.Dates {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reconcile_job_dates (job_id, date, status)
				VALUES ($1, $2, $3)
			`, job.ID, d.Date, d.Status); err != nil {
				return fmt.Errorf("failed to create reconcile job date %s: %w", d.Date, err)
			}
		}
		return nil
	})
}

// SetJobDateOutcome records one date's terminal classification and its
// per-site failures.
func (s *Store) SetJobDateOutcome(ctx context.Context, jobID, date, status string, failures []SiteFailure) error {
	payload, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}
	if failures == nil {
		payload = []byte("[]")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reconcile_job_dates
		SET status = $1, failures = $2
		WHERE job_id = $3 AND date = $4
	`, status, string(payload), jobID, date)
	if err != nil {
		return fmt.Errorf("failed to set job date outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job date not found: %s %s", jobID, date)
	}
	return nil
}

// FinishReconcileJob records the job's terminal status and tallies
func (s *Store) FinishReconcileJob(ctx context.Context, jobID, status string, synced, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reconcile_jobs
		SET status = $1, dates_synced = $2, dates_failed = $3, finished_at = $4
		WHERE id = $5
	`, status, synced, failed, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to finish reconcile job: %w", err)
	}
	return nil
}

// GetReconcileJob retrieves a job with its per-date outcomes
func (s *Store) GetReconcileJob(ctx context.Context, jobID string) (*ReconcileJob, error) {
	var job ReconcileJob
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, requested_by, window_days, dates_total, dates_queued, dates_synced, dates_failed, status, started_at, finished_at
		FROM reconcile_jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID, &job.RequestedBy, &job.WindowDays, &job.DatesTotal, &job.DatesQueued,
		&job.DatesSynced, &job.DatesFailed, &job.Status, &job.StartedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reconcile job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconcile job: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, status, failures
		FROM reconcile_job_dates
		WHERE job_id = $1
		ORDER BY date ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconcile job dates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d ReconcileJobDate
		var failures string
		if err := rows.Scan(&d.Date, &d.Status, &failures); err != nil {
			return nil, fmt.Errorf("failed to scan reconcile job date: %w", err)
		}
		if err := json.Unmarshal([]byte(failures), &d.Failures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failures: %w", err)
		}
		job.Dates = append(job.Dates, d)
	}
	return &job, rows.Err()
}
