package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetScheduleConfig returns the persisted state for one job type
func (s *Store) GetScheduleConfig(ctx context.Context, jobType string) (*ScheduleConfig, error) {
	query := `
		SELECT job_type, cron_expr, enabled, running, last_run_at, last_error
		FROM schedule_configs
		WHERE job_type = $1
	`
	var cfg ScheduleConfig
	var lastRun sql.NullTime
	err := s.db.QueryRowContext(ctx, query, jobType).Scan(
		&cfg.JobType, &cfg.CronExpr, &cfg.Enabled, &cfg.Running, &lastRun, &cfg.LastError,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule config not found: %s", jobType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule config: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		cfg.LastRunAt = &t
	}
	return &cfg, nil
}

// EnsureScheduleConfig inserts a job type's row if absent; an existing row
// (including its enabled flag and cron expression) is left untouched so
// administrative changes survive restarts.
func (s *Store) EnsureScheduleConfig(ctx context.Context, jobType, cronExpr string) error {
	query := `
		INSERT INTO schedule_configs (job_type, cron_expr, enabled, running)
		VALUES ($1, $2, TRUE, FALSE)
		ON CONFLICT (job_type) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, jobType, cronExpr); err != nil {
		return fmt.Errorf("failed to ensure schedule config: %w", err)
	}
	return nil
}

// ClearRunning releases a run lock left behind by a worker that died
// mid-run. Called once at startup, before the job is scheduled.
func (s *Store) ClearRunning(ctx context.Context, jobType string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE schedule_configs SET running = FALSE WHERE job_type = $1", jobType)
	if err != nil {
		return fmt.Errorf("failed to clear run lock: %w", err)
	}
	return nil
}

// SetScheduleEnabled flips the enabled flag for a job type
func (s *Store) SetScheduleEnabled(ctx context.Context, jobType string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE schedule_configs SET enabled = $1 WHERE job_type = $2", enabled, jobType)
	if err != nil {
		return fmt.Errorf("failed to set schedule enabled: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("schedule config not found: %s", jobType)
	}
	return nil
}

// TryMarkRunning atomically claims the run lock for a job type. It returns
// false when the job is disabled or another run still holds the lock.
func (s *Store) TryMarkRunning(ctx context.Context, jobType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_configs
		SET running = TRUE
		WHERE job_type = $1 AND enabled = TRUE AND running = FALSE
	`, jobType)
	if err != nil {
		return false, fmt.Errorf("failed to claim run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read run lock result: %w", err)
	}
	return n == 1, nil
}

// FinishRun releases the run lock and records the outcome. A failed run is
// recorded but never disables the job.
func (s *Store) FinishRun(ctx context.Context, jobType string, runErr error) error {
	lastError := ""
	if runErr != nil {
		lastError = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedule_configs
		SET running = FALSE, last_run_at = $1, last_error = $2
		WHERE job_type = $3
	`, time.Now().UTC(), lastError, jobType)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}
