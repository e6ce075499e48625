package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all metric-store migrations. The schema is
// driver-neutral: every table keys on a natural compound key or a TEXT id,
// and dates are TEXT in ISO form so inclusive range scans behave identically
// on postgres and sqlite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create daily_metrics table",
			SQL: `
				CREATE TABLE IF NOT EXISTS daily_metrics (
					site_id BIGINT NOT NULL,
					date TEXT NOT NULL,
					clicks BIGINT NOT NULL DEFAULT 0,
					impressions BIGINT NOT NULL DEFAULT 0,
					ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
					position DOUBLE PRECISION NOT NULL DEFAULT 0,
					collected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (site_id, date)
				);

				CREATE INDEX IF NOT EXISTS idx_daily_metrics_date ON daily_metrics(date);
			`,
		},
		{
			Version:     2,
			Description: "Create page_metrics table",
			SQL: `
				CREATE TABLE IF NOT EXISTS page_metrics (
					site_id BIGINT NOT NULL,
					date TEXT NOT NULL,
					page TEXT NOT NULL,
					clicks BIGINT NOT NULL DEFAULT 0,
					impressions BIGINT NOT NULL DEFAULT 0,
					ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
					position DOUBLE PRECISION NOT NULL DEFAULT 0,
					PRIMARY KEY (site_id, date, page)
				);

				CREATE INDEX IF NOT EXISTS idx_page_metrics_site_date ON page_metrics(site_id, date);
			`,
		},
		{
			Version:     3,
			Description: "Create query_metrics table",
			SQL: `
				CREATE TABLE IF NOT EXISTS query_metrics (
					site_id BIGINT NOT NULL,
					date TEXT NOT NULL,
					query TEXT NOT NULL,
					clicks BIGINT NOT NULL DEFAULT 0,
					impressions BIGINT NOT NULL DEFAULT 0,
					ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
					position DOUBLE PRECISION NOT NULL DEFAULT 0,
					PRIMARY KEY (site_id, date, query)
				);

				CREATE INDEX IF NOT EXISTS idx_query_metrics_site_date ON query_metrics(site_id, date);
			`,
		},
		{
			Version:     4,
			Description: "Create reports table",
			SQL: `
				CREATE TABLE IF NOT EXISTS reports (
					id TEXT PRIMARY KEY,
					site_id BIGINT NOT NULL,
					period_start TEXT NOT NULL,
					period_end TEXT NOT NULL,
					granularity TEXT NOT NULL,
					clicks BIGINT NOT NULL DEFAULT 0,
					impressions BIGINT NOT NULL DEFAULT 0,
					avg_ctr DOUBLE PRECISION NOT NULL DEFAULT 0,
					avg_position DOUBLE PRECISION NOT NULL DEFAULT 0,
					clicks_change DOUBLE PRECISION NOT NULL DEFAULT 0,
					impressions_change DOUBLE PRECISION NOT NULL DEFAULT 0,
					ctr_change DOUBLE PRECISION NOT NULL DEFAULT 0,
					position_change DOUBLE PRECISION NOT NULL DEFAULT 0,
					top_pages TEXT NOT NULL DEFAULT '[]',
					top_queries TEXT NOT NULL DEFAULT '[]',
					insights TEXT NOT NULL DEFAULT '[]',
					recommendations TEXT NOT NULL DEFAULT '[]',
					data_coverage DOUBLE PRECISION NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					delivered_at TIMESTAMP,
					UNIQUE (site_id, period_start, period_end)
				);

				CREATE INDEX IF NOT EXISTS idx_reports_site_id ON reports(site_id);
			`,
		},
		{
			Version:     5,
			Description: "Create schedule_configs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS schedule_configs (
					job_type TEXT PRIMARY KEY,
					cron_expr TEXT NOT NULL,
					enabled BOOLEAN NOT NULL DEFAULT TRUE,
					running BOOLEAN NOT NULL DEFAULT FALSE,
					last_run_at TIMESTAMP,
					last_error TEXT NOT NULL DEFAULT ''
				);
			`,
		},
		{
			Version:     6,
			Description: "Create reconcile job tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS reconcile_jobs (
					id TEXT PRIMARY KEY,
					requested_by TEXT NOT NULL DEFAULT '',
					window_days INT NOT NULL,
					dates_total INT NOT NULL DEFAULT 0,
					dates_queued INT NOT NULL DEFAULT 0,
					dates_synced INT NOT NULL DEFAULT 0,
					dates_failed INT NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					finished_at TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS reconcile_job_dates (
					job_id TEXT NOT NULL,
					date TEXT NOT NULL,
					status TEXT NOT NULL,
					failures TEXT NOT NULL DEFAULT '[]',
					PRIMARY KEY (job_id, date)
				);
			`,
		},
	}
}

// RunMigrations executes all pending metric-store migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS store_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM store_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO store_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
