package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertDailyMetric writes one (site, date) row, overwriting values on
// re-collection. The compound key is the sole concurrency guard: concurrent
// writers converge on last-write-wins values.
func (s *Store) UpsertDailyMetric(ctx context.Context, m *DailyMetric) error {
	query := `
		INSERT INTO daily_metrics (site_id, date, clicks, impressions, ctr, position, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_id, date) DO UPDATE SET
			clicks = EXCLUDED.clicks,
			impressions = EXCLUDED.impressions,
			ctr = EXCLUDED.ctr,
			position = EXCLUDED.position,
			collected_at = EXCLUDED.collected_at
	`
	_, err := s.db.ExecContext(ctx, query,
		m.SiteID, m.Date, m.Clicks, m.Impressions, m.CTR, m.Position, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily metric: %w", err)
	}
	return nil
}

// UpsertPageMetrics writes per-page rows for one (site, date) in a single
// transaction so a breakdown is never half-written.
func (s *Store) UpsertPageMetrics(ctx context.Context, metrics []PageMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	query := `
		INSERT INTO page_metrics (site_id, date, page, clicks, impressions, ctr, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_id, date, page) DO UPDATE SET
			clicks = EXCLUDED.clicks,
			impressions = EXCLUDED.impressions,
			ctr = EXCLUDED.ctr,
			position = EXCLUDED.position
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare page metric upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range metrics {
			if _, err := stmt.ExecContext(ctx,
				m.SiteID, m.Date, m.Page, m.Clicks, m.Impressions, m.CTR, m.Position,
			); err != nil {
				return fmt.Errorf("failed to upsert page metric for %s: %w", m.Page, err)
			}
		}
		return nil
	})
}

// UpsertQueryMetrics writes per-query rows for one (site, date) in a single
// transaction.
func (s *Store) UpsertQueryMetrics(ctx context.Context, metrics []QueryMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	query := `
		INSERT INTO query_metrics (site_id, date, query, clicks, impressions, ctr, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_id, date, query) DO UPDATE SET
			clicks = EXCLUDED.clicks,
			impressions = EXCLUDED.impressions,
			ctr = EXCLUDED.ctr,
			position = EXCLUDED.position
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare query metric upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range metrics {
			if _, err := stmt.ExecContext(ctx,
				m.SiteID, m.Date, m.Query, m.Clicks, m.Impressions, m.CTR, m.Position,
			); err != nil {
				return fmt.Errorf("failed to upsert query metric for %q: %w", m.Query, err)
			}
		}
		return nil
	})
}

// GetDailyMetrics returns one site's rows over an inclusive date range,
// ordered by date ascending.
func (s *Store) GetDailyMetrics(ctx context.Context, siteID int64, start, end string) ([]DailyMetric, error) {
	query := `
		SELECT site_id, date, clicks, impressions, ctr, position, collected_at
		FROM daily_metrics
		WHERE site_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := s.db.QueryContext(ctx, query, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []DailyMetric
	for rows.Next() {
		var m DailyMetric
		if err := rows.Scan(&m.SiteID, &m.Date, &m.Clicks, &m.Impressions, &m.CTR, &m.Position, &m.CollectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// CoveredSiteIDs returns which of the given sites already have a daily
// metric row for date. Used by the reconciler's per-site coverage check.
func (s *Store) CoveredSiteIDs(ctx context.Context, date string, siteIDs []int64) (map[int64]bool, error) {
	covered := make(map[int64]bool, len(siteIDs))
	if len(siteIDs) == 0 {
		return covered, nil
	}

	query := `SELECT site_id FROM daily_metrics WHERE date = $1 AND site_id IN (` + placeholders(2, len(siteIDs)) + `)`
	args := make([]interface{}, 0, len(siteIDs)+1)
	args = append(args, date)
	for _, id := range siteIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage for %s: %w", date, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan covered site id: %w", err)
		}
		covered[id] = true
	}
	return covered, rows.Err()
}

// AggregateDailyMetrics computes period totals for one site over an
// inclusive date range.
func (s *Store) AggregateDailyMetrics(ctx context.Context, siteID int64, start, end string) (*PeriodTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(clicks), 0),
			COALESCE(SUM(impressions), 0),
			COALESCE(AVG(ctr), 0),
			COALESCE(AVG(position), 0),
			COUNT(*)
		FROM daily_metrics
		WHERE site_id = $1 AND date >= $2 AND date <= $3
	`
	var t PeriodTotals
	err := s.db.QueryRowContext(ctx, query, siteID, start, end).Scan(
		&t.Clicks, &t.Impressions, &t.AvgCTR, &t.AvgPosition, &t.DaysWithData,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to aggregate daily metrics: %w", err)
	}
	return &t, nil
}

// TopPages ranks pages over an inclusive date range by total clicks
// descending, tie-broken by impressions descending.
func (s *Store) TopPages(ctx context.Context, siteID int64, start, end string, limit int) ([]TopEntry, error) {
	query := `
		SELECT page, SUM(clicks) AS clicks, SUM(impressions) AS impressions,
			COALESCE(AVG(ctr), 0), COALESCE(AVG(position), 0)
		FROM page_metrics
		WHERE site_id = $1 AND date >= $2 AND date <= $3
		GROUP BY page
		ORDER BY clicks DESC, impressions DESC
		LIMIT $4
	`
	return s.topEntries(ctx, query, siteID, start, end, limit)
}

// TopQueries ranks queries over an inclusive date range by total clicks
// descending, tie-broken by impressions descending.
func (s *Store) TopQueries(ctx context.Context, siteID int64, start, end string, limit int) ([]TopEntry, error) {
	query := `
		SELECT query, SUM(clicks) AS clicks, SUM(impressions) AS impressions,
			COALESCE(AVG(ctr), 0), COALESCE(AVG(position), 0)
		FROM query_metrics
		WHERE site_id = $1 AND date >= $2 AND date <= $3
		GROUP BY query
		ORDER BY clicks DESC, impressions DESC
		LIMIT $4
	`
	return s.topEntries(ctx, query, siteID, start, end, limit)
}

func (s *Store) topEntries(ctx context.Context, query string, siteID int64, start, end string, limit int) ([]TopEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, siteID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top entries: %w", err)
	}
	defer rows.Close()

	var entries []TopEntry
	for rows.Next() {
		var e TopEntry
		if err := rows.Scan(&e.Key, &e.Clicks, &e.Impressions, &e.CTR, &e.Position); err != nil {
			return nil, fmt.Errorf("failed to scan top entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// placeholders renders $start..$start+count-1 for IN clauses
func placeholders(start, count int) string {
	out := ""
	for i := 0; i < count; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("$%d", start+i)
	}
	return out
}
