package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveReport upserts a report on its (site, period_start, period_end) key.
// Regenerating a period's report overwrites the previous content but keeps
// the original id and delivered_at.
func (s *Store) SaveReport(ctx context.Context, r *Report) error {
	topPages, err := json.Marshal(r.TopPages)
	if err != nil {
		return fmt.Errorf("failed to marshal top pages: %w", err)
	}
	topQueries, err := json.Marshal(r.TopQueries)
	if err != nil {
		return fmt.Errorf("failed to marshal top queries: %w", err)
	}
	insights, err := json.Marshal(r.Insights)
	if err != nil {
		return fmt.Errorf("failed to marshal insights: %w", err)
	}
	recommendations, err := json.Marshal(r.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	query := `
		INSERT INTO reports (
			id, site_id, period_start, period_end, granularity,
			clicks, impressions, avg_ctr, avg_position,
			clicks_change, impressions_change, ctr_change, position_change,
			top_pages, top_queries, insights, recommendations,
			data_coverage, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (site_id, period_start, period_end) DO UPDATE SET
			granularity = EXCLUDED.granularity,
			clicks = EXCLUDED.clicks,
			impressions = EXCLUDED.impressions,
			avg_ctr = EXCLUDED.avg_ctr,
			avg_position = EXCLUDED.avg_position,
			clicks_change = EXCLUDED.clicks_change,
			impressions_change = EXCLUDED.impressions_change,
			ctr_change = EXCLUDED.ctr_change,
			position_change = EXCLUDED.position_change,
			top_pages = EXCLUDED.top_pages,
			top_queries = EXCLUDED.top_queries,
			insights = EXCLUDED.insights,
			recommendations = EXCLUDED.recommendations,
			data_coverage = EXCLUDED.data_coverage
		RETURNING id
	`

	// On conflict the existing row keeps its id; RETURNING hands it back so
	// callers address the surviving row (MarkDelivered) by the right id.
	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, query,
		r.ID, r.SiteID, r.PeriodStart, r.PeriodEnd, r.Granularity,
		r.Clicks, r.Impressions, r.AvgCTR, r.AvgPosition,
		r.ClicksChange, r.ImpressionsChange, r.CTRChange, r.PositionChange,
		string(topPages), string(topQueries), string(insights), string(recommendations),
		r.DataCoverage, now,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	r.CreatedAt = now
	return nil
}

const reportColumns = `
	id, site_id, period_start, period_end, granularity,
	clicks, impressions, avg_ctr, avg_position,
	clicks_change, impressions_change, ctr_change, position_change,
	top_pages, top_queries, insights, recommendations,
	data_coverage, created_at, delivered_at
`

// GetReport retrieves one report by id
func (s *Store) GetReport(ctx context.Context, id string) (*Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	r, err := scanReport(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report not found: %s", id)
	}
	return r, err
}

// ListReports returns reports for the given sites, newest period first.
// An empty site list yields no rows; callers resolve sites through the
// access scoper first.
func (s *Store) ListReports(ctx context.Context, siteIDs []int64, limit int) ([]Report, error) {
	if len(siteIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + reportColumns + ` FROM reports WHERE site_id IN (` +
		placeholders(1, len(siteIDs)) +
		fmt.Sprintf(`) ORDER BY period_end DESC LIMIT $%d`, len(siteIDs)+1)

	args := make([]interface{}, 0, len(siteIDs)+1)
	for _, id := range siteIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// MarkDelivered sets delivered_at after a successful downstream handoff
func (s *Store) MarkDelivered(ctx context.Context, reportID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reports SET delivered_at = $1 WHERE id = $2", at.UTC(), reportID)
	if err != nil {
		return fmt.Errorf("failed to mark report delivered: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("report not found: %s", reportID)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row scanner) (*Report, error) {
	var r Report
	var topPages, topQueries, insights, recommendations string
	var deliveredAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.SiteID, &r.PeriodStart, &r.PeriodEnd, &r.Granularity,
		&r.Clicks, &r.Impressions, &r.AvgCTR, &r.AvgPosition,
		&r.ClicksChange, &r.ImpressionsChange, &r.CTRChange, &r.PositionChange,
		&topPages, &topQueries, &insights, &recommendations,
		&r.DataCoverage, &r.CreatedAt, &deliveredAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	if err := json.Unmarshal([]byte(topPages), &r.TopPages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal top pages: %w", err)
	}
	if err := json.Unmarshal([]byte(topQueries), &r.TopQueries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal top queries: %w", err)
	}
	if err := json.Unmarshal([]byte(insights), &r.Insights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal insights: %w", err)
	}
	if err := json.Unmarshal([]byte(recommendations), &r.Recommendations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendations: %w", err)
	}

	if deliveredAt.Valid {
		t := deliveredAt.Time
		r.DeliveredAt = &t
	}
	return &r, nil
}
