package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles tenant registry persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new registry store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSite registers a new site. The domain is globally unique and
// immutable after creation.
func (s *Store) CreateSite(ctx context.Context, site *Site) error {
	query := `
		INSERT INTO sites (domain, display_name, property_url, owner_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		site.Domain, site.DisplayName, site.PropertyURL, site.OwnerID, true, now, now,
	).Scan(&site.ID)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	site.Active = true
	site.CreatedAt = now
	site.UpdatedAt = now
	return nil
}

const siteColumns = "id, domain, display_name, property_url, owner_id, active, created_at, updated_at"

// GetSite retrieves a site by id
func (s *Store) GetSite(ctx context.Context, siteID int64) (*Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1`
	return s.scanSite(s.db.QueryRowContext(ctx, query, siteID), fmt.Sprintf("%d", siteID))
}

// GetSiteByDomain retrieves a site by its unique domain
func (s *Store) GetSiteByDomain(ctx context.Context, domain string) (*Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE domain = $1`
	return s.scanSite(s.db.QueryRowContext(ctx, query, domain), domain)
}

func (s *Store) scanSite(row *sql.Row, key string) (*Site, error) {
	var site Site
	err := row.Scan(
		&site.ID, &site.Domain, &site.DisplayName, &site.PropertyURL,
		&site.OwnerID, &site.Active, &site.CreatedAt, &site.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("site not found: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &site, nil
}

// ListActiveSites returns all active sites ordered by domain
func (s *Store) ListActiveSites(ctx context.Context) ([]Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE active = TRUE ORDER BY domain ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(
			&site.ID, &site.Domain, &site.DisplayName, &site.PropertyURL,
			&site.OwnerID, &site.Active, &site.CreatedAt, &site.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// DeactivateSite soft-disables a site. Sites are never deleted so their
// historical metrics stay attributable.
func (s *Store) DeactivateSite(ctx context.Context, siteID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sites SET active = FALSE, updated_at = $1 WHERE id = $2",
		time.Now().UTC(), siteID)
	if err != nil {
		return fmt.Errorf("failed to deactivate site: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("site not found: %d", siteID)
	}
	return nil
}

// GrantAccess gives a principal read access to a site. Granting twice is a
// no-op.
func (s *Store) GrantAccess(ctx context.Context, principalID, siteID int64) error {
	query := `
		INSERT INTO access_grants (principal_id, site_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id, site_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, principalID, siteID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}
	return nil
}

// RevokeAccess removes a principal's grant to a site
func (s *Store) RevokeAccess(ctx context.Context, principalID, siteID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM access_grants WHERE principal_id = $1 AND site_id = $2",
		principalID, siteID)
	if err != nil {
		return fmt.Errorf("failed to revoke access: %w", err)
	}
	return nil
}

// ListGrantsForPrincipal returns a principal's grants, oldest first
func (s *Store) ListGrantsForPrincipal(ctx context.Context, principalID int64) ([]AccessGrant, error) {
	query := `
		SELECT principal_id, site_id, granted_at
		FROM access_grants
		WHERE principal_id = $1
		ORDER BY granted_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []AccessGrant
	for rows.Next() {
		var g AccessGrant
		if err := rows.Scan(&g.PrincipalID, &g.SiteID, &g.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// AccessibleSiteIDs returns the ids of active sites a principal owns or has
// been granted. Elevated principals are handled by the access package, not
// here.
func (s *Store) AccessibleSiteIDs(ctx context.Context, principalID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT s.id
		FROM sites s
		LEFT JOIN access_grants g ON g.site_id = s.id AND g.principal_id = $1
		WHERE s.active = TRUE AND (s.owner_id = $1 OR g.principal_id IS NOT NULL)
		ORDER BY s.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accessible sites: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSitesByIDs returns the sites with the given ids, ordered by domain.
// Unknown ids are skipped.
func (s *Store) ListSitesByIDs(ctx context.Context, ids []int64) ([]Site, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + siteColumns + ` FROM sites WHERE id IN (` + placeholders(1, len(ids)) + `) ORDER BY domain ASC`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites by id: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(
			&site.ID, &site.Domain, &site.DisplayName, &site.PropertyURL,
			&site.OwnerID, &site.Active, &site.CreatedAt, &site.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
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

// ActiveSiteIDs returns all active site ids
func (s *Store) ActiveSiteIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sites WHERE active = TRUE ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query active site ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan site id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
