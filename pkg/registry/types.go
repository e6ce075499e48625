package registry

import "time"

// Site is one monitored tenant website, the unit of data isolation
type Site struct {
	ID          int64     `json:"id"`
	Domain      string    `json:"domain"`
	DisplayName string    `json:"display_name"`
	PropertyURL string    `json:"property_url"`
	OwnerID     int64     `json:"owner_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccessGrant links a principal to a site beyond ownership
type AccessGrant struct {
	PrincipalID int64     `json:"principal_id"`
	SiteID      int64     `json:"site_id"`
	GrantedAt   time.Time `json:"granted_at"`
}
