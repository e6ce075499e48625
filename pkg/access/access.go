package access

import (
	"context"
	"fmt"

	"github.com/platinummonkey/searchpulse/pkg/registry"
)

// Role determines the breadth of a principal's read access
type Role string

const (
	// RoleAdmin sees every active site
	RoleAdmin Role = "admin"
	// RoleMember sees owned and granted sites only
	RoleMember Role = "member"
)

// Principal is an authenticated caller of the read API
type Principal struct {
	ID   int64
	Name string
	Role Role
}

// Elevated reports whether the principal bypasses per-site grants
func (p Principal) Elevated() bool {
	return p.Role == RoleAdmin
}

// Scoper resolves which sites a principal may read. Every read path goes
// through it; handlers never query the registry directly.
type Scoper struct {
	registry *registry.Store
}

// NewScoper creates an access scoper over the tenant registry
func NewScoper(reg *registry.Store) *Scoper {
	return &Scoper{registry: reg}
}

// AccessibleSiteIDs returns the active sites the principal may read: all of
// them for elevated roles, otherwise the union of owned and granted sites.
func (s *Scoper) AccessibleSiteIDs(ctx context.Context, p Principal) ([]int64, error) {
	if p.Elevated() {
		return s.registry.ActiveSiteIDs(ctx)
	}
	return s.registry.AccessibleSiteIDs(ctx, p.ID)
}

// FilterSiteIDs intersects the requested site ids with the principal's
// accessible set, preserving request order. Inaccessible ids are dropped
// silently rather than erroring, so list endpoints degrade to what the
// caller may see.
func (s *Scoper) FilterSiteIDs(ctx context.Context, p Principal, requested []int64) ([]int64, error) {
	accessible, err := s.AccessibleSiteIDs(ctx, p)
	if err != nil {
		return nil, err
	}

	allowed := make(map[int64]bool, len(accessible))
	for _, id := range accessible {
		allowed[id] = true
	}

	var filtered []int64
	for _, id := range requested {
		if allowed[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// RequireSite returns an error unless the principal may read siteID
func (s *Scoper) RequireSite(ctx context.Context, p Principal, siteID int64) error {
	ids, err := s.FilterSiteIDs(ctx, p, []int64{siteID})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("principal %d has no access to site %d", p.ID, siteID)
	}
	return nil
}
