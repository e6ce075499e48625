package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/platinummonkey/searchpulse/pkg/access"
	"github.com/platinummonkey/searchpulse/pkg/contextkeys"
)

// Headers populated by the authenticating gateway in front of this service.
// Authentication itself happens upstream; this layer only carries identity.
const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalName = "X-Principal-Name"
	HeaderPrincipalRole = "X-Principal-Role"
)

// PrincipalMiddleware resolves the caller's principal from gateway headers
// and stores it in the request context. Requests without a parseable
// principal are rejected before reaching any handler.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idHeader := r.Header.Get(HeaderPrincipalID)
		if idHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing principal")
			return
		}
		id, err := strconv.ParseInt(idHeader, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid principal id")
			return
		}

		role := access.Role(r.Header.Get(HeaderPrincipalRole))
		if role != access.RoleAdmin {
			role = access.RoleMember
		}

		p := access.Principal{
			ID:   id,
			Name: r.Header.Get(HeaderPrincipalName),
			Role: role,
		}
		ctx := contextkeys.WithValue(r.Context(), contextkeys.PrincipalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal retrieves the principal from the request context
func GetPrincipal(ctx context.Context) (access.Principal, bool) {
	p, ok := contextkeys.Value(ctx, contextkeys.PrincipalKey).(access.Principal)
	return p, ok
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
