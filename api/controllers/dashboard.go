package controllers

import (
	"net/http"

	"github.com/angelmondragon/zeroproof-client/api/middleware"
	"github.com/angelmondragon/zeroproof-client/api/responses"
	"github.com/angelmondragon/zeroproof-client/internal/guard"
)

// Dashboard names the landing view for the admitted role. It must run behind
// middleware.RequireRoles.
func Dashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := middleware.RoleFromContext(r.Context())
		responses.WriteSuccess(w, map[string]string{
			"dashboard":   guard.DashboardFor(role),
			"role":        role.String(),
			"identity_id": middleware.IdentityIDFromContext(r.Context()),
		})
	}
}
