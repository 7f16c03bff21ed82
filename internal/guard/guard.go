// Package guard decides whether a session may enter a role-restricted view.
package guard

import (
	"slices"

	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
)

type Outcome string

const (
	OutcomeLoading        Outcome = "loading"
	OutcomeAuthError      Outcome = "auth_error"
	OutcomeSignInRequired Outcome = "sign_in_required"
	OutcomeForbidden      Outcome = "forbidden"
	OutcomeAllowed        Outcome = "allowed"
)

// Recovery actions offered alongside an auth error.
const (
	ActionRetry    = "retry"
	ActionContinue = "continue"
)

// Dashboards served by the role-dispatching landing view.
const (
	DashboardAdmin = "admin"
	DashboardBrand = "brand"
	DashboardUser  = "user"
)

// Decision is the result of Evaluate.
type Decision struct {
	Outcome Outcome
	// Role is the effective role the decision was made with.
	Role    enums.UserRole
	Message string
	Actions []string
}

// Evaluate applies the rules in order: not ready, error, no identity, role
// mismatch. An empty allowed list admits every signed-in role. A degraded
// session without a role is treated as a guest rather than admitted, so a
// failed profile lookup never opens a role-restricted route.
func Evaluate(snap session.Snapshot, allowed []enums.UserRole) Decision {
	if !snap.Ready {
		return Decision{Outcome: OutcomeLoading}
	}
	if snap.Error != "" {
		return Decision{
			Outcome: OutcomeAuthError,
			Message: snap.Error,
			Actions: []string{ActionRetry, ActionContinue},
		}
	}
	if snap.Identity == nil {
		return Decision{Outcome: OutcomeSignInRequired}
	}

	role := snap.Role
	if role == "" {
		role = enums.UserRoleGuest
	}
	if len(allowed) > 0 && !slices.Contains(allowed, role) {
		return Decision{Outcome: OutcomeForbidden, Role: role}
	}
	return Decision{Outcome: OutcomeAllowed, Role: role}
}

// DashboardFor picks the landing dashboard for role.
func DashboardFor(role enums.UserRole) string {
	switch role {
	case enums.UserRoleAdmin:
		return DashboardAdmin
	case enums.UserRoleBrand:
		return DashboardBrand
	default:
		return DashboardUser
	}
}
