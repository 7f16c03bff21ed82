package middleware

import (
	"net/http"

	"github.com/angelmondragon/zeroproof-client/api/responses"
	"github.com/angelmondragon/zeroproof-client/internal/guard"
	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
)

// SessionReader exposes the current session state.
type SessionReader interface {
	Snapshot() session.Snapshot
}

// RequireRoles admits requests whose session passes the route guard for
// allowed. An empty allowed list admits any signed-in role.
func RequireRoles(sessions SessionReader, logg *logger.Logger, allowed ...enums.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := sessions.Snapshot()
			decision := guard.Evaluate(snap, allowed)

			var err error
			switch decision.Outcome {
			case guard.OutcomeLoading:
				err = pkgerrors.New(pkgerrors.CodeNotReady, "session is still resolving")
			case guard.OutcomeAuthError:
				err = pkgerrors.New(pkgerrors.CodeStateConflict, decision.Message).
					WithDetails(map[string]any{"actions": decision.Actions})
			case guard.OutcomeSignInRequired:
				err = pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in required")
			case guard.OutcomeForbidden:
				err = pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted").
					WithDetails(map[string]any{"role": decision.Role, "allowed": allowed})
			}
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithIdentity(r.Context(), snap.Identity.ID.String(), decision.Role)
			if logg != nil {
				ctx = logg.WithIdentityID(ctx, snap.Identity.ID.String())
				ctx = logg.WithRole(ctx, decision.Role.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
