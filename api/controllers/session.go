package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/zeroproof-client/api/responses"
	"github.com/angelmondragon/zeroproof-client/internal/guard"
	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
)

const maxSessionWait = 10 * time.Second

// SessionService is the session bootstrap as seen by the HTTP layer.
type SessionService interface {
	Snapshot() session.Snapshot
	WaitReady(ctx context.Context) (session.Snapshot, error)
	Retry(ctx context.Context) error
	ContinueDegraded() error
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string, role enums.UserRole) error
	SignInAnonymously(ctx context.Context) error
	SignOut(ctx context.Context) error
}

type sessionView struct {
	session.Snapshot
	Dashboard string `json:"dashboard,omitempty"`
}

func viewOf(snap session.Snapshot) sessionView {
	view := sessionView{Snapshot: snap}
	if snap.Ready && snap.Identity != nil {
		view.Dashboard = guard.DashboardFor(snap.Role)
	}
	return view
}

// SessionGet returns the session state. With ?wait=<duration> it blocks until
// the session is ready, up to the given duration.
func SessionGet(svc SessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("wait")
		if raw == "" {
			responses.WriteSuccess(w, viewOf(svc.Snapshot()))
			return
		}

		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "wait must be a non-negative duration").
					WithDetails(map[string]any{"wait": raw}))
			return
		}
		wait = min(wait, maxSessionWait)

		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		snap, err := svc.WaitReady(ctx)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewOf(snap))
	}
}

func SessionRetry(svc SessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Retry(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, viewOf(svc.Snapshot()))
	}
}

func SessionContinue(svc SessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ContinueDegraded(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewOf(svc.Snapshot()))
	}
}
