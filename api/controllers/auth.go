package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/zeroproof-client/api/responses"
	"github.com/angelmondragon/zeroproof-client/api/validators"
	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
)

const tokenHeader = "X-ZP-Token"

// TokenSource exposes the provider's current credentials.
type TokenSource interface {
	Current() *session.Identity
	Refresh(ctx context.Context) (*session.Identity, error)
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=brand end_user"`
}

type authResponse struct {
	Session     sessionView `json:"session"`
	AccessToken string      `json:"access_token,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

func writeAuthResult(w http.ResponseWriter, status int, svc SessionService, tokens TokenSource) {
	resp := authResponse{Session: viewOf(svc.Snapshot())}
	if ident := tokens.Current(); ident != nil {
		resp.AccessToken = ident.AccessToken
		exp := ident.ExpiresAt
		resp.ExpiresAt = &exp
		w.Header().Set(tokenHeader, ident.AccessToken)
	}
	responses.WriteSuccessStatus(w, status, resp)
}

func AuthSignIn(svc SessionService, tokens TokenSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body signInRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SignIn(r.Context(), body.Email, body.Password); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeAuthResult(w, http.StatusOK, svc, tokens)
	}
}

// AuthSignUp leaves email format and password length to the identity
// provider so its messages reach the form unchanged.
func AuthSignUp(svc SessionService, tokens TokenSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body signUpRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SignUp(r.Context(), body.Email, body.Password, enums.UserRole(body.Role)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeAuthResult(w, http.StatusCreated, svc, tokens)
	}
}

func AuthAnonymous(svc SessionService, tokens TokenSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.SignInAnonymously(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeAuthResult(w, http.StatusCreated, svc, tokens)
	}
}

func AuthSignOut(svc SessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.SignOut(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, authResponse{Session: viewOf(svc.Snapshot())})
	}
}

func AuthRefresh(svc SessionService, tokens TokenSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.Refresh(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeAuthResult(w, http.StatusOK, svc, tokens)
	}
}
