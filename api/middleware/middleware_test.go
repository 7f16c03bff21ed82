package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
	"github.com/angelmondragon/zeroproof-client/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type staticSession session.Snapshot

func (s staticSession) Snapshot() session.Snapshot { return session.Snapshot(s) }

func serveGuarded(t *testing.T, snap session.Snapshot, allowed ...enums.UserRole) (*httptest.ResponseRecorder, enums.UserRole) {
	t.Helper()
	var seen enums.UserRole
	h := RequireRoles(staticSession(snap), nil, allowed...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dash", nil))
	return w, seen
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error.Code
}

func TestRequireRoles(t *testing.T) {
	ident := &session.Identity{ID: uuid.New()}

	w, _ := serveGuarded(t, session.Snapshot{Identity: ident}, enums.UserRoleBrand)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, string(pkgerrors.CodeNotReady), errorCode(t, w))

	w, _ = serveGuarded(t, session.Snapshot{Ready: true, Identity: ident, Error: "Signin failed"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = serveGuarded(t, session.Snapshot{Ready: true})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serveGuarded(t, session.Snapshot{Ready: true, Identity: ident, Role: enums.UserRoleEndUser}, enums.UserRoleBrand)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, role := serveGuarded(t, session.Snapshot{Ready: true, Identity: ident, Role: enums.UserRoleBrand}, enums.UserRoleBrand)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, enums.UserRoleBrand, role)
}

func TestRequestIDPropagates(t *testing.T) {
	var inner string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = w.Header().Get(requestIDHeader)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, "req-42", w.Header().Get(requestIDHeader))
	require.Equal(t, "req-42", inner)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	require.NoError(t, err)
}

func TestRecovererWritesInternalError(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, string(pkgerrors.CodeInternal), errorCode(t, w))
}

func TestLoggingRecordsStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf, Format: "json"})
	h := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	require.Contains(t, buf.String(), `"status":418`)
	require.Contains(t, buf.String(), `"path":"/brew"`)
}
