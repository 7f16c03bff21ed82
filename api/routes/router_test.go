package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/zeroproof-client/internal/clientstore"
	"github.com/angelmondragon/zeroproof-client/internal/compare"
	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
	"github.com/angelmondragon/zeroproof-client/pkg/metrics"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

// stubSessions stands in for the session bootstrap plus the provider's tokens.
type stubSessions struct {
	mu        sync.Mutex
	snap      session.Snapshot
	signInErr error
	signUps   []enums.UserRole
}

func (s *stubSessions) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *stubSessions) set(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *stubSessions) WaitReady(ctx context.Context) (session.Snapshot, error) {
	snap := s.Snapshot()
	if snap.Ready {
		return snap, nil
	}
	<-ctx.Done()
	return snap, pkgerrors.Wrap(pkgerrors.CodeNotReady, ctx.Err(), "session is still resolving")
}

func (s *stubSessions) Retry(context.Context) error { return nil }

func (s *stubSessions) ContinueDegraded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Error = ""
	s.snap.Degraded = true
	return nil
}

func (s *stubSessions) SignIn(_ context.Context, email, _ string) error {
	if s.signInErr != nil {
		return s.signInErr
	}
	s.set(session.Snapshot{
		Phase:    session.PhaseResolving,
		Identity: &session.Identity{ID: uuid.New(), Email: email, AccessToken: "tok-123", ExpiresAt: time.Now().Add(time.Hour)},
		Loading:  true,
	})
	return nil
}

func (s *stubSessions) SignUp(_ context.Context, email, password string, role enums.UserRole) error {
	s.mu.Lock()
	s.signUps = append(s.signUps, role)
	s.mu.Unlock()
	return s.SignIn(context.Background(), email, password)
}

func (s *stubSessions) SignInAnonymously(ctx context.Context) error {
	return s.SignIn(ctx, "", "")
}

func (s *stubSessions) SignOut(context.Context) error {
	s.set(session.Snapshot{Phase: session.PhaseReady, Ready: true})
	return nil
}

func (s *stubSessions) Current() *session.Identity {
	return s.Snapshot().Identity
}

func (s *stubSessions) Refresh(context.Context) (*session.Identity, error) {
	ident := s.Current()
	if ident == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "Auth session missing!")
	}
	return ident, nil
}

type testEnv struct {
	router   http.Handler
	sessions *stubSessions
	registry *prometheus.Registry
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", Port: "8080", AllowedOrigins: []string{"http://localhost:5173"}},
	}
}

func newTestEnv(t *testing.T, redisErr error) *testEnv {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	reg := prometheus.NewRegistry()
	list, err := compare.New(context.Background(), compare.Params{
		Storage: clientstore.NewMemory(),
		Logger:  logg,
		Metrics: metrics.NewCompareMetrics(reg),
	})
	require.NoError(t, err)

	sessions := &stubSessions{snap: session.Snapshot{Phase: session.PhaseReady, Ready: true}}
	router := NewRouter(testConfig(), logg, stubPinger{}, stubPinger{err: redisErr}, reg, sessions, sessions, list)
	return &testEnv{router: router, sessions: sessions, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)

	var envelope map[string]any
	if strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	}
	return resp, envelope
}

func data(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	d, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", envelope)
	return d
}

func errCode(t *testing.T, envelope map[string]any) string {
	t.Helper()
	e, ok := envelope["error"].(map[string]any)
	require.True(t, ok, "missing error in %v", envelope)
	return e["code"].(string)
}

func productBody(id uuid.UUID) string {
	return `{"id":"` + id.String() + `","name":"Sparkling Yuzu","brand_name":"Zero Co","price":"4.99","currency":"eur","images":["https://cdn.example.com/yuzu.png"]}`
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "dev", resp.Header().Get("X-ZeroProof-Env"))

	resp, body := env.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "ready", data(t, body)["status"])

	down := newTestEnv(t, errors.New("connection refused"))
	resp, body = down.do(t, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, string(pkgerrors.CodeDependency), errCode(t, body))
}

func TestCompareFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	p1, p2, p3, p4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	resp, body := env.do(t, http.MethodPost, "/api/v1/compare", productBody(p1))
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, false, data(t, body)["open_comparison"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/compare", productBody(p2))
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, true, data(t, body)["open_comparison"])
	require.Equal(t, true, data(t, body)["comparable"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/compare", productBody(p1))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, string(compare.AlreadyPresent), data(t, body)["result"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/compare", productBody(p3))
	require.Equal(t, http.StatusCreated, resp.Code)

	resp, body = env.do(t, http.MethodPost, "/api/v1/compare", productBody(p4))
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	require.Equal(t, string(pkgerrors.CodeStateConflict), errCode(t, body))

	resp, body = env.do(t, http.MethodPost, "/api/v1/compare/toggle", productBody(p1))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "removed", data(t, body)["result"])
	require.EqualValues(t, 2, data(t, body)["count"])

	resp, body = env.do(t, http.MethodDelete, "/api/v1/compare/"+p2.String(), "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "removed", data(t, body)["result"])
	require.Equal(t, false, data(t, body)["comparable"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/compare", "")
	require.Equal(t, http.StatusOK, resp.Code)
	items := data(t, body)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	require.Equal(t, p3.String(), item["id"])
	require.Equal(t, "EUR", item["currency"])
	require.Equal(t, "4.99", item["price"])

	resp, body = env.do(t, http.MethodDelete, "/api/v1/compare", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.EqualValues(t, 0, data(t, body)["count"])
}

func TestCompareRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/compare", `{"id":"nope"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, string(pkgerrors.CodeValidation), errCode(t, body))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/compare", `{"id":"`+uuid.NewString()+`","currency":"BTC"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/compare", `{"id":"`+uuid.NewString()+`","price":"-1"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/compare/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp, body = env.do(t, http.MethodDelete, "/api/v1/compare/"+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "not_present", data(t, body)["result"])
}

func TestAuthAndDashboard(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, string(pkgerrors.CodeUnauthorized), errCode(t, body))

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/signin", `{"email":"bad"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp, body = env.do(t, http.MethodPost, "/api/v1/auth/signin", `{"email":"brand@example.com","password":"secret-pass"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "tok-123", resp.Header().Get("X-ZP-Token"))
	require.Equal(t, "tok-123", data(t, body)["access_token"])
	sess := data(t, body)["session"].(map[string]any)
	require.Equal(t, false, sess["ready"])
	user := sess["user"].(map[string]any)
	require.NotContains(t, user, "AccessToken")

	resp, body = env.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, string(pkgerrors.CodeNotReady), errCode(t, body))

	snap := env.sessions.Snapshot()
	snap.Phase, snap.Ready, snap.Loading, snap.Role = session.PhaseReady, true, false, enums.UserRoleBrand
	env.sessions.set(snap)

	resp, body = env.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "brand", data(t, body)["dashboard"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "brand", data(t, body)["dashboard"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp, body = env.do(t, http.MethodPost, "/api/v1/auth/signout", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Nil(t, data(t, body)["session"].(map[string]any)["user"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "Auth session missing!", body["error"].(map[string]any)["message"])
}

func TestSignUpPassesRoleAndSurfacesProviderErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/auth/signup", `{"email":"x@example.com","password":"secret-pass","role":"admin"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/signup", `{"email":"x@example.com","password":"secret-pass","role":"brand"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, []enums.UserRole{enums.UserRoleBrand}, env.sessions.signUps)

	env.sessions.signInErr = pkgerrors.New(pkgerrors.CodeUnauthorized, "Invalid login credentials")
	resp, body := env.do(t, http.MethodPost, "/api/v1/auth/signin", `{"email":"x@example.com","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "Invalid login credentials", body["error"].(map[string]any)["message"])
}

func TestSessionWaitAndRecovery(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/session?wait=soon", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	env.sessions.set(session.Snapshot{Phase: session.PhaseResolving, Loading: true})
	resp, body := env.do(t, http.MethodGet, "/api/v1/session?wait=20ms", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, string(pkgerrors.CodeNotReady), errCode(t, body))

	ident := &session.Identity{ID: uuid.New()}
	env.sessions.set(session.Snapshot{Phase: session.PhaseReady, Ready: true, Identity: ident, Error: "An error occurred while fetching your user profile."})
	resp, body = env.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	require.Equal(t, []any{"retry", "continue"}, details["actions"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/session/continue", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, true, data(t, body)["degraded"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "user", data(t, body)["dashboard"])
	require.Equal(t, "guest_user", data(t, body)["role"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/session/retry", "")
	require.Equal(t, http.StatusAccepted, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/compare", productBody(uuid.New()))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "compare_mutations_total")
}
