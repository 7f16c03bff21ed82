package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testBaseDelay = 5 * time.Millisecond

type fakeProvider struct {
	mu               sync.Mutex
	handler          func(Event)
	initial          *Identity
	signOutCalls     int32
	emitOnSignOut    bool
	signInErr        error
	signUpMetadata   map[string]any
	anonymous        *Identity
	unsubscribeCalls int32
}

func (p *fakeProvider) Subscribe(handler func(Event)) func() {
	p.mu.Lock()
	p.handler = handler
	initial := p.initial
	p.mu.Unlock()
	handler(Event{Type: enums.AuthEventInitialSession, Identity: initial})
	return func() {
		atomic.AddInt32(&p.unsubscribeCalls, 1)
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
	}
}

func (p *fakeProvider) emit(ev Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (p *fakeProvider) SignInWithPassword(context.Context, string, string) error {
	return p.signInErr
}

func (p *fakeProvider) SignUp(_ context.Context, _ string, _ string, metadata map[string]any) error {
	p.mu.Lock()
	p.signUpMetadata = metadata
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) SignInAnonymously(context.Context) (*Identity, error) {
	if p.anonymous == nil {
		return nil, errors.New("anonymous sign-ins are disabled")
	}
	p.emit(Event{Type: enums.AuthEventSignedIn, Identity: p.anonymous})
	return p.anonymous, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	atomic.AddInt32(&p.signOutCalls, 1)
	if p.emitOnSignOut {
		p.emit(Event{Type: enums.AuthEventSignedOut})
	}
	return nil
}

type fakeProfiles struct {
	mu      sync.Mutex
	calls   int32
	fetch     func(ctx context.Context, id uuid.UUID) (enums.UserRole, bool, error)
	updates   map[uuid.UUID]enums.UserRole
	updateErr error
}

func (f *fakeProfiles) FetchRole(ctx context.Context, id uuid.UUID) (enums.UserRole, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	if role, ok := f.updates[id]; ok {
		f.mu.Unlock()
		return role, true, nil
	}
	fetch := f.fetch
	f.mu.Unlock()
	return fetch(ctx, id)
}

func (f *fakeProfiles) UpdateRole(_ context.Context, id uuid.UUID, role enums.UserRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updates == nil {
		f.updates = map[uuid.UUID]enums.UserRole{}
	}
	f.updates[id] = role
	return nil
}

func (f *fakeProfiles) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func roleFetcher(role enums.UserRole) func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
	return func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
		return role, true, nil
	}
}

func newTestBootstrap(t *testing.T, provider *fakeProvider, profiles *fakeProfiles) *Bootstrap {
	t.Helper()
	b, err := NewBootstrap(BootstrapParams{
		Provider: provider,
		Profiles: profiles,
		Config:   config.SessionConfig{ProfileRetryBaseDelay: testBaseDelay, ProfileMaxRetries: 3},
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func waitReady(t *testing.T, b *Bootstrap) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := b.WaitReady(ctx)
	if err != nil {
		t.Fatalf("session never became ready: %v (phase=%s)", err, snap.Phase)
	}
	return snap
}

func TestNewBootstrapRequiresDependencies(t *testing.T) {
	if _, err := NewBootstrap(BootstrapParams{Profiles: &fakeProfiles{}}); err == nil {
		t.Fatal("expected missing provider error")
	}
	if _, err := NewBootstrap(BootstrapParams{Provider: &fakeProvider{}}); err == nil {
		t.Fatal("expected missing profile store error")
	}
}

func TestIdentityWithBrandProfileResolvesRole(t *testing.T) {
	id := &Identity{ID: uuid.New(), Email: "brand@example.com"}
	provider := &fakeProvider{initial: id}
	profiles := &fakeProfiles{fetch: roleFetcher(enums.UserRoleBrand)}
	b := newTestBootstrap(t, provider, profiles)

	require.Equal(t, PhaseUninitialized, b.Snapshot().Phase)
	require.NoError(t, b.Start(context.Background()))

	snap := waitReady(t, b)
	require.Equal(t, PhaseReady, snap.Phase)
	require.Equal(t, enums.UserRoleBrand, snap.Role)
	require.Equal(t, id.ID, snap.Identity.ID)
	require.False(t, snap.Loading)
	require.Empty(t, snap.Error)
	require.Equal(t, 1, profiles.callCount())
}

func TestNullIdentityIsReadyWithoutProfileFetch(t *testing.T) {
	provider := &fakeProvider{}
	profiles := &fakeProfiles{fetch: roleFetcher(enums.UserRoleAdmin)}
	b := newTestBootstrap(t, provider, profiles)

	require.NoError(t, b.Start(context.Background()))

	snap := b.Snapshot()
	if !snap.Ready || snap.Role != "" || snap.Identity != nil {
		t.Fatalf("expected ready role-less session immediately, got %+v", snap)
	}
	if profiles.callCount() != 0 {
		t.Fatalf("expected no profile fetch, got %d", profiles.callCount())
	}
}

func TestProfileFailureSurfacesErrorAfterRetries(t *testing.T) {
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	profiles := &fakeProfiles{fetch: func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
		return "", false, errors.New("connection refused")
	}}
	b := newTestBootstrap(t, provider, profiles)

	started := time.Now()
	require.NoError(t, b.Start(context.Background()))
	snap := waitReady(t, b)
	elapsed := time.Since(started)

	require.Equal(t, ProfileFetchFailedMessage, snap.Error)
	require.Equal(t, enums.UserRole(""), snap.Role)
	require.True(t, snap.Ready)
	require.NotNil(t, snap.Identity)

	if calls := profiles.callCount(); calls != 4 {
		t.Fatalf("expected 1 attempt plus 3 retries, got %d", calls)
	}
	// 5ms + 10ms + 20ms of backoff.
	if elapsed < 35*time.Millisecond {
		t.Fatalf("expected exponential backoff delays, finished in %s", elapsed)
	}

	time.Sleep(50 * time.Millisecond)
	if calls := profiles.callCount(); calls != 4 {
		t.Fatalf("no further attempts expected, got %d", calls)
	}
}

func TestTransientFailureRecoversWithinRetries(t *testing.T) {
	var attempts int32
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	profiles := &fakeProfiles{fetch: func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return "", false, errors.New("timeout")
		}
		return enums.UserRoleEndUser, true, nil
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	snap := waitReady(t, b)
	require.Equal(t, enums.UserRoleEndUser, snap.Role)
	require.Empty(t, snap.Error)
	require.Equal(t, 3, profiles.callCount())
}

func TestOrphanedIdentityForcesSingleSignOut(t *testing.T) {
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}, emitOnSignOut: true}
	profiles := &fakeProfiles{fetch: func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
		return "", false, nil
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&provider.signOutCalls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	snap := waitReady(t, b)
	time.Sleep(20 * time.Millisecond)

	if calls := atomic.LoadInt32(&provider.signOutCalls); calls != 1 {
		t.Fatalf("expected exactly one forced sign out, got %d", calls)
	}
	snap = b.Snapshot()
	if snap.Identity != nil || snap.Role != "" || !snap.Ready || snap.Error != "" {
		t.Fatalf("expected clean role-less session, got %+v", snap)
	}
	if profiles.callCount() != 1 {
		t.Fatalf("orphan detection must not retry, got %d fetches", profiles.callCount())
	}
}

func TestOrphanSignOutAckReadiesWithoutEvent(t *testing.T) {
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	profiles := &fakeProfiles{fetch: func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
		return "", false, nil
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	snap := waitReady(t, b)
	require.Nil(t, snap.Identity)
	require.Equal(t, PhaseReady, snap.Phase)
	require.EqualValues(t, 1, atomic.LoadInt32(&provider.signOutCalls))
}

func TestRoleHiddenWhileResolving(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{}
	profiles := &fakeProfiles{fetch: func(ctx context.Context, _ uuid.UUID) (enums.UserRole, bool, error) {
		select {
		case <-release:
			return enums.UserRoleAdmin, true, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	provider.emit(Event{Type: enums.AuthEventSignedIn, Identity: &Identity{ID: uuid.New()}})
	snap := b.Snapshot()
	if snap.Ready || snap.Role != "" || snap.Phase != PhaseResolving || !snap.Loading {
		t.Fatalf("expected resolving snapshot without role, got %+v", snap)
	}

	close(release)
	snap = waitReady(t, b)
	require.Equal(t, enums.UserRoleAdmin, snap.Role)
}

func TestSupersededResolutionIsDiscarded(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	firstDone := make(chan struct{})

	provider := &fakeProvider{}
	profiles := &fakeProfiles{fetch: func(_ context.Context, id uuid.UUID) (enums.UserRole, bool, error) {
		if id == first {
			defer close(firstDone)
			close(firstStarted)
			// Ignores cancellation so the stale result reaches the resolver.
			<-releaseFirst
			return enums.UserRoleBrand, true, nil
		}
		return enums.UserRoleAdmin, true, nil
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	provider.emit(Event{Type: enums.AuthEventSignedIn, Identity: &Identity{ID: first}})
	select {
	case <-firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("profile fetch for the first identity never started")
	}
	provider.emit(Event{Type: enums.AuthEventSignedIn, Identity: &Identity{ID: second}})

	snap := waitReady(t, b)
	require.Equal(t, second, snap.Identity.ID)
	require.Equal(t, enums.UserRoleAdmin, snap.Role)

	close(releaseFirst)
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stale profile fetch never returned")
	}
	time.Sleep(20 * time.Millisecond)

	snap = b.Snapshot()
	require.Equal(t, second, snap.Identity.ID)
	require.Equal(t, enums.UserRoleAdmin, snap.Role)
	require.True(t, snap.Ready)
}

func TestTokenRefreshKeepsResolvedRole(t *testing.T) {
	id := &Identity{ID: uuid.New(), AccessToken: "a1"}
	provider := &fakeProvider{initial: id}
	profiles := &fakeProfiles{fetch: roleFetcher(enums.UserRoleEndUser)}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))
	waitReady(t, b)

	provider.emit(Event{Type: enums.AuthEventTokenRefreshed, Identity: &Identity{ID: id.ID, AccessToken: "a2"}})

	snap := b.Snapshot()
	require.True(t, snap.Ready)
	require.Equal(t, enums.UserRoleEndUser, snap.Role)
	require.Equal(t, "a2", snap.Identity.AccessToken)
	require.Equal(t, enums.AuthEventTokenRefreshed, snap.LastEvent)
	require.Equal(t, 1, profiles.callCount())
}

func TestSignOutClearsStateEagerly(t *testing.T) {
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	profiles := &fakeProfiles{fetch: roleFetcher(enums.UserRoleBrand)}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))
	waitReady(t, b)

	require.NoError(t, b.SignOut(context.Background()))
	snap := b.Snapshot()
	if snap.Identity != nil || snap.Role != "" || !snap.Ready {
		t.Fatalf("expected signed out snapshot, got %+v", snap)
	}
}

func TestSignInFailureSurfacesProviderMessage(t *testing.T) {
	provider := &fakeProvider{signInErr: pkgerrors.New(pkgerrors.CodeUnauthorized, "Invalid login credentials")}
	b := newTestBootstrap(t, provider, &fakeProfiles{fetch: roleFetcher(enums.UserRoleEndUser)})
	require.NoError(t, b.Start(context.Background()))

	err := b.SignIn(context.Background(), "sam@example.com", "nope")
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	require.Equal(t, "Invalid login credentials", b.Snapshot().Error)

	provider.signInErr = nil
	require.NoError(t, b.SignIn(context.Background(), "sam@example.com", "secret1"))
	require.Empty(t, b.Snapshot().Error)
}

func TestSignUpAttachesRoleMetadata(t *testing.T) {
	provider := &fakeProvider{}
	b := newTestBootstrap(t, provider, &fakeProfiles{fetch: roleFetcher(enums.UserRoleEndUser)})

	require.NoError(t, b.SignUp(context.Background(), "new@example.com", "secret1", ""))
	require.Equal(t, "end_user", provider.signUpMetadata["role"])

	require.NoError(t, b.SignUp(context.Background(), "brand@example.com", "secret1", enums.UserRoleBrand))
	require.Equal(t, "brand", provider.signUpMetadata["role"])

	err := b.SignUp(context.Background(), "x@example.com", "secret1", enums.UserRole("owner"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.NotEmpty(t, b.Snapshot().Error)
}

func TestSignInAnonymouslyDowngradesToGuest(t *testing.T) {
	anon := &Identity{ID: uuid.New(), Anonymous: true}
	provider := &fakeProvider{anonymous: anon}
	profiles := &fakeProfiles{fetch: roleFetcher(enums.UserRoleEndUser)}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.SignInAnonymously(context.Background()))
	snap := waitReady(t, b)
	require.Equal(t, enums.UserRoleGuest, snap.Role)
	require.True(t, snap.Identity.Anonymous)
}

func TestSignInAnonymouslyKeepsSessionWhenGuestUpdateFails(t *testing.T) {
	anon := &Identity{ID: uuid.New(), Anonymous: true}
	provider := &fakeProvider{anonymous: anon}
	profiles := &fakeProfiles{
		fetch:     roleFetcher(enums.UserRoleEndUser),
		updateErr: errors.New("connection reset"),
	}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.SignInAnonymously(context.Background()))
	snap := waitReady(t, b)
	require.Equal(t, anon.ID, snap.Identity.ID)
	require.Equal(t, enums.UserRoleEndUser, snap.Role)
	require.Empty(t, snap.Error)
	require.Zero(t, atomic.LoadInt32(&provider.signOutCalls))
}

func TestSignInAnonymouslyFailure(t *testing.T) {
	b := newTestBootstrap(t, &fakeProvider{}, &fakeProfiles{fetch: roleFetcher(enums.UserRoleEndUser)})
	require.Error(t, b.SignInAnonymously(context.Background()))
	require.Equal(t, "anonymous sign-ins are disabled", b.Snapshot().Error)
}

func TestRetryAndContinueDegraded(t *testing.T) {
	var healthy atomic.Bool
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	profiles := &fakeProfiles{fetch: func(context.Context, uuid.UUID) (enums.UserRole, bool, error) {
		if healthy.Load() {
			return enums.UserRoleBrand, true, nil
		}
		return "", false, errors.New("503")
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	snap := waitReady(t, b)
	require.Equal(t, ProfileFetchFailedMessage, snap.Error)

	require.NoError(t, b.ContinueDegraded())
	snap = b.Snapshot()
	require.Empty(t, snap.Error)
	require.True(t, snap.Degraded)
	require.True(t, snap.Ready)

	healthy.Store(true)
	require.NoError(t, b.Retry(context.Background()))
	snap = waitReady(t, b)
	require.Equal(t, enums.UserRoleBrand, snap.Role)
	require.False(t, snap.Degraded)
}

func TestContinueDegradedIgnoresHealthySession(t *testing.T) {
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	b := newTestBootstrap(t, provider, &fakeProfiles{fetch: roleFetcher(enums.UserRoleBrand)})
	require.NoError(t, b.Start(context.Background()))
	waitReady(t, b)

	require.NoError(t, b.ContinueDegraded())
	snap := b.Snapshot()
	require.Equal(t, enums.UserRoleBrand, snap.Role)
	require.Empty(t, snap.Error)
	require.False(t, snap.Degraded)
}

func TestContinueDegradedRequiresReady(t *testing.T) {
	b := newTestBootstrap(t, &fakeProvider{}, &fakeProfiles{fetch: roleFetcher(enums.UserRoleBrand)})
	err := b.ContinueDegraded()
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotReady))
}

func TestWaitReadyHonoursContext(t *testing.T) {
	provider := &fakeProvider{initial: &Identity{ID: uuid.New()}}
	profiles := &fakeProfiles{fetch: func(ctx context.Context, _ uuid.UUID) (enums.UserRole, bool, error) {
		<-ctx.Done()
		return "", false, ctx.Err()
	}}
	b := newTestBootstrap(t, provider, profiles)
	require.NoError(t, b.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.WaitReady(ctx)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotReady))
}

func TestStartTwiceAndClose(t *testing.T) {
	provider := &fakeProvider{}
	b := newTestBootstrap(t, provider, &fakeProfiles{fetch: roleFetcher(enums.UserRoleBrand)})
	require.NoError(t, b.Start(context.Background()))
	require.Error(t, b.Start(context.Background()))

	b.Close()
	b.Close()
	require.EqualValues(t, 1, atomic.LoadInt32(&provider.unsubscribeCalls))
	require.Error(t, b.Retry(context.Background()))
}
