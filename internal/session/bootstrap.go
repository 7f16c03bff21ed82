package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
	"github.com/angelmondragon/zeroproof-client/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	// ProfileFetchFailedMessage is surfaced once profile lookups exhaust their retries.
	ProfileFetchFailedMessage = "An error occurred while fetching your user profile."

	defaultRetryBaseDelay = time.Second
)

// BootstrapParams groups dependencies for the session bootstrap.
type BootstrapParams struct {
	Provider IdentityProvider
	Profiles ProfileStore
	Config   config.SessionConfig
	Logger   *logger.Logger
	Metrics  *metrics.SessionMetrics
}

// Bootstrap owns the current identity and role. Role and identity are written
// only by the event handler and its resolutions, with SignOut as the one
// eager exception.
type Bootstrap struct {
	provider   IdentityProvider
	profiles   ProfileStore
	logg       *logger.Logger
	metrics    *metrics.SessionMetrics
	baseDelay  time.Duration
	maxRetries uint64

	mu          sync.Mutex
	phase       Phase
	identity    *Identity
	role        enums.UserRole
	ready       bool
	errMsg      string
	degraded    bool
	lastEvent   enums.AuthEvent
	changed     chan struct{}
	generation  uint64
	cancelRun   context.CancelFunc
	runCtx      context.Context
	stopRuns    context.CancelFunc
	unsubscribe func()
	started     bool
	closed      bool

	wg sync.WaitGroup
}

// NewBootstrap validates dependencies and returns an unstarted bootstrap.
func NewBootstrap(params BootstrapParams) (*Bootstrap, error) {
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "identity provider is required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile store is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	base := params.Config.ProfileRetryBaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	return &Bootstrap{
		provider:   params.Provider,
		profiles:   params.Profiles,
		logg:       logg,
		metrics:    params.Metrics,
		baseDelay:  base,
		maxRetries: params.Config.ProfileMaxRetries,
		phase:      PhaseUninitialized,
		changed:    make(chan struct{}),
	}, nil
}

// Start subscribes to the provider. The machine moves to Resolving until the
// first event lands.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session bootstrap already started")
	}
	b.started = true
	b.runCtx, b.stopRuns = context.WithCancel(context.WithoutCancel(ctx))
	b.phase = PhaseResolving
	b.notifyLocked()
	b.mu.Unlock()

	b.logg.Info(ctx, "session bootstrap subscribing to identity provider")

	// Providers may deliver the initial event synchronously, so the lock is
	// released around Subscribe.
	unsubscribe := b.provider.Subscribe(b.handleEvent)

	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
	return nil
}

// Close unsubscribes and waits for in-flight resolutions to stop.
func (b *Bootstrap) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	if b.stopRuns != nil {
		b.stopRuns()
	}
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.wg.Wait()
}

// Snapshot returns the current state. Role is withheld until ready.
func (b *Bootstrap) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Changed returns a channel closed on the next state change.
func (b *Bootstrap) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// WaitReady blocks until the session is ready or ctx is done.
func (b *Bootstrap) WaitReady(ctx context.Context) (Snapshot, error) {
	for {
		b.mu.Lock()
		snap := b.snapshotLocked()
		ch := b.changed
		b.mu.Unlock()
		if snap.Ready {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, pkgerrors.Wrap(pkgerrors.CodeNotReady, ctx.Err(), "session is still resolving")
		}
	}
}

// SignIn authenticates with email and password. Role changes arrive through
// the event stream.
func (b *Bootstrap) SignIn(ctx context.Context, email, password string) error {
	b.setError("")
	if err := b.provider.SignInWithPassword(ctx, strings.TrimSpace(email), password); err != nil {
		return b.fail(ctx, "sign in failed", err, "Signin failed")
	}
	return nil
}

// SignUp registers a new identity with role attached as metadata. An empty
// role defaults to end_user.
func (b *Bootstrap) SignUp(ctx context.Context, email, password string, role enums.UserRole) error {
	b.setError("")
	if role == "" {
		role = enums.UserRoleEndUser
	}
	if !role.IsValid() {
		return b.fail(ctx, "sign up rejected", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid role %q", role)), "Signup failed")
	}
	metadata := map[string]any{
		"role":      role.String(),
		"full_name": "",
	}
	if err := b.provider.SignUp(ctx, strings.TrimSpace(email), password, metadata); err != nil {
		return b.fail(ctx, "sign up failed", err, "Signup failed")
	}
	return nil
}

// SignInAnonymously obtains an anonymous identity and downgrades its profile
// to guest_user.
func (b *Bootstrap) SignInAnonymously(ctx context.Context) error {
	b.setError("")
	identity, err := b.provider.SignInAnonymously(ctx)
	if err != nil {
		return b.fail(ctx, "anonymous sign in failed", err, "Anonymous signin failed")
	}
	if identity == nil || identity.ID == uuid.Nil {
		return nil
	}
	// The guest keeps whatever role its profile was provisioned with when the
	// downgrade fails.
	if err := b.profiles.UpdateRole(ctx, identity.ID, enums.UserRoleGuest); err != nil {
		b.logg.Warn(b.logg.WithField(b.logg.WithIdentityID(ctx, identity.ID.String()), "error", err.Error()), "guest role update failed")
		return nil
	}

	// The sign-in event may have resolved the pre-update role already.
	b.mu.Lock()
	if b.started && !b.closed && b.identity != nil && b.identity.ID == identity.ID {
		b.beginResolutionLocked(b.identity.ID)
	}
	b.mu.Unlock()
	return nil
}

// SignOut asks the provider to end the session and clears local state
// without waiting for the event round trip.
func (b *Bootstrap) SignOut(ctx context.Context) error {
	b.setError("")
	if err := b.provider.SignOut(ctx); err != nil {
		return b.fail(ctx, "sign out failed", err, "Signout failed")
	}

	b.mu.Lock()
	b.supersedeLocked()
	b.identity = nil
	b.role = ""
	b.degraded = false
	b.phase = PhaseReady
	b.ready = true
	b.notifyLocked()
	b.mu.Unlock()

	b.logg.Info(ctx, "session cleared after sign out")
	return nil
}

// Retry re-runs profile resolution for the current identity.
func (b *Bootstrap) Retry(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started || b.closed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "session bootstrap is not running")
	}
	if b.phase == PhaseSigningOutOrphan {
		return pkgerrors.New(pkgerrors.CodeNotReady, "session is signing out")
	}
	b.errMsg = ""
	b.degraded = false
	if b.identity == nil {
		b.phase = PhaseReady
		b.ready = true
		b.notifyLocked()
		return nil
	}
	b.logg.Info(b.logg.WithIdentityID(ctx, b.identity.ID.String()), "manual profile retry requested")
	b.beginResolutionLocked(b.identity.ID)
	return nil
}

// ContinueDegraded dismisses the current error and keeps the session role-less.
// It is a no-op for a session that resolved cleanly.
func (b *Bootstrap) ContinueDegraded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return pkgerrors.New(pkgerrors.CodeNotReady, "session is still resolving")
	}
	if b.errMsg == "" && (b.identity == nil || b.role != "") {
		return nil
	}
	b.errMsg = ""
	b.degraded = true
	b.notifyLocked()
	return nil
}

func (b *Bootstrap) handleEvent(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.lastEvent = ev.Type
	b.errMsg = ""
	ctx := b.logg.WithField(b.runCtx, "auth_event", ev.Type.String())

	if ev.Identity == nil {
		b.supersedeLocked()
		b.identity = nil
		b.role = ""
		b.degraded = false
		b.phase = PhaseReady
		b.ready = true
		b.notifyLocked()
		b.logg.Info(ctx, "no identity, session ready without role")
		return
	}

	same := b.identity != nil && b.identity.ID == ev.Identity.ID
	if same && ev.Type.KeepsIdentity() && b.phase != PhaseSigningOutOrphan && (b.phase == PhaseResolving || b.role != "") {
		b.identity = ev.Identity.clone()
		b.notifyLocked()
		b.logg.Debug(ctx, "identity refreshed, role kept")
		return
	}

	b.identity = ev.Identity.clone()
	b.degraded = false
	b.beginResolutionLocked(ev.Identity.ID)
}

func (b *Bootstrap) beginResolutionLocked(id uuid.UUID) {
	b.supersedeLocked()
	gen := b.generation

	ctx, cancel := context.WithCancel(b.runCtx)
	b.cancelRun = cancel

	b.role = ""
	b.ready = false
	b.phase = PhaseResolving
	b.notifyLocked()

	b.wg.Add(1)
	go b.resolve(ctx, gen, id, time.Now())
}

// supersedeLocked invalidates any in-flight resolution.
func (b *Bootstrap) supersedeLocked() {
	b.generation++
	if b.cancelRun != nil {
		b.cancelRun()
		b.cancelRun = nil
	}
}

func (b *Bootstrap) resolve(ctx context.Context, gen uint64, id uuid.UUID, started time.Time) {
	defer b.wg.Done()
	logCtx := b.logg.WithIdentityID(ctx, id.String())

	role, found, err := b.fetchRole(logCtx, id)

	b.mu.Lock()
	if gen != b.generation || b.closed {
		b.mu.Unlock()
		b.metrics.Resolved(metrics.OutcomeSuperseded, 0)
		b.logg.Debug(logCtx, "discarding superseded profile resolution")
		return
	}

	switch {
	case err != nil:
		b.role = ""
		b.errMsg = ProfileFetchFailedMessage
		b.phase = PhaseReady
		b.ready = true
		b.notifyLocked()
		b.mu.Unlock()
		b.metrics.Resolved(metrics.OutcomeFailed, time.Since(started))
		b.logg.Error(logCtx, "profile fetch failed after retries", err)

	case !found:
		b.phase = PhaseSigningOutOrphan
		b.notifyLocked()
		b.mu.Unlock()
		b.metrics.Resolved(metrics.OutcomeOrphaned, time.Since(started))
		b.logg.Warn(logCtx, "no profile for active identity, signing out stale session")
		b.signOutOrphan(logCtx, gen)

	default:
		if role == "" {
			role = enums.UserRoleEndUser
		}
		b.role = role
		b.phase = PhaseReady
		b.ready = true
		b.notifyLocked()
		b.mu.Unlock()
		b.metrics.Resolved(metrics.OutcomeResolved, time.Since(started))
		b.logg.Info(b.logg.WithRole(logCtx, role.String()), "session role resolved")
	}
}

// signOutOrphan issues exactly one provider sign-out. The ack lands the
// machine in Ready without role even if the provider's null event is late.
func (b *Bootstrap) signOutOrphan(ctx context.Context, gen uint64) {
	err := b.provider.SignOut(context.WithoutCancel(ctx))

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || b.closed {
		return
	}
	b.role = ""
	b.phase = PhaseReady
	b.ready = true
	if err != nil {
		b.errMsg = messageOr(err, "Signout failed")
		b.logg.Error(ctx, "forced sign out failed", err)
	} else {
		b.identity = nil
	}
	b.notifyLocked()
}

func (b *Bootstrap) fetchRole(ctx context.Context, id uuid.UUID) (enums.UserRole, bool, error) {
	var (
		role    enums.UserRole
		found   bool
		lastErr error
		attempt int
	)
	backoff := retry.WithMaxRetries(b.maxRetries, retry.NewExponential(b.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, ok, err := b.profiles.FetchRole(ctx, id)
		if err != nil {
			lastErr = err
			b.metrics.FetchAttempt("error")
			b.logg.Warn(b.logg.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "profile fetch attempt failed")
			return retry.RetryableError(err)
		}
		if ok {
			b.metrics.FetchAttempt("ok")
		} else {
			b.metrics.FetchAttempt("not_found")
		}
		role, found = r, ok
		return nil
	})
	if err != nil {
		if lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		return "", false, err
	}
	return role, found, nil
}

func (b *Bootstrap) setError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errMsg == msg {
		return
	}
	b.errMsg = msg
	b.notifyLocked()
}

func (b *Bootstrap) fail(ctx context.Context, logMsg string, err error, fallback string) error {
	b.setError(messageOr(err, fallback))
	b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), logMsg)
	return err
}

func (b *Bootstrap) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:     b.phase,
		Identity:  b.identity.clone(),
		Ready:     b.ready,
		Loading:   !b.ready,
		Error:     b.errMsg,
		Degraded:  b.degraded,
		LastEvent: b.lastEvent,
	}
	if b.ready {
		snap.Role = b.role
	}
	return snap
}

func (b *Bootstrap) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func messageOr(err error, fallback string) string {
	if msg := strings.TrimSpace(pkgerrors.MessageOf(err)); msg != "" {
		return msg
	}
	return fallback
}
