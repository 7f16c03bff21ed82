package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/zeroproof-client/internal/session"
	"github.com/angelmondragon/zeroproof-client/pkg/auth"
	"github.com/angelmondragon/zeroproof-client/pkg/auth/refresh"
	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"github.com/angelmondragon/zeroproof-client/pkg/db"
	"github.com/angelmondragon/zeroproof-client/pkg/db/models"
	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
	"github.com/angelmondragon/zeroproof-client/pkg/security"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Messages mirror what the hosted auth service reports, so forms can show
// them verbatim.
const (
	MsgInvalidCredentials = "Invalid login credentials"
	MsgAlreadyRegistered  = "User already registered"
	MsgInvalidEmail       = "Unable to validate email address: invalid format"
	MsgSessionMissing     = "Auth session missing!"
	MsgInvalidRefresh     = "Invalid Refresh Token: Refresh Token Not Found"
)

// DefaultSessionSlot is where the signed-in session is persisted.
const DefaultSessionSlot = "auth_session"

var validate = validator.New()

// RefreshStore issues and rotates refresh tokens keyed by access token id.
type RefreshStore interface {
	Issue(ctx context.Context, accessID string) (string, error)
	Rotate(ctx context.Context, oldAccessID, presented string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
	Active(ctx context.Context, accessID string) (bool, error)
}

// SessionStorage is the client storage slot holding the persisted session.
type SessionStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Provisioner creates the profile row for a new identity inside tx.
type Provisioner interface {
	ProvisionTx(ctx context.Context, tx *gorm.DB, identityID uuid.UUID, roleHint enums.UserRole) error
}

// ProviderParams groups dependencies for the local identity provider.
type ProviderParams struct {
	DB          *gorm.DB
	Refresh     RefreshStore
	Storage     SessionStorage
	Provisioner Provisioner
	JWT         config.JWTConfig
	Password    config.PasswordConfig
	SessionSlot string
	Logger      *logger.Logger
	Now         func() time.Time
}

type persistedSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type activeSession struct {
	identity     session.Identity
	accessID     string
	refreshToken string
}

// Provider is a self-hosted identity provider: password and anonymous
// sign-in over auth_users, JWT access tokens, and redis refresh tokens.
type Provider struct {
	conn        *gorm.DB
	users       *Users
	refresh     RefreshStore
	storage     SessionStorage
	provisioner Provisioner
	jwt         config.JWTConfig
	password    config.PasswordConfig
	slot        string
	logg        *logger.Logger
	now         func() time.Time
	events      *broker

	mu      sync.Mutex
	current *activeSession
}

var _ session.IdentityProvider = (*Provider)(nil)

// NewProvider validates dependencies and returns a provider with no session.
func NewProvider(params ProviderParams) (*Provider, error) {
	switch {
	case params.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "database is required")
	case params.Refresh == nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refresh store is required")
	case params.Storage == nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session storage is required")
	case params.Provisioner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile provisioner is required")
	case params.JWT.Secret == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "jwt secret is required")
	}
	slot := strings.TrimSpace(params.SessionSlot)
	if slot == "" {
		slot = DefaultSessionSlot
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		conn:        params.DB,
		users:       NewUsers(params.DB),
		refresh:     params.Refresh,
		storage:     params.Storage,
		provisioner: params.Provisioner,
		jwt:         params.JWT,
		password:    params.Password,
		slot:        slot,
		logg:        logg,
		now:         now,
		events:      newBroker(),
	}, nil
}

// Subscribe delivers INITIAL_SESSION followed by every later event, in order.
func (p *Provider) Subscribe(handler func(session.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.subscribe(handler, session.Event{
		Type:     enums.AuthEventInitialSession,
		Identity: p.currentIdentityLocked(),
	})
}

// Close drops every subscriber.
func (p *Provider) Close() {
	p.events.close()
}

// Current returns the signed-in identity or nil.
func (p *Provider) Current() *session.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIdentityLocked()
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	user, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, MsgInvalidCredentials)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user.PasswordHash == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, MsgInvalidCredentials)
	}
	ok, err := security.VerifyPassword(password, *user.PasswordHash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, MsgInvalidCredentials)
	}

	_, err = p.establish(ctx, user, enums.AuthEventSignedIn)
	return err
}

// SignUp registers email with a profile provisioned from metadata["role"],
// then signs the new user in.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) error {
	email = normalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, MsgInvalidEmail)
	}
	if err := security.CheckLength(password, p.password); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Password should be at least %d characters.", p.password.MinLength))
	}

	if _, err := p.users.FindByEmail(ctx, email); err == nil {
		return pkgerrors.New(pkgerrors.CodeConflict, MsgAlreadyRegistered)
	} else if !db.IsNotFound(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing user")
	}

	hash, err := security.HashPassword(password, p.password)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	user := &models.AuthUser{Email: &email, PasswordHash: &hash}
	if err := p.createWithProfile(ctx, user, roleHint(metadata)); err != nil {
		if db.IsUniqueViolation(err) {
			return pkgerrors.New(pkgerrors.CodeConflict, MsgAlreadyRegistered)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
	}

	_, err = p.establish(ctx, user, enums.AuthEventSignedIn)
	return err
}

// SignInAnonymously creates an anonymous user with a default profile.
func (p *Provider) SignInAnonymously(ctx context.Context) (*session.Identity, error) {
	user := &models.AuthUser{IsAnonymous: true}
	if err := p.createWithProfile(ctx, user, ""); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create anonymous user")
	}
	return p.establish(ctx, user, enums.AuthEventSignedIn)
}

// SignOut ends the local session. It always emits SIGNED_OUT, even when no
// session was active.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur := p.current; cur != nil {
		if err := p.refresh.Revoke(ctx, cur.accessID); err != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "revoking refresh token failed")
		}
	}
	p.current = nil
	if err := p.storage.Delete(ctx, p.slot); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "clearing persisted session failed")
	}
	p.events.publish(session.Event{Type: enums.AuthEventSignedOut})
	return nil
}

// Refresh rotates the refresh token and re-mints the access token. An
// unknown refresh token signs the session out.
func (p *Provider) Refresh(ctx context.Context) (*session.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, MsgSessionMissing)
	}
	if err := p.rotateLocked(ctx); err != nil {
		if errors.Is(err, refresh.ErrInvalidToken) {
			p.current = nil
			_ = p.storage.Delete(ctx, p.slot)
			p.events.publish(session.Event{Type: enums.AuthEventSignedOut})
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, MsgInvalidRefresh)
		}
		return nil, err
	}
	ident := p.currentIdentityLocked()
	p.events.publish(session.Event{Type: enums.AuthEventTokenRefreshed, Identity: ident})
	return ident, nil
}

// Restore reloads the persisted session. Unusable sessions are discarded
// silently; only storage or database failures are returned. Call it before
// anyone subscribes.
func (p *Provider) Restore(ctx context.Context) error {
	raw, ok, err := p.storage.Get(ctx, p.slot)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read persisted session")
	}
	if !ok {
		return nil
	}

	discard := func(reason string) error {
		p.logg.Info(p.logg.WithField(ctx, "reason", reason), "discarding persisted session")
		return p.storage.Delete(ctx, p.slot)
	}

	var stored persistedSession
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return discard("malformed")
	}
	claims, err := auth.ParseAccessTokenAllowExpired(p.jwt, stored.AccessToken)
	if err != nil {
		return discard("invalid access token")
	}
	active, err := p.refresh.Active(ctx, claims.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refresh session")
	}
	if !active {
		return discard("refresh session expired")
	}
	if _, err := p.users.FindByID(ctx, claims.UserID); err != nil {
		if db.IsNotFound(err) {
			_ = p.refresh.Revoke(ctx, claims.ID)
			return discard("user deleted")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &activeSession{
		identity: session.Identity{
			ID:          claims.UserID,
			Email:       claims.Email,
			Anonymous:   claims.Anonymous,
			AccessToken: stored.AccessToken,
			ExpiresAt:   expiresAt,
		},
		accessID:     claims.ID,
		refreshToken: stored.RefreshToken,
	}
	if !expiresAt.After(p.now()) {
		if err := p.rotateLocked(ctx); err != nil {
			p.current = nil
			if errors.Is(err, refresh.ErrInvalidToken) {
				return discard("refresh token rejected")
			}
			return err
		}
	}
	p.logg.Info(p.logg.WithIdentityID(ctx, claims.UserID.String()), "persisted session restored")
	return nil
}

func (p *Provider) createWithProfile(ctx context.Context, user *models.AuthUser, hint enums.UserRole) error {
	return p.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.users.WithTx(tx).Create(ctx, user); err != nil {
			return err
		}
		return p.provisioner.ProvisionTx(ctx, tx, user.ID, hint)
	})
}

// establish replaces any current session with a fresh one for user and
// publishes ev.
func (p *Provider) establish(ctx context.Context, user *models.AuthUser, ev enums.AuthEvent) (*session.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev := p.current; prev != nil {
		if err := p.refresh.Revoke(ctx, prev.accessID); err != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "revoking previous refresh token failed")
		}
	}

	ident := session.Identity{ID: user.ID, Anonymous: user.IsAnonymous}
	if user.Email != nil {
		ident.Email = *user.Email
	}
	next := &activeSession{identity: ident}
	if err := p.mintLocked(ctx, next, refresh.NewAccessID()); err != nil {
		return nil, err
	}
	refreshToken, err := p.refresh.Issue(ctx, next.accessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue refresh token")
	}
	next.refreshToken = refreshToken

	p.current = next
	if err := p.persistLocked(ctx); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "persisting session failed")
	}
	if err := p.users.TouchSignIn(ctx, user.ID, p.now().UTC()); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "recording sign in time failed")
	}

	out := p.currentIdentityLocked()
	p.events.publish(session.Event{Type: ev, Identity: out})
	p.logg.Info(p.logg.WithIdentityID(ctx, user.ID.String()), "identity signed in")
	return out, nil
}

func (p *Provider) rotateLocked(ctx context.Context) error {
	cur := p.current
	nextID, nextRefresh, err := p.refresh.Rotate(ctx, cur.accessID, cur.refreshToken)
	if err != nil {
		return err
	}
	if err := p.mintLocked(ctx, cur, nextID); err != nil {
		return err
	}
	cur.refreshToken = nextRefresh
	if err := p.persistLocked(ctx); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "persisting refreshed session failed")
	}
	return nil
}

func (p *Provider) mintLocked(_ context.Context, s *activeSession, accessID string) error {
	token, expiresAt, err := auth.MintAccessToken(p.jwt, p.now(), auth.IdentityTokenPayload{
		UserID:    s.identity.ID,
		Email:     s.identity.Email,
		Anonymous: s.identity.Anonymous,
		JTI:       accessID,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	s.accessID = accessID
	s.identity.AccessToken = token
	s.identity.ExpiresAt = expiresAt
	return nil
}

func (p *Provider) persistLocked(ctx context.Context) error {
	payload, err := json.Marshal(persistedSession{
		AccessToken:  p.current.identity.AccessToken,
		RefreshToken: p.current.refreshToken,
	})
	if err != nil {
		return err
	}
	return p.storage.Set(ctx, p.slot, string(payload))
}

func (p *Provider) currentIdentityLocked() *session.Identity {
	if p.current == nil {
		return nil
	}
	ident := p.current.identity
	return &ident
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func roleHint(metadata map[string]any) enums.UserRole {
	raw, _ := metadata["role"].(string)
	role, err := enums.ParseUserRole(raw)
	if err != nil {
		return enums.UserRoleEndUser
	}
	return role
}
