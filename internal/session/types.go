package session

import (
	"time"

	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	"github.com/google/uuid"
)

// Identity is the provider-owned record of who is signed in.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email,omitempty"`
	Anonymous   bool      `json:"is_anonymous"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

// Event is one change on the provider's auth stream. A nil Identity means
// nobody is signed in.
type Event struct {
	Type     enums.AuthEvent
	Identity *Identity
}

// Phase is the bootstrap state machine position.
type Phase string

const (
	PhaseUninitialized    Phase = "uninitialized"
	PhaseResolving        Phase = "resolving"
	PhaseSigningOutOrphan Phase = "signing_out_orphan"
	PhaseReady            Phase = "ready"
)

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Phase     Phase           `json:"phase"`
	Identity  *Identity       `json:"user"`
	Role      enums.UserRole  `json:"role,omitempty"`
	Ready     bool            `json:"ready"`
	Loading   bool            `json:"loading"`
	Error     string          `json:"error,omitempty"`
	Degraded  bool            `json:"degraded"`
	LastEvent enums.AuthEvent `json:"last_event,omitempty"`
}

// HasRole reports whether a role has been resolved.
func (s Snapshot) HasRole() bool {
	return s.Ready && s.Role != ""
}

// SignedIn reports whether the snapshot carries an identity.
func (s Snapshot) SignedIn() bool {
	return s.Identity != nil
}
