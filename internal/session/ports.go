package session

import (
	"context"

	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	"github.com/google/uuid"
)

// IdentityProvider is the external auth service. Subscribe must deliver
// events to handler in emission order and return an unsubscribe func.
type IdentityProvider interface {
	Subscribe(handler func(Event)) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string, metadata map[string]any) error
	SignInAnonymously(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
}

// ProfileStore resolves and updates the role attached to an identity.
// FetchRole returns found=false when no profile row exists.
type ProfileStore interface {
	FetchRole(ctx context.Context, identityID uuid.UUID) (enums.UserRole, bool, error)
	UpdateRole(ctx context.Context, identityID uuid.UUID, role enums.UserRole) error
}
