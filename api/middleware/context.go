package middleware

import (
	"context"

	"github.com/angelmondragon/zeroproof-client/pkg/enums"
)

type contextKey string

const (
	ctxIdentityID contextKey = "identity_id"
	ctxRole       contextKey = "role"
)

func IdentityIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxIdentityID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.UserRole); ok {
		return v
	}
	return ""
}

// WithIdentity stores the admitted identity and its effective role.
func WithIdentity(ctx context.Context, identityID string, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxIdentityID, identityID)
	return context.WithValue(ctx, ctxRole, role)
}
