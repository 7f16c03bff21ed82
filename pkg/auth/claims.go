package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityTokenPayload captures what the identity provider knows when it mints
// an access token. Roles are deliberately absent: they live on the profile row.
type IdentityTokenPayload struct {
	UserID    uuid.UUID
	Email     string
	Anonymous bool
	JTI       string
}

// IdentityClaims represents the typed JWT handed to the client.
type IdentityClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Anonymous bool      `json:"is_anonymous,omitempty"`
	jwt.RegisteredClaims
}
