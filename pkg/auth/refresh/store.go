package refresh

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/zeroproof-client/pkg/config"
	redisclient "github.com/angelmondragon/zeroproof-client/pkg/redis"
	"github.com/google/uuid"
)

const tokenBytes = 32

// ErrInvalidToken is returned when a refresh token is unknown, expired or mismatched.
var ErrInvalidToken = errors.New("invalid refresh token")

type kv interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type keyer interface {
	AccessSessionKey(accessID string) string
}

// Store keeps one refresh token per access token id (the JWT jti).
type Store struct {
	kv      kv
	keys    keyer
	ttl     time.Duration
	missing func(error) bool
}

// NewStore builds a redis-backed refresh store.
func NewStore(client *redisclient.Client, cfg config.JWTConfig) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	ttl := cfg.RefreshTokenTTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("refresh token ttl must be positive")
	}
	if access := cfg.AccessTokenTTL(); ttl <= access {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, access)
	}
	return &Store{kv: client, keys: client, ttl: ttl, missing: redisclient.IsMissing}, nil
}

// Issue stores a fresh refresh token for accessID.
func (s *Store) Issue(ctx context.Context, accessID string) (string, error) {
	if strings.TrimSpace(accessID) == "" {
		return "", fmt.Errorf("access id is required")
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, s.keys.AccessSessionKey(accessID), token, s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Rotate swaps the refresh token bound to oldAccessID for a new access id and token.
func (s *Store) Rotate(ctx context.Context, oldAccessID, presented string) (string, string, error) {
	if strings.TrimSpace(oldAccessID) == "" || strings.TrimSpace(presented) == "" {
		return "", "", ErrInvalidToken
	}

	oldKey := s.keys.AccessSessionKey(oldAccessID)
	stored, err := s.kv.Get(ctx, oldKey)
	if err != nil {
		if s.isMissing(err) {
			return "", "", ErrInvalidToken
		}
		return "", "", err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return "", "", ErrInvalidToken
	}

	nextID := NewAccessID()
	next, err := s.Issue(ctx, nextID)
	if err != nil {
		return "", "", err
	}
	if err := s.kv.Del(ctx, oldKey); err != nil {
		return "", "", err
	}
	return nextID, next, nil
}

// Revoke drops the refresh token bound to accessID. Unknown ids are not an error.
func (s *Store) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return fmt.Errorf("access id is required")
	}
	return s.kv.Del(ctx, s.keys.AccessSessionKey(accessID))
}

// Active reports whether accessID still has a live refresh token.
func (s *Store) Active(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, nil
	}
	if _, err := s.kv.Get(ctx, s.keys.AccessSessionKey(accessID)); err != nil {
		if s.isMissing(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewAccessID produces the identifier used as JWT jti and redis key suffix.
func NewAccessID() string {
	return uuid.NewString()
}

func (s *Store) isMissing(err error) bool {
	if s.missing == nil {
		return redisclient.IsMissing(err)
	}
	return s.missing(err)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
