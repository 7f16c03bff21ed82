package clientstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"gorm.io/gorm"
)

// Store is durable client storage: named string slots.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Deps carries the connections a backend may need.
type Deps struct {
	Redis RedisKV
	DB    *gorm.DB
}

// Open selects the backend named by cfg.
func Open(cfg config.ClientStorageConfig, deps Deps) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.StorageBackendRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis client storage requires a redis client")
		}
		return NewRedis(deps.Redis), nil
	case config.StorageBackendSQL:
		if deps.DB == nil {
			return nil, fmt.Errorf("sql client storage requires a database")
		}
		return NewSQL(deps.DB), nil
	case config.StorageBackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown client storage backend %q", cfg.Backend)
	}
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("storage key is required")
	}
	return nil
}
