package clientstore

import (
	"context"
	"time"

	redisclient "github.com/angelmondragon/zeroproof-client/pkg/redis"
)

// RedisKV is the slice of pkg/redis the redis backend uses.
type RedisKV interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	ClientSlotKey(slot string) string
}

// Redis keeps each slot under a namespaced key without expiry.
type Redis struct {
	kv RedisKV
}

func NewRedis(kv RedisKV) *Redis {
	return &Redis{kv: kv}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	val, err := r.kv.Get(ctx, r.kv.ClientSlotKey(key))
	if redisclient.IsMissing(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return r.kv.Set(ctx, r.kv.ClientSlotKey(key), value, 0)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return r.kv.Del(ctx, r.kv.ClientSlotKey(key))
}
