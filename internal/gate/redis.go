package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes a key only when it still holds the caller's
// sentinel value. Runs atomically server-side, so a lock that expired
// and was re-acquired by another instance is never deleted from here.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisStore implements AtomicStore on a Redis/Valkey client.
type RedisStore struct {
	client        *goredis.Client
	prefix        string
	releaseScript *goredis.Script
}

// NewRedisStore creates a RedisStore. All keys are namespaced under the
// given prefix ("tilemetry:" when empty).
func NewRedisStore(client *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tilemetry:"
	}
	return &RedisStore{
		client:        client,
		prefix:        prefix,
		releaseScript: goredis.NewScript(releaseScript),
	}
}

// Ping checks connectivity to the store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrKeyAbsent
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ReleaseIfHeld(ctx context.Context, key, value string) error {
	if err := s.releaseScript.Run(ctx, s.client, []string{s.prefix + key}, value).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
