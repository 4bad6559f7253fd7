package writecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKey is the key holding the state document.
const RedisKey = "boardsync:writecache"

// RedisBackend stores the state document as one JSON string value.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend parses a redis:// or rediss:// URL.
func NewRedisBackend(dsn string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	return NewRedisBackendWithClient(redis.NewClient(opts)), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, key: RedisKey}
}

func (b *RedisBackend) Load(ctx context.Context) (*State, error) {
	payload, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", b.key, err)
	}
	return &state, nil
}

func (b *RedisBackend) Save(ctx context.Context, state *State) error {
	if state == nil {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.key, payload, 0).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
