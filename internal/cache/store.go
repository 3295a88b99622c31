/**
 * @description
 * This package provides the TTL key-value store backing every ephemeral cache
 * in the service: bank tokens, consent grants, balances and transaction
 * lists. The store is constructed once at process startup and injected into
 * each component; nothing in the service reaches for a shared global client.
 *
 * Key features:
 * - Minimal get / set-with-expiry / delete contract; no cross-key atomicity.
 * - A miss is reported as (found=false), never as an error, so callers can
 *   treat absence as a read-through trigger.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: The Redis client library.
 */
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the TTL key-value contract used by the gateway and aggregation
// caches.
type Store interface {
	// Get returns the value for key. found is false on a miss or after the
	// entry's TTL elapsed.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// RedisStore implements Store on a Redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an already-connected Redis client. The caller owns the
// client's lifecycle.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
