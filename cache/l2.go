package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExternalStore is the L2 tier contract (§4.1: "an L1 in-memory cache
// backed by an L2 external KV"). Any KV store can satisfy it; RedisStore
// below is the provided implementation, mirroring gomind's
// RedisSchemaCache wiring of github.com/go-redis against a similar
// get/set/ttl shape.
type ExternalStore interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string)
	DeletePattern(ctx context.Context, substr string)
	Clear(ctx context.Context)
}

// RedisStore is a Redis-backed ExternalStore. Values are JSON-encoded; keys
// are namespaced under prefix the way gomind's schema cache namespaces
// under "gomind:schema:".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing *redis.Client. Connectivity is the
// caller's concern (construct the client, Ping it) — this type only adds
// the cache's own Get/Set/Delete semantics on top.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "utac:cache:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) Get(ctx context.Context, key string) (interface{}, bool) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		return nil, false
	}
	return v, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return r.client.Set(ctx, r.key(key), data, ttl).Err()
}

func (r *RedisStore) Has(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return err == nil && n > 0
}

func (r *RedisStore) Delete(ctx context.Context, key string) {
	r.client.Del(ctx, r.key(key))
}

// DeletePattern scans keys under prefix containing substr and deletes them.
// SCAN is used instead of KEYS to avoid blocking a shared Redis instance,
// following the same non-blocking-iteration concern gomind's Redis code
// takes with its capability/name index sets.
func (r *RedisStore) DeletePattern(ctx context.Context, substr string) {
	iter := r.client.Scan(ctx, 0, r.prefix+"*"+substr+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			r.client.Del(ctx, batch...)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		r.client.Del(ctx, batch...)
	}
}

func (r *RedisStore) Clear(ctx context.Context) {
	r.DeletePattern(ctx, "")
}
