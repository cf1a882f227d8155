// Package kv abstracts the key-value store that backs quota counters,
// cached AI responses and usage metrics. Two backends exist: a durable
// Redis-backed store and an in-process fallback for environments without
// a Redis connection. Atomicity of Incr/IncrBy/HIncrBy is per key and is
// the only concurrency guarantee callers may rely on.
package kv

import (
	"context"
	"time"
)

// Store is the contract shared by both backends. Get reports found=false
// for absent or expired keys instead of returning an error.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	HIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
