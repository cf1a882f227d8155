// Package aicache is a content-addressed cache of normalized AI responses.
// Keys combine the operation type with an injective encoding of the input
// text, so identical inputs share an entry and distinct inputs never
// collide. Expiry is time-based only; there is no read-refresh and no
// explicit invalidation.
package aicache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"paperai/api/internal/kv"
)

const keyPrefix = "ai:"

// DefaultTTL is how long an entry lives after being written.
const DefaultTTL = 24 * time.Hour

type Cache struct {
	store kv.Store
	ttl   time.Duration
}

func New(store kv.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// key derives the cache key for an operation and input text. The text is
// base64-encoded rather than hashed: the mapping stays injective over all
// inputs at the cost of unbounded key length for large texts.
func (c *Cache) key(operation, text string) string {
	return keyPrefix + operation + ":" + base64.RawURLEncoding.EncodeToString([]byte(text))
}

// Get looks up the cached value for (operation, text) and unmarshals it
// into dest. It reports whether an entry was found.
func (c *Cache) Get(ctx context.Context, operation, text string, dest any) (bool, error) {
	value, found, err := c.store.Get(ctx, c.key(operation, text))
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", operation, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("cache get %s: decode entry: %w", operation, err)
	}
	return true, nil
}

// Set stores value for (operation, text) with the cache TTL.
func (c *Cache) Set(ctx context.Context, operation, text string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: encode entry: %w", operation, err)
	}
	if err := c.store.Set(ctx, c.key(operation, text), string(encoded), c.ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", operation, err)
	}
	return nil
}
