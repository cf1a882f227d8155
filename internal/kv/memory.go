package kv

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback backend, used when no Redis
// connection is configured (local development, tests). Keys expire lazily
// on access.
//
// Known limitation: state lives in this process only. Running more than
// one instance of the service against the MemoryStore silently splits
// quota counters per instance; it is NOT safe for multi-process
// deployments. Use the Redis backend for anything beyond a single
// local instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the entry for key, removing it first if it has expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) *memEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(key)
	if entry == nil {
		// Expired or absent bucket: reseed.
		s.entries[key] = &memEntry{value: strconv.FormatInt(n, 10)}
		return n, nil
	}
	current, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incrby %s: value is not an integer", key)
	}
	current += n
	entry.value = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(key)
	if entry == nil || entry.hash != nil {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(key)
	if entry == nil {
		return nil
	}
	entry.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key) != nil, nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(key)
	if entry == nil {
		entry = &memEntry{hash: make(map[string]string)}
		s.entries[key] = entry
	}
	if entry.hash == nil {
		return 0, fmt.Errorf("hincrby %s: not a hash", key)
	}
	current, err := strconv.ParseInt(entry.hash[field], 10, 64)
	if err != nil && entry.hash[field] != "" {
		return 0, fmt.Errorf("hincrby %s %s: field is not an integer", key, field)
	}
	current += n
	entry.hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(key)
	if entry == nil {
		entry = &memEntry{hash: make(map[string]string)}
		s.entries[key] = entry
	}
	if entry.hash == nil {
		return fmt.Errorf("hset %s: not a hash", key)
	}
	for field, value := range fields {
		entry.hash[field] = value
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(key)
	if entry == nil || entry.hash == nil {
		return map[string]string{}, nil
	}
	copied := make(map[string]string, len(entry.hash))
	for field, value := range entry.hash {
		copied[field] = value
	}
	return copied, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.entries {
		if s.live(key) == nil {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("keys %s: %w", pattern, err)
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
