// Package ratelimit enforces per-user AI request quotas: a rolling
// per-UTC-minute request cap and a per-UTC-day token cap. Counters live in
// the shared key-value store; atomicity is delegated to the store backend.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"paperai/api/internal/kv"
)

const (
	minuteKeyPrefix = "ratelimit:req:"
	dayKeyPrefix    = "ratelimit:tokens:"
)

// LimitError reports a breached quota. RetryAfterSeconds is the time until
// the relevant bucket resets (next minute boundary or next UTC midnight).
type LimitError struct {
	Scope             string // "requests" or "tokens"
	RetryAfterSeconds int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %ds", e.Scope, e.RetryAfterSeconds)
}

// Status is the result of an admitted rate-limit check.
type Status struct {
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"` // epoch seconds of the next minute boundary
}

// Usage is a point-in-time view of a user's quota consumption, served by
// the usage-inspection endpoint.
type Usage struct {
	DailyTokens       int64 `json:"dailyTokens"`
	RecentRequests    int64 `json:"monthlyRequests"`
	RemainingRequests int64 `json:"remainingRequests"`
	MaxTokensPerDay   int64 `json:"maxTokensPerDay"`
}

type Limiter struct {
	store                kv.Store
	maxRequestsPerMinute int64
	maxTokensPerDay      int64
	now                  func() time.Time
}

func New(store kv.Store, maxRequestsPerMinute, maxTokensPerDay int64) *Limiter {
	return &Limiter{
		store:                store,
		maxRequestsPerMinute: maxRequestsPerMinute,
		maxTokensPerDay:      maxTokensPerDay,
		now:                  time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (l *Limiter) SetNow(now func() time.Time) { l.now = now }

// Check admits or rejects a request for userID. Bucket keys are recomputed
// from the current wall clock on every call, so a burst can straddle two
// adjacent minute buckets; that is the quota policy, not a defect. A store
// failure here is fatal to the request: without a quota decision the call
// must not proceed.
func (l *Limiter) Check(ctx context.Context, userID string) (Status, error) {
	now := l.now().UTC()

	minuteKey := l.minuteKey(userID, now)
	count, err := l.store.Incr(ctx, minuteKey)
	if err != nil {
		return Status{}, fmt.Errorf("rate limit check: %w", err)
	}
	if count == 1 {
		// First increment in a fresh bucket sets its expiry. The store
		// only guarantees atomicity for the increment itself, so this is
		// a separate step; if it is skipped by a crash the next minute's
		// bucket still gets a fresh key.
		if err := l.store.Expire(ctx, minuteKey, time.Minute); err != nil {
			return Status{}, fmt.Errorf("rate limit check: %w", err)
		}
	}

	tokens, err := l.dayTokens(ctx, userID, now)
	if err != nil {
		return Status{}, fmt.Errorf("rate limit check: %w", err)
	}

	nextMinute := now.Truncate(time.Minute).Add(time.Minute)
	if count > l.maxRequestsPerMinute {
		return Status{}, &LimitError{
			Scope:             "requests",
			RetryAfterSeconds: ceilSeconds(nextMinute.Sub(now)),
		}
	}
	if tokens >= l.maxTokensPerDay {
		return Status{}, &LimitError{
			Scope:             "tokens",
			RetryAfterSeconds: ceilSeconds(nextMidnight(now).Sub(now)),
		}
	}

	remaining := l.maxRequestsPerMinute - count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Limit:     l.maxRequestsPerMinute,
		Remaining: remaining,
		Reset:     nextMinute.Unix(),
	}, nil
}

// TrackTokenUsage adds tokens to the user's daily counter. Call it once per
// completed provider call, after usage figures are known - failed calls
// must not consume token quota.
func (l *Limiter) TrackTokenUsage(ctx context.Context, userID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	now := l.now().UTC()
	key := l.dayKey(userID, now)

	total, err := l.store.IncrBy(ctx, key, tokens)
	if err != nil {
		return fmt.Errorf("track token usage: %w", err)
	}
	if total == tokens {
		// First write of the day: expire at the next UTC midnight.
		if err := l.store.Expire(ctx, key, nextMidnight(now).Sub(now)); err != nil {
			return fmt.Errorf("track token usage: %w", err)
		}
	}
	return nil
}

// UsageFor reports current quota consumption for the inspection endpoint.
// The request count is a pattern scan over the user's surviving minute
// buckets - never used on the hot path.
func (l *Limiter) UsageFor(ctx context.Context, userID string) (Usage, error) {
	now := l.now().UTC()

	tokens, err := l.dayTokens(ctx, userID, now)
	if err != nil {
		return Usage{}, fmt.Errorf("usage: %w", err)
	}

	keys, err := l.store.Keys(ctx, minuteKeyPrefix+userID+":*")
	if err != nil {
		return Usage{}, fmt.Errorf("usage: %w", err)
	}
	var requests, current int64
	minuteKey := l.minuteKey(userID, now)
	for _, key := range keys {
		value, found, err := l.store.Get(ctx, key)
		if err != nil {
			return Usage{}, fmt.Errorf("usage: %w", err)
		}
		if !found {
			continue
		}
		n := parseInt(value)
		requests += n
		if key == minuteKey {
			current = n
		}
	}

	remaining := l.maxRequestsPerMinute - current
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		DailyTokens:       tokens,
		RecentRequests:    requests,
		RemainingRequests: remaining,
		MaxTokensPerDay:   l.maxTokensPerDay,
	}, nil
}

func (l *Limiter) dayTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	value, found, err := l.store.Get(ctx, l.dayKey(userID, now))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return parseInt(value), nil
}

func (l *Limiter) minuteKey(userID string, now time.Time) string {
	return minuteKeyPrefix + userID + ":" + now.Format("200601021504")
}

func (l *Limiter) dayKey(userID string, now time.Time) string {
	return dayKeyPrefix + userID + ":" + now.Format("2006-01-02")
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func ceilSeconds(d time.Duration) int64 {
	seconds := int64(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func parseInt(value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
