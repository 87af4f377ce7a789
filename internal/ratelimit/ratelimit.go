package ratelimit

import (
	"context"
	"fmt"
	"time"

	"gamechat/internal/apperr"
)

// Rule is the window configuration of one bucket purpose.
type Rule struct {
	Count  int
	Window time.Duration
}

// Result reports the outcome of a sliding-window check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store records and checks timestamps per key. Implementations must make a
// single Allow call atomic for its key.
type Store interface {
	Allow(ctx context.Context, key string, rule Rule, now time.Time) (Result, error)
}

// Limiter scopes a Store to one purpose so buckets of different purposes
// never share keys.
type Limiter struct {
	store   Store
	purpose string
	rule    Rule
	now     func() time.Time
}

func NewLimiter(store Store, purpose string, rule Rule) *Limiter {
	return &Limiter{store: store, purpose: purpose, rule: rule, now: time.Now}
}

// Allow checks key against the limiter's own rule.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowRule(ctx, key, l.rule)
}

// AllowRule checks key against a caller-supplied rule, for purposes whose
// limits vary per scope (chat limits are resolved per channel).
func (l *Limiter) AllowRule(ctx context.Context, key string, rule Rule) (Result, error) {
	return l.store.Allow(ctx, l.purpose+":"+key, rule, l.now())
}

// Check is Allow translated to the shared error kinds: a rejection becomes a
// RATE_LIMITED error carrying the retry delay.
func (l *Limiter) Check(ctx context.Context, key string) error {
	return l.CheckRule(ctx, key, l.rule)
}

func (l *Limiter) CheckRule(ctx context.Context, key string, rule Rule) error {
	res, err := l.AllowRule(ctx, key, rule)
	if err != nil {
		return apperr.Internal("rate limit check failed", fmt.Errorf("%s: %w", l.purpose, err))
	}
	if !res.Allowed {
		return apperr.RateLimited(res.RetryAfter)
	}
	return nil
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// retryAfter is the time until the oldest in-window entry leaves the window.
func retryAfter(window time.Duration, now, oldest time.Time) time.Duration {
	d := window - now.Sub(oldest)
	if d < 0 {
		return 0
	}
	return d
}
