// Package ratelimit throttles inbound chat traffic per sender.
package ratelimit

import "context"

// Limiter decides whether an event identified by key may proceed. Keys are
// opaque to the limiter; callers build them (e.g. "slack:U123").
// Implementations must be safe for concurrent use. An error means the
// limiter itself failed; callers let the event through.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter permits everything.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// SlackUserKey is the limiter key for one Slack user.
func SlackUserKey(userID string) string {
	return "slack:" + userID
}
