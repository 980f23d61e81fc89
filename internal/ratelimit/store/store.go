// Package store provides counter backends for the rate limiter.
package store

import (
	"context"
	"time"
)

// Store is a keyed counter with per-key expiry. Implementations must be safe for
// concurrent use, and Increment must be atomic: concurrent callers on the same key
// each observe a distinct count.
type Store interface {
	// Increment increments the counter for key and returns the new count and the
	// time left before the counter expires. The first increment of a key attaches
	// an expiry of window.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
