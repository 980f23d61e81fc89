// Package ratelimit provides fixed-window rate limiting middleware for Chi and
// standard http.Handler.
//
// Every request increments a counter keyed by client identity and the current
// window bucket (floor(now / window)). Counters live in a store.Store, normally
// Redis so that all instances share one budget. Key dimensions (IP, header,
// endpoint) are added via options:
//
//	st := store.NewRedis(store.RedisConfig{Host: "localhost", Port: 6379})
//	defer st.Close()
//	limiter := ratelimit.New(st, 100, time.Minute,
//	    ratelimit.WithName("api"),
//	    ratelimit.WithIP(),
//	)
//	r.Use(limiter.Handler)
//
// Admitted and rejected requests carry RateLimit-Limit, RateLimit-Remaining,
// RateLimit-Reset and RateLimit-Policy headers; rejected requests also carry
// Retry-After and get 429. When the store cannot be reached the configured
// FailurePolicy decides: admit (default), reject with 503, or fall back to a
// per-instance token bucket.
//
// Windows are aligned to the clock, so a client can send up to twice the limit
// across a bucket boundary.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhalm/taskapi/internal/ratelimit/store"
)

// Outcome classifies a rate limit decision.
type Outcome int

const (
	// Admitted means the request is within the limit for the current window.
	Admitted Outcome = iota

	// Rejected means the limit for the current window is exhausted.
	Rejected

	// Unavailable means the counter store could not be consulted.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Decision is the result of a single Check.
type Decision struct {
	Outcome Outcome

	// Limit is the configured maximum per window.
	Limit int64

	// Remaining is the quota left in the current window. Zero when rejected.
	Remaining int64

	// Reset is the end of the current window.
	Reset time.Time

	// RetryAfter is the time left until Reset. Only set when rejected.
	RetryAfter time.Duration

	// Err is the store failure. Only set when unavailable.
	Err error
}

// FailurePolicy controls what the middleware does when the store is unavailable.
type FailurePolicy int

const (
	// FailOpen admits the request and logs the degraded state (default).
	FailOpen FailurePolicy = iota

	// FailClosed rejects the request with 503 Service Unavailable.
	FailClosed

	// FailLocal falls back to a per-instance token bucket with the same
	// average rate. Limits are no longer shared between instances.
	FailLocal
)

// ParseFailurePolicy parses "open", "closed" or "local".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	case "local":
		return FailLocal, nil
	default:
		return FailOpen, fmt.Errorf("unknown rate limit failure policy %q", s)
	}
}

// HeaderMode controls when rate limit headers are included in responses.
type HeaderMode int

const (
	// HeadersAlways includes rate limit headers on all counted responses (default).
	// Headers: RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset, RateLimit-Policy
	// On 429: Also includes Retry-After
	HeadersAlways HeaderMode = iota

	// HeadersOnLimitExceeded includes rate limit headers only on 429 responses.
	HeadersOnLimitExceeded

	// HeadersNever never includes rate limit headers in any response.
	// Use this when you want rate limiting without exposing limits to clients.
	HeadersNever
)

// ParseHeaderMode parses "always", "on_limit" or "never".
func ParseHeaderMode(s string) (HeaderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return HeadersAlways, nil
	case "on_limit":
		return HeadersOnLimitExceeded, nil
	case "never":
		return HeadersNever, nil
	default:
		return HeadersAlways, fmt.Errorf("unknown rate limit header mode %q", s)
	}
}

// Limiter implements fixed-window rate limiting.
type Limiter struct {
	store         store.Store
	limit         int64
	window        time.Duration
	name          string
	keyDims       []dimension
	headerMode    HeaderMode
	failurePolicy FailurePolicy
	storeTimeout  time.Duration
	now           func() time.Time
	local         *localBuckets
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithName sets a prefix for rate limit keys.
// Use to prevent key collisions when layering multiple rate limiters.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithHeaderMode configures when rate limit headers are included in responses.
func WithHeaderMode(mode HeaderMode) Option {
	return func(l *Limiter) {
		l.headerMode = mode
	}
}

// WithFailurePolicy configures the behavior when the store is unavailable.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) {
		l.failurePolicy = p
	}
}

// WithStoreTimeout bounds each store call. Zero leaves the store client's own
// timeouts in charge.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.storeTimeout = d
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a rate limiter allowing limit requests per window for each client.
// Use With* options to configure key dimensions and behavior.
//
// Panics if limit is not positive, window is shorter than a millisecond, or no
// key dimension is configured.
//
// Key dimension options:
//   - WithIP: Add RemoteAddr IP to key (direct connections)
//   - WithRealIP: Add X-Forwarded-For/X-Real-IP to key
//   - WithHeader: Add header value to key
func New(st store.Store, limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		panic("ratelimit: limit must be positive")
	}
	if window < time.Millisecond {
		panic("ratelimit: window must be at least 1ms")
	}

	l := &Limiter{
		store:      st,
		limit:      int64(limit),
		window:     window,
		keyDims:    make([]dimension, 0),
		headerMode: HeadersAlways,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.keyDims) == 0 {
		panic("ratelimit: must configure at least one key dimension option (WithIP, WithRealIP, or WithHeader)")
	}
	if l.failurePolicy == FailLocal {
		l.local = newLocalBuckets(l.limit, l.window)
	}
	return l
}

// Limit returns the maximum number of requests per window.
func (l *Limiter) Limit() int64 {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Check consumes one unit of quota for clientID in the current window and
// reports the outcome. Every call counts, including rejected ones.
func (l *Limiter) Check(ctx context.Context, clientID string) Decision {
	now := l.now()
	windowMs := l.window.Milliseconds()
	bucket := now.UnixMilli() / windowMs
	reset := time.UnixMilli((bucket + 1) * windowMs)

	if l.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.storeTimeout)
		defer cancel()
	}

	count, _, err := l.store.Increment(ctx, bucketKey(clientID, bucket), l.window)
	if err != nil {
		return Decision{
			Outcome: Unavailable,
			Limit:   l.limit,
			Err:     fmt.Errorf("rate limit store: %w", err),
		}
	}

	if count > l.limit {
		return Decision{
			Outcome:    Rejected,
			Limit:      l.limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	return Decision{
		Outcome:   Admitted,
		Limit:     l.limit,
		Remaining: l.limit - count,
		Reset:     reset,
	}
}

func bucketKey(clientID string, bucket int64) string {
	var sb strings.Builder
	sb.Grow(len(clientID) + 21)
	sb.WriteString(clientID)
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(bucket, 10))
	return sb.String()
}
