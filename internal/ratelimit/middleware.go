package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nhalm/canonlog"
	"github.com/nhalm/taskapi/internal/wrapper"
)

// keyFunc extracts a rate limiting key component from an HTTP request.
// Returning an empty string indicates the value is missing.
type keyFunc func(*http.Request) string

// dimension holds a key function with validation metadata.
type dimension struct {
	fn       keyFunc
	required bool
	name     string // for error messages (e.g., "header X-API-Key")
}

// WithIP adds the client IP address (from RemoteAddr) to the rate limiting key.
// Use this for direct connections without a proxy. RemoteAddr is always present.
func WithIP() Option {
	return func(l *Limiter) {
		l.keyDims = append(l.keyDims, dimension{
			fn: func(r *http.Request) string {
				ip, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					return r.RemoteAddr
				}
				return ip
			},
			name: "IP",
		})
	}
}

// WithRealIP adds the client IP from X-Forwarded-For or X-Real-IP headers.
// Use this when behind a proxy or load balancer. When neither header is present
// the request is rejected with 400 if required, otherwise it is not counted.
//
// SECURITY: Only use this behind a trusted reverse proxy that sets these headers.
// Without a proxy, clients can spoof X-Forwarded-For to bypass rate limits.
func WithRealIP(required bool) Option {
	return func(l *Limiter) {
		l.keyDims = append(l.keyDims, dimension{
			fn:       realIP,
			required: required,
			name:     "X-Forwarded-For or X-Real-IP header",
		})
	}
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

// WithHeader adds a header value to the rate limiting key. When the header is
// missing the request is rejected with 400 if required, otherwise the header is
// left out of the key.
func WithHeader(header string, required bool) Option {
	return func(l *Limiter) {
		l.keyDims = append(l.keyDims, dimension{
			fn: func(r *http.Request) string {
				return r.Header.Get(header)
			},
			required: required,
			name:     fmt.Sprintf("header %s", header),
		})
	}
}

// Handler returns the rate limiting middleware.
// Sets the following headers based on header mode:
//   - RateLimit-Limit: The request ceiling for the window
//   - RateLimit-Remaining: Requests left in the current window
//   - RateLimit-Reset: Seconds until the current window ends
//   - RateLimit-Policy: "<limit>;w=<window seconds>"
//   - Retry-After: (only when limited) Seconds until the window ends
//
// These headers follow the IETF draft-ietf-httpapi-ratelimit-headers specification.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		useWrapper := wrapper.HasState(ctx)

		key, missingDim := l.buildKey(r)
		if missingDim != "" {
			fail(w, r, useWrapper, wrapper.ErrBadRequest.With(fmt.Sprintf("Missing required %s", missingDim)))
			return
		}
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		d := l.Check(ctx, key)

		switch d.Outcome {
		case Unavailable:
			l.unavailable(w, r, next, useWrapper, key, d.Err)
			return
		case Rejected:
			if l.headerMode != HeadersNever {
				l.writeHeaders(w, r, useWrapper, d)
				setHeader(w, r, useWrapper, "Retry-After", strconv.FormatInt(ceilSeconds(d.RetryAfter), 10))
			}
			fail(w, r, useWrapper, wrapper.ErrRateLimited)
			return
		}

		if l.headerMode == HeadersAlways {
			l.writeHeaders(w, r, useWrapper, d)
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) unavailable(w http.ResponseWriter, r *http.Request, next http.Handler, useWrapper bool, key string, err error) {
	ctx := r.Context()
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
		canonlog.InfoAdd(ctx, "ratelimit", "degraded")
	}

	switch l.failurePolicy {
	case FailClosed:
		slog.WarnContext(ctx, "rate limit store unavailable, rejecting request", "error", err)
		fail(w, r, useWrapper, wrapper.ErrServiceUnavailable.With("Rate limit check failed"))
	case FailLocal:
		slog.WarnContext(ctx, "rate limit store unavailable, using local limiter", "error", err)
		allowed, retryAfter := l.local.allow(key, l.now())
		if !allowed {
			if l.headerMode != HeadersNever {
				setHeader(w, r, useWrapper, "Retry-After", strconv.FormatInt(ceilSeconds(retryAfter), 10))
			}
			fail(w, r, useWrapper, wrapper.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	default:
		slog.WarnContext(ctx, "rate limit store unavailable, admitting request", "error", err)
		next.ServeHTTP(w, r)
	}
}

func (l *Limiter) writeHeaders(w http.ResponseWriter, r *http.Request, useWrapper bool, d Decision) {
	reset := max(0, d.Reset.Sub(l.now()))
	setHeader(w, r, useWrapper, "RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	setHeader(w, r, useWrapper, "RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	setHeader(w, r, useWrapper, "RateLimit-Reset", strconv.FormatInt(ceilSeconds(reset), 10))
	setHeader(w, r, useWrapper, "RateLimit-Policy", l.policy())
}

func (l *Limiter) policy() string {
	return strconv.FormatInt(l.limit, 10) + ";w=" + strconv.FormatInt(ceilSeconds(l.window), 10)
}

// buildKey builds the rate limit key from all dimensions.
// Returns (key, missingDimName). If missingDimName is non-empty, a required dimension was missing.
func (l *Limiter) buildKey(r *http.Request) (string, string) {
	var sb strings.Builder
	sb.Grow(20 + len(l.keyDims)*30)
	hasName := l.name != ""
	hasPart := false

	if hasName {
		sb.WriteString(l.name)
	}

	for _, dim := range l.keyDims {
		part := dim.fn(r)
		if part == "" {
			if dim.required {
				return "", dim.name
			}
			continue
		}
		if hasName || hasPart {
			sb.WriteByte(':')
		}
		sb.WriteString(part)
		hasPart = true
	}

	if !hasPart {
		return "", ""
	}
	return sb.String(), ""
}

func setHeader(w http.ResponseWriter, r *http.Request, useWrapper bool, key, value string) {
	if useWrapper {
		wrapper.SetHeader(r, key, value)
		return
	}
	w.Header().Set(key, value)
}

func fail(w http.ResponseWriter, r *http.Request, useWrapper bool, err *wrapper.Error) {
	if useWrapper {
		wrapper.SetError(r, err)
		return
	}
	http.Error(w, err.Message, err.Status)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
