// Package slo tags routes with a latency objective.
//
// The wrapper middleware reads the tier back out of the request context and logs
// slo_class and slo_status (PASS or FAIL) on the canonical log line:
//
//	r.Use(wrapper.New(wrapper.WithCanonlog(), wrapper.WithSLOs()))
//	r.With(slo.Track(slo.Read)).Get("/api/tasks", tasks.List)
//	r.With(slo.Track(slo.Write)).Post("/api/tasks", tasks.Create)
package slo

import (
	"context"
	"net/http"
	"time"
)

// Tier represents an SLO classification level.
type Tier string

const (
	// Probe is for health checks, which fan out to both stores.
	Probe Tier = "probe"

	// Read is for single-statement queries such as listing tasks.
	Read Tier = "read"

	// Write is for single-statement mutations.
	Write Tier = "write"
)

var targets = map[Tier]time.Duration{
	Probe: 250 * time.Millisecond,
	Read:  100 * time.Millisecond,
	Write: 200 * time.Millisecond,
}

type contextKey string

const configKey contextKey = "slo_config"

type config struct {
	tier   Tier
	target time.Duration
}

// Track sets a predefined SLO tier in context.
func Track(tier Tier) func(http.Handler) http.Handler {
	cfg := &config{tier: tier, target: targets[tier]}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), configKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTier retrieves the SLO tier and target from context.
func GetTier(ctx context.Context) (Tier, time.Duration, bool) {
	cfg, ok := ctx.Value(configKey).(*config)
	if !ok {
		return "", 0, false
	}
	return cfg.tier, cfg.target, true
}
