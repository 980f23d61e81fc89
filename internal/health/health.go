// Package health reports whether the service's backing stores are reachable.
package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

const (
	StatusOK    = "ok"
	StatusError = "error"

	connected = "connected"
)

// Report is the outcome of a health check. A healthy report names each store as
// connected; an unhealthy one carries the first failure's message.
type Report struct {
	Status  string `json:"status"`
	DB      string `json:"db,omitempty"`
	Cache   string `json:"cache,omitempty"`
	Message string `json:"message,omitempty"`
}

// Healthy reports whether every probe succeeded.
func (r Report) Healthy() bool {
	return r.Status == StatusOK
}

// Checker probes the relational store and the counter store.
type Checker struct {
	db      Pinger
	cache   Pinger
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds the whole check. Zero means the caller's context decides.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.timeout = d
	}
}

// NewChecker creates a Checker for the given stores.
func NewChecker(db, cache Pinger, opts ...Option) *Checker {
	c := &Checker{db: db, cache: cache}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check probes both stores in parallel. The first failure cancels the other
// probe and its message becomes the report message.
func (c *Checker) Check(ctx context.Context) Report {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.db.Ping(gctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.cache.Ping(gctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Report{Status: StatusError, Message: err.Error()}
	}
	return Report{Status: StatusOK, DB: connected, Cache: connected}
}
