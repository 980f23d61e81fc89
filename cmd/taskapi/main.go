// Command taskapi serves the task CRUD API backed by PostgreSQL, with a
// Redis-backed rate limiter in front of every /api route.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nhalm/taskapi/internal/api"
	"github.com/nhalm/taskapi/internal/config"
	"github.com/nhalm/taskapi/internal/health"
	"github.com/nhalm/taskapi/internal/logger"
	"github.com/nhalm/taskapi/internal/postgres"
	"github.com/nhalm/taskapi/internal/ratelimit"
	"github.com/nhalm/taskapi/internal/ratelimit/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("taskapi exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, postgres.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Name:        cfg.Database.Name,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		PoolSize:    cfg.Database.PoolSize,
		IdleTimeout: cfg.Database.IdleTimeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	counters := newCounterStore(cfg)
	defer counters.Close()
	log.Info("rate limit store ready", "backend", cfg.RateLimit.Store)

	limiter, err := newLimiter(counters, cfg.RateLimit)
	if err != nil {
		return err
	}
	log.Info("rate limiter configured",
		"limit", limiter.Limit(),
		"window", limiter.Window().String(),
		"failure_policy", cfg.RateLimit.FailurePolicy,
		"identity", cfg.RateLimit.Identity)

	checker := health.NewChecker(
		health.PingFunc(func(ctx context.Context) error { return postgres.Ping(ctx, db) }),
		counters,
		health.WithTimeout(cfg.Server.HealthTimeout),
	)

	handler := api.NewHandler(postgres.NewTaskStore(db), checker)
	router := api.NewRouter(handler, api.RouterConfig{
		Limiter:           limiter,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		ExposeStoreErrors: cfg.Server.ExposeStoreErrors,
	})

	return serve(ctx, log, &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.Server.ShutdownTimeout)
}

// newCounterStore returns the rate limit counter backend. The in-memory store
// keeps counts per process and suits single-instance development only.
func newCounterStore(cfg *config.Config) store.Store {
	if cfg.RateLimit.Store == "memory" {
		return store.NewMemory()
	}
	// No startup ping: Redis outages surface through health and the
	// limiter's failure policy.
	return store.NewRedis(store.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newLimiter(st store.Store, cfg config.RateLimitConfig) (*ratelimit.Limiter, error) {
	policy, err := ratelimit.ParseFailurePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}
	headers, err := ratelimit.ParseHeaderMode(cfg.Headers)
	if err != nil {
		return nil, err
	}

	opts := []ratelimit.Option{ratelimit.WithName("api")}
	if cfg.Identity == "real_ip" {
		opts = append(opts, ratelimit.WithRealIP(false))
	} else {
		opts = append(opts, ratelimit.WithIP())
	}
	if cfg.KeyHeader != "" {
		opts = append(opts, ratelimit.WithHeader(cfg.KeyHeader, false))
	}
	opts = append(opts,
		ratelimit.WithHeaderMode(headers),
		ratelimit.WithFailurePolicy(policy),
		ratelimit.WithStoreTimeout(cfg.StoreTimeout),
	)

	return ratelimit.New(st, cfg.Max, cfg.Window, opts...), nil
}

// serve runs srv until ctx is canceled, then drains in-flight requests for up
// to timeout.
func serve(ctx context.Context, log *slog.Logger, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
