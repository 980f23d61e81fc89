package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript atomically increments a counter, attaches the window expiry on first
// use, and reports the remaining TTL in milliseconds. A key that somehow lost its
// expiry gets it back so a counter can never live forever.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a Redis-backed Store shared by every process instance.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Prefix is prepended to all keys (default: "ratelimit:")
	Prefix string

	// Zero values keep the go-redis defaults.
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the host:port the client dials.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedis creates a Redis store. The connection is established lazily on first
// use, so an unreachable Redis does not block startup.
func NewRedis(config RedisConfig) *Redis {
	opts := &redis.Options{
		Addr:     config.Addr(),
		Password: config.Password,
		DB:       config.DB,
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		opts.WriteTimeout = config.WriteTimeout
	}

	return newRedisFromClient(redis.NewClient(opts), config.Prefix)
}

// newRedisFromClient wraps an existing client.
func newRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

// Increment runs incrScript against the prefixed key.
func (r *Redis) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := r.prefix + key

	result, err := incrScript.Run(ctx, r.client, []string{fullKey}, window.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis increment failed: %w", err)
	}

	return parseIncrResult(result)
}

func parseIncrResult(result []any) (int64, time.Duration, error) {
	if len(result) != 2 {
		return 0, 0, fmt.Errorf("unexpected result length: got %d, want 2", len(result))
	}

	count, ok := result[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected type for count: %T", result[0])
	}

	ttlMillis, ok := result[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected type for ttl: %T", result[1])
	}

	return count, max(0, time.Duration(ttlMillis)*time.Millisecond), nil
}

// Ping issues PING on the shared client.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the Redis client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
