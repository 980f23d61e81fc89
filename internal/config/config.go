// Package config loads the service configuration from the environment and an
// optional config.yaml.
package config

import "time"

// Config holds all service settings. Keys match the environment variable names
// in lower case.
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	RateLimit RateLimitConfig `mapstructure:",squash"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"gt=0,lt=65536"`
	LogLevel          string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
	ExposeStoreErrors bool          `mapstructure:"expose_store_errors"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout" validate:"gte=0"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	Host        string        `mapstructure:"db_host" validate:"required"`
	Port        int           `mapstructure:"db_port" validate:"gt=0,lt=65536"`
	Name        string        `mapstructure:"db_name" validate:"required"`
	User        string        `mapstructure:"db_user" validate:"required"`
	Password    string        `mapstructure:"db_pass"`
	SSLMode     string        `mapstructure:"db_sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	PoolSize    int           `mapstructure:"db_pool_size" validate:"gt=0"`
	IdleTimeout time.Duration `mapstructure:"db_idle_timeout" validate:"gte=0"`
	Migrate     bool          `mapstructure:"db_migrate"`
}

// RedisConfig contains counter store settings.
type RedisConfig struct {
	Host     string `mapstructure:"redis_host" validate:"required"`
	Port     int    `mapstructure:"redis_port" validate:"gt=0,lt=65536"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db" validate:"gte=0"`
}

// RateLimitConfig contains the /api rate limit policy.
type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"rate_limit_window" validate:"gte=1ms"`
	Max           int           `mapstructure:"rate_limit_max" validate:"gt=0"`
	FailurePolicy string        `mapstructure:"rate_limit_failure_policy" validate:"oneof=open closed local"`
	Identity      string        `mapstructure:"rate_limit_identity" validate:"oneof=ip real_ip"`
	StoreTimeout  time.Duration `mapstructure:"rate_limit_store_timeout" validate:"gte=0"`
	Headers       string        `mapstructure:"rate_limit_headers" validate:"oneof=always on_limit never"`
	KeyHeader     string        `mapstructure:"rate_limit_key_header"`
	Store         string        `mapstructure:"rate_limit_store" validate:"oneof=redis memory"`
}

var defaults = map[string]any{
	"port":                      3000,
	"log_level":                 "info",
	"max_body_bytes":            1 << 20,
	"expose_store_errors":       true,
	"shutdown_timeout":          "10s",
	"health_timeout":            "0s",
	"db_host":                   "localhost",
	"db_port":                   5432,
	"db_name":                   "taskdb",
	"db_user":                   "taskuser",
	"db_pass":                   "changeme",
	"db_sslmode":                "disable",
	"db_pool_size":              10,
	"db_idle_timeout":           "30s",
	"db_migrate":                true,
	"redis_host":                "localhost",
	"redis_port":                6379,
	"redis_password":            "",
	"redis_db":                  0,
	"rate_limit_window":         "1m",
	"rate_limit_max":            100,
	"rate_limit_failure_policy": "open",
	"rate_limit_identity":       "ip",
	"rate_limit_store_timeout":  "0s",
	"rate_limit_headers":        "always",
	"rate_limit_key_header":     "",
	"rate_limit_store":          "redis",
}
