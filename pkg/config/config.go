package config

import (
	"fmt"
	"time"

	"github.com/rigwatch/rigwatch/pkg/logger"
	appredis "github.com/rigwatch/rigwatch/pkg/redis"
)

// Config holds runtime configuration for the rigwatch aggregator.
type Config struct {
	AppEnv string `mapstructure:"-"`

	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     appredis.Config `mapstructure:"redis"`
	Sync      SyncConfig      `mapstructure:"sync" validate:"required"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       logger.Config   `mapstructure:"log"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures the PostgreSQL document store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     string `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		sslMode,
	)
}

// SyncConfig controls the reconciliation cycle.
type SyncConfig struct {
	// CronSpec is the asynq scheduler entry for the rig-sync task.
	CronSpec string `mapstructure:"cron_spec" validate:"required"`
	// Interval bounds one cycle: a cycle overrunning it is canceled so runs
	// never pile up behind a slow upstream.
	Interval time.Duration `mapstructure:"interval" validate:"required"`
	// Workers caps concurrent per-user pipelines inside a cycle.
	Workers int `mapstructure:"workers" validate:"min=1"`
	// UpstreamTimeout is the per-request deadline for platform calls.
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	// OfflineThreshold is how long a rig must be unseen before alerting.
	OfflineThreshold time.Duration `mapstructure:"offline_threshold"`
	// RealertInterval throttles repeat offline alerts per rig. Zero means
	// re-alert on every cycle the rig stays offline.
	RealertInterval time.Duration `mapstructure:"realert_interval"`
}

// TelegramConfig configures the alert channel.
type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	DefaultChatID string `mapstructure:"default_chat_id"`
}

// RateLimitRule is one limit/window pair, e.g. 60 requests per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig throttles the HTTP API per caller.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Global    RateLimitRule `mapstructure:"global"`
	Whitelist []string      `mapstructure:"whitelist"`
}

// SentryConfig toggles error forwarding.
type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}
