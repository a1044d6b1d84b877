// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables,
// validates it, and returns the resulting Config together with the viper
// instance so callers can watch for changes.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// missing env files are fine; real deployments set the environment
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, v, nil
}

// Watch reloads the config file on change and hands the new value to onChange.
// Invalid edits are logged and skipped; the previous config stays active.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(event fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			if log != nil {
				log.Error("config reload failed", slog.String("file", event.Name), slog.Any("error", err))
			}
			return
		}

		validate := validator.New(validator.WithRequiredStructEnabled())
		if err := validate.Struct(cfg); err != nil {
			if log != nil {
				log.Error("config reload rejected", slog.String("file", event.Name), slog.Any("error", err))
			}
			return
		}

		if log != nil {
			log.Info("config reloaded", slog.String("file", event.Name))
		}
		if onChange != nil {
			onChange(&cfg)
		}
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("sync.cron_spec", "*/5 * * * *")
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.upstream_timeout", 15*time.Second)
	v.SetDefault("sync.offline_threshold", 10*time.Minute)
	v.SetDefault("sync.realert_interval", 10*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.per_user.limit", 60)
	v.SetDefault("rate_limit.per_user.window", "1m")
	v.SetDefault("rate_limit.global.limit", 600)
	v.SetDefault("rate_limit.global.window", "1m")

	v.SetDefault("log.level", "info")
}
