// Package logger builds the application slog.Logger: JSON output with
// rotation, secret masking, and optional Sentry fanout for errors.
package logger

import (
	"io"
	"log/slog"
	"os"

	slogsentry "github.com/samber/slog-sentry/v2"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`

	SentryEnabled bool `mapstructure:"sentry_enabled" yaml:"sentry_enabled"`
}

// New constructs the process logger. When cfg.File is set, output is rotated
// with lumberjack and mirrored to stdout. Sensitive attributes are masked
// before any handler sees them.
func New(cfg Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotated)
	}

	base := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})

	var handler slog.Handler = base
	if cfg.SentryEnabled {
		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handler = newFanoutHandler(base, sentryHandler)
	}

	return slog.New(NewMaskingHandler(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
