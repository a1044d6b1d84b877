package ratelimit

import (
	"errors"
	"time"

	"github.com/rigwatch/rigwatch/pkg/config"
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// Enabled reports whether rate limiting is switched on at all.
func (r *Rules) Enabled() bool {
	return r.config.Enabled
}

// IsWhitelisted returns true if the uid bypasses rate limits.
func (r *Rules) IsWhitelisted(uid string) bool {
	for _, id := range r.config.Whitelist {
		if id == uid {
			return true
		}
	}
	return false
}

// GetGlobalLimit returns the process-wide rate limiting rule.
func (r *Rules) GetGlobalLimit() (int, time.Duration, error) {
	return parseRule(r.config.Global)
}

// GetPerUserLimit returns the per-user rate limiting rule.
func (r *Rules) GetPerUserLimit() (int, time.Duration, error) {
	return parseRule(r.config.PerUser)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	if rule.Limit <= 0 {
		return 0, 0, errors.New("limit must be positive")
	}
	return rule.Limit, window, nil
}
