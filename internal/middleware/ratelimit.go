package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rigwatch/rigwatch/internal/ratelimit"
)

// globalLimitKey buckets every non-whitelisted request together for the
// process-wide rule.
const globalLimitKey = "api:global"

// RateLimitMiddleware enforces the global and per-caller rate limits on the
// HTTP API. Callers are keyed by their resolved uid when present, falling
// back to the remote address for anonymous requests. Limiter failures fail
// open.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
	}
}

// Handle wraps next with rate limiting: the global rule first, then the
// per-caller rule.
func (m *RateLimitMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.rules == nil || !m.rules.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		caller := callerKey(r)
		if m.rules.IsWhitelisted(caller) {
			next.ServeHTTP(w, r)
			return
		}

		if limit, window, err := m.rules.GetGlobalLimit(); err != nil {
			m.log.Error("failed to load global rate limit", slog.Any("error", err))
		} else if m.exceeded(r.Context(), globalLimitKey, limit, window) {
			m.log.Warn("global rate limit exceeded", slog.String("caller", caller))
			reject(w)
			return
		}

		limit, window, err := m.rules.GetPerUserLimit()
		if err != nil {
			m.log.Error("failed to load per-user rate limit", slog.String("caller", caller), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		if m.exceeded(r.Context(), fmt.Sprintf("api:%s", caller), limit, window) {
			m.log.Warn("rate limit exceeded", slog.String("caller", caller))
			reject(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// exceeded runs one limiter check; a limiter failure without a fallback
// result fails open.
func (m *RateLimitMiddleware) exceeded(ctx context.Context, key string, limit int, window time.Duration) bool {
	result, err := m.limiter.Check(ctx, key, limit, window)
	if err != nil && result == nil {
		m.log.Warn("rate limiter error", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return result != nil && !result.Allowed
}

func reject(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
}

func callerKey(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-Uid")); uid != "" {
		return uid
	}
	if uid := strings.TrimSpace(r.URL.Query().Get("uid")); uid != "" {
		return uid
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
