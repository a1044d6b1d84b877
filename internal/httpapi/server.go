// Package httpapi is the dashboard's front door: a thin read/write surface
// over the repository and cache mirror, separate from the reconciliation
// loop.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rigwatch/rigwatch/internal/cache"
	"github.com/rigwatch/rigwatch/internal/health"
	"github.com/rigwatch/rigwatch/internal/middleware"
	"github.com/rigwatch/rigwatch/internal/repository"
	"github.com/rigwatch/rigwatch/pkg/logger"
)

// PublicStats is the unauthenticated market feed proxied at
// /api/nicehash-public.
type PublicStats interface {
	FetchPublicStats(ctx context.Context) (json.RawMessage, error)
}

// SyncEnqueuer queues one manual reconciliation run.
type SyncEnqueuer func(ctx context.Context) error

// Server holds the handler dependencies and builds the route table.
type Server struct {
	log      *slog.Logger
	identity IdentityResolver

	users    repository.UserRepository
	rigs     repository.RigRepository
	settings repository.SettingsRepository
	payouts  repository.PayoutRepository
	alerts   repository.AlertRepository

	mirror      *cache.Mirror
	publicStats PublicStats
	enqueueSync SyncEnqueuer
	health      *health.Checker
	rateLimit   *middleware.RateLimitMiddleware
}

// NewServer wires the API surface.
func NewServer(
	log *slog.Logger,
	identity IdentityResolver,
	users repository.UserRepository,
	rigs repository.RigRepository,
	settings repository.SettingsRepository,
	payouts repository.PayoutRepository,
	alerts repository.AlertRepository,
	mirror *cache.Mirror,
	publicStats PublicStats,
	enqueueSync SyncEnqueuer,
	healthChecker *health.Checker,
	rateLimit *middleware.RateLimitMiddleware,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if identity == nil {
		identity = PassthroughResolver{}
	}

	return &Server{
		log:         log,
		identity:    identity,
		users:       users,
		rigs:        rigs,
		settings:    settings,
		payouts:     payouts,
		alerts:      alerts,
		mirror:      mirror,
		publicStats: publicStats,
		enqueueSync: enqueueSync,
		health:      healthChecker,
		rateLimit:   rateLimit,
	}
}

// Handler builds the route table with the middleware chain applied to every
// /api route: correlation id, request logging, per-route metrics, rate limit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/rigs", http.HandlerFunc(s.handleListRigs))
	s.route(mux, "POST /api/rigs", http.HandlerFunc(s.handleUpsertRig))
	s.route(mux, "DELETE /api/rigs/{rigId}", http.HandlerFunc(s.handleDeleteRig))
	s.route(mux, "GET /api/alerts", http.HandlerFunc(s.handleListAlerts))
	s.route(mux, "POST /api/alerts", http.HandlerFunc(s.handleAppendAlert))
	s.route(mux, "GET /api/history", http.HandlerFunc(s.handlePayoutHistory))
	s.route(mux, "GET /api/settings", http.HandlerFunc(s.handleGetSettings))
	s.route(mux, "POST /api/settings", http.HandlerFunc(s.handleSetSettings))
	s.route(mux, "POST /api/settings/credentials", http.HandlerFunc(s.handleSetCredentials))
	s.route(mux, "GET /api/settings/alerts", http.HandlerFunc(s.handleGetAlertSettings))
	s.route(mux, "POST /api/settings/alerts", http.HandlerFunc(s.handleSetAlertSettings))
	s.route(mux, "GET /api/nicehash-public", http.HandlerFunc(s.handleNiceHashPublic))
	s.route(mux, "POST /api/sync", http.HandlerFunc(s.handleTriggerSync))

	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealthz))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	wrapped := middleware.Metrics(pattern, h)
	if s.rateLimit != nil {
		wrapped = s.rateLimit.Handle(wrapped)
	}
	wrapped = middleware.New(s.log)(wrapped)
	wrapped = logger.Middleware(wrapped)

	mux.Handle(pattern, wrapped)
}
