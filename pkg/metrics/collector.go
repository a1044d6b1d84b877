package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Total number of reconciliation cycles labeled by outcome",
		},
		[]string{"outcome"},
	)
	cycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Duration of full reconciliation cycles in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	platformFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "platform_fetches_total",
			Help: "Total number of upstream platform fetches labeled by platform and status",
		},
		[]string{"platform", "status"},
	)
	rigsSynced = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rigs_synced",
			Help: "Number of rigs persisted in the most recent cycle per user",
		},
		[]string{"uid"},
	)
	alertsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Total number of alerts dispatched labeled by type",
		},
		[]string{"type"},
	)
	payoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Total number of payout attempts labeled by provider and status",
		},
		[]string{"provider", "status"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests labeled by path, method and status",
		},
		[]string{"path", "method", "status"},
	)
)

// RecordCycle tracks one finished reconciliation cycle.
func RecordCycle(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}

	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// RecordPlatformFetch tracks one adapter call.
func RecordPlatformFetch(platform, status string) {
	platformFetchesTotal.WithLabelValues(platform, status).Inc()
}

// RecordRigsSynced tracks how many rigs survived reconciliation for a user.
func RecordRigsSynced(uid string, count int) {
	rigsSynced.WithLabelValues(uid).Set(float64(count))
}

// RecordAlert tracks one dispatched alert.
func RecordAlert(alertType string) {
	if alertType == "" {
		alertType = "unknown"
	}
	alertsSentTotal.WithLabelValues(alertType).Inc()
}

// RecordPayout tracks one payout attempt.
func RecordPayout(provider, status string) {
	payoutsTotal.WithLabelValues(provider, status).Inc()
}

// RecordHTTPRequest tracks one API request.
func RecordHTTPRequest(path, method string, status int) {
	httpRequestsTotal.WithLabelValues(path, method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
