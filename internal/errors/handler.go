package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/rigwatch/rigwatch/pkg/logger"
)

// Handler centralizes error logging and Sentry forwarding. Batch passes call
// it once per caught error so every skipped user or adapter failure leaves a
// trace without aborting sibling work.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	return &Handler{
		log:           log,
		sentryEnabled: sentryEnabled,
	}
}

// Handle logs err with its taxonomy attributes and reports whether the
// operation is worth retrying.
func (h *Handler) Handle(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if ctx == nil {
		ctx = context.Background()
	}

	log := h.log
	if log == nil {
		log = slog.Default()
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		attrs := []slog.Attr{
			slog.String("code", appErr.Code),
			slog.String("message", appErr.Message),
			slog.String("severity", string(appErr.Severity)),
			slog.Bool("retryable", appErr.Retryable),
		}

		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			attrs = append(attrs, slog.String("correlation_id", correlationID))
		}

		log.Error("application error", attrsToArgs(attrs)...)

		if h.sentryEnabled && (appErr.Severity == SeverityCritical || appErr.Severity == SeverityHigh) {
			h.sendToSentry(err)
		}

		return appErr.Retryable
	}

	attrs := []slog.Attr{
		slog.String("message", err.Error()),
		slog.String("severity", string(SeverityHigh)),
	}

	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	log.Error("unknown error", attrsToArgs(attrs)...)

	if h.sentryEnabled {
		h.sendToSentry(err)
	}

	return false
}

func (h *Handler) sendToSentry(err error) {
	sentry.CaptureException(err)
}

func attrsToArgs(attrs []slog.Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}
