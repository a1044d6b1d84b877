// Package payout implements the auto-payout providers. A provider call
// succeeds only when the response carries its confirmation field; any other
// 2xx body is an unexpected response, never a silent success.
package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

// Provider executes one withdrawal and returns the provider's transaction
// reference.
type Provider interface {
	Name() domain.PayoutProvider
	Withdraw(ctx context.Context, apiKey, address string, amount float64) (string, error)
}

// Engine selects the provider strategy from the user's stored preference.
type Engine struct {
	providers map[domain.PayoutProvider]Provider
	log       *slog.Logger
}

// NewEngine registers the given providers.
func NewEngine(log *slog.Logger, providers ...Provider) *Engine {
	byName := make(map[domain.PayoutProvider]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Engine{
		providers: byName,
		log:       log,
	}
}

// TriggerPayout performs one withdrawal through the selected provider and
// returns the transaction reference. An unknown provider falls back to
// NowPayments, matching the stored-settings default.
func (e *Engine) TriggerPayout(ctx context.Context, provider domain.PayoutProvider, apiKey, address string, amount float64) (string, error) {
	if address == "" {
		return "", apperrors.NewValidationError("payout address is required")
	}
	if amount <= 0 {
		return "", apperrors.NewValidationError("payout amount must be positive")
	}

	p, ok := e.providers[provider]
	if !ok {
		p, ok = e.providers[domain.ProviderNowPayments]
		if !ok {
			return "", fmt.Errorf("no payout provider registered for %q", provider)
		}
	}

	start := time.Now()
	txRef, err := p.Withdraw(ctx, apiKey, address, amount)
	if err != nil {
		if e.log != nil {
			e.log.Error("payout failed",
				slog.String("provider", string(p.Name())),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)
		}
		return "", err
	}

	if e.log != nil {
		e.log.Info("payout confirmed",
			slog.String("provider", string(p.Name())),
			slog.Float64("amount", amount),
			slog.Duration("duration", time.Since(start)),
		)
	}

	return txRef, nil
}
