package domain

import (
	"fmt"
	"math/rand"
	"time"
)

// PayoutProvider selects the withdrawal strategy for auto payouts.
type PayoutProvider string

const (
	ProviderNowPayments PayoutProvider = "nowpayments"
	ProviderCoinbase    PayoutProvider = "coinbase"
)

// PayoutSettings configures the auto-payout pass for one user.
type PayoutSettings struct {
	Provider      PayoutProvider `json:"provider"`
	APIKey        string         `json:"apiKey,omitempty"`
	PayoutAddress string         `json:"payoutAddress,omitempty"`
	Threshold     float64        `json:"threshold"`
}

// DefaultPayoutSettings returns the provider default applied to users who
// never saved payout settings.
func DefaultPayoutSettings() PayoutSettings {
	return PayoutSettings{Provider: ProviderNowPayments}
}

// PayoutStatus marks the outcome recorded in payout history.
type PayoutStatus string

const (
	PayoutSuccess PayoutStatus = "success"
	PayoutFailed  PayoutStatus = "failed"
)

// PayoutRecord is an immutable payout-history entry. Created once per payout
// attempt that reached a provider; never mutated afterwards.
type PayoutRecord struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Amount         float64        `json:"amount"`
	Address        string         `json:"address"`
	Provider       PayoutProvider `json:"provider"`
	Status         PayoutStatus   `json:"status"`
	TransactionRef string         `json:"tx,omitempty"`
}

const payoutIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewPayoutID builds a time-prefixed identifier with a random suffix, keeping
// history entries naturally ordered by creation time.
func NewPayoutID(now time.Time) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = payoutIDAlphabet[rand.Intn(len(payoutIDAlphabet))]
	}
	return fmt.Sprintf("%d_%s", now.UnixMilli(), suffix)
}
