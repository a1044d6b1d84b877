package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

const defaultCoinbaseBaseURL = "https://api.coinbase.com"

// Coinbase sends BTC from the primary account via the Coinbase v2 API.
type Coinbase struct {
	baseURL string
	http    *http.Client
}

func NewCoinbase(baseURL string, timeout time.Duration) *Coinbase {
	if baseURL == "" {
		baseURL = defaultCoinbaseBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Coinbase{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *Coinbase) Name() domain.PayoutProvider {
	return domain.ProviderCoinbase
}

type coinbaseRequest struct {
	Type        string `json:"type"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type coinbaseResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Withdraw posts the send transaction and requires data.id in the response.
func (p *Coinbase) Withdraw(ctx context.Context, apiKey, address string, amount float64) (string, error) {
	body, err := json.Marshal(coinbaseRequest{
		Type:        "send",
		To:          address,
		Amount:      strconv.FormatFloat(amount, 'f', -1, 64),
		Currency:    "BTC",
		Description: "Mining payout",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/accounts/primary/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", apperrors.NewUpstreamError("coinbase", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", apperrors.NewUpstreamError("coinbase", resp.StatusCode, nil)
	}

	var payload coinbaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", apperrors.NewUnexpectedResponseError("coinbase", "data.id")
	}

	if payload.Data.ID == "" {
		return "", apperrors.NewUnexpectedResponseError("coinbase", "data.id")
	}

	return payload.Data.ID, nil
}
