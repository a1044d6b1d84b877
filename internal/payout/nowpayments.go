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

const defaultNowPaymentsBaseURL = "https://api.nowpayments.io"

// NowPayments withdraws BTC through the NowPayments payout API.
type NowPayments struct {
	baseURL string
	http    *http.Client
}

func NewNowPayments(baseURL string, timeout time.Duration) *NowPayments {
	if baseURL == "" {
		baseURL = defaultNowPaymentsBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &NowPayments{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (p *NowPayments) Name() domain.PayoutProvider {
	return domain.ProviderNowPayments
}

type nowPaymentsRequest struct {
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type nowPaymentsResponse struct {
	PayoutID string `json:"payout_id"`
}

// Withdraw posts the payout and requires payout_id in the response.
func (p *NowPayments) Withdraw(ctx context.Context, apiKey, address string, amount float64) (string, error) {
	body, err := json.Marshal(nowPaymentsRequest{
		Address:  address,
		Amount:   strconv.FormatFloat(amount, 'f', -1, 64),
		Currency: "BTC",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payout", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", apperrors.NewUpstreamError("nowpayments", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", apperrors.NewUpstreamError("nowpayments", resp.StatusCode, nil)
	}

	var payload nowPaymentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", apperrors.NewUnexpectedResponseError("nowpayments", "payout_id")
	}

	if payload.PayoutID == "" {
		return "", apperrors.NewUnexpectedResponseError("nowpayments", "payout_id")
	}

	return payload.PayoutID, nil
}
