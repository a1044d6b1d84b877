package payout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigwatch/rigwatch/internal/domain"
)

func TestNowPayments_Withdraw_Success(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payout", r.URL.Path)
		assert.Equal(t, "np-key", r.Header.Get("x-api-key"))

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		_, _ = w.Write([]byte(`{"payout_id": "np-12345"}`))
	}))
	t.Cleanup(srv.Close)

	provider := NewNowPayments(srv.URL, time.Second)
	txRef, err := provider.Withdraw(context.Background(), "np-key", "bc1qaddr", 0.015)

	require.NoError(t, err)
	assert.Equal(t, "np-12345", txRef)
	assert.Equal(t, "bc1qaddr", gotBody["address"])
	assert.Equal(t, "0.015", gotBody["amount"])
	assert.Equal(t, "BTC", gotBody["currency"])
}

func TestNowPayments_Withdraw_MissingConfirmationIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "queued"}`))
	}))
	t.Cleanup(srv.Close)

	provider := NewNowPayments(srv.URL, time.Second)
	_, err := provider.Withdraw(context.Background(), "np-key", "bc1qaddr", 0.015)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "payout_id")
}

func TestNowPayments_Withdraw_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	provider := NewNowPayments(srv.URL, time.Second)
	_, err := provider.Withdraw(context.Background(), "np-key", "bc1qaddr", 0.015)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.NotContains(t, err.Error(), "np-key")
}

func TestCoinbase_Withdraw_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/accounts/primary/transactions", r.URL.Path)
		assert.Equal(t, "Bearer cb-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data": {"id": "cb-tx-9"}}`))
	}))
	t.Cleanup(srv.Close)

	provider := NewCoinbase(srv.URL, time.Second)
	txRef, err := provider.Withdraw(context.Background(), "cb-key", "bc1qaddr", 0.02)

	require.NoError(t, err)
	assert.Equal(t, "cb-tx-9", txRef)
}

func TestCoinbase_Withdraw_MissingConfirmationIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {}}`))
	}))
	t.Cleanup(srv.Close)

	provider := NewCoinbase(srv.URL, time.Second)
	_, err := provider.Withdraw(context.Background(), "cb-key", "bc1qaddr", 0.02)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.id")
}

func TestEngine_TriggerPayout_UnknownProviderFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payout_id": "np-777"}`))
	}))
	t.Cleanup(srv.Close)

	engine := NewEngine(testLogger(), NewNowPayments(srv.URL, time.Second))

	txRef, err := engine.TriggerPayout(context.Background(), "unknown", "key", "bc1qaddr", 0.05)
	require.NoError(t, err)
	assert.Equal(t, "np-777", txRef)
}

func TestEngine_TriggerPayout_RejectsInvalidInput(t *testing.T) {
	engine := NewEngine(testLogger(), NewNowPayments("http://localhost:1", time.Second))

	_, err := engine.TriggerPayout(context.Background(), domain.ProviderNowPayments, "key", "", 0.05)
	assert.Error(t, err)

	_, err = engine.TriggerPayout(context.Background(), domain.ProviderNowPayments, "key", "bc1qaddr", 0)
	assert.Error(t, err)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
