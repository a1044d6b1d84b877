package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigwatch/rigwatch/internal/domain"
)

func TestEthermine_FetchRigs_StatusFromHashrate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/miner/0xabc/dashboard", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"data": {
				"workers": [
					{"worker": "Miner-A", "currentHashrate": 55.1, "lastSeen": 1709294400},
					{"worker": "miner-b", "currentHashrate": 0}
				]
			}
		}`))
	}))
	t.Cleanup(srv.Close)

	adapter := NewEthermine(srv.URL, time.Second)
	rigs, err := adapter.FetchRigs(context.Background(), domain.Credentials{EthermineWallet: "0xabc"})
	require.NoError(t, err)
	require.Len(t, rigs, 2)

	assert.Equal(t, domain.StatusOnline, rigs[0].Status)
	assert.Equal(t, time.Unix(1709294400, 0).UTC(), rigs[0].LastSeen)
	assert.Equal(t, domain.StatusOffline, rigs[1].Status)
	assert.Equal(t, domain.PlatformEthermine, rigs[1].Platform)
}

func TestEthermine_FetchRigs_NonOKEnvelopeIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ERROR", "error": "invalid address"}`))
	}))
	t.Cleanup(srv.Close)

	adapter := NewEthermine(srv.URL, time.Second)
	rigs, err := adapter.FetchRigs(context.Background(), domain.Credentials{EthermineWallet: "0xbad"})

	require.NoError(t, err)
	assert.Empty(t, rigs)
}

func TestEthermine_FetchRigs_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	adapter := NewEthermine(srv.URL, time.Second)
	_, err := adapter.FetchRigs(context.Background(), domain.Credentials{EthermineWallet: "0xabc"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ethermine")
}
