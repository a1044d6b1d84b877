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

func TestHiveOS_FetchRigs_MaxTemperatureAcrossGPUs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hive-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v2/farms/42/workers", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"data": [
				{
					"id": 7,
					"name": "worker-1",
					"stats": {"online": true, "uptime": 3600, "updated": 1709294400},
					"hashrate": 280.2,
					"power": 900,
					"algo": "ethash",
					"gpu_stats": [
						{"temp": 60, "fan": 55},
						{"temp": 75, "fan": 80},
						{"temp": 68, "fan": 62}
					]
				}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	adapter := NewHiveOS(srv.URL, time.Second)
	rigs, err := adapter.FetchRigs(context.Background(), domain.Credentials{
		HiveOSToken:  "hive-token",
		HiveOSFarmID: "42",
	})
	require.NoError(t, err)
	require.Len(t, rigs, 1)

	rig := rigs[0]
	assert.Equal(t, "7", rig.ID)
	assert.Equal(t, domain.PlatformHiveOS, rig.Platform)
	assert.Equal(t, domain.StatusOnline, rig.Status)
	require.NotNil(t, rig.Temperature)
	assert.Equal(t, 75.0, *rig.Temperature)
	require.NotNil(t, rig.FanSpeed)
	assert.Equal(t, 80.0, *rig.FanSpeed)
	assert.Equal(t, time.Unix(1709294400, 0).UTC(), rig.LastSeen)

	require.Len(t, rig.GpuDetails, 3)
	assert.Equal(t, "gpu0", rig.GpuDetails[0].ID)
	assert.Equal(t, "gpu2", rig.GpuDetails[2].ID)
}

func TestHiveOS_FetchRigs_EnumeratesFarmsAndSkipsFailingOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/farms":
			_, _ = w.Write([]byte(`{"data": [{"id": 1}, {"id": 2}]}`))
		case "/api/v2/farms/1/workers":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/api/v2/farms/2/workers":
			_, _ = w.Write([]byte(`{"data": [{"id": 9, "name": "basement", "stats": {"online": false}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	adapter := NewHiveOS(srv.URL, time.Second)
	rigs, err := adapter.FetchRigs(context.Background(), domain.Credentials{HiveOSToken: "hive-token"})

	require.NoError(t, err)
	require.Len(t, rigs, 1)
	assert.Equal(t, "9", rigs[0].ID)
	assert.Equal(t, domain.StatusOffline, rigs[0].Status)
}

func TestHiveOS_FetchRigs_FarmsCallFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	adapter := NewHiveOS(srv.URL, time.Second)
	_, err := adapter.FetchRigs(context.Background(), domain.Credentials{HiveOSToken: "bad"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "hiveos")
	assert.NotContains(t, err.Error(), "bad")
}
