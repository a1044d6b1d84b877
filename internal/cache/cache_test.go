package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigwatch/rigwatch/internal/domain"
	appredis "github.com/rigwatch/rigwatch/pkg/redis"
)

func setupClient(t *testing.T) *appredis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := appredis.New(context.Background(), appredis.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestMirror_PutGetDelete(t *testing.T) {
	mirror := NewMirror(setupClient(t))
	ctx := context.Background()

	got, err := mirror.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	rigs := []domain.Rig{
		{ID: "rig-01", Name: "Garage", Platform: domain.PlatformHiveOS, Status: domain.StatusOnline},
		{ID: "rig-02", Name: "Attic", Platform: domain.PlatformNiceHash, Status: domain.StatusOffline},
	}
	require.NoError(t, mirror.Put(ctx, "u1", rigs))

	got, err = mirror.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "rig-01", got[0].ID)
	assert.Equal(t, domain.StatusOffline, got[1].Status)

	// blob is per user
	other, err := mirror.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, mirror.Delete(ctx, "u1"))
	got, err = mirror.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMirror_PutReplacesWholeBlob(t *testing.T) {
	mirror := NewMirror(setupClient(t))
	ctx := context.Background()

	require.NoError(t, mirror.Put(ctx, "u1", []domain.Rig{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, mirror.Put(ctx, "u1", []domain.Rig{{ID: "c"}}))

	got, err := mirror.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}

func TestCycleGuard_MutualExclusion(t *testing.T) {
	guard := NewCycleGuard(setupClient(t))
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	again, err := guard.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, guard.Release(ctx))

	acquired, err = guard.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAlertMarker_Watermark(t *testing.T) {
	marker := NewAlertMarker(setupClient(t))
	ctx := context.Background()

	last, err := marker.LastAlerted(ctx, "u1", "RIG-01")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, marker.MarkAlerted(ctx, "u1", "RIG-01", at))

	// lookups are case-insensitive on the rig id
	last, err = marker.LastAlerted(ctx, "u1", "rig-01")
	require.NoError(t, err)
	assert.Equal(t, at, last)
}

func TestCacheNilSafe(t *testing.T) {
	ctx := context.Background()

	var mirror *Mirror
	rigs, err := mirror.Get(ctx, "u1")
	assert.NoError(t, err)
	assert.Nil(t, rigs)
	assert.NoError(t, mirror.Put(ctx, "u1", nil))

	var guard *CycleGuard
	acquired, err := guard.Acquire(ctx, time.Minute)
	assert.NoError(t, err)
	assert.True(t, acquired)
}
