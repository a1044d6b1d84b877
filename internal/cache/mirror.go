// Package cache holds the Redis-backed fast paths: the per-user rig-list
// mirror, the cycle guard lock, and offline-alert watermarks.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rigwatch/rigwatch/internal/domain"
)

// KV is the slice of the Redis client this package needs. Both the plain
// client and its Prometheus-instrumented wrapper satisfy it.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Mirror duplicates the latest reconciled rig list per user as one JSON blob.
// Read APIs prefer it over the repository; the reconciliation engine replaces
// the whole blob atomically each cycle.
type Mirror struct {
	client KV
}

// NewMirror constructs a rig-list mirror backed by the provided Redis client.
func NewMirror(client KV) *Mirror {
	return &Mirror{client: client}
}

// Get fetches the cached rig list, or nil when the user has no blob yet.
func (m *Mirror) Get(ctx context.Context, uid string) ([]domain.Rig, error) {
	if m == nil || m.client == nil {
		return nil, nil
	}

	value, err := m.client.Get(ctx, mirrorKey(uid))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rig mirror: %w", err)
	}

	var rigs []domain.Rig
	if err := json.Unmarshal([]byte(value), &rigs); err != nil {
		return nil, fmt.Errorf("decode rig mirror: %w", err)
	}

	return rigs, nil
}

// Put replaces the user's blob with the given rig list in a single SET.
func (m *Mirror) Put(ctx context.Context, uid string, rigs []domain.Rig) error {
	if m == nil || m.client == nil {
		return nil
	}

	payload, err := json.Marshal(rigs)
	if err != nil {
		return fmt.Errorf("encode rig mirror: %w", err)
	}

	if err := m.client.Set(ctx, mirrorKey(uid), payload, 0); err != nil {
		return fmt.Errorf("set rig mirror: %w", err)
	}

	return nil
}

// Delete drops the user's blob.
func (m *Mirror) Delete(ctx context.Context, uid string) error {
	if m == nil || m.client == nil {
		return nil
	}

	if err := m.client.Delete(ctx, mirrorKey(uid)); err != nil {
		return fmt.Errorf("delete rig mirror: %w", err)
	}

	return nil
}

func mirrorKey(uid string) string {
	return fmt.Sprintf("rigs:%s", uid)
}
