package cache

import (
	"context"
	"fmt"
	"time"
)

const cycleLockKey = "sync:cycle:lock"

// CycleGuard is a best-effort mutual-exclusion lock around the
// reconciliation cycle. Overlapping cycles would only double-write the same
// upstream truth, so a colliding run is skipped rather than queued.
type CycleGuard struct {
	client KV
}

// NewCycleGuard constructs the guard on the shared Redis client.
func NewCycleGuard(client KV) *CycleGuard {
	return &CycleGuard{client: client}
}

// Acquire takes the lock for ttl. It returns false when another cycle holds
// it. The ttl doubles as crash protection: a dead holder frees the lock once
// the ttl lapses.
func (g *CycleGuard) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}

	ok, err := g.client.SetNX(ctx, cycleLockKey, time.Now().UTC().Format(time.RFC3339), ttl)
	if err != nil {
		return false, fmt.Errorf("acquire cycle lock: %w", err)
	}

	return ok, nil
}

// Release frees the lock after a completed cycle.
func (g *CycleGuard) Release(ctx context.Context) error {
	if g == nil || g.client == nil {
		return nil
	}

	if err := g.client.Delete(ctx, cycleLockKey); err != nil {
		return fmt.Errorf("release cycle lock: %w", err)
	}

	return nil
}
