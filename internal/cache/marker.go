package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rigwatch/rigwatch/internal/domain"
)

// AlertMarker remembers when a rig last triggered an offline alert so the
// engine can throttle repeats. The watermark is advisory state, not a
// document: losing it only means one extra alert, so Redis is plenty.
type AlertMarker struct {
	client KV
}

// NewAlertMarker constructs the watermark store.
func NewAlertMarker(client KV) *AlertMarker {
	return &AlertMarker{client: client}
}

// LastAlerted returns when the rig last alerted, or the zero time when it
// never did.
func (m *AlertMarker) LastAlerted(ctx context.Context, uid, rigID string) (time.Time, error) {
	if m == nil || m.client == nil {
		return time.Time{}, nil
	}

	value, err := m.client.Get(ctx, markerKey(uid, rigID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get alert watermark: %w", err)
	}

	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, nil
	}

	return at, nil
}

// MarkAlerted records that the rig alerted at the given time.
func (m *AlertMarker) MarkAlerted(ctx context.Context, uid, rigID string, at time.Time) error {
	if m == nil || m.client == nil {
		return nil
	}

	if err := m.client.Set(ctx, markerKey(uid, rigID), at.UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("set alert watermark: %w", err)
	}

	return nil
}

func markerKey(uid, rigID string) string {
	return fmt.Sprintf("alert:last:%s:%s", uid, domain.NormalizeRigID(rigID))
}
