package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

// Settings document names under the per-user settings namespace.
const (
	settingsAlerts      = "alerts"
	settingsPayout      = "payout"
	settingsCredentials = "credentials"
)

// SettingsRepository stores per-user settings documents, upstream credentials
// and the tombstone set.
type SettingsRepository interface {
	GetAlertSettings(ctx context.Context, uid string) (domain.AlertSettings, error)
	SetAlertSettings(ctx context.Context, uid string, settings domain.AlertSettings) error

	GetPayoutSettings(ctx context.Context, uid string) (domain.PayoutSettings, error)
	SetPayoutSettings(ctx context.Context, uid string, settings domain.PayoutSettings) error

	GetCredentials(ctx context.Context, uid string) (domain.Credentials, error)
	SetCredentials(ctx context.Context, uid string, creds domain.Credentials) error

	// AddTombstones records rig ids as deleted. Ids are normalized to lower
	// case; the set only ever grows.
	AddTombstones(ctx context.Context, uid string, rigIDs ...string) error
	ListTombstones(ctx context.Context, uid string) ([]string, error)
}

type settingsRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSettingsRepository creates a SQL-backed settings store.
func NewSettingsRepository(db *sql.DB, log *slog.Logger) SettingsRepository {
	return &settingsRepository{
		db:  db,
		log: log,
	}
}

func (r *settingsRepository) GetAlertSettings(ctx context.Context, uid string) (domain.AlertSettings, error) {
	settings := domain.DefaultAlertSettings()
	found, err := r.getDoc(ctx, uid, settingsAlerts, &settings)
	if err != nil {
		return domain.DefaultAlertSettings(), err
	}
	if !found {
		return domain.DefaultAlertSettings(), nil
	}
	return settings, nil
}

func (r *settingsRepository) SetAlertSettings(ctx context.Context, uid string, settings domain.AlertSettings) error {
	return r.setDoc(ctx, uid, settingsAlerts, settings)
}

func (r *settingsRepository) GetPayoutSettings(ctx context.Context, uid string) (domain.PayoutSettings, error) {
	settings := domain.DefaultPayoutSettings()
	found, err := r.getDoc(ctx, uid, settingsPayout, &settings)
	if err != nil {
		return domain.DefaultPayoutSettings(), err
	}
	if !found {
		return domain.DefaultPayoutSettings(), nil
	}
	if settings.Provider == "" {
		settings.Provider = domain.ProviderNowPayments
	}
	return settings, nil
}

func (r *settingsRepository) SetPayoutSettings(ctx context.Context, uid string, settings domain.PayoutSettings) error {
	return r.setDoc(ctx, uid, settingsPayout, settings)
}

func (r *settingsRepository) GetCredentials(ctx context.Context, uid string) (domain.Credentials, error) {
	var creds domain.Credentials
	if _, err := r.getDoc(ctx, uid, settingsCredentials, &creds); err != nil {
		return domain.Credentials{}, err
	}
	return creds, nil
}

func (r *settingsRepository) SetCredentials(ctx context.Context, uid string, creds domain.Credentials) error {
	return r.setDoc(ctx, uid, settingsCredentials, creds)
}

func (r *settingsRepository) AddTombstones(ctx context.Context, uid string, rigIDs ...string) error {
	const query = `
		INSERT INTO tombstones (uid, rig_id)
		VALUES ($1, $2)
		ON CONFLICT (uid, rig_id) DO NOTHING
	`

	for _, rigID := range rigIDs {
		normalized := domain.NormalizeRigID(rigID)
		if normalized == "" {
			continue
		}

		if _, err := r.db.ExecContext(ctx, query, uid, normalized); err != nil {
			if r.log != nil {
				r.log.Error("failed to add tombstone", slog.String("uid", uid), slog.String("rig_id", normalized), slog.Any("error", err))
			}
			return apperrors.NewStorageError(fmt.Errorf("insert tombstone: %w", err))
		}
	}

	return nil
}

func (r *settingsRepository) ListTombstones(ctx context.Context, uid string) ([]string, error) {
	const query = `
		SELECT rig_id
		FROM tombstones
		WHERE uid = $1
		ORDER BY rig_id
	`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("list tombstones: %w", err))
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var rigID string
		if err := rows.Scan(&rigID); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("scan tombstone row: %w", err))
		}
		ids = append(ids, rigID)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("iterate tombstones: %w", err))
	}

	return ids, nil
}

func (r *settingsRepository) getDoc(ctx context.Context, uid, name string, out interface{}) (bool, error) {
	const query = `
		SELECT doc
		FROM user_settings
		WHERE uid = $1 AND name = $2
	`

	var raw []byte
	if err := r.db.QueryRowContext(ctx, query, uid, name).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apperrors.NewStorageError(fmt.Errorf("select settings %s: %w", name, err))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, apperrors.NewStorageError(fmt.Errorf("decode settings %s: %w", name, err))
	}

	return true, nil
}

func (r *settingsRepository) setDoc(ctx context.Context, uid, name string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewStorageError(fmt.Errorf("encode settings %s: %w", name, err))
	}

	const query = `
		INSERT INTO user_settings (uid, name, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (uid, name) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`

	if _, err := r.db.ExecContext(ctx, query, uid, name, raw); err != nil {
		if r.log != nil {
			r.log.Error("failed to write settings", slog.String("uid", uid), slog.String("name", name), slog.Any("error", err))
		}
		return apperrors.NewStorageError(fmt.Errorf("upsert settings %s: %w", name, err))
	}

	return nil
}
