package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

// AlertRepository stores the per-user alert feed shown on the dashboard.
type AlertRepository interface {
	Append(ctx context.Context, uid string, record domain.AlertRecord) error
	List(ctx context.Context, uid string) ([]domain.AlertRecord, error)
}

type alertRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewAlertRepository creates a SQL-backed alert feed store.
func NewAlertRepository(db *sql.DB, log *slog.Logger) AlertRepository {
	return &alertRepository{
		db:  db,
		log: log,
	}
}

func (r *alertRepository) Append(ctx context.Context, uid string, record domain.AlertRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewStorageError(fmt.Errorf("encode alert record: %w", err))
	}

	const query = `
		INSERT INTO alert_records (id, uid, doc, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, record.ID, uid, doc, record.Timestamp); err != nil {
		if r.log != nil {
			r.log.Error("failed to append alert record", slog.String("uid", uid), slog.String("alert_id", record.ID), slog.Any("error", err))
		}
		return apperrors.NewStorageError(fmt.Errorf("insert alert record: %w", err))
	}

	return nil
}

func (r *alertRepository) List(ctx context.Context, uid string) ([]domain.AlertRecord, error) {
	const query = `
		SELECT doc
		FROM alert_records
		WHERE uid = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("list alerts: %w", err))
	}
	defer func() { _ = rows.Close() }()

	records := make([]domain.AlertRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("scan alert row: %w", err))
		}

		var record domain.AlertRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("decode alert record: %w", err))
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("iterate alerts: %w", err))
	}

	return records, nil
}
