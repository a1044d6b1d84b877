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

// PayoutRepository stores the append-only payout history.
type PayoutRepository interface {
	Append(ctx context.Context, uid string, record domain.PayoutRecord) error
	List(ctx context.Context, uid string) ([]domain.PayoutRecord, error)
}

type payoutRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPayoutRepository creates a SQL-backed payout history store.
func NewPayoutRepository(db *sql.DB, log *slog.Logger) PayoutRepository {
	return &payoutRepository{
		db:  db,
		log: log,
	}
}

func (r *payoutRepository) Append(ctx context.Context, uid string, record domain.PayoutRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewStorageError(fmt.Errorf("encode payout record: %w", err))
	}

	const query = `
		INSERT INTO payouts (id, uid, doc, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.ExecContext(ctx, query, record.ID, uid, doc, record.Timestamp); err != nil {
		if r.log != nil {
			r.log.Error("failed to append payout record", slog.String("uid", uid), slog.String("payout_id", record.ID), slog.Any("error", err))
		}
		return apperrors.NewStorageError(fmt.Errorf("insert payout record: %w", err))
	}

	return nil
}

func (r *payoutRepository) List(ctx context.Context, uid string) ([]domain.PayoutRecord, error) {
	const query = `
		SELECT doc
		FROM payouts
		WHERE uid = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("list payouts: %w", err))
	}
	defer func() { _ = rows.Close() }()

	records := make([]domain.PayoutRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("scan payout row: %w", err))
		}

		var record domain.PayoutRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("decode payout record: %w", err))
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("iterate payouts: %w", err))
	}

	return records, nil
}
