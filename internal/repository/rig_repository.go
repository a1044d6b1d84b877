// Package repository implements the Postgres-backed document store: rig
// documents, per-user settings, tombstones, and payout history.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// RigRepository defines persistence operations for rig documents.
type RigRepository interface {
	Get(ctx context.Context, uid, rigID string) (*domain.Rig, error)
	// Upsert merges incoming into the stored document: fields absent from
	// the update retain their prior values. The read-merge-write runs in one
	// transaction with a row lock so concurrent writers for the same rig
	// never interleave partial field sets.
	Upsert(ctx context.Context, uid string, rig domain.Rig) error
	Delete(ctx context.Context, uid, rigID string) error
	List(ctx context.Context, uid string) ([]domain.Rig, error)
}

type rigRepository struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// NewRigRepository creates a SQL-backed rig repository.
func NewRigRepository(db *sql.DB, log *slog.Logger) RigRepository {
	return &rigRepository{
		db:  db,
		log: log,
		now: time.Now,
	}
}

func (r *rigRepository) Get(ctx context.Context, uid, rigID string) (*domain.Rig, error) {
	const query = `
		SELECT doc
		FROM rigs
		WHERE uid = $1 AND rig_id = $2
	`

	var raw []byte
	if err := r.db.QueryRowContext(ctx, query, uid, domain.NormalizeRigID(rigID)).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperrors.NewStorageError(fmt.Errorf("select rig: %w", err))
	}

	var rig domain.Rig
	if err := json.Unmarshal(raw, &rig); err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("decode rig doc: %w", err))
	}

	return &rig, nil
}

func (r *rigRepository) Upsert(ctx context.Context, uid string, rig domain.Rig) error {
	rigID := domain.NormalizeRigID(rig.ID)
	if rigID == "" {
		return apperrors.NewValidationError("rig id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError(fmt.Errorf("begin upsert: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `
		SELECT doc
		FROM rigs
		WHERE uid = $1 AND rig_id = $2
		FOR UPDATE
	`

	merged := rig
	var raw []byte
	err = tx.QueryRowContext(ctx, selectQuery, uid, rigID).Scan(&raw)
	switch {
	case err == nil:
		var stored domain.Rig
		if decodeErr := json.Unmarshal(raw, &stored); decodeErr != nil {
			return apperrors.NewStorageError(fmt.Errorf("decode stored rig: %w", decodeErr))
		}
		merged = stored.Merge(rig)
	case errors.Is(err, sql.ErrNoRows):
		// first sighting, insert as-is
	default:
		return apperrors.NewStorageError(fmt.Errorf("select rig for update: %w", err))
	}

	merged.LastUpdated = r.now().UTC()

	doc, err := json.Marshal(merged)
	if err != nil {
		return apperrors.NewStorageError(fmt.Errorf("encode rig doc: %w", err))
	}

	const upsertQuery = `
		INSERT INTO rigs (uid, rig_id, doc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid, rig_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`

	if _, err := tx.ExecContext(ctx, upsertQuery, uid, rigID, doc, merged.LastUpdated); err != nil {
		if r.log != nil {
			r.log.Error("failed to upsert rig", slog.String("uid", uid), slog.String("rig_id", rigID), slog.Any("error", err))
		}
		return apperrors.NewStorageError(fmt.Errorf("upsert rig: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError(fmt.Errorf("commit upsert: %w", err))
	}

	return nil
}

func (r *rigRepository) Delete(ctx context.Context, uid, rigID string) error {
	const query = `
		DELETE FROM rigs
		WHERE uid = $1 AND rig_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, uid, domain.NormalizeRigID(rigID)); err != nil {
		if r.log != nil {
			r.log.Error("failed to delete rig", slog.String("uid", uid), slog.String("rig_id", rigID), slog.Any("error", err))
		}
		return apperrors.NewStorageError(fmt.Errorf("delete rig: %w", err))
	}

	return nil
}

func (r *rigRepository) List(ctx context.Context, uid string) ([]domain.Rig, error) {
	const query = `
		SELECT doc
		FROM rigs
		WHERE uid = $1
		ORDER BY rig_id
	`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("list rigs: %w", err))
	}
	defer func() { _ = rows.Close() }()

	rigs := make([]domain.Rig, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("scan rig row: %w", err))
		}

		var rig domain.Rig
		if err := json.Unmarshal(raw, &rig); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("decode rig doc: %w", err))
		}
		rigs = append(rigs, rig)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("iterate rigs: %w", err))
	}

	return rigs, nil
}
