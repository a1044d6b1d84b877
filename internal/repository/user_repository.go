package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

// UserRepository tracks known users. Users register implicitly on their
// first write through the HTTP API; the reconciliation cycle fans out over
// ListIDs.
type UserRepository interface {
	Ensure(ctx context.Context, uid string) error
	ListIDs(ctx context.Context) ([]string, error)
}

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a SQL-backed user registry.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	return &userRepository{
		db:  db,
		log: log,
	}
}

func (r *userRepository) Ensure(ctx context.Context, uid string) error {
	const query = `
		INSERT INTO users (uid)
		VALUES ($1)
		ON CONFLICT (uid) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, uid); err != nil {
		if r.log != nil {
			r.log.Error("failed to register user", slog.String("uid", uid), slog.Any("error", err))
		}
		return apperrors.NewStorageError(fmt.Errorf("insert user: %w", err))
	}

	return nil
}

func (r *userRepository) ListIDs(ctx context.Context) ([]string, error) {
	const query = `
		SELECT uid
		FROM users
		ORDER BY uid
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("list users: %w", err))
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, apperrors.NewStorageError(fmt.Errorf("scan user row: %w", err))
		}
		ids = append(ids, uid)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(fmt.Errorf("iterate users: %w", err))
	}

	return ids, nil
}
