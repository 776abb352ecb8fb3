package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BradenHooton/facegate/internal/models"
)

// Querier is satisfied by both the pool and a transaction
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MapPostgresError translates driver errors into the domain sentinels. Unknown errors pass through.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation, including the one-ACTIVE-profile-per-user index
		return models.ErrConflict
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return models.ErrConflict
	case "23502", "23503", "23514", "22P02": // not_null, foreign_key, check, invalid_text_representation
		return models.ErrBadRequest
	case "57014": // query_canceled
		return context.Canceled
	}

	return err
}

// WithTransaction runs fn in a read-committed transaction. fn's error rolls back; nil commits.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}
