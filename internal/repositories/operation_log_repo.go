package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/facegate/internal/database"
	"github.com/BradenHooton/facegate/internal/models"
)

const operationLogColumns = `
	id, operation, user_id, status, failure_reason, metadata, created_at, updated_at, completed_at`

// OperationLogRepository handles operation log data access
type OperationLogRepository struct {
	pool *pgxpool.Pool
}

// NewOperationLogRepository creates a new OperationLogRepository
func NewOperationLogRepository(db *database.DB) *OperationLogRepository {
	return &OperationLogRepository{pool: db.Pool}
}

// scanOperationLogRow handles nullable fields and populates an OperationLog model from a database row
func scanOperationLogRow(row rowScanner) (*models.OperationLog, error) {
	var log models.OperationLog
	var status string

	err := row.Scan(
		&log.ID, &log.Operation, &log.UserID, &status, &log.FailureReason,
		&log.Metadata, &log.CreatedAt, &log.UpdatedAt, &log.CompletedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if log.Status, err = models.ParseOperationStatus(status); err != nil {
		return nil, err
	}

	return &log, nil
}

// scanOperationLogRows iterates through rows and scans each into OperationLog models
func scanOperationLogRows(rows pgx.Rows) ([]*models.OperationLog, error) {
	defer rows.Close()

	logs := make([]*models.OperationLog, 0)

	for rows.Next() {
		log, err := scanOperationLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation log rows: %w", err)
	}

	return logs, nil
}

// Create inserts a new operation log entry
func (r *OperationLogRepository) Create(ctx context.Context, log *models.OperationLog) (*models.OperationLog, error) {
	query := `
		INSERT INTO operation_logs (id, operation, user_id, status, failure_reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING ` + operationLogColumns

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.Metadata == nil {
		log.Metadata = models.OperationMetadata{}
	}

	result, err := scanOperationLogRow(r.pool.QueryRow(ctx, query,
		log.ID, log.Operation, log.UserID, string(log.Status), log.FailureReason, log.Metadata, log.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create operation log: %w", err)
	}

	return result, nil
}

// GetByID retrieves a single operation log entry
func (r *OperationLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OperationLog, error) {
	query := `SELECT ` + operationLogColumns + ` FROM operation_logs WHERE id = $1`

	log, err := scanOperationLogRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return log, nil
}

// UpdateStatus moves an entry from one status to another. It returns models.ErrInvalidTransition
// when the entry is no longer in from.
func (r *OperationLogRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.OperationStatus, failureReason *string, metadata models.OperationMetadata, at time.Time) (*models.OperationLog, error) {
	var completedAt *time.Time
	if to.IsTerminal() {
		completedAt = &at
	}

	query := `
		UPDATE operation_logs
		SET status = $3,
		    failure_reason = COALESCE($4, failure_reason),
		    metadata = metadata || COALESCE($5::jsonb, '{}'::jsonb),
		    updated_at = $6,
		    completed_at = $7
		WHERE id = $1 AND status = $2
		RETURNING ` + operationLogColumns

	log, err := scanOperationLogRow(r.pool.QueryRow(ctx, query,
		id, string(from), string(to), failureReason, metadata, at, completedAt,
	))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to update operation log: %w", err)
	}
	return log, nil
}

// ListByUserID retrieves operation logs for a user, newest first
func (r *OperationLogRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error) {
	query := `SELECT ` + operationLogColumns + `
		FROM operation_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation logs: %w", err)
	}

	return scanOperationLogRows(rows)
}

// List retrieves recent operation logs, optionally filtered by operation name
func (r *OperationLogRepository) List(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error) {
	query := `SELECT ` + operationLogColumns + `
		FROM operation_logs
		WHERE ($1 = '' OR operation = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, operation, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation logs: %w", err)
	}

	return scanOperationLogRows(rows)
}

// Cleanup removes terminal entries completed before cutoff
func (r *OperationLogRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM operation_logs
		WHERE completed_at IS NOT NULL AND completed_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup operation logs: %w", err)
	}

	return result.RowsAffected(), nil
}
