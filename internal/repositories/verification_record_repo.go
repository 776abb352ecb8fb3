package repositories

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/facegate/internal/database"
	"github.com/BradenHooton/facegate/internal/models"
)

// VerificationRecordRepository is append-only: there is deliberately no update path.
type VerificationRecordRepository struct {
	pool *pgxpool.Pool
}

func NewVerificationRecordRepository(db *database.DB) *VerificationRecordRepository {
	return &VerificationRecordRepository{pool: db.Pool}
}

func scanVerificationRecordRow(row rowScanner) (*models.VerificationRecord, error) {
	var rec models.VerificationRecord
	var result, vtype, risk string

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.BusinessType, &result, &vtype, &risk,
		&rec.Score, &rec.FailureReason, &rec.ContextSnapshot, &rec.Timestamp,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if rec.Result, err = models.ParseVerificationResult(result); err != nil {
		return nil, err
	}
	if rec.VerificationType, err = models.ParseVerificationType(vtype); err != nil {
		return nil, err
	}
	if rec.RiskLevel, err = models.ParseRiskLevel(risk); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Append durably stores a new record
func (r *VerificationRecordRepository) Append(ctx context.Context, rec *models.VerificationRecord) error {
	query := `
		INSERT INTO verification_records (
			id, user_id, business_type, result, verification_type, risk_level,
			score, failure_reason, context_snapshot, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.BusinessType, string(rec.Result), string(rec.VerificationType), string(rec.RiskLevel),
		rec.Score, rec.FailureReason, rec.ContextSnapshot, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append verification record: %w", database.MapPostgresError(err))
	}
	return nil
}

// QueryHistory streams the user's records for businessType, newest first.
// A nil since means unbounded lookback.
func (r *VerificationRecordRepository) QueryHistory(ctx context.Context, userID, businessType string, since *time.Time) iter.Seq2[*models.VerificationRecord, error] {
	query := `
		SELECT id, user_id, business_type, result, verification_type, risk_level,
		       score, failure_reason, context_snapshot, created_at
		FROM verification_records
		WHERE user_id = $1 AND business_type = $2
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC`

	return func(yield func(*models.VerificationRecord, error) bool) {
		rows, err := r.pool.Query(ctx, query, userID, businessType, since)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query verification history: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanVerificationRecordRow(rows)
			if err != nil {
				yield(nil, fmt.Errorf("failed to scan verification record: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error iterating verification records: %w", err))
		}
	}
}

// CountSince counts the user's records for businessType at or after since
func (r *VerificationRecordRepository) CountSince(ctx context.Context, userID, businessType string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM verification_records
		WHERE user_id = $1 AND business_type = $2 AND created_at >= $3`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, businessType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count verification records: %w", err)
	}
	return count, nil
}
