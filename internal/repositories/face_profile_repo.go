package repositories

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/BradenHooton/facegate/internal/database"
	"github.com/BradenHooton/facegate/internal/models"
)

const faceProfileColumns = `
	id, user_id, provider_face_token, status, collection_method, device_info,
	quality_score, created_at, last_updated_at, expires_at`

// FaceProfileRepository stores face profiles in Postgres. The partial unique index
// on (user_id) WHERE status = 'ACTIVE' backs the one-active-profile rule.
type FaceProfileRepository struct {
	db *database.DB
}

func NewFaceProfileRepository(db *database.DB) *FaceProfileRepository {
	return &FaceProfileRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFaceProfileRow(row rowScanner) (*models.FaceProfile, error) {
	var p models.FaceProfile
	var status, method string

	err := row.Scan(
		&p.ID, &p.UserID, &p.ProviderFaceToken, &status, &method, &p.DeviceInfo,
		&p.QualityScore, &p.CreatedAt, &p.LastUpdatedAt, &p.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if p.Status, err = models.ParseProfileStatus(status); err != nil {
		return nil, err
	}
	p.CollectionMethod = models.CollectionMethod(method)

	return &p, nil
}

func scanFaceProfileRows(rows pgx.Rows) ([]*models.FaceProfile, error) {
	defer rows.Close()

	profiles := make([]*models.FaceProfile, 0)
	for rows.Next() {
		p, err := scanFaceProfileRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan face profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating face profile rows: %w", err)
	}

	return profiles, nil
}

// GetActiveByUserID returns the user's ACTIVE profile or models.ErrNotFound
func (r *FaceProfileRepository) GetActiveByUserID(ctx context.Context, userID string) (*models.FaceProfile, error) {
	query := `SELECT ` + faceProfileColumns + `
		FROM face_profiles
		WHERE user_id = $1 AND status = 'ACTIVE'`

	p, err := scanFaceProfileRow(r.db.Pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListByUserID returns every profile the user has, newest first
func (r *FaceProfileRepository) ListByUserID(ctx context.Context, userID string) ([]*models.FaceProfile, error) {
	query := `SELECT ` + faceProfileColumns + `
		FROM face_profiles
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query face profiles: %w", err)
	}
	return scanFaceProfileRows(rows)
}

// Create inserts a new profile; a second ACTIVE profile for the same user yields models.ErrConflict
func (r *FaceProfileRepository) Create(ctx context.Context, p *models.FaceProfile) (*models.FaceProfile, error) {
	created, err := insertFaceProfile(ctx, r.db.Pool, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create face profile: %w", err)
	}
	return created, nil
}

func insertFaceProfile(ctx context.Context, q database.Querier, p *models.FaceProfile) (*models.FaceProfile, error) {
	query := `
		INSERT INTO face_profiles (
			id, user_id, provider_face_token, status, collection_method, device_info,
			quality_score, created_at, last_updated_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + faceProfileColumns

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	return scanFaceProfileRow(q.QueryRow(ctx, query,
		p.ID, p.UserID, p.ProviderFaceToken, string(p.Status), string(p.CollectionMethod), p.DeviceInfo,
		p.QualityScore, p.CreatedAt, p.LastUpdatedAt, p.ExpiresAt,
	))
}

// Save upserts the profile by id (last write wins; callers hold the per-user lock)
func (r *FaceProfileRepository) Save(ctx context.Context, p *models.FaceProfile) error {
	query := `
		INSERT INTO face_profiles (
			id, user_id, provider_face_token, status, collection_method, device_info,
			quality_score, created_at, last_updated_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			provider_face_token = EXCLUDED.provider_face_token,
			status              = EXCLUDED.status,
			collection_method   = EXCLUDED.collection_method,
			device_info         = EXCLUDED.device_info,
			quality_score       = EXCLUDED.quality_score,
			last_updated_at     = EXCLUDED.last_updated_at,
			expires_at          = EXCLUDED.expires_at`

	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.UserID, p.ProviderFaceToken, string(p.Status), string(p.CollectionMethod), p.DeviceInfo,
		p.QualityScore, p.CreatedAt, p.LastUpdatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save face profile: %w", database.MapPostgresError(err))
	}
	return nil
}

// Supersede disables prior and inserts next as ACTIVE in a single transaction.
// If prior is no longer ACTIVE the swap is aborted with models.ErrInvalidTransition.
func (r *FaceProfileRepository) Supersede(ctx context.Context, priorID uuid.UUID, next *models.FaceProfile) (*models.FaceProfile, error) {
	var created *models.FaceProfile

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE face_profiles
			SET status = 'DISABLED', last_updated_at = $2
			WHERE id = $1 AND status = 'ACTIVE'`,
			priorID, next.LastUpdatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() != 1 {
			return models.ErrInvalidTransition
		}

		created, err = insertFaceProfile(ctx, tx, next)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to supersede face profile: %w", err)
	}

	return created, nil
}

// TransitionStatus moves a profile from one status to another only if it is still in from.
// It reports whether the row changed.
func (r *FaceProfileRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.ProfileStatus, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE face_profiles
		SET status = $3, last_updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition face profile: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpiredCandidates lazily yields ACTIVE profiles whose expiry is at or before now,
// paging by (expires_at, id) so iteration can resume after rows change underneath it.
func (r *FaceProfileRepository) ListExpiredCandidates(ctx context.Context, now time.Time, pageSize int) iter.Seq2[*models.FaceProfile, error] {
	query := `SELECT ` + faceProfileColumns + `
		FROM face_profiles
		WHERE status = 'ACTIVE'
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		  AND (expires_at, id) > ($2, $3)
		ORDER BY expires_at, id
		LIMIT $4`

	if pageSize <= 0 {
		pageSize = 100
	}

	return func(yield func(*models.FaceProfile, error) bool) {
		afterExpiry := time.Time{}
		afterID := uuid.Nil

		for {
			rows, err := r.db.Pool.Query(ctx, query, now, afterExpiry, afterID, pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("failed to query expired face profiles: %w", err))
				return
			}
			page, err := scanFaceProfileRows(rows)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, p := range page {
				if !yield(p, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}

			last := page[len(page)-1]
			afterExpiry, afterID = *last.ExpiresAt, last.ID
		}
	}
}

// DeleteByUserID removes every profile row of the user and returns how many were removed
func (r *FaceProfileRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM face_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete face profiles: %w", err)
	}
	return tag.RowsAffected(), nil
}
