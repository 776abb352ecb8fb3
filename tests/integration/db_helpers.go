package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/facegate/internal/database"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/repositories"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("facegate"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Same embedded migrations the service applies at startup
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         database.NewFromPool(pool, nil),
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"face_profiles",
		"verification_records",
		"operation_logs",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// Repositories bundles the Postgres-backed stores
type Repositories struct {
	Profiles   *repositories.FaceProfileRepository
	Records    *repositories.VerificationRecordRepository
	Operations *repositories.OperationLogRepository
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) Repositories {
	return Repositories{
		Profiles:   repositories.NewFaceProfileRepository(db),
		Records:    repositories.NewVerificationRecordRepository(db),
		Operations: repositories.NewOperationLogRepository(db),
	}
}

// SeedProfile inserts a face profile with the given status and expiry
func SeedProfile(ctx context.Context, repo *repositories.FaceProfileRepository, userID string, status models.ProfileStatus, expiresAt *time.Time) (*models.FaceProfile, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &models.FaceProfile{
		ID:                uuid.New(),
		UserID:            userID,
		ProviderFaceToken: "seed-" + userID + "-" + uuid.NewString()[:8],
		Status:            status,
		CollectionMethod:  models.CollectionMethodManual,
		DeviceInfo:        models.DeviceInfo{DeviceID: "seed-device", Platform: "test"},
		QualityScore:      0.9,
		CreatedAt:         now,
		LastUpdatedAt:     now,
		ExpiresAt:         expiresAt,
	}
	created, err := repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to seed face profile: %w", err)
	}
	return created, nil
}

// SeedRecord appends a verification record at the given time
func SeedRecord(ctx context.Context, repo *repositories.VerificationRecordRepository, userID, businessType string, result models.VerificationResult, at time.Time) (*models.VerificationRecord, error) {
	rec := &models.VerificationRecord{
		ID:               uuid.New(),
		UserID:           userID,
		BusinessType:     businessType,
		Result:           result,
		VerificationType: models.VerificationRequired,
		RiskLevel:        models.RiskLow,
		Timestamp:        at.UTC().Truncate(time.Microsecond),
	}
	if err := repo.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to seed verification record: %w", err)
	}
	return rec, nil
}
