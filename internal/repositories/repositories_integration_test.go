//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/tests/integration"
)

var testDB *integration.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = integration.SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func setup(t *testing.T) integration.Repositories {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
	return integration.InitializeRepositories(testDB.DB)
}

func TestFaceProfileRepository_OneActivePerUser(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	_, err := integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	require.NoError(t, err)

	_, err = integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Inactive rows do not count against the constraint
	_, err = integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusDisabled, nil)
	assert.NoError(t, err)
}

func TestFaceProfileRepository_GetActiveByUserID(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	_, err := repos.Profiles.GetActiveByUserID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	seeded, err := integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	require.NoError(t, err)

	got, err := repos.Profiles.GetActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, "seed-device", got.DeviceInfo.DeviceID)
	assert.Equal(t, seeded.ProviderFaceToken, got.ProviderFaceToken)
}

func TestFaceProfileRepository_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	seeded, err := integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	require.NoError(t, err)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	seeded.QualityScore = 0.42
	seeded.ExpiresAt = &expires
	require.NoError(t, repos.Profiles.Save(ctx, seeded))

	got, err := repos.Profiles.GetActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
	assert.InDelta(t, 0.42, got.QualityScore, 1e-9)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	// A second ACTIVE row for the user is still refused
	now := time.Now().UTC()
	other := &models.FaceProfile{
		ID:                uuid.New(),
		UserID:            "u1",
		ProviderFaceToken: "other-token",
		Status:            models.ProfileStatusActive,
		CollectionMethod:  models.CollectionMethodManual,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}
	assert.ErrorIs(t, repos.Profiles.Save(ctx, other), models.ErrConflict)

	other.Status = models.ProfileStatusDisabled
	require.NoError(t, repos.Profiles.Save(ctx, other))
	all, err := repos.Profiles.ListByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFaceProfileRepository_Supersede(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	prior, err := integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	next := &models.FaceProfile{
		UserID:            "u1",
		ProviderFaceToken: "next-token",
		Status:            models.ProfileStatusActive,
		CollectionMethod:  models.CollectionMethodRecollect,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}
	created, err := repos.Profiles.Supersede(ctx, prior.ID, next)
	require.NoError(t, err)

	active, err := repos.Profiles.GetActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, active.ID)

	all, err := repos.Profiles.ListByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	// The prior is no longer ACTIVE, so a second swap against it aborts and changes nothing
	again := *next
	again.ID = uuid.Nil
	_, err = repos.Profiles.Supersede(ctx, prior.ID, &again)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	all, err = repos.Profiles.ListByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFaceProfileRepository_TransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	p, err := integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	require.NoError(t, err)

	changed, err := repos.Profiles.TransitionStatus(ctx, p.ID, models.ProfileStatusActive, models.ProfileStatusExpired, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repos.Profiles.TransitionStatus(ctx, p.ID, models.ProfileStatusActive, models.ProfileStatusExpired, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFaceProfileRepository_ListExpiredCandidatesPages(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	now := time.Now().UTC()
	for i := 0; i < 7; i++ {
		exp := now.Add(-time.Duration(i+1) * time.Minute)
		_, err := integration.SeedProfile(ctx, repos.Profiles, fmt.Sprintf("expired-%d", i), models.ProfileStatusActive, &exp)
		require.NoError(t, err)
	}
	future := now.Add(time.Hour)
	_, err := integration.SeedProfile(ctx, repos.Profiles, "fresh", models.ProfileStatusActive, &future)
	require.NoError(t, err)
	_, err = integration.SeedProfile(ctx, repos.Profiles, "forever", models.ProfileStatusActive, nil)
	require.NoError(t, err)

	seen := map[string]bool{}
	for p, err := range repos.Profiles.ListExpiredCandidates(ctx, now, 3) {
		require.NoError(t, err)
		assert.False(t, seen[p.UserID], "profile yielded twice")
		seen[p.UserID] = true

		// Expiring while iterating must not disturb the keyset cursor
		_, err := repos.Profiles.TransitionStatus(ctx, p.ID, models.ProfileStatusActive, models.ProfileStatusExpired, now)
		require.NoError(t, err)
	}
	assert.Len(t, seen, 7)
	assert.False(t, seen["fresh"])
	assert.False(t, seen["forever"])
}

func TestFaceProfileRepository_DeleteByUserID(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	_, err := integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusActive, nil)
	require.NoError(t, err)
	_, err = integration.SeedProfile(ctx, repos.Profiles, "u1", models.ProfileStatusDisabled, nil)
	require.NoError(t, err)

	n, err := repos.Profiles.DeleteByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repos.Profiles.DeleteByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVerificationRecordRepository_HistoryAndCount(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	now := time.Now().UTC()
	results := []models.VerificationResult{
		models.VerificationSuccess,
		models.VerificationFailed,
		models.VerificationTimeout,
		models.VerificationSkipped,
	}
	for i, res := range results {
		_, err := integration.SeedRecord(ctx, repos.Records, "u1", "payment", res, now.Add(-time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	_, err := integration.SeedRecord(ctx, repos.Records, "u1", "login", models.VerificationSuccess, now)
	require.NoError(t, err)

	var got []models.VerificationResult
	var prev *time.Time
	for rec, err := range repos.Records.QueryHistory(ctx, "u1", "payment", nil) {
		require.NoError(t, err)
		if prev != nil {
			assert.False(t, rec.Timestamp.After(*prev), "history is newest first")
		}
		ts := rec.Timestamp
		prev = &ts
		got = append(got, rec.Result)
	}
	assert.Equal(t, results, got)

	since := now.Add(-90 * time.Minute)
	count := 0
	for _, err := range repos.Records.QueryHistory(ctx, "u1", "payment", &since) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)

	n, err := repos.Records.CountSince(ctx, "u1", "payment", since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOperationLogRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repos := setup(t)

	uid := "u1"
	now := time.Now().UTC()
	log, err := repos.Operations.Create(ctx, &models.OperationLog{
		ID:        uuid.New(),
		Operation: models.OperationCollectFace,
		UserID:    &uid,
		Status:    models.OperationPending,
		Metadata:  models.OperationMetadata{"method": "manual"},
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	_, err = repos.Operations.UpdateStatus(ctx, log.ID, models.OperationPending, models.OperationProcessing, nil, nil, now)
	require.NoError(t, err)

	done, err := repos.Operations.UpdateStatus(ctx, log.ID, models.OperationProcessing, models.OperationCompleted, nil,
		models.OperationMetadata{"profile_id": "p1"}, now)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCompleted, done.Status)
	assert.Equal(t, "p1", done.Metadata["profile_id"])

	// Stale from-status is rejected
	_, err = repos.Operations.UpdateStatus(ctx, log.ID, models.OperationProcessing, models.OperationFailed, nil, nil, now)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	logs, err := repos.Operations.ListByUserID(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	removed, err := repos.Operations.Cleanup(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = repos.Operations.Cleanup(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
