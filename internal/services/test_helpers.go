package services

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/provider"
)

// MockOperationLogRepository implements OperationLogRepository for testing
type MockOperationLogRepository struct {
	CreateFunc       func(ctx context.Context, log *models.OperationLog) (*models.OperationLog, error)
	GetByIDFunc      func(ctx context.Context, id uuid.UUID) (*models.OperationLog, error)
	UpdateStatusFunc func(ctx context.Context, id uuid.UUID, from, to models.OperationStatus, failureReason *string, metadata models.OperationMetadata, at time.Time) (*models.OperationLog, error)
	ListByUserIDFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error)
	ListFunc         func(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error)
	CleanupFunc      func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockOperationLogRepository) Create(ctx context.Context, log *models.OperationLog) (*models.OperationLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return log, nil
}

func (m *MockOperationLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OperationLog, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockOperationLogRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.OperationStatus, failureReason *string, metadata models.OperationMetadata, at time.Time) (*models.OperationLog, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, from, to, failureReason, metadata, at)
	}
	return &models.OperationLog{ID: id, Status: to, UpdatedAt: at}, nil
}

func (m *MockOperationLogRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID, limit, offset)
	}
	return []*models.OperationLog{}, nil
}

func (m *MockOperationLogRepository) List(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, operation, limit, offset)
	}
	return []*models.OperationLog{}, nil
}

func (m *MockOperationLogRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockProviderClient implements provider.Client for testing. Unset funcs behave like a
// healthy provider that accepts every image.
type MockProviderClient struct {
	DetectFaceFunc   func(ctx context.Context, img provider.Image, opts provider.DetectOptions) (*provider.DetectResult, error)
	CompareFacesFunc func(ctx context.Context, a, b provider.Image) (*provider.CompareResult, error)
	SearchFaceFunc   func(ctx context.Context, img provider.Image, groupIDs []string, maxUsers int) (*provider.SearchResult, error)
	AddFaceFunc      func(ctx context.Context, img provider.Image, groupID, userID string) (*provider.EnrollResult, error)
	UpdateFaceFunc   func(ctx context.Context, img provider.Image, groupID, userID string) (*provider.EnrollResult, error)
	DeleteFaceFunc   func(ctx context.Context, groupID, userID, faceToken string) error
	GetFaceListFunc  func(ctx context.Context, groupID, userID string) ([]provider.FaceEntry, error)
	GetGroupListFunc func(ctx context.Context, start, length int) ([]string, error)
	GetUserListFunc  func(ctx context.Context, groupID string, start, length int) ([]string, error)

	mu       sync.Mutex
	enrolled int
	calls    map[string]int
}

func (m *MockProviderClient) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

// Calls returns how many times op was invoked
func (m *MockProviderClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockProviderClient) nextToken(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrolled++
	return fmt.Sprintf("face-%s-%d", userID, m.enrolled)
}

// GoodFace is a detection result that passes the default quality gate
func GoodFace() *provider.DetectResult {
	return &provider.DetectResult{
		FaceNum: 1,
		Faces: []provider.DetectedFace{{
			FaceToken:   "probe-token",
			Probability: 0.99,
			Width:       200,
			Height:      200,
			Quality:     provider.FaceQuality{Blur: 0.05, Illumination: 180, Completeness: 1, Occlusion: 0.05},
		}},
	}
}

func (m *MockProviderClient) DetectFace(ctx context.Context, img provider.Image, opts provider.DetectOptions) (*provider.DetectResult, error) {
	m.record("DetectFace")
	if m.DetectFaceFunc != nil {
		return m.DetectFaceFunc(ctx, img, opts)
	}
	return GoodFace(), nil
}

func (m *MockProviderClient) CompareFaces(ctx context.Context, a, b provider.Image) (*provider.CompareResult, error) {
	m.record("CompareFaces")
	if m.CompareFacesFunc != nil {
		return m.CompareFacesFunc(ctx, a, b)
	}
	return &provider.CompareResult{Score: 95}, nil
}

func (m *MockProviderClient) SearchFace(ctx context.Context, img provider.Image, groupIDs []string, maxUsers int) (*provider.SearchResult, error) {
	m.record("SearchFace")
	if m.SearchFaceFunc != nil {
		return m.SearchFaceFunc(ctx, img, groupIDs, maxUsers)
	}
	return &provider.SearchResult{}, nil
}

func (m *MockProviderClient) AddFace(ctx context.Context, img provider.Image, groupID, userID string) (*provider.EnrollResult, error) {
	m.record("AddFace")
	if m.AddFaceFunc != nil {
		return m.AddFaceFunc(ctx, img, groupID, userID)
	}
	return &provider.EnrollResult{FaceToken: m.nextToken(userID)}, nil
}

func (m *MockProviderClient) UpdateFace(ctx context.Context, img provider.Image, groupID, userID string) (*provider.EnrollResult, error) {
	m.record("UpdateFace")
	if m.UpdateFaceFunc != nil {
		return m.UpdateFaceFunc(ctx, img, groupID, userID)
	}
	return &provider.EnrollResult{FaceToken: m.nextToken(userID)}, nil
}

func (m *MockProviderClient) DeleteFace(ctx context.Context, groupID, userID, faceToken string) error {
	m.record("DeleteFace")
	if m.DeleteFaceFunc != nil {
		return m.DeleteFaceFunc(ctx, groupID, userID, faceToken)
	}
	return nil
}

func (m *MockProviderClient) GetFaceList(ctx context.Context, groupID, userID string) ([]provider.FaceEntry, error) {
	m.record("GetFaceList")
	if m.GetFaceListFunc != nil {
		return m.GetFaceListFunc(ctx, groupID, userID)
	}
	return []provider.FaceEntry{}, nil
}

func (m *MockProviderClient) GetGroupList(ctx context.Context, start, length int) ([]string, error) {
	m.record("GetGroupList")
	if m.GetGroupListFunc != nil {
		return m.GetGroupListFunc(ctx, start, length)
	}
	return []string{}, nil
}

func (m *MockProviderClient) GetUserList(ctx context.Context, groupID string, start, length int) ([]string, error) {
	m.record("GetUserList")
	if m.GetUserListFunc != nil {
		return m.GetUserListFunc(ctx, groupID, start, length)
	}
	return []string{}, nil
}

func (m *MockProviderClient) GetAccessToken(ctx context.Context) (string, error) {
	return "mock-token", nil
}

func (m *MockProviderClient) IsConfigValid() bool {
	return true
}

// MemoryFaceProfileStore is an in-memory FaceProfileRepository that enforces one ACTIVE
// profile per user like the database's partial unique index.
type MemoryFaceProfileStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*models.FaceProfile
}

func NewMemoryFaceProfileStore() *MemoryFaceProfileStore {
	return &MemoryFaceProfileStore{profiles: make(map[uuid.UUID]*models.FaceProfile)}
}

func (m *MemoryFaceProfileStore) activeLocked(userID string) *models.FaceProfile {
	for _, p := range m.profiles {
		if p.UserID == userID && p.Status == models.ProfileStatusActive {
			return p
		}
	}
	return nil
}

func (m *MemoryFaceProfileStore) GetActiveByUserID(ctx context.Context, userID string) (*models.FaceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.activeLocked(userID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (m *MemoryFaceProfileStore) ListByUserID(ctx context.Context, userID string) ([]*models.FaceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.FaceProfile{}
	for _, p := range m.profiles {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ActiveCount returns how many ACTIVE profiles the user has
func (m *MemoryFaceProfileStore) ActiveCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.profiles {
		if p.UserID == userID && p.Status == models.ProfileStatusActive {
			n++
		}
	}
	return n
}

func (m *MemoryFaceProfileStore) Create(ctx context.Context, p *models.FaceProfile) (*models.FaceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == models.ProfileStatusActive && m.activeLocked(p.UserID) != nil {
		return nil, models.ErrConflict
	}
	cp := *p
	m.profiles[p.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryFaceProfileStore) Supersede(ctx context.Context, priorID uuid.UUID, next *models.FaceProfile) (*models.FaceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, ok := m.profiles[priorID]
	if !ok || prior.Status != models.ProfileStatusActive {
		return nil, models.ErrInvalidTransition
	}
	prior.Status = models.ProfileStatusDisabled
	prior.LastUpdatedAt = next.CreatedAt
	cp := *next
	m.profiles[next.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryFaceProfileStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.ProfileStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.LastUpdatedAt = at
	return true, nil
}

func (m *MemoryFaceProfileStore) ListExpiredCandidates(ctx context.Context, now time.Time, pageSize int) iter.Seq2[*models.FaceProfile, error] {
	return func(yield func(*models.FaceProfile, error) bool) {
		m.mu.Lock()
		var due []*models.FaceProfile
		for _, p := range m.profiles {
			if p.Status == models.ProfileStatusActive && p.IsExpiredAt(now) {
				cp := *p
				due = append(due, &cp)
			}
		}
		m.mu.Unlock()

		slices.SortFunc(due, func(a, b *models.FaceProfile) int {
			if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
				return c
			}
			return slices.Compare(a.ID[:], b.ID[:])
		})
		for _, p := range due {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (m *MemoryFaceProfileStore) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.profiles {
		if p.UserID == userID {
			delete(m.profiles, id)
			n++
		}
	}
	return n, nil
}

// MemoryVerificationRecordStore is an in-memory VerificationRecordRepository
type MemoryVerificationRecordStore struct {
	mu      sync.Mutex
	records []*models.VerificationRecord
}

func NewMemoryVerificationRecordStore(records ...*models.VerificationRecord) *MemoryVerificationRecordStore {
	return &MemoryVerificationRecordStore{records: records}
}

func (m *MemoryVerificationRecordStore) Append(ctx context.Context, rec *models.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

// Records returns a copy of everything appended so far
func (m *MemoryVerificationRecordStore) Records() []*models.VerificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

func (m *MemoryVerificationRecordStore) matching(userID, businessType string, since *time.Time) []*models.VerificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VerificationRecord
	for _, r := range m.records {
		if r.UserID != userID || r.BusinessType != businessType {
			continue
		}
		if since != nil && r.Timestamp.Before(*since) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *models.VerificationRecord) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

func (m *MemoryVerificationRecordStore) QueryHistory(ctx context.Context, userID, businessType string, since *time.Time) iter.Seq2[*models.VerificationRecord, error] {
	return func(yield func(*models.VerificationRecord, error) bool) {
		for _, r := range m.matching(userID, businessType, since) {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (m *MemoryVerificationRecordStore) CountSince(ctx context.Context, userID, businessType string, since time.Time) (int, error) {
	return len(m.matching(userID, businessType, &since)), nil
}
