package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/facegate/internal/auth"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/provider"
	"github.com/BradenHooton/facegate/internal/services"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithServiceContext adds calling-service claims to the request context
func WithServiceContext(req *http.Request, service string, scopes ...string) *http.Request {
	claims := &models.ServiceClaims{Service: service, Scopes: scopes}
	return req.WithContext(auth.WithServiceClaims(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockFaceService implements FaceService and FaceAdminService for testing
type MockFaceService struct {
	GetFaceProfileFunc         func(ctx context.Context, userID string) (*models.FaceProfile, error)
	ValidateFaceQualityFunc    func(ctx context.Context, img services.FaceImage) (*models.QualityReport, error)
	CollectFaceFunc            func(ctx context.Context, userID string, img services.FaceImage, device models.DeviceInfo, method models.CollectionMethod) (*models.FaceProfile, error)
	RecollectFaceFunc          func(ctx context.Context, userID string, img services.FaceImage, device models.DeviceInfo) (*models.FaceProfile, error)
	DeleteFaceProfileFunc      func(ctx context.Context, userID string) (bool, error)
	ProcessExpiredProfilesFunc func(ctx context.Context) (int, error)
	ProviderGroupsFunc         func(ctx context.Context, start, length int) ([]string, error)
	ProviderGroupUsersFunc     func(ctx context.Context, groupID string, start, length int) ([]string, error)
	ProviderUserFacesFunc      func(ctx context.Context, userID string) ([]provider.FaceEntry, error)
}

func (m *MockFaceService) GetFaceProfile(ctx context.Context, userID string) (*models.FaceProfile, error) {
	if m.GetFaceProfileFunc == nil {
		return nil, nil
	}
	return m.GetFaceProfileFunc(ctx, userID)
}

func (m *MockFaceService) ValidateFaceQuality(ctx context.Context, img services.FaceImage) (*models.QualityReport, error) {
	if m.ValidateFaceQualityFunc == nil {
		return &models.QualityReport{Passed: true, FaceCount: 1}, nil
	}
	return m.ValidateFaceQualityFunc(ctx, img)
}

func (m *MockFaceService) CollectFace(ctx context.Context, userID string, img services.FaceImage, device models.DeviceInfo, method models.CollectionMethod) (*models.FaceProfile, error) {
	if m.CollectFaceFunc == nil {
		return &models.FaceProfile{UserID: userID, Status: models.ProfileStatusActive, CollectionMethod: method, DeviceInfo: device}, nil
	}
	return m.CollectFaceFunc(ctx, userID, img, device, method)
}

func (m *MockFaceService) RecollectFace(ctx context.Context, userID string, img services.FaceImage, device models.DeviceInfo) (*models.FaceProfile, error) {
	if m.RecollectFaceFunc == nil {
		return &models.FaceProfile{UserID: userID, Status: models.ProfileStatusActive, CollectionMethod: models.CollectionMethodRecollect}, nil
	}
	return m.RecollectFaceFunc(ctx, userID, img, device)
}

func (m *MockFaceService) DeleteFaceProfile(ctx context.Context, userID string) (bool, error) {
	if m.DeleteFaceProfileFunc == nil {
		return false, nil
	}
	return m.DeleteFaceProfileFunc(ctx, userID)
}

func (m *MockFaceService) ProcessExpiredProfiles(ctx context.Context) (int, error) {
	if m.ProcessExpiredProfilesFunc == nil {
		return 0, nil
	}
	return m.ProcessExpiredProfilesFunc(ctx)
}

func (m *MockFaceService) ProviderGroups(ctx context.Context, start, length int) ([]string, error) {
	if m.ProviderGroupsFunc == nil {
		return nil, nil
	}
	return m.ProviderGroupsFunc(ctx, start, length)
}

func (m *MockFaceService) ProviderGroupUsers(ctx context.Context, groupID string, start, length int) ([]string, error) {
	if m.ProviderGroupUsersFunc == nil {
		return nil, nil
	}
	return m.ProviderGroupUsersFunc(ctx, groupID, start, length)
}

func (m *MockFaceService) ProviderUserFaces(ctx context.Context, userID string) ([]provider.FaceEntry, error) {
	if m.ProviderUserFacesFunc == nil {
		return nil, nil
	}
	return m.ProviderUserFacesFunc(ctx, userID)
}

// MockDecisionService implements DecisionService and Verifier for testing
type MockDecisionService struct {
	DecideFunc                     func(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (*models.VerificationDecision, error)
	IsVerificationRequiredFunc     func(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (bool, error)
	GetVerificationStrategyFunc    func(businessType string) *models.VerificationStrategy
	GetUserVerificationHistoryFunc func(ctx context.Context, userID, businessType string, since *time.Time) (*models.HistoryStats, error)
	VerifyFunc                     func(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error)
}

func (m *MockDecisionService) Decide(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (*models.VerificationDecision, error) {
	if m.DecideFunc == nil {
		return &models.VerificationDecision{UserID: userID, BusinessType: businessType, Type: models.VerificationOptional, Risk: models.RiskLow}, nil
	}
	return m.DecideFunc(ctx, userID, businessType, vctx)
}

func (m *MockDecisionService) IsVerificationRequired(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (bool, error) {
	if m.IsVerificationRequiredFunc == nil {
		return false, nil
	}
	return m.IsVerificationRequiredFunc(ctx, userID, businessType, vctx)
}

func (m *MockDecisionService) GetVerificationStrategy(businessType string) *models.VerificationStrategy {
	if m.GetVerificationStrategyFunc == nil {
		return &models.VerificationStrategy{BusinessType: businessType}
	}
	return m.GetVerificationStrategyFunc(businessType)
}

func (m *MockDecisionService) GetUserVerificationHistory(ctx context.Context, userID, businessType string, since *time.Time) (*models.HistoryStats, error) {
	if m.GetUserVerificationHistoryFunc == nil {
		return &models.HistoryStats{UserID: userID, BusinessType: businessType, Since: since}, nil
	}
	return m.GetUserVerificationHistoryFunc(ctx, userID, businessType, since)
}

func (m *MockDecisionService) Verify(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error) {
	if m.VerifyFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.VerifyFunc(ctx, req)
}

// MockOperationLogReader implements OperationLogReader for testing
type MockOperationLogReader struct {
	ListForUserFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error)
	ListFunc        func(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error)
}

func (m *MockOperationLogReader) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error) {
	if m.ListForUserFunc == nil {
		return nil, nil
	}
	return m.ListForUserFunc(ctx, userID, limit, offset)
}

func (m *MockOperationLogReader) List(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, operation, limit, offset)
}
