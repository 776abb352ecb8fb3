package handlers_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/facegate/internal/handlers"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/services"
)

func newVerificationHandler(svc *handlers.MockDecisionService) *handlers.VerificationHandler {
	return handlers.NewVerificationHandler(svc, svc, 1<<20, discardLogger())
}

func TestDecide_Success(t *testing.T) {
	var gotCtx models.VerificationContext
	svc := &handlers.MockDecisionService{
		DecideFunc: func(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (*models.VerificationDecision, error) {
			gotCtx = vctx
			return &models.VerificationDecision{
				UserID:       userID,
				BusinessType: businessType,
				Required:     true,
				Type:         models.VerificationRequired,
				Risk:         models.RiskHigh,
				MatchedRule:  "new-device",
			}, nil
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verification/decision", map[string]interface{}{
		"user_id":       "u1",
		"business_type": "payment",
		"context":       map[string]string{"new_device": "true"},
	})
	w := httptest.NewRecorder()

	newVerificationHandler(svc).Decide(w, req)

	var decision models.VerificationDecision
	handlers.AssertJSONResponse(t, w, http.StatusOK, &decision)
	assert.True(t, decision.Required)
	assert.Equal(t, models.RiskHigh, decision.Risk)
	assert.Equal(t, "new-device", decision.MatchedRule)
	assert.Equal(t, "true", gotCtx["new_device"])
}

func TestDecide_MissingFields(t *testing.T) {
	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verification/decision", map[string]interface{}{
		"user_id": "u1",
	})
	w := httptest.NewRecorder()

	newVerificationHandler(&handlers.MockDecisionService{}).Decide(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestIsRequired_PolicyError(t *testing.T) {
	svc := &handlers.MockDecisionService{
		IsVerificationRequiredFunc: func(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (bool, error) {
			return false, &models.PolicyError{BusinessType: businessType, Reason: "no strategy configured"}
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verification/required", map[string]interface{}{
		"user_id":       "u1",
		"business_type": "unknown",
	})
	w := httptest.NewRecorder()

	newVerificationHandler(svc).IsRequired(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnprocessableEntity, "policy_error")
}

func TestIsRequired_Success(t *testing.T) {
	svc := &handlers.MockDecisionService{
		IsVerificationRequiredFunc: func(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (bool, error) {
			return true, nil
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verification/required", map[string]interface{}{
		"user_id":       "u1",
		"business_type": "payment",
	})
	w := httptest.NewRecorder()

	newVerificationHandler(svc).IsRequired(w, req)

	var resp handlers.RequiredResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Required)
	assert.Equal(t, "payment", resp.BusinessType)
}

func TestGetStrategy(t *testing.T) {
	svc := &handlers.MockDecisionService{
		GetVerificationStrategyFunc: func(businessType string) *models.VerificationStrategy {
			return &models.VerificationStrategy{BusinessType: businessType, DefaultType: models.VerificationRequired, FrequencyLimit: 3}
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/verification/strategies/payment", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"businessType": "payment"})
	w := httptest.NewRecorder()

	newVerificationHandler(svc).GetStrategy(w, req)

	var strategy models.VerificationStrategy
	handlers.AssertJSONResponse(t, w, http.StatusOK, &strategy)
	assert.Equal(t, "payment", strategy.BusinessType)
	assert.Equal(t, 3, strategy.FrequencyLimit)
}

func TestGetHistory(t *testing.T) {
	t.Run("requires business type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/verification-history", nil)
		req = handlers.WithChiRouteContext(req, map[string]string{"userID": "u1"})
		w := httptest.NewRecorder()

		newVerificationHandler(&handlers.MockDecisionService{}).GetHistory(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})

	t.Run("rejects malformed since", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/verification-history?business_type=payment&since=yesterday", nil)
		req = handlers.WithChiRouteContext(req, map[string]string{"userID": "u1"})
		w := httptest.NewRecorder()

		newVerificationHandler(&handlers.MockDecisionService{}).GetHistory(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	})

	t.Run("passes since through", func(t *testing.T) {
		var gotSince *time.Time
		svc := &handlers.MockDecisionService{
			GetUserVerificationHistoryFunc: func(ctx context.Context, userID, businessType string, since *time.Time) (*models.HistoryStats, error) {
				gotSince = since
				return &models.HistoryStats{UserID: userID, BusinessType: businessType, Count: 4, SuccessCount: 3, SuccessRate: 0.75}, nil
			},
		}
		req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/verification-history?business_type=payment&since=2026-03-01T00:00:00Z", nil)
		req = handlers.WithChiRouteContext(req, map[string]string{"userID": "u1"})
		w := httptest.NewRecorder()

		newVerificationHandler(svc).GetHistory(w, req)

		var stats models.HistoryStats
		handlers.AssertJSONResponse(t, w, http.StatusOK, &stats)
		assert.Equal(t, 4, stats.Count)
		require.NotNil(t, gotSince)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), gotSince.UTC())
	})
}

func TestVerify(t *testing.T) {
	t.Run("without image", func(t *testing.T) {
		var got services.VerifyRequest
		svc := &handlers.MockDecisionService{
			VerifyFunc: func(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error) {
				got = req
				return &services.VerifyResult{
					Record:   &models.VerificationRecord{UserID: req.UserID, Result: models.VerificationSkipped},
					Decision: &models.VerificationDecision{UserID: req.UserID},
				}, nil
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verifications", map[string]interface{}{
			"user_id":       "u1",
			"business_type": "login",
		})
		w := httptest.NewRecorder()

		newVerificationHandler(svc).Verify(w, req)

		var result services.VerifyResult
		handlers.AssertJSONResponse(t, w, http.StatusCreated, &result)
		require.NotNil(t, result.Record)
		assert.Equal(t, models.VerificationSkipped, result.Record.Result)
		assert.Nil(t, got.Image)
	})

	t.Run("with image and force", func(t *testing.T) {
		var got services.VerifyRequest
		svc := &handlers.MockDecisionService{
			VerifyFunc: func(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error) {
				got = req
				return &services.VerifyResult{Record: &models.VerificationRecord{Result: models.VerificationSuccess}}, nil
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verifications", map[string]interface{}{
			"user_id":       "u1",
			"business_type": "payment",
			"image_base64":  base64.StdEncoding.EncodeToString(jpegBytes),
			"force":         true,
		})
		w := httptest.NewRecorder()

		newVerificationHandler(svc).Verify(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		require.NotNil(t, got.Image)
		assert.Equal(t, jpegBytes, got.Image.Data)
		assert.True(t, got.Force)
	})

	t.Run("no profile", func(t *testing.T) {
		svc := &handlers.MockDecisionService{
			VerifyFunc: func(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error) {
				return nil, models.ErrNotFound
			},
		}
		req := handlers.NewTestRequest(t, http.MethodPost, "/v1/verifications", map[string]interface{}{
			"user_id":       "u1",
			"business_type": "payment",
			"image_url":     "https://img.example.com/a.jpg",
		})
		w := httptest.NewRecorder()

		newVerificationHandler(svc).Verify(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
	})
}
