//go:build integration

package routes_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/facegate/internal/handlers"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/services"
	"github.com/BradenHooton/facegate/tests/integration"
)

func setupServer(t *testing.T) (*integration.TestServer, *services.MockProviderClient) {
	t.Helper()
	ctx := context.Background()

	db, err := integration.SetupTestDatabase(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Teardown(ctx) })

	strategies, err := integration.TestStrategies()
	require.NoError(t, err)

	client := &services.MockProviderClient{}
	ts := integration.NewTestServer(db.DB, client, strategies)
	t.Cleanup(ts.Close)

	return ts, client
}

func TestAPI_EnrollVerifyAndAudit(t *testing.T) {
	ts, client := setupServer(t)

	token, err := ts.ServiceToken()
	require.NoError(t, err)
	adminToken, err := ts.AdminToken()
	require.NoError(t, err)

	userID := integration.TestUserID("flow")
	image := base64.StdEncoding.EncodeToString(integration.TestImagePNG(128, 128))
	facePath := "/v1/users/" + userID + "/face"

	resp, err := ts.RequestWithAuth(http.MethodGet, facePath, token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	collect := map[string]interface{}{
		"image_base64": image,
		"device":       map[string]string{"device_id": "dev-1", "platform": "ios"},
	}
	resp, err = ts.RequestWithAuth(http.MethodPost, facePath, token, collect)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var profile models.FaceProfile
	require.NoError(t, integration.ParseJSONResponse(resp, &profile))
	assert.Equal(t, models.ProfileStatusActive, profile.Status)
	assert.Equal(t, "dev-1", profile.DeviceInfo.DeviceID)
	assert.Equal(t, 1, client.Calls("AddFace"))

	t.Run("second collect is a duplicate", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodPost, facePath, token, collect)
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		code, err := integration.GetErrorCode(resp)
		require.NoError(t, err)
		assert.Equal(t, "duplicate_profile", code)
	})

	t.Run("payment decision is required", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodPost, "/v1/verification/decision", token, map[string]interface{}{
			"user_id":       userID,
			"business_type": "payment",
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var decision models.VerificationDecision
		require.NoError(t, integration.ParseJSONResponse(resp, &decision))
		assert.True(t, decision.Required)
		assert.Equal(t, models.VerificationRequired, decision.Type)
	})

	t.Run("required verification without image is rejected", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodPost, "/v1/verifications", token, map[string]interface{}{
			"user_id":       userID,
			"business_type": "payment",
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("verification succeeds and lands in history", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodPost, "/v1/verifications", token, map[string]interface{}{
			"user_id":       userID,
			"business_type": "payment",
			"image_base64":  image,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var result services.VerifyResult
		require.NoError(t, integration.ParseJSONResponse(resp, &result))
		require.NotNil(t, result.Record)
		assert.Equal(t, models.VerificationSuccess, result.Record.Result)

		resp, err = ts.RequestWithAuth(http.MethodGet,
			"/v1/users/"+userID+"/verification-history?business_type=payment", token, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var stats models.HistoryStats
		require.NoError(t, integration.ParseJSONResponse(resp, &stats))
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, 1, stats.SuccessCount)
		require.NotNil(t, stats.LastResult)
		assert.Equal(t, models.VerificationSuccess, *stats.LastResult)
	})

	t.Run("optional verification without image is skipped", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodPost, "/v1/verifications", token, map[string]interface{}{
			"user_id":       userID,
			"business_type": "login",
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var result services.VerifyResult
		require.NoError(t, integration.ParseJSONResponse(resp, &result))
		assert.Equal(t, models.VerificationSkipped, result.Record.Result)
	})

	t.Run("operations are visible to admins only", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodGet, "/v1/admin/operations?user_id="+userID, token, nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, err = ts.RequestWithAuth(http.MethodGet, "/v1/admin/operations?user_id="+userID, adminToken, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var ops handlers.OperationsResponse
		require.NoError(t, integration.ParseJSONResponse(resp, &ops))
		require.NotEmpty(t, ops.Operations)
		found := false
		for _, op := range ops.Operations {
			if op.Operation == models.OperationCollectFace {
				found = true
				assert.Equal(t, models.OperationCompleted, op.Status)
			}
		}
		assert.True(t, found, "collect operation should be logged")
	})

	t.Run("delete removes the profile", func(t *testing.T) {
		resp, err := ts.RequestWithAuth(http.MethodDelete, facePath, token, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out handlers.DeleteFaceResponse
		require.NoError(t, integration.ParseJSONResponse(resp, &out))
		assert.True(t, out.Deleted)

		resp, err = ts.RequestWithAuth(http.MethodGet, facePath, token, nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPI_RejectsMissingToken(t *testing.T) {
	ts, _ := setupServer(t)

	resp, err := ts.Request(http.MethodPost, "/v1/verification/decision", map[string]string{
		"user_id":       "u1",
		"business_type": "login",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
