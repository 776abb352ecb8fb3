package integration

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/BradenHooton/facegate/internal/auth"
	"github.com/BradenHooton/facegate/internal/config"
	"github.com/BradenHooton/facegate/internal/database"
	"github.com/BradenHooton/facegate/internal/events"
	"github.com/BradenHooton/facegate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/facegate/internal/middleware"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/provider"
	"github.com/BradenHooton/facegate/internal/routes"
	"github.com/BradenHooton/facegate/internal/services"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

const testJWTSecret = "test-secret-32-characters-long-for-testing"

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Repos  Repositories

	// Dependency references for inspection in tests
	Faces        *services.FaceService
	TokenManager *auth.TokenManager
	logger       *slog.Logger
}

// NewTestServer initializes the full HTTP stack on a real database and the given provider
func NewTestServer(db *database.DB, client provider.Client, strategies *config.StrategySet) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))

	repos := InitializeRepositories(db)

	opLogService := services.NewOperationLogService(repos.Operations, logger)
	faceService := services.NewFaceService(repos.Profiles, client, opLogService, services.FaceServiceConfig{
		GroupID:        "test",
		ProfileTTL:     24 * time.Hour,
		MatchThreshold: 80,
		RecollectMode:  config.RecollectModeAppend,
		Image: provider.ImageLimits{
			MinWidth:     48,
			MinHeight:    48,
			MaxBytes:     1 << 20,
			MaxDimension: 1024,
		},
		MinConfidence:   0.8,
		MaxBlur:         0.7,
		MinIllumination: 40,
		MaxOcclusion:    0.6,
		MinCompleteness: 1,
	}, logger)

	decisionService := services.NewDecisionService(strategies, services.NewHistoryTracker(repos.Records), faceService, logger)
	verificationService := services.NewVerificationService(decisionService, faceService, client, repos.Records,
		events.NewLogCompletionHandler(logger),
		services.VerificationConfig{MatchThreshold: 80, CompareTimeout: 5 * time.Second},
		logger)

	tokenManager := auth.NewTokenManager(testJWTSecret, "facegate-test", "facegate-api")
	ipConfig := &pkghttp.IPConfig{}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(r,
		handlers.NewVerificationHandler(decisionService, verificationService, 4<<20, logger),
		handlers.NewFaceHandler(faceService, ipConfig, 4<<20, logger),
		handlers.NewAdminHandler(faceService, opLogService, logger),
		tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: 10000},
	)

	return &TestServer{
		Server:       httptest.NewServer(r),
		DB:           db,
		Repos:        repos,
		Faces:        faceService,
		TokenManager: tokenManager,
		logger:       logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// ServiceToken issues a token for a caller holding every non-admin scope
func (ts *TestServer) ServiceToken() (string, error) {
	return ts.TokenManager.GenerateServiceToken("integration", "service", []string{
		models.ScopeVerificationRead,
		models.ScopeVerificationWrite,
		models.ScopeFaceRead,
		models.ScopeFaceWrite,
	}, time.Hour)
}

// AdminToken issues an admin token with the wildcard scope
func (ts *TestServer) AdminToken() (string, error) {
	return ts.TokenManager.GenerateServiceToken("integration-admin", "admin", []string{models.ScopeAll}, time.Hour)
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a service token
func (ts *TestServer) RequestWithAuth(method, path, token string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorCode extracts the machine-readable code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	var errResp pkghttp.ErrorResponse
	if err := ParseJSONResponse(resp, &errResp); err != nil {
		return "", fmt.Errorf("failed to parse error response: %w", err)
	}
	return errResp.Error, nil
}
