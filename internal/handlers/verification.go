package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/services"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

// DecisionService defines the policy queries exposed over HTTP
type DecisionService interface {
	Decide(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (*models.VerificationDecision, error)
	IsVerificationRequired(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (bool, error)
	GetVerificationStrategy(businessType string) *models.VerificationStrategy
	GetUserVerificationHistory(ctx context.Context, userID, businessType string, since *time.Time) (*models.HistoryStats, error)
}

// Verifier runs a verification attempt
type Verifier interface {
	Verify(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error)
}

// VerificationHandler handles verification policy and attempt requests
type VerificationHandler struct {
	decisions    DecisionService
	verifier     Verifier
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewVerificationHandler creates a new VerificationHandler
func NewVerificationHandler(decisions DecisionService, verifier Verifier, maxBodyBytes int64, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{
		decisions:    decisions,
		verifier:     verifier,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// DecisionRequest is the body of the decision and required endpoints
type DecisionRequest struct {
	UserID       string            `json:"user_id" validate:"required,user_id"`
	BusinessType string            `json:"business_type" validate:"required,business_type"`
	Context      map[string]string `json:"context"`
}

// RequiredResponse answers POST /v1/verification/required
type RequiredResponse struct {
	UserID       string `json:"user_id"`
	BusinessType string `json:"business_type"`
	Required     bool   `json:"required"`
}

// VerifyRequest is the body of POST /v1/verifications. The image is optional when verification is not required.
type VerifyRequest struct {
	UserID       string            `json:"user_id" validate:"required,user_id"`
	BusinessType string            `json:"business_type" validate:"required,business_type"`
	Context      map[string]string `json:"context"`
	ImageBase64  string            `json:"image_base64" validate:"omitempty,base64"`
	ImageURL     string            `json:"image_url" validate:"omitempty,url"`
	Force        bool              `json:"force"`
}

// Decide handles POST /v1/verification/decision
func (h *VerificationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	decision, err := h.decisions.Decide(r.Context(), req.UserID, req.BusinessType, req.Context)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// IsRequired handles POST /v1/verification/required
func (h *VerificationHandler) IsRequired(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	required, err := h.decisions.IsVerificationRequired(r.Context(), req.UserID, req.BusinessType, req.Context)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RequiredResponse{
		UserID:       req.UserID,
		BusinessType: req.BusinessType,
		Required:     required,
	})
}

// GetStrategy handles GET /v1/verification/strategies/{businessType}
func (h *VerificationHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	businessType := chi.URLParam(r, "businessType")
	pkghttp.WriteJSON(w, http.StatusOK, h.decisions.GetVerificationStrategy(businessType))
}

// GetHistory handles GET /v1/users/{userID}/verification-history?business_type=&since=
func (h *VerificationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	businessType := r.URL.Query().Get("business_type")
	if businessType == "" {
		pkghttp.WriteBadRequest(w, "business_type is required")
		return
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		since = &t
	}

	stats, err := h.decisions.GetUserVerificationHistory(r.Context(), userID, businessType, since)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// Verify handles POST /v1/verifications
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	vreq := services.VerifyRequest{
		UserID:       req.UserID,
		BusinessType: req.BusinessType,
		Context:      req.Context,
		Force:        req.Force,
	}
	if req.ImageBase64 != "" || req.ImageURL != "" {
		img, err := ImagePayload{ImageBase64: req.ImageBase64, ImageURL: req.ImageURL}.toFaceImage()
		if err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		vreq.Image = &img
	}

	result, err := h.verifier.Verify(r.Context(), vreq)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, result)
}
