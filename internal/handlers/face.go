package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/facegate/internal/auth"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/services"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
	pkglogger "github.com/BradenHooton/facegate/pkg/logger"
)

// FaceService defines the face profile operations exposed over HTTP
type FaceService interface {
	GetFaceProfile(ctx context.Context, userID string) (*models.FaceProfile, error)
	ValidateFaceQuality(ctx context.Context, img services.FaceImage) (*models.QualityReport, error)
	CollectFace(ctx context.Context, userID string, img services.FaceImage, device models.DeviceInfo, method models.CollectionMethod) (*models.FaceProfile, error)
	RecollectFace(ctx context.Context, userID string, img services.FaceImage, device models.DeviceInfo) (*models.FaceProfile, error)
	DeleteFaceProfile(ctx context.Context, userID string) (bool, error)
}

// FaceHandler handles face profile HTTP requests
type FaceHandler struct {
	service      FaceService
	ipConfig     *pkghttp.IPConfig
	maxBodyBytes int64
	logger       *slog.Logger
	audit        *pkglogger.AuditLogger
}

// NewFaceHandler creates a new FaceHandler. maxBodyBytes caps request bodies; zero disables the cap.
func NewFaceHandler(service FaceService, ipConfig *pkghttp.IPConfig, maxBodyBytes int64, logger *slog.Logger) *FaceHandler {
	return &FaceHandler{
		service:      service,
		ipConfig:     ipConfig,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
		audit:        pkglogger.NewAuditLogger(logger),
	}
}

func (h *FaceHandler) auditChange(r *http.Request, action, userID string, err error, metadata map[string]string) {
	event := pkglogger.AuditEvent{
		Action:    action,
		UserID:    userID,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		Success:   err == nil,
		Metadata:  metadata,
	}
	if claims := auth.GetServiceFromContext(r); claims != nil {
		event.Service = claims.Service
	}
	if err != nil {
		event.FailureReason = err.Error()
		if reason, ok := models.QualityReasonOf(err); ok {
			event.FailureReason = string(reason)
		}
	}
	h.audit.LogProfileChange(r.Context(), event)
}

// CollectFaceRequest is the body of POST /v1/users/{userID}/face
type CollectFaceRequest struct {
	ImagePayload
	Device DevicePayload `json:"device"`
	Method string        `json:"method" validate:"omitempty,oneof=manual auto import"`
}

// RecollectFaceRequest is the body of PUT /v1/users/{userID}/face
type RecollectFaceRequest struct {
	ImagePayload
	Device DevicePayload `json:"device"`
}

// QualityRequest is the body of POST /v1/face/quality
type QualityRequest struct {
	ImagePayload
}

// DeleteFaceResponse reports whether anything was removed
type DeleteFaceResponse struct {
	UserID  string `json:"user_id"`
	Deleted bool   `json:"deleted"`
}

// GetFace handles GET /v1/users/{userID}/face
func (h *FaceHandler) GetFace(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetFaceProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if profile == nil {
		pkghttp.WriteNotFound(w, "no active face profile")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// CollectFace handles POST /v1/users/{userID}/face
func (h *FaceHandler) CollectFace(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req CollectFaceRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	img, err := req.toFaceImage()
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	method := models.CollectionMethod(req.Method)
	if method == "" {
		method = models.CollectionMethodManual
	}

	profile, err := h.service.CollectFace(r.Context(), userID, img, req.Device.toDeviceInfo(r, h.ipConfig), method)
	h.auditChange(r, models.OperationCollectFace, userID, err, map[string]string{"method": string(method)})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, profile)
}

// RecollectFace handles PUT /v1/users/{userID}/face
func (h *FaceHandler) RecollectFace(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req RecollectFaceRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	img, err := req.toFaceImage()
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	profile, err := h.service.RecollectFace(r.Context(), userID, img, req.Device.toDeviceInfo(r, h.ipConfig))
	h.auditChange(r, models.OperationRecollectFace, userID, err, nil)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// DeleteFace handles DELETE /v1/users/{userID}/face
func (h *FaceHandler) DeleteFace(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.DeleteFaceProfile(r.Context(), userID)
	h.auditChange(r, models.OperationDeleteFace, userID, err, nil)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, DeleteFaceResponse{UserID: userID, Deleted: deleted})
}

// CheckQuality handles POST /v1/face/quality. A rejected image is still a 200 with passed=false.
func (h *FaceHandler) CheckQuality(w http.ResponseWriter, r *http.Request) {
	var req QualityRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	img, err := req.toFaceImage()
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	report, err := h.service.ValidateFaceQuality(r.Context(), img)
	if err != nil {
		if _, rejected := models.QualityReasonOf(err); !rejected || report == nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, report)
}
