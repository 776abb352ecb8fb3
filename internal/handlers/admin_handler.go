package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/facegate/internal/auth"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/provider"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
	pkglogger "github.com/BradenHooton/facegate/pkg/logger"
)

// FaceAdminService defines the maintenance operations on face profiles and the provider
type FaceAdminService interface {
	ProcessExpiredProfiles(ctx context.Context) (int, error)
	ProviderGroups(ctx context.Context, start, length int) ([]string, error)
	ProviderGroupUsers(ctx context.Context, groupID string, start, length int) ([]string, error)
	ProviderUserFaces(ctx context.Context, userID string) ([]provider.FaceEntry, error)
}

// OperationLogReader lists recorded operations
type OperationLogReader interface {
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error)
	List(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error)
}

// AdminHandler handles admin HTTP requests.
type AdminHandler struct {
	faces  FaceAdminService
	ops    OperationLogReader
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(faces FaceAdminService, ops OperationLogReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{faces: faces, ops: ops, logger: logger, audit: pkglogger.NewAuditLogger(logger)}
}

// ExpireResponse reports the outcome of a manual sweep
type ExpireResponse struct {
	Expired int `json:"expired"`
}

// ListResponse wraps a page of string identifiers
type ListResponse struct {
	Items []string `json:"items"`
	Start int      `json:"start"`
	Count int      `json:"count"`
}

// FaceEntryResponse is one face registered at the provider
type FaceEntryResponse struct {
	FaceToken string    `json:"face_token"`
	CreatedAt time.Time `json:"created_at"`
}

// OperationsResponse wraps a page of operation log entries
type OperationsResponse struct {
	Operations []*models.OperationLog `json:"operations"`
	Count      int                    `json:"count"`
}

// ExpireProfiles handles POST /v1/admin/face/expire
func (h *AdminHandler) ExpireProfiles(w http.ResponseWriter, r *http.Request) {
	n, err := h.faces.ProcessExpiredProfiles(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	service := ""
	if claims := auth.GetServiceFromContext(r); claims != nil {
		service = claims.Service
	}
	h.audit.LogAdminAction(r.Context(), models.OperationExpireProfiles, service, map[string]string{
		"expired": strconv.Itoa(n),
	})

	pkghttp.WriteJSON(w, http.StatusOK, ExpireResponse{Expired: n})
}

// ListGroups handles GET /v1/admin/provider/groups
func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	start, length := pageParams(r, "start", "length", 100, 1000)

	groups, err := h.faces.ProviderGroups(r.Context(), start, length)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListResponse{Items: nonNil(groups), Start: start, Count: len(groups)})
}

// ListGroupUsers handles GET /v1/admin/provider/groups/{groupID}/users
func (h *AdminHandler) ListGroupUsers(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	start, length := pageParams(r, "start", "length", 100, 1000)

	users, err := h.faces.ProviderGroupUsers(r.Context(), groupID, start, length)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListResponse{Items: nonNil(users), Start: start, Count: len(users)})
}

// ListUserFaces handles GET /v1/admin/provider/users/{userID}/faces
func (h *AdminHandler) ListUserFaces(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	faces, err := h.faces.ProviderUserFaces(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]FaceEntryResponse, 0, len(faces))
	for _, f := range faces {
		resp = append(resp, FaceEntryResponse{FaceToken: f.FaceToken, CreatedAt: f.CreatedAt})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ListOperations handles GET /v1/admin/operations
// Accepts ?user_id= or ?operation= plus limit (1–200, default 50) and offset.
func (h *AdminHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r, "offset", "limit", 50, 200)

	var (
		logs []*models.OperationLog
		err  error
	)
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		logs, err = h.ops.ListForUser(r.Context(), userID, limit, offset)
	} else {
		logs, err = h.ops.List(r.Context(), r.URL.Query().Get("operation"), limit, offset)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if logs == nil {
		logs = []*models.OperationLog{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, OperationsResponse{Operations: logs, Count: len(logs)})
}

// pageParams reads an offset and a size from the query, clamping the size to [1, max]
func pageParams(r *http.Request, offsetKey, sizeKey string, def, max int) (int, int) {
	offset := 0
	if o := r.URL.Query().Get(offsetKey); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	size := def
	if l := r.URL.Query().Get(sizeKey); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			size = n
		}
	}
	return offset, size
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
