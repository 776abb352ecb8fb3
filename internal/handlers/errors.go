package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/facegate/internal/models"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

// writeServiceError maps a service-layer error onto the API's error envelope
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		qualityErr  *models.QualityError
		dupErr      *models.DuplicateProfileError
		policyErr   *models.PolicyError
		providerErr *models.ProviderError
	)

	switch {
	case errors.As(err, &qualityErr):
		pkghttp.WriteUnprocessable(w, "quality_rejected", "face image rejected", string(qualityErr.Reason))
	case errors.As(err, &dupErr):
		pkghttp.WriteError(w, http.StatusConflict, "duplicate_profile", dupErr.Error())
	case errors.Is(err, models.ErrFaceBelongsToAnotherUser):
		pkghttp.WriteError(w, http.StatusConflict, "face_belongs_to_another_user", err.Error())
	case errors.As(err, &policyErr):
		pkghttp.WriteUnprocessable(w, "policy_error", "verification policy misconfigured", policyErr.Reason)
	case errors.Is(err, models.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		pkghttp.WriteGatewayTimeout(w, "face provider timed out")
	case errors.As(err, &providerErr):
		logger.WarnContext(r.Context(), "face provider error",
			slog.String("operation", providerErr.Operation),
			slog.Int("code", providerErr.Code),
			slog.Any("error", err))
		pkghttp.WriteBadGateway(w, "provider_error", "face provider rejected the request")
	case errors.Is(err, models.ErrProviderUnconfigured):
		pkghttp.WriteServiceUnavailable(w, "face provider is not configured")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidTransition):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this response
		pkghttp.WriteError(w, http.StatusRequestTimeout, "request_cancelled", "request cancelled")
	default:
		logger.ErrorContext(r.Context(), "unhandled service error",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
