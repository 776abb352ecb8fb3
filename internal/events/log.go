package events

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/facegate/internal/models"
)

// LogCompletionHandler writes completion events to the structured log. Used when no brokers are configured.
type LogCompletionHandler struct {
	logger *slog.Logger
}

func NewLogCompletionHandler(logger *slog.Logger) *LogCompletionHandler {
	return &LogCompletionHandler{logger: logger}
}

func (h *LogCompletionHandler) HandleVerificationCompletion(ctx context.Context, rec *models.VerificationRecord) error {
	event := NewCompletionEvent(rec)
	h.logger.InfoContext(ctx, "verification completed",
		slog.String("event_id", event.EventID.String()),
		slog.String("record_id", rec.ID.String()),
		slog.String("user_id", rec.UserID),
		slog.String("business_type", rec.BusinessType),
		slog.String("result", string(rec.Result)),
		slog.String("verification_type", string(rec.VerificationType)),
		slog.String("risk_level", string(rec.RiskLevel)),
	)
	published.Inc()
	return nil
}
