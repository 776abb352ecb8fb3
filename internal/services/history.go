package services

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/BradenHooton/facegate/internal/models"
)

// VerificationRecordRepository defines the append-only history store
type VerificationRecordRepository interface {
	Append(ctx context.Context, rec *models.VerificationRecord) error
	QueryHistory(ctx context.Context, userID, businessType string, since *time.Time) iter.Seq2[*models.VerificationRecord, error]
	CountSince(ctx context.Context, userID, businessType string, since time.Time) (int, error)
}

// HistoryTracker aggregates verification records per user and business type
type HistoryTracker struct {
	records VerificationRecordRepository
}

func NewHistoryTracker(records VerificationRecordRepository) *HistoryTracker {
	return &HistoryTracker{records: records}
}

// Stats aggregates every record at or after since; a nil since means unbounded lookback.
// SKIPPED records count toward Count but are neither successes nor failures.
func (h *HistoryTracker) Stats(ctx context.Context, userID, businessType string, since *time.Time) (*models.HistoryStats, error) {
	stats := &models.HistoryStats{UserID: userID, BusinessType: businessType, Since: since}

	for rec, err := range h.records.QueryHistory(ctx, userID, businessType, since) {
		if err != nil {
			return nil, fmt.Errorf("failed to load verification history: %w", err)
		}

		stats.Count++
		switch rec.Result {
		case models.VerificationSuccess:
			stats.SuccessCount++
		case models.VerificationFailed, models.VerificationTimeout:
			stats.FailureCount++
		case models.VerificationSkipped:
		}

		if stats.LastTimestamp == nil || rec.Timestamp.After(*stats.LastTimestamp) {
			ts, result := rec.Timestamp, rec.Result
			stats.LastTimestamp = &ts
			stats.LastResult = &result
		}
	}

	if stats.Count > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.Count)
	}
	return stats, nil
}

// CountSince counts records in the window starting at since
func (h *HistoryTracker) CountSince(ctx context.Context, userID, businessType string, since time.Time) (int, error) {
	n, err := h.records.CountSince(ctx, userID, businessType, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count verification records: %w", err)
	}
	return n, nil
}
