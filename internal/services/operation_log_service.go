package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/facegate/internal/models"
)

// OperationLogRepository defines the persistence needed by OperationLogService
type OperationLogRepository interface {
	Create(ctx context.Context, log *models.OperationLog) (*models.OperationLog, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.OperationLog, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.OperationStatus, failureReason *string, metadata models.OperationMetadata, at time.Time) (*models.OperationLog, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error)
	List(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error)
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// OperationLogService records lifecycle and provider-facing operations with a dual-write
// pattern (slog + database). Persistence failures are logged and never fail the operation.
type OperationLogService struct {
	repo   OperationLogRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewOperationLogService creates a new OperationLogService
func NewOperationLogService(repo OperationLogRepository, logger *slog.Logger) *OperationLogService {
	return &OperationLogService{repo: repo, logger: logger, now: time.Now}
}

// Begin records a new PENDING operation
func (s *OperationLogService) Begin(ctx context.Context, operation string, userID *string, metadata models.OperationMetadata) *models.OperationLog {
	now := s.now()
	log := &models.OperationLog{
		ID:        uuid.New(),
		Operation: operation,
		UserID:    userID,
		Status:    models.OperationPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.logger.InfoContext(ctx, "operation started",
		slog.String("operation_id", log.ID.String()),
		slog.String("operation", operation),
		slog.Any("user_id", userID),
	)

	// Persist to database (non-blocking)
	if _, err := s.repo.Create(context.WithoutCancel(ctx), log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist operation log",
			slog.String("operation", operation),
			slog.Any("error", err),
		)
	}

	return log
}

// MarkProcessing moves the operation to PROCESSING
func (s *OperationLogService) MarkProcessing(ctx context.Context, log *models.OperationLog) error {
	return s.transition(ctx, log, models.OperationProcessing, nil, nil)
}

// Complete moves the operation to COMPLETED
func (s *OperationLogService) Complete(ctx context.Context, log *models.OperationLog, metadata models.OperationMetadata) error {
	return s.transition(ctx, log, models.OperationCompleted, nil, metadata)
}

// Fail moves the operation to FAILED with the cause
func (s *OperationLogService) Fail(ctx context.Context, log *models.OperationLog, cause error) error {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	return s.transition(ctx, log, models.OperationFailed, &reason, nil)
}

// Cancel moves the operation to CANCELLED
func (s *OperationLogService) Cancel(ctx context.Context, log *models.OperationLog, reason string) error {
	return s.transition(ctx, log, models.OperationCancelled, &reason, nil)
}

func (s *OperationLogService) transition(ctx context.Context, log *models.OperationLog, to models.OperationStatus, reason *string, metadata models.OperationMetadata) error {
	if !log.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, log.Status, to)
	}

	from := log.Status
	now := s.now()

	log.Status = to
	log.UpdatedAt = now
	if reason != nil {
		log.FailureReason = reason
	}
	if len(metadata) > 0 {
		if log.Metadata == nil {
			log.Metadata = models.OperationMetadata{}
		}
		for k, v := range metadata {
			log.Metadata[k] = v
		}
	}
	if to.IsTerminal() {
		log.CompletedAt = &now
	}

	attrs := []any{
		slog.String("operation_id", log.ID.String()),
		slog.String("operation", log.Operation),
		slog.String("status", string(to)),
	}
	switch to {
	case models.OperationFailed:
		s.logger.WarnContext(ctx, "operation failed", append(attrs, slog.String("failure_reason", *log.FailureReason))...)
	case models.OperationCancelled:
		s.logger.WarnContext(ctx, "operation cancelled", attrs...)
	case models.OperationCompleted:
		s.logger.InfoContext(ctx, "operation completed", append(attrs, slog.Any("metadata", metadata))...)
	case models.OperationPending, models.OperationProcessing:
		s.logger.DebugContext(ctx, "operation status changed", attrs...)
	}

	_, err := s.repo.UpdateStatus(context.WithoutCancel(ctx), log.ID, from, to, reason, metadata, now)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return err
		}
		s.logger.ErrorContext(ctx, "failed to persist operation status",
			slog.String("operation_id", log.ID.String()),
			slog.Any("error", err),
		)
	}
	return nil
}

// ListForUser returns a user's operation trail, newest first
func (s *OperationLogService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*models.OperationLog, error) {
	return s.repo.ListByUserID(ctx, userID, limit, offset)
}

// List returns recent operations, optionally filtered by operation name
func (s *OperationLogService) List(ctx context.Context, operation string, limit, offset int) ([]*models.OperationLog, error) {
	return s.repo.List(ctx, operation, limit, offset)
}

// Cleanup deletes terminal operations completed longer than retention ago
func (s *OperationLogService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.repo.Cleanup(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "operation logs cleaned up", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}
