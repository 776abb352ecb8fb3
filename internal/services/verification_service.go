package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/provider"
)

// CompletionHandler is notified once per durably recorded verification attempt
type CompletionHandler interface {
	HandleVerificationCompletion(ctx context.Context, rec *models.VerificationRecord) error
}

// VerificationConfig holds settings for probe comparison
type VerificationConfig struct {
	MatchThreshold float64
	CompareTimeout time.Duration
}

// VerifyRequest is one verification attempt for a business operation
type VerifyRequest struct {
	UserID       string
	BusinessType string
	Context      models.VerificationContext
	Image        *FaceImage
	Force        bool
}

// VerifyResult pairs the recorded attempt with the decision that led to it
type VerifyResult struct {
	Record   *models.VerificationRecord   `json:"record"`
	Decision *models.VerificationDecision `json:"decision"`
}

// VerificationService runs verification attempts against a user's enrolled face
type VerificationService struct {
	decisions  *DecisionService
	faces      *FaceService
	provider   provider.Client
	records    VerificationRecordRepository
	completion CompletionHandler
	config     VerificationConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewVerificationService creates a new VerificationService
func NewVerificationService(
	decisions *DecisionService,
	faces *FaceService,
	client provider.Client,
	records VerificationRecordRepository,
	completion CompletionHandler,
	cfg VerificationConfig,
	logger *slog.Logger,
) *VerificationService {
	return &VerificationService{
		decisions:  decisions,
		faces:      faces,
		provider:   client,
		records:    records,
		completion: completion,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Verify decides whether verification is needed and, if so, compares the probe image with the
// user's enrolled face. Every completed attempt is appended to history before the completion
// handler sees it.
func (s *VerificationService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	decision, err := s.decisions.Decide(ctx, req.UserID, req.BusinessType, req.Context)
	if err != nil {
		return nil, err
	}

	rec := &models.VerificationRecord{
		ID:               uuid.New(),
		UserID:           req.UserID,
		BusinessType:     req.BusinessType,
		VerificationType: decision.Type,
		RiskLevel:        decision.Risk,
		ContextSnapshot:  req.Context.Snapshot(),
	}
	if req.Force && !decision.Required {
		rec.VerificationType = models.VerificationForced
	}

	if req.Image == nil {
		if decision.Required || req.Force {
			return nil, fmt.Errorf("%w: a face image is required for %s", models.ErrBadRequest, req.BusinessType)
		}
		rec.Result = models.VerificationSkipped
		return s.finish(ctx, rec, decision)
	}

	profile, err := s.faces.GetFaceProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil || !profile.IsAvailableAt(s.now()) {
		return nil, fmt.Errorf("%w: no available face profile for user", models.ErrNotFound)
	}

	_, probe, err := s.faces.checkQuality(ctx, *req.Image)
	if err != nil {
		return nil, err
	}

	cctx := ctx
	if s.config.CompareTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.config.CompareTimeout)
		defer cancel()
	}

	result, err := s.provider.CompareFaces(cctx, probe, provider.FaceTokenImage(profile.ProviderFaceToken))
	switch {
	case err == nil:
		score := result.Score
		rec.Score = &score
		if score >= s.config.MatchThreshold {
			rec.Result = models.VerificationSuccess
		} else {
			rec.Result = models.VerificationFailed
			rec.FailureReason = strPtr("score below threshold")
		}
	case errors.Is(err, models.ErrProviderTimeout) || (ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)):
		rec.Result = models.VerificationTimeout
		rec.FailureReason = strPtr("provider timeout")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		var pe *models.ProviderError
		if !errors.As(err, &pe) {
			return nil, err
		}
		rec.Result = models.VerificationFailed
		reason := fmt.Sprintf("provider rejected comparison: code %d", pe.Code)
		if qr, ok := provider.QualityReasonForCode(pe.Code); ok {
			reason = "quality: " + string(qr)
		}
		rec.FailureReason = &reason
	}

	return s.finish(ctx, rec, decision)
}

// finish appends the record and then hands it to the completion handler exactly once
func (s *VerificationService) finish(ctx context.Context, rec *models.VerificationRecord, decision *models.VerificationDecision) (*VerifyResult, error) {
	rec.Timestamp = s.now()

	dctx := context.WithoutCancel(ctx)
	if err := s.records.Append(dctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to record verification",
			slog.String("user_id", rec.UserID),
			slog.String("business_type", rec.BusinessType),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}
	verificationsTotal.WithLabelValues(rec.BusinessType, string(rec.Result)).Inc()

	if s.completion != nil {
		if err := s.completion.HandleVerificationCompletion(dctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "verification completion handler failed",
				slog.String("record_id", rec.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	s.logger.InfoContext(ctx, "verification completed",
		slog.String("user_id", rec.UserID),
		slog.String("business_type", rec.BusinessType),
		slog.String("result", string(rec.Result)),
		slog.String("verification_type", string(rec.VerificationType)),
	)

	return &VerifyResult{Record: rec, Decision: decision}, nil
}

func strPtr(s string) *string {
	return &s
}
