package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/facegate/internal/config"
	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/provider"
)

// FaceProfileRepository defines the profile store used by FaceService
type FaceProfileRepository interface {
	GetActiveByUserID(ctx context.Context, userID string) (*models.FaceProfile, error)
	ListByUserID(ctx context.Context, userID string) ([]*models.FaceProfile, error)
	Create(ctx context.Context, p *models.FaceProfile) (*models.FaceProfile, error)
	Supersede(ctx context.Context, priorID uuid.UUID, next *models.FaceProfile) (*models.FaceProfile, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.ProfileStatus, at time.Time) (bool, error)
	ListExpiredCandidates(ctx context.Context, now time.Time, pageSize int) iter.Seq2[*models.FaceProfile, error]
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// FaceServiceConfig holds face lifecycle and quality gate settings
type FaceServiceConfig struct {
	GroupID        string
	ProfileTTL     time.Duration
	MatchThreshold float64
	DuplicateCheck bool
	RecollectMode  string

	Image             provider.ImageLimits
	MinConfidence     float64
	MaxBlur           float64
	MinIllumination   float64
	MaxOcclusion      float64
	MinCompleteness   float64
	LivenessControl   provider.LivenessControl
	LivenessThreshold float64

	SweepConcurrency int
	SweepPageSize    int
}

// FaceImage is a face image as submitted by a caller: inline bytes or a URL
type FaceImage struct {
	Data []byte
	URL  string
}

// FaceService manages face profile collection, recollection, expiry and deletion
type FaceService struct {
	profiles FaceProfileRepository
	provider provider.Client
	ops      *OperationLogService
	locks    *KeyedMutex
	config   FaceServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewFaceService creates a new FaceService
func NewFaceService(profiles FaceProfileRepository, client provider.Client, ops *OperationLogService, cfg FaceServiceConfig, logger *slog.Logger) *FaceService {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	if cfg.SweepPageSize <= 0 {
		cfg.SweepPageSize = 100
	}
	if cfg.RecollectMode == "" {
		cfg.RecollectMode = config.RecollectModeAppend
	}
	return &FaceService{
		profiles: profiles,
		provider: client,
		ops:      ops,
		locks:    NewKeyedMutex(),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// GetFaceProfile returns the user's ACTIVE profile, or nil when there is none
func (s *FaceService) GetFaceProfile(ctx context.Context, userID string) (*models.FaceProfile, error) {
	profile, err := s.profiles.GetActiveByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		s.logger.ErrorContext(ctx, "failed to load face profile", slog.String("user_id", userID), slog.Any("error", err))
		return nil, err
	}
	return profile, nil
}

// HasCollectedFace reports whether the user has an ACTIVE profile
func (s *FaceService) HasCollectedFace(ctx context.Context, userID string) (bool, error) {
	profile, err := s.GetFaceProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	return profile != nil, nil
}

// IsFaceProfileAvailable reports whether the user has an ACTIVE, unexpired profile
func (s *FaceService) IsFaceProfileAvailable(ctx context.Context, userID string) (bool, error) {
	profile, err := s.GetFaceProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	return profile != nil && profile.IsAvailableAt(s.now()), nil
}

// ValidateFaceQuality runs the acceptance gate without touching any profile
func (s *FaceService) ValidateFaceQuality(ctx context.Context, img FaceImage) (*models.QualityReport, error) {
	report, _, err := s.checkQuality(ctx, img)
	return report, err
}

// CollectFace enrolls the user's first face. Fails with DuplicateProfileError when an ACTIVE profile exists.
func (s *FaceService) CollectFace(ctx context.Context, userID string, img FaceImage, device models.DeviceInfo, method models.CollectionMethod) (*models.FaceProfile, error) {
	if method == "" {
		method = models.CollectionMethodManual
	}
	if err := validateCollectionMethod(method); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	op := s.beginOperation(ctx, models.OperationCollectFace, userID, models.OperationMetadata{"method": string(method)})

	existing, err := s.GetFaceProfile(ctx, userID)
	if err != nil {
		s.failOperation(ctx, op, err)
		return nil, err
	}
	if existing != nil {
		err := &models.DuplicateProfileError{UserID: userID}
		s.failOperation(ctx, op, err)
		return nil, err
	}

	report, image, err := s.checkQuality(ctx, img)
	if err != nil {
		s.failOperation(ctx, op, err)
		return nil, err
	}

	if err := s.checkDuplicateIdentity(ctx, userID, image); err != nil {
		s.failOperation(ctx, op, err)
		return nil, err
	}

	// The enrollment must finish even if the caller goes away, so the outcome is never ambiguous
	mctx := context.WithoutCancel(ctx)
	enrolled, err := s.provider.AddFace(mctx, image, s.config.GroupID, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "face enrollment failed", slog.String("user_id", userID), slog.Any("error", err))
		s.failOperation(ctx, op, err)
		return nil, err
	}

	if ctx.Err() != nil {
		s.discardFace(mctx, userID, enrolled.FaceToken)
		s.cancelOperation(ctx, op, "caller cancelled during enrollment")
		return nil, ctx.Err()
	}

	profile := s.newProfile(userID, enrolled.FaceToken, method, device, report.Score)
	created, err := s.profiles.Create(mctx, profile)
	if err != nil {
		s.discardFace(mctx, userID, enrolled.FaceToken)
		if errors.Is(err, models.ErrConflict) {
			err = &models.DuplicateProfileError{UserID: userID}
		}
		s.failOperation(ctx, op, err)
		return nil, err
	}

	s.completeOperation(ctx, op, models.OperationMetadata{
		"profile_id":    created.ID.String(),
		"quality_score": report.Score,
	})
	s.logger.InfoContext(ctx, "face profile collected",
		slog.String("user_id", userID),
		slog.String("profile_id", created.ID.String()),
		slog.String("method", string(method)),
	)

	return created, nil
}

// RecollectFace replaces the user's face. On any failure the prior ACTIVE profile is left untouched.
// A user without a prior profile is enrolled as on first collection. Once the local swap commits
// the new profile is returned even if ctx was cancelled meanwhile.
func (s *FaceService) RecollectFace(ctx context.Context, userID string, img FaceImage, device models.DeviceInfo) (*models.FaceProfile, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	op := s.beginOperation(ctx, models.OperationRecollectFace, userID, models.OperationMetadata{"mode": s.config.RecollectMode})

	prior, err := s.GetFaceProfile(ctx, userID)
	if err != nil {
		s.failOperation(ctx, op, err)
		return nil, err
	}

	report, image, err := s.checkQuality(ctx, img)
	if err != nil {
		s.failOperation(ctx, op, err)
		return nil, err
	}

	if err := s.checkDuplicateIdentity(ctx, userID, image); err != nil {
		s.failOperation(ctx, op, err)
		return nil, err
	}

	replace := prior != nil && s.config.RecollectMode == config.RecollectModeReplace

	mctx := context.WithoutCancel(ctx)
	var enrolled *provider.EnrollResult
	if replace {
		enrolled, err = s.provider.UpdateFace(mctx, image, s.config.GroupID, userID)
	} else {
		enrolled, err = s.provider.AddFace(mctx, image, s.config.GroupID, userID)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "face re-enrollment failed", slog.String("user_id", userID), slog.Any("error", err))
		s.failOperation(ctx, op, err)
		return nil, err
	}

	// In replace mode the provider already dropped the old face; keep the local token in step
	if ctx.Err() != nil && !replace {
		s.discardFace(mctx, userID, enrolled.FaceToken)
		s.cancelOperation(ctx, op, "caller cancelled during enrollment")
		return nil, ctx.Err()
	}

	next := s.newProfile(userID, enrolled.FaceToken, models.CollectionMethodRecollect, device, report.Score)

	var saved *models.FaceProfile
	if prior != nil {
		saved, err = s.profiles.Supersede(mctx, prior.ID, next)
	} else {
		saved, err = s.profiles.Create(mctx, next)
	}
	if err != nil {
		if replace {
			s.logger.ErrorContext(ctx, "provider face replaced but local profile swap failed",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		} else {
			s.discardFace(mctx, userID, enrolled.FaceToken)
		}
		s.failOperation(ctx, op, err)
		return nil, err
	}

	if prior != nil && !replace && prior.ProviderFaceToken != enrolled.FaceToken {
		s.discardFace(mctx, userID, prior.ProviderFaceToken)
	}

	meta := models.OperationMetadata{
		"profile_id":    saved.ID.String(),
		"quality_score": report.Score,
	}
	if prior != nil {
		meta["superseded_profile_id"] = prior.ID.String()
	}
	s.completeOperation(ctx, op, meta)
	s.logger.InfoContext(ctx, "face profile recollected",
		slog.String("user_id", userID),
		slog.String("profile_id", saved.ID.String()),
		slog.Bool("had_prior", prior != nil),
	)

	// The swap is committed, so a late cancellation still reports the new profile
	return saved, nil
}

// DeleteFaceProfile removes the user's provider-side faces (best-effort) and all local profiles.
// Returns true when at least one local profile was removed.
func (s *FaceService) DeleteFaceProfile(ctx context.Context, userID string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	op := s.beginOperation(ctx, models.OperationDeleteFace, userID, nil)

	local, err := s.profiles.ListByUserID(ctx, userID)
	if err != nil {
		s.failOperation(ctx, op, err)
		return false, err
	}

	removed := s.removeProviderFaces(context.WithoutCancel(ctx), userID, local)

	deleted, err := s.profiles.DeleteByUserID(ctx, userID)
	if err != nil {
		s.failOperation(ctx, op, err)
		return false, err
	}

	s.completeOperation(ctx, op, models.OperationMetadata{
		"profiles_deleted":       deleted,
		"provider_faces_removed": removed,
	})
	s.logger.InfoContext(ctx, "face profile deleted",
		slog.String("user_id", userID),
		slog.Int64("profiles_deleted", deleted),
		slog.Int("provider_faces_removed", removed),
	)

	return deleted > 0, nil
}

// removeProviderFaces deletes every face the provider holds for the user, falling back to
// the locally known tokens when the provider listing fails
func (s *FaceService) removeProviderFaces(ctx context.Context, userID string, local []*models.FaceProfile) int {
	if !s.provider.IsConfigValid() {
		return 0
	}

	tokens := make(map[string]struct{})
	entries, err := s.provider.GetFaceList(ctx, s.config.GroupID, userID)
	switch {
	case err == nil:
		for _, e := range entries {
			tokens[e.FaceToken] = struct{}{}
		}
	case isProviderNotFound(err):
	default:
		s.logger.WarnContext(ctx, "failed to list provider faces, using local tokens",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
	for _, p := range local {
		if p.ProviderFaceToken != "" {
			tokens[p.ProviderFaceToken] = struct{}{}
		}
	}

	removed := 0
	for token := range tokens {
		if err := s.provider.DeleteFace(ctx, s.config.GroupID, userID, token); err != nil {
			if !isProviderNotFound(err) {
				s.logger.WarnContext(ctx, "failed to delete provider face",
					slog.String("user_id", userID),
					slog.Any("error", err),
				)
			}
			continue
		}
		removed++
	}
	return removed
}

// ProcessExpiredProfiles moves every ACTIVE profile past its expiry to EXPIRED and returns how
// many changed. Running it again without new expiries returns 0.
func (s *FaceService) ProcessExpiredProfiles(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() { sweepDuration.Observe(time.Since(started).Seconds()) }()

	op := s.beginOperation(ctx, models.OperationExpireProfiles, "", nil)
	now := s.now()

	var expired, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.SweepConcurrency)

	var iterErr error
	for profile, err := range s.profiles.ListExpiredCandidates(ctx, now, s.config.SweepPageSize) {
		if err != nil {
			iterErr = err
			break
		}
		g.Go(func() error {
			changed, err := s.expireProfile(gctx, profile, now)
			if err != nil {
				failed.Add(1)
				s.logger.WarnContext(gctx, "failed to expire face profile",
					slog.String("profile_id", profile.ID.String()),
					slog.Any("error", err),
				)
				return nil
			}
			if changed {
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	count := int(expired.Load())
	profilesExpiredTotal.Add(float64(count))

	if iterErr == nil {
		iterErr = ctx.Err()
	}
	if iterErr != nil {
		s.failOperation(ctx, op, iterErr)
		s.logger.ErrorContext(ctx, "expiry sweep aborted", slog.Int("expired", count), slog.Any("error", iterErr))
		return count, fmt.Errorf("expiry sweep aborted: %w", iterErr)
	}

	s.completeOperation(ctx, op, models.OperationMetadata{"expired": count, "failed": failed.Load()})
	if count > 0 {
		s.logger.InfoContext(ctx, "expired face profiles", slog.Int("count", count))
	}
	return count, nil
}

func (s *FaceService) expireProfile(ctx context.Context, profile *models.FaceProfile, now time.Time) (bool, error) {
	unlock, err := s.locks.Lock(ctx, profile.UserID)
	if err != nil {
		return false, err
	}
	defer unlock()

	return s.profiles.TransitionStatus(ctx, profile.ID, models.ProfileStatusActive, models.ProfileStatusExpired, now)
}

// ProviderGroups lists the provider's face groups
func (s *FaceService) ProviderGroups(ctx context.Context, start, length int) ([]string, error) {
	return s.provider.GetGroupList(ctx, start, length)
}

// ProviderGroupUsers lists the users enrolled in a provider group
func (s *FaceService) ProviderGroupUsers(ctx context.Context, groupID string, start, length int) ([]string, error) {
	if groupID == "" {
		groupID = s.config.GroupID
	}
	return s.provider.GetUserList(ctx, groupID, start, length)
}

// ProviderUserFaces lists the faces the provider holds for a user in the configured group
func (s *FaceService) ProviderUserFaces(ctx context.Context, userID string) ([]provider.FaceEntry, error) {
	entries, err := s.provider.GetFaceList(ctx, s.config.GroupID, userID)
	if err != nil {
		if isProviderNotFound(err) {
			return []provider.FaceEntry{}, nil
		}
		return nil, err
	}
	return entries, nil
}

// checkQuality prepares the image and interprets the provider's detection against the configured thresholds
func (s *FaceService) checkQuality(ctx context.Context, img FaceImage) (*models.QualityReport, provider.Image, error) {
	report := &models.QualityReport{}

	var image provider.Image
	switch {
	case len(img.Data) > 0:
		prepared, err := provider.PrepareInline(img.Data, s.config.Image)
		if err != nil {
			return s.reject(ctx, report, err)
		}
		image = prepared.Image
		report.Width, report.Height, report.Resized = prepared.Width, prepared.Height, prepared.Resized
	case img.URL != "":
		image = provider.URLImage(img.URL)
	default:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityInvalidImage, Detail: "no image supplied"})
	}

	opts := provider.DetectOptions{MaxFaces: 2, LivenessControl: s.config.LivenessControl}
	opts.WithLiveness = s.config.LivenessControl != "" && s.config.LivenessControl != provider.LivenessNone

	detected, err := s.provider.DetectFace(ctx, image, opts)
	if err != nil {
		var pe *models.ProviderError
		if errors.As(err, &pe) {
			if reason, ok := provider.QualityReasonForCode(pe.Code); ok {
				return s.reject(ctx, report, &models.QualityError{Reason: reason, Detail: pe.Message})
			}
		}
		return report, image, err
	}

	report.FaceCount = detected.FaceNum
	switch {
	case detected.FaceNum == 0 || len(detected.Faces) == 0:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityNoFace})
	case detected.FaceNum > 1:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityMultipleFaces, Detail: fmt.Sprintf("%d faces", detected.FaceNum)})
	}

	face := detected.Faces[0]
	q := face.Quality
	report.Confidence = face.Probability
	report.Blur = q.Blur
	report.Illumination = q.Illumination
	report.Occlusion = q.Occlusion
	report.Completeness = q.Completeness
	report.Liveness = face.Liveness
	report.Score = qualityScore(face)

	cfg := s.config
	switch {
	case face.Probability < cfg.MinConfidence:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityLowConfidence, Detail: fmt.Sprintf("confidence %.2f", face.Probability)})
	case q.Completeness < cfg.MinCompleteness:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityIncompleteFace})
	case q.Occlusion > cfg.MaxOcclusion:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityOccluded, Detail: fmt.Sprintf("occlusion %.2f", q.Occlusion)})
	case q.Blur > cfg.MaxBlur:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityBlurry, Detail: fmt.Sprintf("blur %.2f", q.Blur)})
	case q.Illumination < cfg.MinIllumination:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityPoorLighting, Detail: fmt.Sprintf("illumination %.0f", q.Illumination)})
	case opts.WithLiveness && face.Liveness != nil && *face.Liveness < cfg.LivenessThreshold:
		return s.reject(ctx, report, &models.QualityError{Reason: models.QualityLivenessFailed, Detail: fmt.Sprintf("liveness %.2f", *face.Liveness)})
	}

	report.Passed = true
	return report, image, nil
}

func (s *FaceService) reject(ctx context.Context, report *models.QualityReport, err error) (*models.QualityReport, provider.Image, error) {
	if reason, ok := models.QualityReasonOf(err); ok {
		report.Reason = reason
		s.logger.InfoContext(ctx, "face image rejected", slog.String("reason", string(reason)))
	}
	report.Passed = false
	return report, provider.Image{}, err
}

// qualityScore folds the provider signals into [0,1]
func qualityScore(face provider.DetectedFace) float64 {
	q := face.Quality
	light := q.Illumination / 255
	if light > 1 {
		light = 1
	}
	score := (face.Probability + (1 - q.Blur) + (1 - q.Occlusion) + q.Completeness + light) / 5
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// checkDuplicateIdentity rejects an image that already matches a different enrolled user
func (s *FaceService) checkDuplicateIdentity(ctx context.Context, userID string, image provider.Image) error {
	if !s.config.DuplicateCheck {
		return nil
	}

	result, err := s.provider.SearchFace(ctx, image, []string{s.config.GroupID}, 1)
	if err != nil {
		if isProviderNotFound(err) {
			return nil
		}
		return err
	}
	for _, c := range result.Candidates {
		if c.UserID != userID && c.Score >= s.config.MatchThreshold {
			s.logger.WarnContext(ctx, "face matches another enrolled user",
				slog.String("user_id", userID),
				slog.Float64("score", c.Score),
			)
			return models.ErrFaceBelongsToAnotherUser
		}
	}
	return nil
}

func (s *FaceService) newProfile(userID, faceToken string, method models.CollectionMethod, device models.DeviceInfo, score float64) *models.FaceProfile {
	now := s.now()
	p := &models.FaceProfile{
		ID:                uuid.New(),
		UserID:            userID,
		ProviderFaceToken: faceToken,
		Status:            models.ProfileStatusActive,
		CollectionMethod:  method,
		DeviceInfo:        device,
		QualityScore:      score,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}
	if s.config.ProfileTTL > 0 {
		expires := now.Add(s.config.ProfileTTL)
		p.ExpiresAt = &expires
	}
	return p
}

// discardFace removes an enrolled face that will not be kept locally (best-effort)
func (s *FaceService) discardFace(ctx context.Context, userID, faceToken string) {
	if err := s.provider.DeleteFace(ctx, s.config.GroupID, userID, faceToken); err != nil && !isProviderNotFound(err) {
		s.logger.WarnContext(ctx, "failed to discard provider face",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

func (s *FaceService) beginOperation(ctx context.Context, operation, userID string, meta models.OperationMetadata) *models.OperationLog {
	if s.ops == nil {
		return nil
	}
	var uid *string
	if userID != "" {
		uid = &userID
	}
	op := s.ops.Begin(ctx, operation, uid, meta)
	_ = s.ops.MarkProcessing(ctx, op)
	return op
}

func (s *FaceService) completeOperation(ctx context.Context, op *models.OperationLog, meta models.OperationMetadata) {
	if op != nil {
		_ = s.ops.Complete(ctx, op, meta)
	}
}

func (s *FaceService) failOperation(ctx context.Context, op *models.OperationLog, err error) {
	if op != nil {
		_ = s.ops.Fail(ctx, op, err)
	}
}

func (s *FaceService) cancelOperation(ctx context.Context, op *models.OperationLog, reason string) {
	if op != nil {
		_ = s.ops.Cancel(ctx, op, reason)
	}
}

func validateCollectionMethod(m models.CollectionMethod) error {
	switch m {
	case models.CollectionMethodManual, models.CollectionMethodAuto, models.CollectionMethodRecollect, models.CollectionMethodImport:
		return nil
	}
	return fmt.Errorf("%w: unknown collection method %q", models.ErrBadRequest, m)
}

func isProviderNotFound(err error) bool {
	var pe *models.ProviderError
	return errors.As(err, &pe) && provider.IsNotFoundCode(pe.Code)
}
