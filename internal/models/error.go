package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Lifecycle errors
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrFaceBelongsToAnotherUser = errors.New("face already enrolled for another user")
	ErrProviderTimeout          = errors.New("face provider timed out")
	ErrProviderUnconfigured     = errors.New("face provider is not configured")
)

// PolicyError reports a missing or invalid verification strategy where a strict lookup was demanded.
type PolicyError struct {
	BusinessType string
	Reason       string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("verification policy error for business type %q: %s", e.BusinessType, e.Reason)
}

// QualityReason is a machine-readable reason for rejecting a face image.
type QualityReason string

const (
	QualityNoFace         QualityReason = "no-face"
	QualityMultipleFaces  QualityReason = "multiple-faces"
	QualityLowResolution  QualityReason = "low-resolution"
	QualityPoorLighting   QualityReason = "poor-lighting"
	QualityBlurry         QualityReason = "blurry"
	QualityOccluded       QualityReason = "occluded"
	QualityIncompleteFace QualityReason = "incomplete-face"
	QualityLowConfidence  QualityReason = "low-confidence"
	QualityLivenessFailed QualityReason = "liveness-failed"
	QualityInvalidImage   QualityReason = "invalid-image"
	QualityImageTooLarge  QualityReason = "image-too-large"
)

// QualityError is returned when an image fails the acceptance gate.
type QualityError struct {
	Reason QualityReason
	Detail string
}

func (e *QualityError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("face quality rejected: %s", e.Reason)
	}
	return fmt.Sprintf("face quality rejected: %s (%s)", e.Reason, e.Detail)
}

// DuplicateProfileError is returned by collection when the user already has an ACTIVE profile.
type DuplicateProfileError struct {
	UserID string
}

func (e *DuplicateProfileError) Error() string {
	return fmt.Sprintf("user %s already has an active face profile", e.UserID)
}

// Is lets callers match duplicates with errors.Is(err, ErrConflict)
func (e *DuplicateProfileError) Is(target error) bool {
	return target == ErrConflict
}

// ProviderError is a semantic provider rejection, or a transient failure whose retry budget ran out.
type ProviderError struct {
	Operation string
	Code      int
	Message   string
	Timeout   bool
	Exhausted bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("face provider %s failed", e.Operation)
	if e.Code != 0 {
		msg += fmt.Sprintf(" [code %d]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Exhausted {
		msg += " (retries exhausted)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches ErrProviderTimeout for timeout-derived errors
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderTimeout && e.Timeout
}

// ProviderTransientError marks a retryable provider failure (network, timeout, rate limit).
// The provider adapter converts it into a ProviderError once retries are exhausted.
type ProviderTransientError struct {
	Operation string
	Code      int
	Timeout   bool
	Err       error
}

func (e *ProviderTransientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transient face provider failure in %s [code %d]: %v", e.Operation, e.Code, e.Err)
	}
	return fmt.Sprintf("transient face provider failure in %s: %v", e.Operation, e.Err)
}

func (e *ProviderTransientError) Unwrap() error {
	return e.Err
}

// QualityReasonOf extracts the quality reason from err, if any
func QualityReasonOf(err error) (QualityReason, bool) {
	var qe *QualityError
	if errors.As(err, &qe) {
		return qe.Reason, true
	}
	return "", false
}
