package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VerificationResult is the outcome of a single verification attempt
type VerificationResult string

const (
	VerificationSuccess VerificationResult = "SUCCESS"
	VerificationFailed  VerificationResult = "FAILED"
	VerificationSkipped VerificationResult = "SKIPPED"
	VerificationTimeout VerificationResult = "TIMEOUT"
)

// ParseVerificationResult converts a stored value into a VerificationResult
func ParseVerificationResult(s string) (VerificationResult, error) {
	switch VerificationResult(s) {
	case VerificationSuccess, VerificationFailed, VerificationSkipped, VerificationTimeout:
		return VerificationResult(s), nil
	}
	return "", fmt.Errorf("unknown verification result %q", s)
}

// CountsAsFailure reports whether the result contributes to the failure rate
func (r VerificationResult) CountsAsFailure() bool {
	switch r {
	case VerificationFailed, VerificationTimeout:
		return true
	case VerificationSuccess, VerificationSkipped:
		return false
	}
	return false
}

// VerificationType is the strength at which verification is demanded
type VerificationType string

const (
	VerificationRequired VerificationType = "REQUIRED"
	VerificationOptional VerificationType = "OPTIONAL"
	VerificationForced   VerificationType = "FORCED"
)

// ParseVerificationType converts a configured value into a VerificationType
func ParseVerificationType(s string) (VerificationType, error) {
	switch VerificationType(s) {
	case VerificationRequired, VerificationOptional, VerificationForced:
		return VerificationType(s), nil
	}
	return "", fmt.Errorf("unknown verification type %q", s)
}

// IsMandatory reports whether the type obliges the user to verify
func (t VerificationType) IsMandatory() (bool, error) {
	switch t {
	case VerificationRequired, VerificationForced:
		return true, nil
	case VerificationOptional:
		return false, nil
	}
	return false, fmt.Errorf("unknown verification type %q", t)
}

// RiskLevel is the assessed risk tier; tiers are ordered low < medium < high
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel converts a configured value into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Rank returns the tier's ordinal position
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return -1
}

// MaxRisk returns the higher of two tiers
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// VerificationRecord is an immutable entry in a user's verification history
type VerificationRecord struct {
	ID               uuid.UUID          `json:"id"`
	UserID           string             `json:"user_id"`
	BusinessType     string             `json:"business_type"`
	Result           VerificationResult `json:"result"`
	VerificationType VerificationType   `json:"verification_type"`
	RiskLevel        RiskLevel          `json:"risk_level"`
	Score            *float64           `json:"score,omitempty"`
	FailureReason    *string            `json:"failure_reason,omitempty"`
	ContextSnapshot  map[string]string  `json:"context_snapshot,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

// HistoryStats aggregates a user's verification records for one business type
type HistoryStats struct {
	UserID        string              `json:"user_id"`
	BusinessType  string              `json:"business_type"`
	Since         *time.Time          `json:"since,omitempty"`
	Count         int                 `json:"count"`
	SuccessCount  int                 `json:"success_count"`
	FailureCount  int                 `json:"failure_count"`
	SuccessRate   float64             `json:"success_rate"`
	LastResult    *VerificationResult `json:"last_result,omitempty"`
	LastTimestamp *time.Time          `json:"last_timestamp,omitempty"`
}

// FailureRate returns the fraction of counted attempts that failed or timed out
func (h *HistoryStats) FailureRate() float64 {
	if h == nil || h.Count == 0 {
		return 0
	}
	return float64(h.FailureCount) / float64(h.Count)
}

// VerificationContext carries caller-provided signals, e.g. "new_device": "true"
type VerificationContext map[string]string

// Bool interprets a context value as a boolean signal
func (c VerificationContext) Bool(key string) bool {
	switch c[key] {
	case "1", "true", "TRUE", "True", "yes", "y":
		return true
	}
	return false
}

// Snapshot returns a defensive copy suitable for storing on a record
func (c VerificationContext) Snapshot() map[string]string {
	if len(c) == 0 {
		return nil
	}
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// VerificationDecision is the engine's full verdict for one (user, business type, context)
type VerificationDecision struct {
	UserID           string           `json:"user_id"`
	BusinessType     string           `json:"business_type"`
	Required         bool             `json:"required"`
	Type             VerificationType `json:"verification_type"`
	Risk             RiskLevel        `json:"risk_level"`
	RiskScore        float64          `json:"risk_score"`
	MatchedRule      string           `json:"matched_rule,omitempty"`
	FrequencyAllowed bool             `json:"frequency_allowed"`
	WithinTimeWindow bool             `json:"within_time_window"`
	Reasons          []string         `json:"reasons,omitempty"`
	EvaluatedAt      time.Time        `json:"evaluated_at"`
}
