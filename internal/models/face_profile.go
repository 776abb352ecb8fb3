package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProfileStatus is the lifecycle state of a face profile
type ProfileStatus string

const (
	ProfileStatusActive   ProfileStatus = "ACTIVE"
	ProfileStatusExpired  ProfileStatus = "EXPIRED"
	ProfileStatusDisabled ProfileStatus = "DISABLED"
)

// ParseProfileStatus converts a stored value into a ProfileStatus
func ParseProfileStatus(s string) (ProfileStatus, error) {
	switch ProfileStatus(s) {
	case ProfileStatusActive, ProfileStatusExpired, ProfileStatusDisabled:
		return ProfileStatus(s), nil
	}
	return "", fmt.Errorf("unknown profile status %q", s)
}

// CollectionMethod describes how a face profile was captured
type CollectionMethod string

const (
	CollectionMethodManual    CollectionMethod = "manual"
	CollectionMethodAuto      CollectionMethod = "auto"
	CollectionMethodRecollect CollectionMethod = "recollect"
	CollectionMethodImport    CollectionMethod = "import"
)

// DeviceInfo carries the capturing device's metadata
type DeviceInfo struct {
	DeviceID   string `json:"device_id,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}

// FaceProfile is a user's enrolled face at the provider. At most one per user is ACTIVE.
type FaceProfile struct {
	ID                uuid.UUID        `json:"id"`
	UserID            string           `json:"user_id"`
	ProviderFaceToken string           `json:"-"`
	Status            ProfileStatus    `json:"status"`
	CollectionMethod  CollectionMethod `json:"collection_method"`
	DeviceInfo        DeviceInfo       `json:"device_info"`
	QualityScore      float64          `json:"quality_score"`
	CreatedAt         time.Time        `json:"created_at"`
	LastUpdatedAt     time.Time        `json:"last_updated_at"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
}

// IsExpiredAt reports whether the profile's expiry has passed at now
func (p *FaceProfile) IsExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// IsAvailableAt reports whether the profile can be used for verification at now
func (p *FaceProfile) IsAvailableAt(now time.Time) bool {
	switch p.Status {
	case ProfileStatusActive:
		return !p.IsExpiredAt(now)
	case ProfileStatusExpired, ProfileStatusDisabled:
		return false
	}
	return false
}

// QualityReport summarizes the acceptance gate's view of an image
type QualityReport struct {
	Passed       bool          `json:"passed"`
	Score        float64       `json:"score"`
	FaceCount    int           `json:"face_count"`
	Confidence   float64       `json:"confidence"`
	Blur         float64       `json:"blur"`
	Illumination float64       `json:"illumination"`
	Occlusion    float64       `json:"occlusion"`
	Completeness float64       `json:"completeness"`
	Liveness     *float64      `json:"liveness,omitempty"`
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	Resized      bool          `json:"resized,omitempty"`
	Reason       QualityReason `json:"reason,omitempty"`
}
