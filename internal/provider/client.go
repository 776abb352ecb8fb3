// Package provider adapts the remote face-recognition service. Callers see one
// contract regardless of transport; transient failures are retried inside the
// adapter and only exhaustion escapes as a *models.ProviderError.
package provider

import (
	"context"
	"encoding/base64"
	"time"
)

// ImageType tells the provider how to interpret Image.Data
type ImageType string

const (
	ImageBase64    ImageType = "BASE64"
	ImageURL       ImageType = "URL"
	ImageFaceToken ImageType = "FACE_TOKEN"
)

// Image is a face image payload: inline bytes, a remote URL or a previously issued face token
type Image struct {
	Type ImageType
	Data string
}

func InlineImage(raw []byte) Image {
	return Image{Type: ImageBase64, Data: base64.StdEncoding.EncodeToString(raw)}
}

func URLImage(u string) Image {
	return Image{Type: ImageURL, Data: u}
}

func FaceTokenImage(token string) Image {
	return Image{Type: ImageFaceToken, Data: token}
}

// LivenessControl is the provider-side liveness strictness
type LivenessControl string

const (
	LivenessNone   LivenessControl = "NONE"
	LivenessLow    LivenessControl = "LOW"
	LivenessNormal LivenessControl = "NORMAL"
	LivenessHigh   LivenessControl = "HIGH"
)

type DetectOptions struct {
	MaxFaces        int
	WithLiveness    bool
	LivenessControl LivenessControl
}

// FaceQuality holds the provider's quality signals for one face
type FaceQuality struct {
	Blur         float64
	Illumination float64
	Completeness float64
	Occlusion    float64 // worst occluded region, 0 = fully visible
}

type DetectedFace struct {
	FaceToken   string
	Probability float64
	Width       int
	Height      int
	Quality     FaceQuality
	Liveness    *float64
}

type DetectResult struct {
	FaceNum int
	Faces   []DetectedFace
}

type CompareResult struct {
	Score      float64
	FaceTokens []string
}

type SearchCandidate struct {
	GroupID string
	UserID  string
	Score   float64
}

type SearchResult struct {
	FaceToken  string
	Candidates []SearchCandidate
}

type EnrollResult struct {
	FaceToken string
}

type FaceEntry struct {
	FaceToken string
	CreatedAt time.Time
}

// Client is the operation set every provider adapter exposes
type Client interface {
	DetectFace(ctx context.Context, img Image, opts DetectOptions) (*DetectResult, error)
	CompareFaces(ctx context.Context, a, b Image) (*CompareResult, error)
	SearchFace(ctx context.Context, img Image, groupIDs []string, maxUsers int) (*SearchResult, error)
	AddFace(ctx context.Context, img Image, groupID, userID string) (*EnrollResult, error)
	UpdateFace(ctx context.Context, img Image, groupID, userID string) (*EnrollResult, error)
	DeleteFace(ctx context.Context, groupID, userID, faceToken string) error
	GetFaceList(ctx context.Context, groupID, userID string) ([]FaceEntry, error)
	GetGroupList(ctx context.Context, start, length int) ([]string, error)
	GetUserList(ctx context.Context, groupID string, start, length int) ([]string, error)
	GetAccessToken(ctx context.Context) (string, error)
	IsConfigValid() bool
}
