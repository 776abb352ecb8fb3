package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/BradenHooton/facegate/internal/models"
	"github.com/BradenHooton/facegate/internal/services"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

// ImagePayload carries a face image either inline or by reference
type ImagePayload struct {
	ImageBase64 string `json:"image_base64" validate:"required_without=ImageURL,omitempty,base64"`
	ImageURL    string `json:"image_url" validate:"required_without=ImageBase64,omitempty,url"`
}

// toFaceImage decodes the payload into the service representation
func (p ImagePayload) toFaceImage() (services.FaceImage, error) {
	if p.ImageBase64 == "" {
		return services.FaceImage{URL: p.ImageURL}, nil
	}
	data, err := base64.StdEncoding.DecodeString(p.ImageBase64)
	if err != nil {
		return services.FaceImage{}, fmt.Errorf("image_base64: %w", err)
	}
	return services.FaceImage{Data: data}, nil
}

// DevicePayload is the capturing device's self-reported metadata
type DevicePayload struct {
	DeviceID   string `json:"device_id" validate:"omitempty,max=128"`
	Platform   string `json:"platform" validate:"omitempty,max=32"`
	AppVersion string `json:"app_version" validate:"omitempty,max=32"`
}

func (p DevicePayload) toDeviceInfo(r *http.Request, ipConfig *pkghttp.IPConfig) models.DeviceInfo {
	return models.DeviceInfo{
		DeviceID:   p.DeviceID,
		Platform:   p.Platform,
		AppVersion: p.AppVersion,
		IPAddress:  pkghttp.ExtractClientIP(r, ipConfig),
	}
}

// decodeJSON reads a size-capped JSON body into dst and validates it
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return ValidateRequest(dst)
}

// pathUserID reads the {userID} route parameter, writing a 400 when it is malformed
func pathUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userID")
	if !validPathUserID(userID) {
		pkghttp.WriteBadRequest(w, "invalid user id")
		return "", false
	}
	return userID, true
}
