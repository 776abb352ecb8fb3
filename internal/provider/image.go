package provider

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register gif
	"image/jpeg"
	_ "image/png" // register png

	"golang.org/x/image/draw"

	"github.com/BradenHooton/facegate/internal/models"
)

// ImageLimits bound inline images before they are sent to the provider
type ImageLimits struct {
	MinWidth     int
	MinHeight    int
	MaxBytes     int
	MaxDimension int
}

// PreparedImage is an inline image ready for upload
type PreparedImage struct {
	Image   Image
	Width   int
	Height  int
	Resized bool
}

const resizeJPEGQuality = 90

// PrepareInline checks raw image bytes locally and downscales oversized images.
// Rejections are *models.QualityError so they surface as actionable reasons.
func PrepareInline(raw []byte, limits ImageLimits) (*PreparedImage, error) {
	if len(raw) == 0 {
		return nil, &models.QualityError{Reason: models.QualityInvalidImage, Detail: "empty image"}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, &models.QualityError{Reason: models.QualityInvalidImage, Detail: err.Error()}
	}
	if cfg.Width < limits.MinWidth || cfg.Height < limits.MinHeight {
		return nil, &models.QualityError{
			Reason: models.QualityLowResolution,
			Detail: fmt.Sprintf("%dx%d below minimum %dx%d", cfg.Width, cfg.Height, limits.MinWidth, limits.MinHeight),
		}
	}

	tooLarge := limits.MaxBytes > 0 && len(raw) > limits.MaxBytes
	tooWide := limits.MaxDimension > 0 && (cfg.Width > limits.MaxDimension || cfg.Height > limits.MaxDimension)
	if !tooLarge && !tooWide {
		return &PreparedImage{Image: InlineImage(raw), Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &models.QualityError{Reason: models.QualityInvalidImage, Detail: err.Error()}
	}

	w, h := fitWithin(cfg.Width, cfg.Height, limits.MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: resizeJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	if limits.MaxBytes > 0 && buf.Len() > limits.MaxBytes {
		return nil, &models.QualityError{
			Reason: models.QualityImageTooLarge,
			Detail: fmt.Sprintf("%d bytes after resize, limit %d", buf.Len(), limits.MaxBytes),
		}
	}

	return &PreparedImage{Image: InlineImage(buf.Bytes()), Width: w, Height: h, Resized: true}, nil
}

// fitWithin scales (w, h) down so neither side exceeds maxDim, keeping the aspect ratio
func fitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
