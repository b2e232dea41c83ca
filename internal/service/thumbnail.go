// Package service contains the business logic layer.
//
// This file implements thumbnail generation for the reply history view.
package service

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Thumbnail output parameters.
const (
	ThumbnailMaxWidth    = 320
	ThumbnailMaxHeight   = 480
	ThumbnailJPEGQuality = 85
)

// =============================================================================
// Interface Definition
// =============================================================================

// ThumbnailProcessor handles thumbnail generation from screenshots.
type ThumbnailProcessor interface {
	// GenerateThumbnail creates a JPEG thumbnail from the provided image
	// data, fitting within maxWidth x maxHeight while preserving aspect
	// ratio.
	GenerateThumbnail(data io.Reader, maxWidth, maxHeight int) ([]byte, error)
}

// =============================================================================
// Implementation
// =============================================================================

// imagingProcessor implements ThumbnailProcessor using the imaging library.
type imagingProcessor struct{}

// NewImagingProcessor creates a thumbnail processor backed by the imaging
// library.
func NewImagingProcessor() ThumbnailProcessor {
	return &imagingProcessor{}
}

// GenerateThumbnail creates a thumbnail from the provided image data.
func (p *imagingProcessor) GenerateThumbnail(data io.Reader, maxWidth, maxHeight int) ([]byte, error) {
	img, _, err := image.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumbnail := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG, imaging.JPEGQuality(ThumbnailJPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}
