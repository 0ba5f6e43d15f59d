// Package template crops the user-marked example region from a page image.
package template

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/plantakeoff/autocount-go/internal/errors"
)

// ErrInvalidTemplateRegion is returned when the requested region lies
// entirely outside the page image.
var ErrInvalidTemplateRegion = errors.NewStd("template region outside image")

// DefaultPadding is the fraction of extra context cropped around the marked
// region.
const DefaultPadding = 0.1

// Region describes the user-marked template in page-pixel space.
type Region struct {
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// Extractor crops padded template regions from page images.
type Extractor struct {
	padding float64
}

// NewExtractor creates an Extractor with the given padding fraction. A
// non-positive padding falls back to DefaultPadding.
func NewExtractor(padding float64) *Extractor {
	if padding <= 0 {
		padding = DefaultPadding
	}
	return &Extractor{padding: padding}
}

// Extract returns the cropped template image. The crop is the marked region
// grown by the padding fraction and clamped to the image bounds.
func (e *Extractor) Extract(page image.Image, region Region) (image.Image, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, errors.Newf("template size %gx%g must be positive", region.Width, region.Height).
			Component("template").
			Category(errors.CategoryValidation).
			Build()
	}

	bounds := page.Bounds()
	padW := region.Width * (1 + e.padding)
	padH := region.Height * (1 + e.padding)

	x1 := int(region.CenterX - padW/2)
	y1 := int(region.CenterY - padH/2)
	x2 := int(region.CenterX + padW/2)
	y2 := int(region.CenterY + padH/2)

	crop := image.Rect(x1, y1, x2, y2).Intersect(bounds)
	if crop.Empty() {
		return nil, fmt.Errorf("region centered at (%g,%g): %w",
			region.CenterX, region.CenterY, ErrInvalidTemplateRegion)
	}

	return imaging.Crop(page, crop), nil
}

// ExtractPNG returns the cropped template encoded as PNG, for caching on the
// session row.
func (e *Extractor) ExtractPNG(page image.Image, region Region) ([]byte, error) {
	cropped, err := e.Extract(page, region)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return nil, errors.New(fmt.Errorf("encoding template crop: %w", err)).
			Component("template").
			Category(errors.CategoryImageProcessing).
			Build()
	}
	return buf.Bytes(), nil
}
