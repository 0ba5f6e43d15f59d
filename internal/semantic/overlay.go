package semantic

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/plantakeoff/autocount-go/internal/errors"
	"github.com/plantakeoff/autocount-go/internal/template"
)

var markerColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

const (
	markerBorder   = 3 // marker rectangle thickness in pixels
	crosshairReach = 8 // crosshair arm length beyond the box edges
	labelOffset    = 6 // gap between box top and label baseline
)

// drawMarker returns a copy of the page with the template region highlighted:
// a red bounding box, a crosshair through the center and a short text label.
// The vision model is pointed at this marked copy, never the original.
func drawMarker(page image.Image, region template.Region, label string) *image.NRGBA {
	marked := imaging.Clone(page)

	x1 := int(region.CenterX - region.Width/2)
	y1 := int(region.CenterY - region.Height/2)
	x2 := int(region.CenterX + region.Width/2)
	y2 := int(region.CenterY + region.Height/2)
	cx := int(region.CenterX)
	cy := int(region.CenterY)

	setPixel := func(x, y int) {
		if image.Pt(x, y).In(marked.Bounds()) {
			marked.SetNRGBA(x, y, markerColor)
		}
	}

	for t := 0; t < markerBorder; t++ {
		for x := x1 - t; x <= x2+t; x++ {
			setPixel(x, y1-t)
			setPixel(x, y2+t)
		}
		for y := y1 - t; y <= y2+t; y++ {
			setPixel(x1-t, y)
			setPixel(x2+t, y)
		}
	}

	for x := x1 - crosshairReach; x <= x2+crosshairReach; x++ {
		setPixel(x, cy)
	}
	for y := y1 - crosshairReach; y <= y2+crosshairReach; y++ {
		setPixel(cx, y)
	}

	if label != "" {
		drawer := &font.Drawer{
			Dst:  marked,
			Src:  image.NewUniform(markerColor),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(x1, y1-markerBorder-labelOffset),
		}
		drawer.DrawString(label)
	}

	return marked
}

// encodePNG serializes the marked page for the vision request.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, errors.New(err).
			Component("semantic").
			Category(errors.CategoryImageProcessing).
			Build()
	}
	return buf.Bytes(), nil
}
