// Package matcher implements the similarity-detection pipeline: geometric
// normalized cross-correlation matching, non-maximum suppression and fusion
// of geometric and semantic candidate lists.
package matcher

import "math"

// Provenance values for candidates.
const (
	ProvenanceGeometric = "geometric"
	ProvenanceSemantic  = "semantic"
	ProvenanceBoth      = "both"
)

// BBox is an axis-aligned bounding box in page-pixel space.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU computes the Intersection-over-Union of two axis-aligned boxes.
func IoU(a, b BBox) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	inter := BBox{X1: ix1, Y1: iy1, X2: ix2, Y2: iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Candidate is a tentative match before deduplication and persistence.
type Candidate struct {
	CenterX  float64
	CenterY  float64
	Width    float64
	Height   float64
	Rotation float64 // degrees

	// Score is the canonical similarity score in [0,1]. The contributing
	// scores are kept for traceability after fusion.
	Score          float64
	GeometricScore *float64
	SemanticScore  *float64

	Provenance string

	// Description carries the semantic matcher's free-text note, empty for
	// geometric candidates.
	Description string
}

// BBox derives the axis-aligned bounding box of the candidate's rotated box.
// For rotated matches this is an approximation that can under- or
// over-suppress during NMS; the domain accepts it.
func (c Candidate) BBox() BBox {
	rad := c.Rotation * math.Pi / 180
	cos := math.Abs(math.Cos(rad))
	sin := math.Abs(math.Sin(rad))
	halfW := (c.Width*cos + c.Height*sin) / 2
	halfH := (c.Width*sin + c.Height*cos) / 2
	return BBox{
		X1: c.CenterX - halfW,
		Y1: c.CenterY - halfH,
		X2: c.CenterX + halfW,
		Y2: c.CenterY + halfH,
	}
}
