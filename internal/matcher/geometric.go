package matcher

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/plantakeoff/autocount-go/internal/errors"
)

// ErrMatcherFailure is returned when geometric matching itself cannot run,
// for example on a degenerate page or template image.
var ErrMatcherFailure = errors.NewStd("geometric matching failed")

// matcherError builds a categorized matching error that still satisfies
// errors.Is(err, ErrMatcherFailure).
func matcherError(reason string) error {
	return errors.New(fmt.Errorf("%s: %w", reason, ErrMatcherFailure)).
		Component("matcher").
		Category(errors.CategoryMatching).
		Build()
}

// MinTemplateSize is the smallest transformed template edge, in pixels, still
// worth correlating.
const MinTemplateSize = 10

// Params configures one geometric matching run.
type Params struct {
	Threshold         float64 // minimum NCC score in [0,1]
	ScaleTolerance    float64 // fractional; scales sampled from [1-tol, 1+tol]
	RotationTolerance float64 // degrees; rotations sampled from [-tol, +tol]
	ScaleSteps        int     // number of scale samples (default 5)
	RotationSteps     int     // number of rotation samples (default 7)
	MaxCandidates     int     // raw candidate cap (default 5000)
}

func (p *Params) applyDefaults() {
	if p.ScaleSteps <= 0 {
		p.ScaleSteps = 5
	}
	if p.RotationSteps <= 0 {
		p.RotationSteps = 7
	}
	if p.MaxCandidates <= 0 {
		p.MaxCandidates = 5000
	}
}

// GeometricMatcher finds sub-regions of a page whose pixel content correlates
// with a template across a range of scales and rotations.
type GeometricMatcher struct{}

// NewGeometricMatcher creates a stateless geometric matcher.
func NewGeometricMatcher() *GeometricMatcher {
	return &GeometricMatcher{}
}

// sampleRange returns n values uniformly spanning [lo, hi]. A collapsed range
// or a single step yields one sample at the range midpoint.
func sampleRange(lo, hi float64, n int) []float64 {
	if n <= 1 || hi-lo < 1e-12 {
		return []float64{(lo + hi) / 2}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// transformTemplate resizes and rotates the template. Rotation fills the
// corners with white, matching the paper background of plan drawings.
func transformTemplate(tmpl image.Image, scale, rotation float64) image.Image {
	b := tmpl.Bounds()
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	if w < 1 || h < 1 {
		return nil
	}
	transformed := imaging.Resize(tmpl, w, h, imaging.Lanczos)
	if rotation != 0 {
		transformed = imaging.Rotate(transformed, rotation, color.White)
	}
	return transformed
}

// FindMatches runs normalized cross-correlation of the template over the page
// for every sampled scale/rotation combination and returns every location
// scoring at or above the threshold. The result is highly overlapping by
// construction and must be deduplicated.
func (m *GeometricMatcher) FindMatches(ctx context.Context, page, tmpl image.Image, params Params) ([]Candidate, error) {
	params.applyDefaults()

	plane := buildGrayPlane(page)
	if plane == nil {
		return nil, matcherError("page image is empty")
	}
	baseStats := buildTemplateStats(tmpl)
	if baseStats == nil {
		return nil, matcherError("template image is empty")
	}
	if baseStats.std <= 1e-9 {
		return nil, matcherError("template has no contrast")
	}

	origW := float64(tmpl.Bounds().Dx())
	origH := float64(tmpl.Bounds().Dy())

	scales := sampleRange(1-params.ScaleTolerance, 1+params.ScaleTolerance, params.ScaleSteps)
	rotations := []float64{0}
	if params.RotationTolerance > 0 {
		rotations = sampleRange(-params.RotationTolerance, params.RotationTolerance, params.RotationSteps)
	}

	var mu sync.Mutex
	var candidates []Candidate

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, scale := range scales {
		for _, rotation := range rotations {
			scale, rotation := scale, rotation
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				transformed := transformTemplate(tmpl, scale, rotation)
				if transformed == nil {
					return nil
				}
				tb := transformed.Bounds()
				tw, th := tb.Dx(), tb.Dy()
				// Skip combinations that cannot be correlated.
				if tw < MinTemplateSize || th < MinTemplateSize || tw > plane.W || th > plane.H {
					return nil
				}
				stats := buildTemplateStats(transformed)
				matches := matchAll(plane, stats, params.Threshold)
				if len(matches) == 0 {
					return nil
				}

				geomScore := func(s float64) *float64 { return &s }
				batch := make([]Candidate, 0, len(matches))
				for _, match := range matches {
					batch = append(batch, Candidate{
						CenterX:        float64(match.X) + float64(tw)/2,
						CenterY:        float64(match.Y) + float64(th)/2,
						Width:          origW * scale,
						Height:         origH * scale,
						Rotation:       rotation,
						Score:          match.Score,
						GeometricScore: geomScore(match.Score),
						Provenance:     ProvenanceGeometric,
					})
				}
				mu.Lock()
				candidates = append(candidates, batch...)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("geometric matching aborted: %w", err)
	}

	// Bound worst-case NMS cost on dense drawings: keep the highest-scoring
	// candidates when the cap is exceeded.
	if len(candidates) > params.MaxCandidates {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
		candidates = candidates[:params.MaxCandidates]
	}

	return candidates, nil
}
