// Package semantic finds regions that are conceptually the same kind of
// symbol as the template even when pixel correlation is poor, by asking an
// external vision-capable model.
package semantic

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/plantakeoff/autocount-go/internal/logging"
	"github.com/plantakeoff/autocount-go/internal/matcher"
	"github.com/plantakeoff/autocount-go/internal/template"
	"github.com/plantakeoff/autocount-go/internal/vision"
)

const prompt = `The image is a construction plan page. One example symbol is marked with a red bounding box, a red crosshair and the label "TEMPLATE".

Find every other occurrence of the same kind of symbol on the page. Do not include the marked example itself.

Respond with ONLY one JSON object in exactly this shape, no markdown, no extra text:
{
  "interpretation": "<one sentence describing what the marked symbol depicts>",
  "matches": [
    {"center_x": <pixels>, "center_y": <pixels>, "width": <pixels>, "height": <pixels>, "confidence": <0.0-1.0>, "description": "<short note>"}
  ]
}

Coordinates are pixels from the top-left corner of the image. If there are no other occurrences, return an empty matches array.`

// Result is the parsed outcome of one semantic analysis.
type Result struct {
	// Interpretation is the model's reading of what the template depicts.
	Interpretation string
	Candidates     []matcher.Candidate
}

// Matcher asks a vision model for conceptually similar regions. Its failure
// must never abort geometric-only detection in hybrid mode; the caller
// decides whether an error is fatal.
type Matcher struct {
	model vision.Model
	log   *slog.Logger
}

// NewMatcher creates a semantic matcher over the given vision model.
func NewMatcher(model vision.Model) *Matcher {
	return &Matcher{
		model: model,
		log:   logging.ForService("semantic-matcher"),
	}
}

// FindMatches marks the template region on a copy of the page, sends it to
// the vision model and parses the structured matches. A response without a
// parseable JSON object yields an empty result, not an error.
func (m *Matcher) FindMatches(ctx context.Context, page image.Image, region template.Region) (*Result, error) {
	marked := drawMarker(page, region, "TEMPLATE")
	imageData, err := encodePNG(marked)
	if err != nil {
		return nil, err
	}

	response, err := m.model.Analyze(ctx, imageData, prompt)
	if err != nil {
		return nil, fmt.Errorf("semantic analysis: %w", err)
	}

	payload := parseAnalysis(response)
	m.log.Debug("semantic analysis parsed",
		"interpretation", payload.Interpretation,
		"matches", len(payload.Matches))

	result := &Result{Interpretation: payload.Interpretation}
	for _, match := range payload.Matches {
		score := match.Confidence
		result.Candidates = append(result.Candidates, matcher.Candidate{
			CenterX:       match.CenterX,
			CenterY:       match.CenterY,
			Width:         match.Width,
			Height:        match.Height,
			Score:         score,
			SemanticScore: &score,
			Provenance:    matcher.ProvenanceSemantic,
			Description:   match.Description,
		})
	}
	return result, nil
}
