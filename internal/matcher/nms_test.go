package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(cx, cy, w, h, score float64) Candidate {
	return Candidate{
		CenterX:    cx,
		CenterY:    cy,
		Width:      w,
		Height:     h,
		Score:      score,
		Provenance: ProvenanceGeometric,
	}
}

func TestIoU(t *testing.T) {
	t.Parallel()

	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.InDelta(t, 1.0, IoU(a, a), 1e-9)

	b := BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	assert.Zero(t, IoU(a, b))

	// Half-overlapping boxes: intersection 50, union 150.
	c := BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 1.0/3.0, IoU(a, c), 1e-9)

	// Degenerate boxes never overlap.
	assert.Zero(t, IoU(a, BBox{X1: 5, Y1: 5, X2: 5, Y2: 5}))
}

func TestCandidateBBox(t *testing.T) {
	t.Parallel()

	// Unrotated: the bbox is the box itself.
	b := box(100, 50, 20, 10, 0.9).BBox()
	assert.InDelta(t, 90, b.X1, 1e-9)
	assert.InDelta(t, 45, b.Y1, 1e-9)
	assert.InDelta(t, 110, b.X2, 1e-9)
	assert.InDelta(t, 55, b.Y2, 1e-9)

	// 90 degrees swaps the extents.
	c := box(100, 50, 20, 10, 0.9)
	c.Rotation = 90
	b = c.BBox()
	assert.InDelta(t, 10, b.X2-b.X1, 1e-9)
	assert.InDelta(t, 20, b.Y2-b.Y1, 1e-9)

	// 45 degrees grows the bbox beyond either edge.
	c.Rotation = 45
	b = c.BBox()
	assert.Greater(t, b.X2-b.X1, 20.0)
	assert.Greater(t, b.Y2-b.Y1, 10.0)
}

func TestSuppressKeepsHighestScore(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		box(100, 100, 20, 20, 0.85),
		box(101, 100, 20, 20, 0.95), // near-duplicate, higher score
		box(102, 101, 20, 20, 0.80),
		box(300, 100, 20, 20, 0.90), // separate object
	}

	kept := Suppress(candidates, 0.3)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.95, kept[0].Score, 1e-9)
	assert.InDelta(t, 0.90, kept[1].Score, 1e-9)
}

func TestSuppressPairwiseProperty(t *testing.T) {
	t.Parallel()

	// A dense cluster of shifted boxes around two true objects.
	var candidates []Candidate
	for dx := -6; dx <= 6; dx += 2 {
		candidates = append(candidates,
			box(100+float64(dx), 100, 20, 20, 0.8+float64(dx)/100),
			box(300+float64(dx), 400, 20, 20, 0.8-float64(dx)/100),
		)
	}

	const threshold = 0.3
	kept := Suppress(candidates, threshold)
	require.NotEmpty(t, kept)

	// No two survivors overlap at or above the suppression threshold.
	for i := range kept {
		for j := i + 1; j < len(kept); j++ {
			assert.Less(t, IoU(kept[i].BBox(), kept[j].BBox()), threshold)
		}
	}
}

func TestSuppressEmptyAndSingle(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Suppress(nil, 0.3))
	single := []Candidate{box(1, 1, 2, 2, 0.5)}
	assert.Equal(t, single, Suppress(single, 0.3))
}
