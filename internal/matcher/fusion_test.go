package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func semBox(cx, cy, w, h, score float64, desc string) Candidate {
	s := score
	return Candidate{
		CenterX:       cx,
		CenterY:       cy,
		Width:         w,
		Height:        h,
		Score:         score,
		SemanticScore: &s,
		Provenance:    ProvenanceSemantic,
		Description:   desc,
	}
}

func TestFuseMergesOverlapping(t *testing.T) {
	t.Parallel()

	geometric := []Candidate{box(100, 100, 20, 20, 0.82)}
	semantic := []Candidate{semBox(101, 101, 20, 20, 0.95, "electrical outlet")}

	fused := Fuse(geometric, semantic, 0.3)
	require.Len(t, fused, 1)

	d := fused[0]
	assert.Equal(t, ProvenanceBoth, d.Provenance)
	// Canonical score is the max of the contributions, both retained.
	assert.InDelta(t, 0.95, d.Score, 1e-9)
	require.NotNil(t, d.GeometricScore)
	assert.InDelta(t, 0.82, *d.GeometricScore, 1e-9)
	require.NotNil(t, d.SemanticScore)
	assert.InDelta(t, 0.95, *d.SemanticScore, 1e-9)
	assert.Equal(t, "electrical outlet", d.Description)
}

func TestFuseGeometricScoreWins(t *testing.T) {
	t.Parallel()

	geometric := []Candidate{box(100, 100, 20, 20, 0.97)}
	semantic := []Candidate{semBox(100, 100, 20, 20, 0.6, "")}

	fused := Fuse(geometric, semantic, 0.3)
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.97, fused[0].Score, 1e-9)
	assert.Equal(t, ProvenanceBoth, fused[0].Provenance)
}

func TestFuseUnmatchedSemanticAppended(t *testing.T) {
	t.Parallel()

	geometric := []Candidate{box(100, 100, 20, 20, 0.9)}
	semantic := []Candidate{
		semBox(100, 100, 20, 20, 0.8, ""),
		semBox(400, 300, 20, 20, 0.7, "hand-drawn symbol"),
	}

	fused := Fuse(geometric, semantic, 0.3)
	require.Len(t, fused, 2)
	assert.Equal(t, ProvenanceBoth, fused[0].Provenance)
	assert.Equal(t, ProvenanceSemantic, fused[1].Provenance)
	assert.Nil(t, fused[1].GeometricScore)
}

func TestFuseEmptyLists(t *testing.T) {
	t.Parallel()

	semantic := []Candidate{semBox(10, 10, 5, 5, 0.5, "")}
	fused := Fuse(nil, semantic, 0.3)
	require.Len(t, fused, 1)
	assert.Equal(t, ProvenanceSemantic, fused[0].Provenance)

	geometric := []Candidate{box(10, 10, 5, 5, 0.5)}
	fused = Fuse(geometric, nil, 0.3)
	require.Len(t, fused, 1)
	assert.Equal(t, ProvenanceGeometric, fused[0].Provenance)
}
