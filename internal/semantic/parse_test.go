package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysisCleanJSON(t *testing.T) {
	t.Parallel()

	payload := parseAnalysis(`{
		"interpretation": "duplex electrical outlet",
		"matches": [
			{"center_x": 300, "center_y": 100, "width": 20, "height": 20, "confidence": 0.9, "description": "outlet near door"}
		]
	}`)

	assert.Equal(t, "duplex electrical outlet", payload.Interpretation)
	require.Len(t, payload.Matches, 1)
	assert.InDelta(t, 300.0, payload.Matches[0].CenterX, 1e-9)
	assert.InDelta(t, 0.9, payload.Matches[0].Confidence, 1e-9)
}

func TestParseAnalysisMarkdownFence(t *testing.T) {
	t.Parallel()

	payload := parseAnalysis("Here is what I found:\n```json\n" +
		`{"interpretation": "door symbol", "matches": [{"center_x": 10, "center_y": 20, "width": 5, "height": 5, "confidence": 0.7, "description": ""}]}` +
		"\n```\nLet me know if you need more.")

	assert.Equal(t, "door symbol", payload.Interpretation)
	require.Len(t, payload.Matches, 1)
}

func TestParseAnalysisGarbage(t *testing.T) {
	t.Parallel()

	for _, response := range []string{
		"",
		"I could not find any symbols.",
		"{ not json at all",
		`{"matches": "wrong type"}`,
	} {
		payload := parseAnalysis(response)
		assert.Empty(t, payload.Matches, "response %q must yield zero matches", response)
	}
}

func TestParseAnalysisDropsInvalidAndClamps(t *testing.T) {
	t.Parallel()

	payload := parseAnalysis(`{"matches": [
		{"center_x": 1, "center_y": 1, "width": 0, "height": 10, "confidence": 0.5, "description": "no width"},
		{"center_x": 2, "center_y": 2, "width": 10, "height": 10, "confidence": 1.7, "description": "overconfident"},
		{"center_x": 3, "center_y": 3, "width": 10, "height": 10, "confidence": -0.2, "description": "negative"}
	]}`)

	require.Len(t, payload.Matches, 2)
	assert.InDelta(t, 1.0, payload.Matches[0].Confidence, 1e-9)
	assert.Zero(t, payload.Matches[1].Confidence)
}
