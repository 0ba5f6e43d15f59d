package semantic

import (
	"encoding/json"
	"strings"
)

// analysisPayload is the strict JSON shape the vision model is instructed to
// return.
type analysisPayload struct {
	Interpretation string        `json:"interpretation"`
	Matches        []matchResult `json:"matches"`
}

type matchResult struct {
	CenterX     float64 `json:"center_x"`
	CenterY     float64 `json:"center_y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// parseAnalysis extracts the first well-formed JSON object from the model's
// free-text response. Models wrap output in markdown fences or prose despite
// instructions; anything that does not parse is treated as zero matches,
// never as a failure.
func parseAnalysis(response string) analysisPayload {
	var payload analysisPayload

	idx := strings.Index(response, "{")
	if idx == -1 {
		return payload
	}

	// The decoder stops after the first complete JSON value, so trailing
	// prose or fence markers are ignored.
	dec := json.NewDecoder(strings.NewReader(response[idx:]))
	if err := dec.Decode(&payload); err != nil {
		return analysisPayload{}
	}

	// Drop items that cannot describe a region and clamp confidences into
	// the canonical score range.
	valid := payload.Matches[:0]
	for _, m := range payload.Matches {
		if m.Width <= 0 || m.Height <= 0 {
			continue
		}
		if m.Confidence < 0 {
			m.Confidence = 0
		}
		if m.Confidence > 1 {
			m.Confidence = 1
		}
		valid = append(valid, m)
	}
	payload.Matches = valid
	return payload
}
