package matcher

import "sort"

// DefaultSuppressionIoU is the overlap above which the lower-scoring of two
// candidates is discarded.
const DefaultSuppressionIoU = 0.3

// Suppress applies greedy non-maximum suppression: candidates are taken in
// descending score order and every remaining candidate overlapping the kept
// one by more than the IoU threshold is discarded. The result keeps score
// order. IoU is computed on axis-aligned boxes, an accepted approximation for
// rotated matches.
func Suppress(candidates []Candidate, iouThreshold float64) []Candidate {
	if iouThreshold <= 0 {
		iouThreshold = DefaultSuppressionIoU
	}
	if len(candidates) <= 1 {
		return candidates
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	boxes := make([]BBox, len(sorted))
	for i := range sorted {
		boxes[i] = sorted[i].BBox()
	}

	suppressed := make([]bool, len(sorted))
	kept := make([]Candidate, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if IoU(boxes[i], boxes[j]) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
