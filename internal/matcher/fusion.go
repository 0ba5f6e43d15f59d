package matcher

// Fuse merges independently deduplicated geometric and semantic candidate
// lists into one canonical list. A semantic candidate overlapping a geometric
// one at or above the IoU threshold merges into it: the canonical score is
// the max of the two contributing scores, both are retained, and provenance
// becomes "both". Unmatched semantic candidates are appended as new
// detections.
func Fuse(geometric, semantic []Candidate, iouThreshold float64) []Candidate {
	if iouThreshold <= 0 {
		iouThreshold = DefaultSuppressionIoU
	}

	fused := make([]Candidate, len(geometric))
	copy(fused, geometric)

	boxes := make([]BBox, len(fused))
	for i := range fused {
		boxes[i] = fused[i].BBox()
	}

	for _, sem := range semantic {
		semBox := sem.BBox()
		merged := false
		for i := range fused {
			if IoU(boxes[i], semBox) < iouThreshold {
				continue
			}
			score := sem.Score
			fused[i].SemanticScore = &score
			// Max, not average: a confident finding from either method
			// should not be penalized by the other.
			if score > fused[i].Score {
				fused[i].Score = score
			}
			if fused[i].Description == "" {
				fused[i].Description = sem.Description
			}
			fused[i].Provenance = ProvenanceBoth
			merged = true
			break
		}
		if !merged {
			fused = append(fused, sem)
		}
	}

	return fused
}
