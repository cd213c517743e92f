package pipeline

import (
	"sort"
)

// IoU returns the intersection-over-union of two corner-form boxes. Boxes
// with non-positive extent, and pairs whose intersection has non-positive
// extent, score 0.
func IoU(a, b Box) float32 {
	if a.Area() <= 0 || b.Area() <= 0 {
		return 0
	}

	iw := min(a.Right, b.Right) - max(a.Left, b.Left)
	if iw <= 0 {
		return 0
	}
	ih := min(a.Bottom, b.Bottom) - max(a.Top, b.Top)
	if ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Suppress applies greedy non-max suppression: the highest-confidence
// detection is kept and every remaining detection overlapping it beyond
// iouThreshold is removed, until no candidates remain. The sort is stable so
// confidence ties resolve by input order, keeping the result deterministic.
// Output is a subset of the input, ordered by confidence descending.
// O(n^2), fine for the small post-filter candidate counts seen per frame.
func Suppress(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) <= 1 {
		return detections
	}

	ordered := make([]Detection, len(detections))
	copy(ordered, detections)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	kept := make([]Detection, 0, len(ordered))
	suppressed := make([]bool, len(ordered))

	for i := range ordered {
		if suppressed[i] {
			continue
		}
		kept = append(kept, ordered[i])
		for j := i + 1; j < len(ordered); j++ {
			if suppressed[j] {
				continue
			}
			if IoU(ordered[i].Box, ordered[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
