package detect

import (
	"cmp"
	"slices"
)

// NMS runs greedy non-maximum suppression independently within each class.
// Detections are visited in descending score order; a detection is dropped
// when its IoU with an already kept detection of the same class exceeds
// threshold. The result is ordered by descending score.
func NMS(dets []Detection, threshold float32) []Detection {
	sorted := slices.Clone(dets)
	slices.SortStableFunc(sorted, func(a, b Detection) int {
		return cmp.Compare(b.Score, a.Score)
	})

	kept := make([]Detection, 0, len(sorted))
	byClass := make(map[int][]Box)
	for _, d := range sorted {
		suppressed := false
		for _, k := range byClass[d.ClassID] {
			if IoU(d.Box, k) > threshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		byClass[d.ClassID] = append(byClass[d.ClassID], d.Box)
		kept = append(kept, d)
	}
	return kept
}
