package run

import "maps"

// ClassWeights resolves the loss weights for the given per-class event counts.
// A custom map that does not name exactly the training classes falls back to
// balanced weights; fellBack reports that case.
func ClassWeights(lw LossWeights, counts map[int]int) (weights map[int]float64, fellBack bool) {
	switch lw.Mode {
	case WeightsBalanced:
		return balanced(counts), false
	case WeightsCustom:
		if sameKeys(lw.Custom, counts) {
			return maps.Clone(lw.Custom), false
		}
		return balanced(counts), true
	default:
		return nil, false
	}
}

// balanced weights each class by max(count) / count.
func balanced(counts map[int]int) map[int]float64 {
	maxCount := 0
	for _, n := range counts {
		maxCount = max(maxCount, n)
	}
	out := make(map[int]float64, len(counts))
	for class, n := range counts {
		if n > 0 {
			out[class] = float64(maxCount) / float64(n)
		}
	}
	return out
}

func sameKeys(a map[int]float64, b map[int]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}
