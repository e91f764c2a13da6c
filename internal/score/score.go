// Package score holds the probability arithmetic shared by the rule engine,
// the keyword scorer and the decision processor.
package score

import "math"

// NoisyOR combines independent 0-100 scores as 1 - Π(1 - p_i), rounded to
// the nearest integer. Inputs outside 0-100 are clamped.
func NoisyOR(scores []int) int {
	if len(scores) == 0 {
		return 0
	}

	miss := 1.0
	for _, s := range scores {
		p := float64(Clamp(s)) / 100.0
		miss *= 1.0 - p
	}

	return Clamp(int(math.Round(100.0 * (1.0 - miss))))
}

// Blend returns round(ruleWeight*rule + keywordWeight*keyword), clamped to 0-100.
func Blend(rule, keyword int, ruleWeight, keywordWeight float64) int {
	combined := ruleWeight*float64(rule) + keywordWeight*float64(keyword)
	return Clamp(int(math.Round(combined)))
}

// Clamp bounds a score to 0-100.
func Clamp(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
