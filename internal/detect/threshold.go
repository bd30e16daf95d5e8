package detect

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Threshold picks the probability above which a mask pixel counts as covered.
type Threshold interface {
	// Cutoff returns the cutoff for one instance, given its resized
	// probabilities in [0,1]. Implementations must not modify probs.
	Cutoff(probs []float64) float64
}

// FixedThreshold is a constant cutoff.
type FixedThreshold float64

// Cutoff returns t.
func (t FixedThreshold) Cutoff([]float64) float64 { return float64(t) }

func (t FixedThreshold) String() string { return fmt.Sprintf("fixed(%g)", float64(t)) }

// PercentileThreshold derives the cutoff from the P-quantile of each
// instance's probabilities and clamps it to [Min, Max].
type PercentileThreshold struct {
	P   float64
	Min float64
	Max float64
}

// Cutoff returns the clamped quantile, or Min when probs is empty.
func (t PercentileThreshold) Cutoff(probs []float64) float64 {
	if len(probs) == 0 {
		return t.Min
	}
	sorted := slices.Clone(probs)
	slices.Sort(sorted)
	q := stat.Quantile(t.P, stat.Empirical, sorted, nil)
	return min(max(q, t.Min), t.Max)
}

func (t PercentileThreshold) String() string {
	return fmt.Sprintf("percentile(%g, %g..%g)", t.P, t.Min, t.Max)
}
