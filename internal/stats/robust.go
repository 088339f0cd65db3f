// Package stats provides the robust statistics used by the relocation
// pipeline: median, median absolute deviation (MAD), and scaled MAD (SMAD).
//
// SMAD is the convergence signal for iterative steps. The terms themselves
// are never scaled or biased by these statistics.
package stats

import "sort"

// SMADFactor scales the MAD to approximate a standard deviation under a
// normal-residual assumption (1 / Phi^-1(3/4)).
const SMADFactor = 1.4826

// Median returns the median of xs, and false when xs is empty.
// The input slice is not modified.
func Median(xs []float64) (float64, bool) {
	n := len(xs)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

// MAD returns the median absolute deviation of xs, and false when xs is
// empty (an undefined dispersion, which the pipeline treats as "not yet
// converged", never as an error).
func MAD(xs []float64) (float64, bool) {
	med, ok := Median(xs)
	if !ok {
		return 0, false
	}
	dev := make([]float64, len(xs))
	for i, x := range xs {
		d := x - med
		if d < 0 {
			d = -d
		}
		dev[i] = d
	}
	return Median(dev)
}

// SMAD returns the scaled MAD of xs, and false when xs is empty.
func SMAD(xs []float64) (float64, bool) {
	mad, ok := MAD(xs)
	if !ok {
		return 0, false
	}
	return mad * SMADFactor, true
}

// WeightedMedian returns the weighted median of xs with the given positive
// weights: the smallest value at which the cumulative weight reaches half
// the total. Returns false when xs is empty or total weight is zero.
//
// This is the robust-average kernel for source-specific station terms:
// nearer neighbor events carry more weight but no single outlying residual
// can drag the term.
func WeightedMedian(xs, weights []float64) (float64, bool) {
	if len(xs) == 0 || len(xs) != len(weights) {
		return 0, false
	}

	type pair struct{ x, w float64 }
	pairs := make([]pair, len(xs))
	var total float64
	for i := range xs {
		pairs[i] = pair{xs[i], weights[i]}
		total += weights[i]
	}
	if total <= 0 {
		return 0, false
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

	half := total / 2
	var cum float64
	for i, p := range pairs {
		cum += p.w
		if cum >= half {
			// Exact half split: average with the next value, matching the
			// unweighted even-length median.
			if cum == half && i+1 < len(pairs) {
				return (p.x + pairs[i+1].x) / 2, true
			}
			return p.x, true
		}
	}
	return pairs[len(pairs)-1].x, true
}
