// Package feature finds and refines peaks in one-dimensional profiles.
package feature

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"xraykit/pkg/spectroscopy"
)

// RefineFunc refines a peak from the samples around it and returns its
// position and height.
type RefineFunc func(x, y []float64) (float64, float64, error)

// ArgRelMax returns the indices of y that are strictly greater than every
// other sample within order positions on both sides. Neighbours beyond the
// ends of y are clipped to the end sample, so the first and last samples are
// never reported.
func ArgRelMax(y []float64, order int) []int {
	if order < 1 {
		order = 1
	}
	last := len(y) - 1
	var out []int
	for i := range y {
		isMax := true
		for k := 1; k <= order && isMax; k++ {
			left := max(i-k, 0)
			right := min(i+k, last)
			if !(y[i] > y[left]) || !(y[i] > y[right]) {
				isMax = false
			}
		}
		if isMax {
			out = append(out, i)
		}
	}
	return out
}

// FilterPeakHeight keeps the candidates whose peak-to-peak range within
// window samples exceeds threshold.
func FilterPeakHeight(y []float64, candidates []int, threshold float64, window int) []int {
	var out []int
	for _, c := range candidates {
		lo := max(0, c-window)
		hi := min(len(y), c+window+1)
		seg := y[lo:hi]
		if floats.Max(seg)-floats.Min(seg) > threshold {
			out = append(out, c)
		}
	}
	return out
}

// FilterNLargest keeps the n candidates with the largest values of y,
// returned in ascending index order.
func FilterNLargest(y []float64, candidates []int, n int) []int {
	if n >= len(candidates) {
		return append([]int(nil), candidates...)
	}
	sorted := append([]int(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return y[sorted[i]] > y[sorted[j]] })
	out := sorted[:n]
	sort.Ints(out)
	return out
}

// PeakRefinement refines every candidate using refine on the samples within
// window+1 positions of it.
//
// Returns:
//   - The refined x and y of every candidate, in candidate order
func PeakRefinement(x, y []float64, candidates []int, window int, refine RefineFunc) ([]float64, []float64, error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d x values, %d y values", spectroscopy.ErrLengthMismatch, len(x), len(y))
	}
	outX := make([]float64, len(candidates))
	outY := make([]float64, len(candidates))
	for j, c := range candidates {
		lo := max(0, c-window-1)
		hi := min(len(x), c+window+2)
		px, py, err := refine(x[lo:hi], y[lo:hi])
		if err != nil {
			return nil, nil, fmt.Errorf("refining peak at %d: %w", c, err)
		}
		outX[j] = px
		outY[j] = py
	}
	return outX, outY, nil
}

// RefineQuadratic returns the vertex of the least-squares parabola through
// the samples.
func RefineQuadratic(x, y []float64) (float64, float64, error) {
	q, _, err := spectroscopy.FitQuadToPeak(x, y)
	if err != nil {
		return 0, 0, err
	}
	return q.X0, q.Y0, nil
}

// RefineLogQuadratic fits a parabola to log(y), which models a Gaussian peak
// exactly, and returns its center and height.
func RefineLogQuadratic(x, y []float64) (float64, float64, error) {
	logY := make([]float64, len(y))
	for i, v := range y {
		logY[i] = math.Log(v)
	}
	q, _, err := spectroscopy.FitQuadToPeak(x, logY)
	if err != nil {
		return 0, 0, err
	}
	return q.X0, math.Exp(q.Y0), nil
}

// WithRThreshold wraps a refinement so that fits whose coefficient of
// determination falls below rMin report NaN.
func WithRThreshold(rMin float64, useLog bool) RefineFunc {
	return func(x, y []float64) (float64, float64, error) {
		yy := y
		if useLog {
			yy = make([]float64, len(y))
			for i, v := range y {
				yy[i] = math.Log(v)
			}
		}
		q, r2, err := spectroscopy.FitQuadToPeak(x, yy)
		if err != nil {
			return 0, 0, err
		}
		if r2 < rMin {
			return math.NaN(), math.NaN(), nil
		}
		if useLog {
			return q.X0, math.Exp(q.Y0), nil
		}
		return q.X0, q.Y0, nil
	}
}
