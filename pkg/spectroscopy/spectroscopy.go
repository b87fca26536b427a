// Package spectroscopy provides one-dimensional spectrum helpers: quadratic
// peak fits, peak alignment and region integration.
package spectroscopy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrTooFewPoints is returned when a fit has fewer samples than parameters.
	ErrTooFewPoints = errors.New("insufficient points for fit")

	// ErrLengthMismatch is returned when paired slices differ in length.
	ErrLengthMismatch = errors.New("length mismatch")
)

// Quadratic describes y = A*(x - X0)^2 + Y0.
type Quadratic struct {
	A  float64
	X0 float64
	Y0 float64
}

// FitQuadToPeak fits a parabola to (x, y) by linear least squares and
// returns it in vertex form together with the coefficient of determination.
func FitQuadToPeak(x, y []float64) (Quadratic, float64, error) {
	n := len(x)
	if n != len(y) {
		return Quadratic{}, 0, fmt.Errorf("%w: %d x values, %d y values", ErrLengthMismatch, n, len(y))
	}
	if n < 3 {
		return Quadratic{}, 0, fmt.Errorf("%w: got %d", ErrTooFewPoints, n)
	}

	design := mat.NewDense(n, 3, nil)
	for i, v := range x {
		design.Set(i, 0, v*v)
		design.Set(i, 1, v)
		design.Set(i, 2, 1)
	}
	obs := mat.NewDense(n, 1, append([]float64(nil), y...))

	var beta mat.Dense
	if err := beta.Solve(design, obs); err != nil {
		return Quadratic{}, 0, fmt.Errorf("least squares fit failed: %w", err)
	}
	a, b, c := beta.At(0, 0), beta.At(1, 0), beta.At(2, 0)

	// Coefficient of determination
	mean := stat.Mean(y, nil)
	var ssErr, ssTot float64
	for i, v := range x {
		d := a*v*v + b*v + c - y[i]
		ssErr += d * d
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	r2 := 1 - ssErr/ssTot

	half := b / (2 * a)
	return Quadratic{A: a, X0: -half, Y0: c - a*half*half}, r2, nil
}

// Peak summarises a peak as a Gaussian.
type Peak struct {
	Center float64
	Height float64
	Sigma  float64
}

// PeakFinder locates the dominant peak of a spectrum.
type PeakFinder func(x, y []float64) (Peak, error)

// FindLargestPeak estimates the location, height and width of the largest
// peak by fitting a parabola to the log of the counts within window samples
// of the maximum. The top of the peak is assumed to be Gaussian.
func FindLargestPeak(x, y []float64, window int) (Peak, error) {
	if len(x) != len(y) {
		return Peak{}, fmt.Errorf("%w: %d x values, %d y values", ErrLengthMismatch, len(x), len(y))
	}
	if len(y) == 0 {
		return Peak{}, fmt.Errorf("%w: empty spectrum", ErrTooFewPoints)
	}

	j := floats.MaxIdx(y)
	lo := max(j-window, 0)
	hi := min(j+window+1, len(y))

	logY := make([]float64, hi-lo)
	for i := range logY {
		logY[i] = math.Log(y[lo+i])
	}
	q, _, err := FitQuadToPeak(x[lo:hi], logY)
	if err != nil {
		return Peak{}, err
	}
	return Peak{
		Center: q.X0,
		Height: math.Exp(q.Y0),
		Sigma:  1 / math.Sqrt(-2*q.A),
	}, nil
}

// AlignAndScale shifts every energy axis so that its largest peak sits at
// zero and rescales it to the width of the first spectrum's peak. A nil
// finder uses FindLargestPeak with a window of 5.
func AlignAndScale(energies, counts [][]float64, finder PeakFinder) ([][]float64, [][]float64, error) {
	if len(energies) != len(counts) {
		return nil, nil, fmt.Errorf("%w: %d energy axes, %d spectra", ErrLengthMismatch, len(energies), len(counts))
	}
	if finder == nil {
		finder = func(x, y []float64) (Peak, error) { return FindLargestPeak(x, y, 5) }
	}

	outE := make([][]float64, len(energies))
	outC := make([][]float64, len(counts))
	var baseSigma float64
	for i, e := range energies {
		pk, err := finder(e, counts[i])
		if err != nil {
			return nil, nil, fmt.Errorf("spectrum %d: %w", i, err)
		}
		if i == 0 {
			baseSigma = pk.Sigma
		}
		scaled := make([]float64, len(e))
		for k, v := range e {
			scaled[k] = (v - pk.Center) * baseSigma / pk.Sigma
		}
		outE[i] = scaled
		outC[i] = counts[i]
	}
	return outE, outC, nil
}

// IntegrateROI integrates counts over one or more [xMin, xMax] regions of
// an evenly spaced spectrum with Simpson's rule and returns the sum. A
// decreasing x axis is reversed together with its counts.
//
// Each region runs from the first sample at or above xMin through the
// first sample at or above xMax.
func IntegrateROI(x, counts, xMin, xMax []float64) (float64, error) {
	if len(x) != len(counts) {
		return 0, fmt.Errorf("%w: %d x values, %d counts", ErrLengthMismatch, len(x), len(counts))
	}
	if len(x) < 2 {
		return 0, fmt.Errorf("%w: spectrum has %d samples", ErrTooFewPoints, len(x))
	}

	x = append([]float64(nil), x...)
	counts = append([]float64(nil), counts...)
	if x[1] < x[0] {
		floats.Reverse(x)
		floats.Reverse(counts)
	}

	step := x[1] - x[0]
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d <= 0 || math.Abs(d/step-1) > 1e-9 {
			return 0, errors.New("x values must be evenly spaced and monotonic")
		}
	}

	if len(xMin) != len(xMax) {
		return 0, errors.New("integration bounds must have same lengths")
	}
	for i := range xMin {
		if xMin[i] >= xMax[i] {
			return 0, errors.New("lower integration bound must be less than upper integration bound")
		}
		if xMin[i] <= x[0] {
			return 0, errors.New("lower integration bound must be greater than the lowest value in the spectrum")
		}
		if xMax[i] >= x[len(x)-1] {
			return 0, errors.New("upper integration bound must be less than the highest value in the spectrum")
		}
	}

	var accum float64
	for i := range xMin {
		bot := sort.SearchFloat64s(x, xMin[i])
		top := sort.SearchFloat64s(x, xMax[i]) + 1
		accum += integrateSegment(x[bot:top], counts[bot:top])
	}
	return accum, nil
}

// integrateSegment applies Simpson's rule, falling back to the trapezoid
// rule for two samples.
func integrateSegment(x, y []float64) float64 {
	switch {
	case len(x) >= 3:
		return integrate.Simpsons(x, y)
	case len(x) == 2:
		return integrate.Trapezoidal(x, y)
	default:
		return 0
	}
}
