// Package histogram provides an N-dimensional histogram with uniform bins
// that can be filled incrementally.
package histogram

import (
	"fmt"

	vecmath "github.com/cwbudde/algo-vecmath"

	"xraykit/pkg/core"
)

// Axis describes the binning along one dimension
type Axis struct {
	// Bins is the number of bins
	Bins int

	// Low is the lower edge of the first bin (inclusive)
	Low float64

	// High is the upper edge of the last bin (exclusive)
	High float64
}

// Histogram accumulates weighted samples into a regular grid
type Histogram struct {
	axes    []Axis
	edges   [][]float64
	strides []int
	values  []float64
}

// New creates an empty histogram over the given axes
func New(axes ...Axis) (*Histogram, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("histogram needs at least one axis")
	}
	size := 1
	for i, a := range axes {
		if a.Bins < 1 {
			return nil, fmt.Errorf("axis %d: number of bins must be positive, got %d", i, a.Bins)
		}
		if !(a.High > a.Low) {
			return nil, fmt.Errorf("axis %d: invalid range [%g, %g)", i, a.Low, a.High)
		}
		size *= a.Bins
	}

	strides := make([]int, len(axes))
	stride := 1
	for i := len(axes) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= axes[i].Bins
	}

	edges := make([][]float64, len(axes))
	for i, a := range axes {
		edges[i] = core.UniformEdges(a.Bins, a.Low, a.High)
	}

	return &Histogram{
		axes:    append([]Axis(nil), axes...),
		edges:   edges,
		strides: strides,
		values:  make([]float64, size),
	}, nil
}

// Ndims returns the number of axes
func (h *Histogram) Ndims() int { return len(h.axes) }

// Shape returns the number of bins along every axis
func (h *Histogram) Shape() []int {
	shape := make([]int, len(h.axes))
	for i, a := range h.axes {
		shape[i] = a.Bins
	}
	return shape
}

// Fill adds samples to the histogram. coords holds one slice per axis, all
// of the same length. weights may be nil for unit weights. Samples outside
// [Low, High) on any axis are dropped.
func (h *Histogram) Fill(coords [][]float64, weights []float64) error {
	if len(coords) != len(h.axes) {
		return fmt.Errorf("expected %d coordinate slices, got %d", len(h.axes), len(coords))
	}
	n := len(coords[0])
	for i, c := range coords {
		if len(c) != n {
			return fmt.Errorf("%w: axis %d has %d samples, axis 0 has %d", core.ErrLengthMismatch, i, len(c), n)
		}
	}
	if weights != nil && len(weights) != n {
		return fmt.Errorf("%w: %d weights for %d samples", core.ErrLengthMismatch, len(weights), n)
	}

	for s := 0; s < n; s++ {
		flat := 0
		ok := true
		for d, a := range h.axes {
			b := bin(coords[d][s], a, h.edges[d])
			if b < 0 {
				ok = false
				break
			}
			flat += b * h.strides[d]
		}
		if !ok {
			continue
		}
		if weights == nil {
			h.values[flat]++
		} else {
			h.values[flat] += weights[s]
		}
	}
	return nil
}

// bin returns the bin k of x with edges[k] <= x < edges[k+1], or -1 when x
// is outside [Low, High)
func bin(x float64, a Axis, edges []float64) int {
	if !(x >= a.Low && x < a.High) {
		return -1
	}
	return core.BinIndex(x, edges)
}

// Values returns the accumulated totals in row-major order, the last axis
// varying fastest
func (h *Histogram) Values() []float64 {
	return h.values
}

// Total returns the sum of all bins
func (h *Histogram) Total() float64 {
	return vecmath.Sum(h.values)
}

// Reset clears all bins
func (h *Histogram) Reset() {
	clear(h.values)
}

// Edges returns the Bins+1 bin edges of every axis
func (h *Histogram) Edges() [][]float64 {
	edges := make([][]float64, len(h.edges))
	for i, e := range h.edges {
		edges[i] = append([]float64(nil), e...)
	}
	return edges
}

// Centers returns the bin centers along one axis
func (h *Histogram) Centers(axis int) ([]float64, error) {
	if axis < 0 || axis >= len(h.axes) {
		return nil, fmt.Errorf("axis %d out of range [0, %d)", axis, len(h.axes))
	}
	return core.BinEdgesToCenters(h.edges[axis]), nil
}
