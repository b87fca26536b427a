// Package core provides numeric helpers shared by the analysis packages:
// binning, detector geometry grids and label bookkeeping.
package core

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"xraykit/internal/models"
)

// ErrLengthMismatch is returned when paired inputs have different lengths.
var ErrLengthMismatch = errors.New("length mismatch")

// BinEdgesToCenters returns the midpoint of every pair of consecutive edges.
func BinEdgesToCenters(edges []float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	centers := make([]float64, len(edges)-1)
	for i := range centers {
		centers[i] = (edges[i] + edges[i+1]) / 2
	}
	return centers
}

// GeometricSeries returns 1, r, r^2, ... up to and including maxValue.
func GeometricSeries(ratio, maxValue int) ([]int, error) {
	if ratio < 2 {
		return nil, fmt.Errorf("ratio must be at least 2, got %d", ratio)
	}
	if maxValue < 1 {
		return nil, fmt.Errorf("maximum value must be positive, got %d", maxValue)
	}
	var series []int
	for v := 1; v <= maxValue; v *= ratio {
		series = append(series, v)
	}
	return series, nil
}

// DataRange returns the smallest and largest value of x.
func DataRange(x []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	return floats.Min(x), floats.Max(x)
}

// UniformEdges returns nx+1 evenly spaced edges from lo to hi.
func UniformEdges(nx int, lo, hi float64) []float64 {
	edges := make([]float64, nx+1)
	step := (hi - lo) / float64(nx)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[nx] = hi
	return edges
}

// BinIndex returns the bin of v among uniform edges, or -1 when v is outside
// [edges[0], edges[n]]. The last bin is closed on the right.
func BinIndex(v float64, edges []float64) int {
	n := len(edges) - 1
	lo, hi := edges[0], edges[n]
	if v < lo || v > hi || math.IsNaN(v) {
		return -1
	}
	idx := int((v - lo) * float64(n) / (hi - lo))
	if idx >= n {
		idx = n - 1
	}
	// Floating point can put v one bin off the edge it is compared against
	if idx > 0 && v < edges[idx] {
		idx--
	}
	if idx < n-1 && v >= edges[idx+1] {
		idx++
	}
	return idx
}

// Bin1D bins the values y by their positions x into nx equal bins spanning
// [minX, maxX]. Points outside the range are dropped.
//
// Returns:
//   - edges: nx+1 bin edges
//   - sums: sum of y in each bin
//   - counts: number of points in each bin
func Bin1D(x, y []float64, nx int, minX, maxX float64) (edges, sums, counts []float64, err error) {
	if len(x) != len(y) {
		return nil, nil, nil, fmt.Errorf("%w: %d positions, %d values", ErrLengthMismatch, len(x), len(y))
	}
	if nx < 1 {
		return nil, nil, nil, fmt.Errorf("number of bins must be positive, got %d", nx)
	}
	if minX > maxX {
		return nil, nil, nil, fmt.Errorf("invalid bin range [%g, %g]", minX, maxX)
	}
	if minX == maxX {
		minX -= 0.5
		maxX += 0.5
	}

	edges = UniformEdges(nx, minX, maxX)
	sums = make([]float64, nx)
	counts = make([]float64, nx)
	for i, v := range x {
		idx := BinIndex(v, edges)
		if idx < 0 {
			continue
		}
		sums[idx] += y[i]
		counts[idx]++
	}
	return edges, sums, counts, nil
}

// DefaultBins is the number of bins Bin1DData uses when none is given
const DefaultBins = 100

// Bin1DData bins like Bin1D over the data range of x. A non-positive nx
// uses DefaultBins.
func Bin1DData(x, y []float64, nx int) (edges, sums, counts []float64, err error) {
	if nx <= 0 {
		nx = DefaultBins
	}
	lo, hi := DataRange(x)
	return Bin1D(x, y, nx, lo, hi)
}

// RadialGrid returns the distance of every pixel from center, in the units of
// pixelSize. center is (row, col) in pixels and pixelSize is (height, width).
func RadialGrid(center [2]float64, rows, cols int, pixelSize [2]float64) []float64 {
	grid := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		dy := pixelSize[0] * (float64(r) - center[0])
		for c := 0; c < cols; c++ {
			dx := pixelSize[1] * (float64(c) - center[1])
			grid[r*cols+c] = math.Sqrt(dx*dx + dy*dy)
		}
	}
	return grid
}

// AngleGrid returns the polar angle of every pixel about center, measured
// from the column axis towards the row axis, in (-pi, pi].
func AngleGrid(center [2]float64, rows, cols int, pixelSize [2]float64) []float64 {
	grid := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		dy := pixelSize[0] * (float64(r) - center[0])
		for c := 0; c < cols; c++ {
			dx := pixelSize[1] * (float64(c) - center[1])
			grid[r*cols+c] = math.Atan2(dy, dx)
		}
	}
	return grid
}

// ExtractLabelIndices returns the non-zero labels of l together with the
// flat row-major index of each labelled pixel.
func ExtractLabelIndices(l *models.Labels) (labels, indices []int) {
	for i, v := range l.Data {
		if v != 0 {
			labels = append(labels, v)
			indices = append(indices, i)
		}
	}
	return labels, indices
}

// PixelsPerLabel counts the pixels of every label 1..max.
func PixelsPerLabel(l *models.Labels) []int {
	counts := make([]int, l.Max())
	for _, v := range l.Data {
		if v > 0 {
			counts[v-1]++
		}
	}
	return counts
}
