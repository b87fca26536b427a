// Package roi builds label masks for regions of interest on a detector and
// reduces images over them.
package roi

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"xraykit/internal/models"
	"xraykit/pkg/core"
)

// ErrLabelMismatch is returned when results computed over different label
// sets are combined.
var ErrLabelMismatch = errors.New("label sets differ")

// Rectangles builds a label mask from rectangles given as
// (row, col, height, width). Rectangle i gets label i+1, is clipped to the
// image, and overwrites any earlier rectangle it overlaps.
func Rectangles(roiData [][4]int, rows, cols int) (*models.Labels, error) {
	labels := models.NewLabels(rows, cols)
	for i, r := range roiData {
		if r[2] < 0 || r[3] < 0 {
			return nil, fmt.Errorf("rectangle %d has negative extent %dx%d", i, r[2], r[3])
		}
		r0, r1 := max(r[0], 0), min(r[0]+r[2], rows)
		c0, c1 := max(r[1], 0), min(r[1]+r[3], cols)
		for row := r0; row < r1; row++ {
			for col := c0; col < c1; col++ {
				labels.Set(row, col, i+1)
			}
		}
	}
	return labels, nil
}

// RectangleROIs lists the labelled pixels of the rectangles on a detector
// of detectorSize (rows, cols).
//
// Returns:
//   - The label of every labelled pixel, in row-major order
//   - The number of pixels of every rectangle
//   - The flat index of every labelled pixel
func RectangleROIs(roiData [][4]int, detectorSize [2]int) (labels []int, numPixels []int, pixels []int, err error) {
	mask, err := Rectangles(roiData, detectorSize[0], detectorSize[1])
	if err != nil {
		return nil, nil, nil, err
	}
	labels, pixels = core.ExtractLabelIndices(mask)
	numPixels = make([]int, len(roiData))
	copy(numPixels, core.PixelsPerLabel(mask))
	return labels, numPixels, pixels, nil
}

// RingEdges returns the (inner, outer) radius of numRings concentric rings
// starting at innerRadius.
//
// width holds either one value for all rings or one per ring. spacing holds
// no value (touching rings), one value, or numRings-1 gaps.
func RingEdges(innerRadius float64, width, spacing []float64, numRings int) ([][2]float64, error) {
	if numRings < 1 {
		return nil, fmt.Errorf("number of rings must be positive, got %d", numRings)
	}

	widths := make([]float64, numRings)
	switch len(width) {
	case 1:
		for i := range widths {
			widths[i] = width[0]
		}
	case numRings:
		copy(widths, width)
	default:
		return nil, fmt.Errorf("need 1 or %d widths, got %d", numRings, len(width))
	}

	gaps := make([]float64, numRings-1)
	switch len(spacing) {
	case 0:
	case 1:
		for i := range gaps {
			gaps[i] = spacing[0]
		}
	case numRings - 1:
		copy(gaps, spacing)
	default:
		return nil, fmt.Errorf("need 1 or %d spacings, got %d", numRings-1, len(spacing))
	}

	for i, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("ring %d has non-positive width %g", i, w)
		}
	}
	for i, g := range gaps {
		if g < 0 {
			return nil, fmt.Errorf("rings %d and %d overlap (spacing %g)", i, i+1, g)
		}
	}

	edges := make([][2]float64, numRings)
	lo := innerRadius
	for i := range edges {
		edges[i] = [2]float64{lo, lo + widths[i]}
		if i < len(gaps) {
			lo = edges[i][1] + gaps[i]
		}
	}
	return edges, nil
}

// Rings labels the pixels whose distance from center falls within each
// ring, lo <= r < hi. center is (row, col) and pixelSize is (height, width).
func Rings(edges [][2]float64, center [2]float64, rows, cols int, pixelSize [2]float64) (*models.Labels, error) {
	for i, e := range edges {
		if e[1] <= e[0] {
			return nil, fmt.Errorf("ring %d has edges %v", i, e)
		}
		if i > 0 && e[0] < edges[i-1][1] {
			return nil, fmt.Errorf("rings %d and %d overlap", i-1, i)
		}
	}
	r := core.RadialGrid(center, rows, cols, pixelSize)
	labels := models.NewLabels(rows, cols)
	for p, v := range r {
		for i, e := range edges {
			if v >= e[0] && v < e[1] {
				labels.Data[p] = i + 1
				break
			}
		}
	}
	return labels, nil
}

// index returns the sorted distinct non-zero labels of l
func index(l *models.Labels) []int {
	seen := make([]bool, l.Max()+1)
	for _, v := range l.Data {
		if v > 0 {
			seen[v] = true
		}
	}
	var out []int
	for v, ok := range seen {
		if ok {
			out = append(out, v)
		}
	}
	return out
}

// PixelValues returns the values of every labelled pixel grouped by label.
//
// Returns:
//   - One slice of values per label, in row-major pixel order
//   - The labels, in ascending order
func PixelValues(image *models.Image, labels *models.Labels) ([][]float64, []int, error) {
	if err := models.CheckShape(image, labels); err != nil {
		return nil, nil, err
	}
	idx := index(labels)
	pos := make(map[int]int, len(idx))
	for i, v := range idx {
		pos[v] = i
	}
	values := make([][]float64, len(idx))
	for p, v := range labels.Data {
		if v > 0 {
			values[pos[v]] = append(values[pos[v]], image.Data[p])
		}
	}
	return values, idx, nil
}

// MaxCounts returns the brightest labelled pixel over all images of all
// sets.
func MaxCounts(imageSets [][]*models.Image, labels *models.Labels) (float64, error) {
	best := math.Inf(-1)
	for s, set := range imageSets {
		for n, im := range set {
			if err := models.CheckShape(im, labels); err != nil {
				return 0, fmt.Errorf("set %d image %d: %w", s, n, err)
			}
			for p, v := range labels.Data {
				if v > 0 && im.Data[p] > best {
					best = im.Data[p]
				}
			}
		}
	}
	if math.IsInf(best, -1) {
		return 0, fmt.Errorf("no labelled pixels in any image")
	}
	return best, nil
}

// MeanIntensity returns the mean value of every label in every image.
//
// Returns:
//   - [image][label] means
//   - The labels, in ascending order
func MeanIntensity(images []*models.Image, labels *models.Labels) ([][]float64, []int, error) {
	idx := index(labels)
	pos := make(map[int]int, len(idx))
	for i, v := range idx {
		pos[v] = i
	}
	counts := make([]float64, len(idx))
	for _, v := range labels.Data {
		if v > 0 {
			counts[pos[v]]++
		}
	}

	out := make([][]float64, len(images))
	for n, im := range images {
		if err := models.CheckShape(im, labels); err != nil {
			return nil, nil, fmt.Errorf("image %d: %w", n, err)
		}
		sums := make([]float64, len(idx))
		for p, v := range labels.Data {
			if v > 0 {
				sums[pos[v]] += im.Data[p]
			}
		}
		floats.Div(sums, counts)
		out[n] = sums
	}
	return out, idx, nil
}

// MeanIntensitySets applies MeanIntensity to every image set.
func MeanIntensitySets(sets [][]*models.Image, labels *models.Labels) ([][][]float64, [][]int, error) {
	means := make([][][]float64, len(sets))
	indices := make([][]int, len(sets))
	for s, set := range sets {
		m, idx, err := MeanIntensity(set, labels)
		if err != nil {
			return nil, nil, fmt.Errorf("set %d: %w", s, err)
		}
		means[s] = m
		indices[s] = idx
	}
	return means, indices, nil
}

// CombineMeanIntensity concatenates the per-set results of
// MeanIntensitySets along the image axis. Every set must have been reduced
// over the same labels.
func CombineMeanIntensity(sets [][][]float64, indices [][]int) ([][]float64, error) {
	if len(sets) != len(indices) {
		return nil, fmt.Errorf("%w: %d sets, %d label lists", core.ErrLengthMismatch, len(sets), len(indices))
	}
	for s := 1; s < len(indices); s++ {
		if !equalInts(indices[s], indices[0]) {
			return nil, fmt.Errorf("%w: set %d has labels %v, set 0 has %v", ErrLabelMismatch, s, indices[s], indices[0])
		}
	}
	var out [][]float64
	for _, set := range sets {
		out = append(out, set...)
	}
	return out, nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AverageOptions controls CircularAverage
type AverageOptions struct {
	// Threshold is the minimum pixel count for a bin to be averaged;
	// bins at or below it report 0
	Threshold float64

	// NX is the number of radial bins
	NX int

	// MinX and MaxX bound the radial range. When both are zero the range of
	// the radial grid is used.
	MinX float64
	MaxX float64

	// PixelSize is (height, width) of a pixel
	PixelSize [2]float64
}

// DefaultAverageOptions returns 100 bins over the full image with unit
// pixels
func DefaultAverageOptions() AverageOptions {
	return AverageOptions{NX: 100, PixelSize: [2]float64{1, 1}}
}

// CircularAverage azimuthally averages an image about center (row, col).
//
// Returns:
//   - The radius of every bin center
//   - The mean intensity of every bin
func CircularAverage(image *models.Image, center [2]float64, opts AverageOptions) ([]float64, []float64, error) {
	r := core.RadialGrid(center, image.Rows, image.Cols, opts.PixelSize)
	var edges, sums, counts []float64
	var err error
	if opts.MinX == 0 && opts.MaxX == 0 {
		edges, sums, counts, err = core.Bin1DData(r, image.Data, opts.NX)
	} else {
		edges, sums, counts, err = core.Bin1D(r, image.Data, opts.NX, opts.MinX, opts.MaxX)
	}
	if err != nil {
		return nil, nil, err
	}
	avg := make([]float64, len(sums))
	for i := range sums {
		if counts[i] > opts.Threshold {
			avg[i] = sums[i] / counts[i]
		}
	}
	return core.BinEdgesToCenters(edges), avg, nil
}

// Kymograph returns the pixels of label num in every image, giving an
// [image][pixel] intensity map over time.
func Kymograph(images []*models.Image, labels *models.Labels, num int) ([][]float64, error) {
	var pixels []int
	for p, v := range labels.Data {
		if v == num {
			pixels = append(pixels, p)
		}
	}
	if len(pixels) == 0 {
		return nil, fmt.Errorf("label %d has no pixels", num)
	}
	out := make([][]float64, len(images))
	for n, im := range images {
		if err := models.CheckShape(im, labels); err != nil {
			return nil, fmt.Errorf("image %d: %w", n, err)
		}
		row := make([]float64, len(pixels))
		for k, p := range pixels {
			row[k] = im.Data[p]
		}
		out[n] = row
	}
	return out, nil
}
