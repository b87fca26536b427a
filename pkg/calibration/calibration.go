// Package calibration estimates powder diffraction geometry from images of
// a calibration standard: the sample to detector distance and the beam
// center.
package calibration

import (
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"xraykit/internal/models"
	"xraykit/pkg/core"
	"xraykit/pkg/feature"
)

// ErrNoPeaks is returned when no ring survives peak filtering.
var ErrNoPeaks = errors.New("no peaks found")

// EstimateDBlind estimates the sample to detector distance from a radially
// integrated image of a calibration standard, without needing a starting
// guess. Every detected ring gives one estimate d = m / tan(2θ), where m is
// the ring's distance from the calibrated center.
//
// Parameters:
//   - name: Calibration standard, see LookupStandard
//   - wavelength: X-ray wavelength in Angstroms
//   - binCenters: Ring radius of every bin (mm)
//   - ringAverage: Mean intensity of every bin
//   - windowSize: Half width, in bins, of the peak search and refine window
//   - threshold: Minimum peak-to-peak range within the window for a peak
//   - maxPeakCount: Use at most this many rings; <= 0 uses all of them
//
// Returns:
//   - The mean and population standard deviation of the per-ring estimates
func EstimateDBlind(name string, wavelength float64, binCenters, ringAverage []float64,
	windowSize int, threshold float64, maxPeakCount int) (float64, float64, error) {
	if len(binCenters) != len(ringAverage) {
		return 0, 0, fmt.Errorf("%w: %d bin centers, %d averages", core.ErrLengthMismatch, len(binCenters), len(ringAverage))
	}
	cal, err := LookupStandard(name)
	if err != nil {
		return 0, 0, err
	}

	cands := feature.ArgRelMax(ringAverage, windowSize)
	cands = feature.FilterPeakHeight(ringAverage, cands, threshold, windowSize)
	peaksX, _, err := feature.PeakRefinement(binCenters, ringAverage, cands, windowSize, feature.RefineLogQuadratic)
	if err != nil {
		return 0, 0, err
	}

	twoTheta := cal.ConvertTwoTheta(wavelength)
	n := min(len(twoTheta), len(peaksX))
	if maxPeakCount > 0 {
		n = min(n, maxPeakCount)
	}
	if n == 0 {
		return 0, 0, ErrNoPeaks
	}

	d := make([]float64, n)
	for i := range d {
		d[i] = peaksX[i] / math.Tan(twoTheta[i])
	}
	mean, std := stat.PopMeanStdDev(d, nil)
	return mean, std, nil
}

// RefineOptions controls the radial binning and ring detection used by
// RefineCenter
type RefineOptions struct {
	// NX is the number of radial bins
	NX int

	// MinX and MaxX bound the radial range, in the units of the pixel size
	MinX float64
	MaxX float64

	// Window is the half width, in bins, used to locate rings
	Window int

	// Threshold is the minimum ring height
	Threshold float64

	// MaxPeaks is the number of rings to follow
	MaxPeaks int
}

// DefaultRefineOptions returns the standard ring detection settings
func DefaultRefineOptions() RefineOptions {
	return RefineOptions{
		NX:        750,
		MinX:      10,
		MaxX:      60,
		Window:    5,
		Threshold: 17000,
		MaxPeaks:  7,
	}
}

// RefineCenter refines the beam center from an image showing complete
// powder rings. The image is split into phiSteps-1 angular sectors, the
// rings are located in each sector, and the first Fourier term of the ring
// radius as a function of angle gives the center offset.
//
// Parameters:
//   - image: Calibration image
//   - center: Estimated (row, col) center in pixels
//   - pixelSize: (height, width) of a pixel
//   - phiSteps: Number of sector boundaries; should be above 10
//   - opts: Ring detection settings
//
// Returns:
//   - The refined (row, col) center
func RefineCenter(image *models.Image, center [2]float64, pixelSize [2]float64, phiSteps int, opts RefineOptions) ([2]float64, error) {
	if phiSteps < 3 {
		return center, fmt.Errorf("need at least 3 sector boundaries, got %d", phiSteps)
	}

	phi := core.AngleGrid(center, image.Rows, image.Cols, pixelSize)
	r := core.RadialGrid(center, image.Rows, image.Cols, pixelSize)

	bounds := floats.Span(make([]float64, phiSteps), -math.Pi, math.Pi)
	traces := make([][]float64, 0, phiSteps-1)
	for s := 0; s+1 < len(bounds); s++ {
		lo, hi := bounds[s], bounds[s+1]
		var sr, si []float64
		for i, p := range phi {
			if p > lo && p <= hi {
				sr = append(sr, r[i])
				si = append(si, image.Data[i])
			}
		}

		edges, sums, counts, err := core.Bin1D(sr, si, opts.NX, opts.MinX, opts.MaxX)
		if err != nil {
			return center, fmt.Errorf("sector %d: %w", s, err)
		}
		centers := core.BinEdgesToCenters(edges)

		var avg, binCenters []float64
		for b := range sums {
			if sums[b] > 0 {
				avg = append(avg, sums[b]/counts[b])
				binCenters = append(binCenters, centers[b])
			}
		}

		cands := feature.ArgRelMax(avg, opts.Window)
		cands = feature.FilterPeakHeight(avg, cands, opts.Threshold, opts.Window)
		if len(cands) > opts.MaxPeaks {
			cands = cands[:opts.MaxPeaks]
		}
		trace := make([]float64, len(cands))
		for k, c := range cands {
			trace[k] = binCenters[c]
		}
		traces = append(traces, trace)
	}

	counts := make([]int, len(traces))
	for i, tr := range traces {
		counts[i] = len(tr)
	}
	log.Printf("rings found per sector: %v", counts)
	for _, c := range counts {
		if c != counts[0] {
			return center, fmt.Errorf("sectors found different numbers of rings: %v", counts)
		}
	}
	if counts[0] == 0 {
		return center, ErrNoPeaks
	}

	// Mean radial offset of each sector from the ring averages
	numRings := counts[0]
	ringMean := make([]float64, numRings)
	for _, tr := range traces {
		floats.Add(ringMean, tr)
	}
	floats.Scale(1/float64(len(traces)), ringMean)

	meanDr := make([]float64, len(traces))
	for s, tr := range traces {
		var acc float64
		for k, v := range tr {
			acc += v - ringMean[k]
		}
		meanDr[s] = acc / float64(numRings)
	}

	phiCenters := core.BinEdgesToCenters(bounds)
	delta := (phiCenters[len(phiCenters)-1] - phiCenters[0]) / float64(len(phiCenters)-1)

	var colShift, rowShift float64
	for s, p := range phiCenters {
		colShift += math.Cos(p) * meanDr[s]
		rowShift += math.Sin(p) * meanDr[s]
	}
	colShift *= delta / (math.Pi * pixelSize[1])
	rowShift *= delta / (math.Pi * pixelSize[0])

	return [2]float64{center[0] + rowShift, center[1] + colShift}, nil
}
