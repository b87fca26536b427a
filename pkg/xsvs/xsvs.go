// Package xsvs implements X-ray speckle visibility spectroscopy: the
// probability density of photon counts in speckle patterns as a function of
// integration time.
//
// References:
//   - L. Li et al., "Photon statistics and speckle visibility spectroscopy
//     with partially coherent x-rays", J. Synchrotron Rad. 21 (2014) 1288.
//   - R. Bandyopadhyay et al., "Speckle-visibility spectroscopy: a tool to
//     study time-varying dynamics", Rev. Sci. Instrum. 76 (2005) 093110.
package xsvs

import (
	"fmt"
	"log"
	"math"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"xraykit/internal/models"
	"xraykit/pkg/core"
	"xraykit/pkg/roi"
)

// Options controls the integration times and histogram range
type Options struct {
	// TimebinNum is the ratio between consecutive integration times
	TimebinNum int

	// NumberOfImg is the largest integration time in frames. Zero uses the
	// length of the longest image set.
	NumberOfImg int

	// MaxCts is the photon count range of the first integration time. Zero
	// uses the brightest labelled pixel of any image.
	MaxCts int
}

// DefaultOptions returns the usual factor-of-two integration times over 50
// frames
func DefaultOptions() Options {
	return Options{TimebinNum: 2, NumberOfImg: 50}
}

// Result holds the photon count distributions indexed by
// [integration time][ROI][count bin]
type Result struct {
	// Prob is the mean probability density
	Prob [][][]float64

	// StdDev is the standard deviation of the probability density
	StdDev [][][]float64

	// TimeBins are the integration times in frames
	TimeBins []int

	// MaxCts is the count range used for the first integration time
	MaxCts int
}

// level tracks the running statistics of one integration time within one
// image set
type level struct {
	count   int
	pending []float64
	prob    [][]float64
	probPow [][]float64
}

// XSVS computes the probability density of detecting K photons in every ROI
// for the integration times GeometricSeries(TimebinNum, NumberOfImg). Level
// 0 histograms single frames; level L histograms the sum of two consecutive
// level L-1 frames. Densities are averaged over the frames of a set and
// then over the sets.
func XSVS(imageSets [][]*models.Image, labels *models.Labels, opts Options) (*Result, error) {
	numberOfImg := opts.NumberOfImg
	if numberOfImg <= 0 {
		for _, set := range imageSets {
			numberOfImg = max(numberOfImg, len(set))
		}
	}
	timeBins, err := core.GeometricSeries(opts.TimebinNum, numberOfImg)
	if err != nil {
		return nil, fmt.Errorf("integration times: %w", err)
	}

	maxCts := opts.MaxCts
	if maxCts <= 0 {
		m, err := roi.MaxCounts(imageSets, labels)
		if err != nil {
			return nil, err
		}
		maxCts = int(math.Ceil(m))
	}
	if maxCts < 2 {
		return nil, fmt.Errorf("maximum count must be at least 2, got %d", maxCts)
	}

	numROI := labels.Max()
	numTimes := len(timeBins)
	labelOf, indices := core.ExtractLabelIndices(labels)

	// pixel positions of every ROI within the extracted pixel vector
	members := make([][]int, numROI)
	for _, l := range labelOf {
		if l < 0 {
			return nil, fmt.Errorf("labels must be non-negative, got %d", l)
		}
	}
	for k, l := range labelOf {
		members[l-1] = append(members[l-1], k)
	}

	res := &Result{
		Prob:     newStats(numTimes, numROI, maxCts),
		StdDev:   newStats(numTimes, numROI, maxCts),
		TimeBins: timeBins,
		MaxCts:   maxCts,
	}
	probPowAll := newStats(numTimes, numROI, maxCts)

	start := time.Now()
	for s, images := range imageSets {
		levels := make([]level, numTimes)
		for i := range levels {
			levels[i].prob = newStats(1, numROI, maxCts<<i)[0]
			levels[i].probPow = newStats(1, numROI, maxCts<<i)[0]
		}

		for n, im := range images {
			if err := models.CheckShape(im, labels); err != nil {
				return nil, fmt.Errorf("set %d image %d: %w", s, n, err)
			}
			frame := make([]float64, len(indices))
			for k, p := range indices {
				frame[k] = im.Data[p]
			}

			for lv := 0; lv < numTimes; lv++ {
				levels[lv].accumulate(frame, members, maxCts<<lv)
				if lv+1 == numTimes {
					break
				}
				next := &levels[lv+1]
				if next.pending == nil {
					next.pending = frame
					break
				}
				summed := make([]float64, len(frame))
				vecmath.AddBlock(summed, next.pending, frame)
				next.pending = nil
				frame = summed
			}
		}

		// fold this set into the mean over sets
		w := float64(s)
		for lv := range levels {
			for j := 0; j < numROI; j++ {
				runningMean(res.Prob[lv][j], levels[lv].prob[j], w)
				runningMean(probPowAll[lv][j], levels[lv].probPow[j], w)
			}
		}
	}

	for lv := range res.Prob {
		for j := range res.Prob[lv] {
			sq := make([]float64, len(res.Prob[lv][j]))
			vecmath.MulBlock(sq, res.Prob[lv][j], res.Prob[lv][j])
			for b, v := range probPowAll[lv][j] {
				res.StdDev[lv][j][b] = math.Sqrt(math.Max(v-sq[b], 0))
			}
		}
	}

	log.Printf("Processing time for XSVS took %v", time.Since(start))
	return res, nil
}

// accumulate histograms one frame of this level and folds it into the
// running means
func (l *level) accumulate(frame []float64, members [][]int, numEdges int) {
	l.count++
	w := float64(l.count - 1)
	hist := make([]float64, numEdges-1)
	sq := make([]float64, numEdges-1)
	for j, px := range members {
		density(hist, frame, px)
		vecmath.MulBlock(sq, hist, hist)
		runningMean(l.prob[j], hist, w)
		runningMean(l.probPow[j], sq, w)
	}
}

// density fills hist with the normalised histogram of the pixels px of
// frame over the integer edges 0, 1, ..., len(hist). The last bin includes
// its upper edge. With no pixel in range hist is all zero.
func density(hist, frame []float64, px []int) {
	clear(hist)
	hi := float64(len(hist))
	var n float64
	for _, k := range px {
		v := frame[k]
		if !(v >= 0 && v <= hi) {
			continue
		}
		b := min(int(v), len(hist)-1)
		hist[b]++
		n++
	}
	if n > 0 {
		vecmath.ScaleBlockInPlace(hist, 1/n)
	}
}

// runningMean updates mean, which averages w samples, with sample x
func runningMean(mean, x []float64, w float64) {
	vecmath.ScaleBlockInPlace(mean, w)
	vecmath.AddMulBlock(mean, mean, x, 1/(w+1))
}

// newStats allocates [numTimes][numROI] zeroed histograms with
// maxCts*2^i - 1 bins at time i
func newStats(numTimes, numROI, maxCts int) [][][]float64 {
	out := make([][][]float64, numTimes)
	for i := range out {
		out[i] = make([][]float64, numROI)
		for j := range out[i] {
			out[i][j] = make([]float64, (maxCts<<i)-1)
		}
	}
	return out
}

// NormalizeBinEdges returns the photon count bin edges of every integration
// time and ROI divided by the mean count of the ROI, together with the bin
// centers.
func NormalizeBinEdges(numTimes, numROIs int, meanROI []float64, maxCts int) ([][][]float64, [][][]float64, error) {
	if len(meanROI) != numROIs {
		return nil, nil, fmt.Errorf("%w: %d means for %d ROIs", core.ErrLengthMismatch, len(meanROI), numROIs)
	}
	edges := make([][][]float64, numTimes)
	centers := make([][][]float64, numTimes)
	for i := 0; i < numTimes; i++ {
		edges[i] = make([][]float64, numROIs)
		centers[i] = make([][]float64, numROIs)
		scale := float64(int(1) << i)
		for j := 0; j < numROIs; j++ {
			e := make([]float64, maxCts<<i)
			for k := range e {
				e[k] = float64(k) / (meanROI[j] * scale)
			}
			edges[i][j] = e
			centers[i][j] = core.BinEdgesToCenters(e)
		}
	}
	return edges, centers, nil
}
