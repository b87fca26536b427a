package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"xraykit/internal/fftn"
	"xraykit/internal/models"
	"xraykit/pkg/calibration"
	"xraykit/pkg/cdi"
	"xraykit/pkg/dpc"
	"xraykit/pkg/feature"
	"xraykit/pkg/histogram"
	"xraykit/pkg/roi"
	"xraykit/pkg/visualization"
	"xraykit/pkg/xsvs"
)

// writeTable writes whitespace separated columns under a # header line
func writeTable(path string, header []string, rows [][]float64) error {
	var b strings.Builder
	b.WriteString("# " + strings.Join(header, " ") + "\n")
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(v, 'g', 10, 64))
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// centerOrDefault returns c, or the middle of the frame when c is zero
func (r *Runner) centerOrDefault(c [2]float64) [2]float64 {
	if c == ([2]float64{}) {
		return [2]float64{float64(r.rows-1) / 2, float64(r.cols-1) / 2}
	}
	return c
}

// runCalibration refines the beam center on the first frame, then
// estimates the sample distance and indexes the rings
func (r *Runner) runCalibration() error {
	cfg := r.params.Config.Calibration
	im := r.frames[0].Image

	standard, err := calibration.LookupStandard(cfg.Standard)
	if err != nil {
		return err
	}

	opts := calibration.RefineOptions{
		NX:        cfg.Bins,
		MinX:      cfg.MinRadius,
		MaxX:      cfg.MaxRadius,
		Window:    cfg.Window,
		Threshold: cfg.Threshold,
		MaxPeaks:  cfg.MaxPeaks,
	}
	center, err := calibration.RefineCenter(im, r.centerOrDefault(cfg.Center), cfg.PixelSize, cfg.PhiSteps, opts)
	if err != nil {
		return fmt.Errorf("center refinement: %w", err)
	}
	r.addSummary("center_row", "%.3f", center[0])
	r.addSummary("center_col", "%.3f", center[1])

	radius, avg, err := roi.CircularAverage(im, center, roi.AverageOptions{
		NX:        cfg.Bins,
		MinX:      cfg.MinRadius,
		MaxX:      cfg.MaxRadius,
		PixelSize: cfg.PixelSize,
	})
	if err != nil {
		return err
	}
	profile := make([][]float64, len(radius))
	for i := range radius {
		profile[i] = []float64{radius[i], avg[i]}
	}
	if err := writeTable(r.outputPath("ring_profile.txt"), []string{"radius", "intensity"}, profile); err != nil {
		return err
	}

	dist, spread, err := calibration.EstimateDBlind(cfg.Standard, cfg.Wavelength, radius, avg, cfg.Window, cfg.Threshold, cfg.MaxPeaks)
	if err != nil {
		return fmt.Errorf("distance estimate: %w", err)
	}
	r.addSummary("distance", "%.4f", dist)
	r.addSummary("distance_std", "%.4f", spread)

	cands := feature.ArgRelMax(avg, cfg.Window)
	cands = feature.FilterPeakHeight(avg, cands, cfg.Threshold, cfg.Window)
	peaks, _, err := feature.PeakRefinement(radius, avg, cands, cfg.Window, feature.RefineLogQuadratic)
	if err != nil {
		return err
	}
	var tolerance float64
	if len(radius) > 1 {
		tolerance = float64(cfg.Window) * (radius[1] - radius[0])
	}

	indexed := calibration.IndexPeaks(peaks, standard, cfg.Wavelength, dist, tolerance)
	rows := make([][]float64, len(indexed))
	matched := 0
	for i, p := range indexed {
		h, k, l := math.NaN(), math.NaN(), math.NaN()
		if p.Reflection >= 0 {
			refl := standard.Reflections[p.Reflection]
			h, k, l = float64(refl[0]), float64(refl[1]), float64(refl[2])
			matched++
		}
		rows[i] = []float64{p.Measured, h, k, l, p.Expected, p.Residual}
	}
	r.addSummary("rings_indexed", "%d/%d", matched, len(indexed))
	return writeTable(r.outputPath("ring_index.txt"), []string{"measured", "h", "k", "l", "expected", "residual"}, rows)
}

// runDPC treats the first frame as the reference and the rest as the scan
func (r *Runner) runDPC() error {
	cfg := r.params.Config.DPC
	if len(r.frames) < 2 {
		return fmt.Errorf("need a reference and at least one scan frame, got %d frames", len(r.frames))
	}

	p := dpc.DefaultParams()
	p.Rows, p.Cols = cfg.Rows, cfg.Cols
	p.Energy = cfg.Energy
	p.PixelSize = cfg.PixelSize
	p.FocusToDet = cfg.FocusToDet
	p.DX, p.DY = cfg.DX, cfg.DY
	p.Pad, p.W = cfg.Pad, cfg.W
	p.BadPixels = cfg.BadPixels
	if len(cfg.ROI) == 4 {
		p.ROI = &[4]int{cfg.ROI[0], cfg.ROI[1], cfg.ROI[2], cfg.ROI[3]}
	}

	images := r.frames.Images()
	res, err := dpc.Run(images[0], images[1:], p)
	if err != nil {
		return err
	}

	outputs := map[string]*models.Image{
		"dpc_phase.png": res.Phase,
		"dpc_gx.png":    res.GX,
		"dpc_gy.png":    res.GY,
		"dpc_a.png":     res.A,
	}
	for name, im := range outputs {
		if err := visualization.SaveImage(im, r.outputPath(name)); err != nil {
			return fmt.Errorf("failed to save %s: %w", name, err)
		}
	}

	r.addSummary("phase_min", "%.6g", floats.Min(res.Phase.Data))
	r.addSummary("phase_max", "%.6g", floats.Max(res.Phase.Data))
	r.addSummary("attenuation_mean", "%.6g", stat.Mean(res.A.Data, nil))
	return nil
}

// runCDI phases the diffraction amplitudes of the frames. One frame gives a
// 2D pattern; several frames are stacked into a 3D pattern.
func (r *Runner) runCDI() error {
	cfg := r.params.Config.CDI
	shape := []int{r.rows, r.cols}
	if len(r.frames) > 1 {
		shape = []int{len(r.frames), r.rows, r.cols}
	}

	// measured patterns are centred; the projections expect FFT order
	amp := make([]float64, 0, fftn.Size(shape))
	for _, f := range r.frames {
		for _, v := range f.Image.Data {
			amp = append(amp, math.Sqrt(math.Max(v, 0)))
		}
	}
	diff := fftn.IShift(amp, shape)

	opts := cdi.DefaultOptions()
	opts.Beta = cfg.Beta
	opts.StartAvg = cfg.StartAvg
	opts.Modulus = cfg.Modulus
	opts.Shrinkwrap = cfg.Shrinkwrap
	opts.SwSigma = cfg.SwSigma
	opts.SwThreshold = cfg.SwThreshold
	opts.SwStart = cfg.SwStart
	opts.SwEnd = cfg.SwEnd
	opts.SwStep = cfg.SwStep
	opts.Iterations = cfg.Iterations

	if r.params.Config.Output.SaveIntermediaryResults && cfg.SnapshotStep > 0 {
		dir, err := r.intermediaryDir("cdi")
		if err != nil {
			return err
		}
		opts.CbStep = cfg.SnapshotStep
		opts.Callback = func(obj []complex128, iteration int) {
			name := filepath.Join(dir, fmt.Sprintf("%05d.png", iteration))
			if err := r.saveObject(obj, shape, name); err != nil {
				fmt.Printf("Warning: Failed to save iteration %d: %v\n", iteration, err)
			}
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	start := cdi.RandomPhaseField(diff, shape, rng)
	obj, errs, err := cdi.Recon(diff, start, cdi.BoxSupport(cfg.SupportRadius, shape), shape, opts)
	if err != nil {
		return err
	}

	if len(shape) == 2 {
		if err := r.saveObject(obj, shape, r.outputPath("cdi_object.png")); err != nil {
			return err
		}
	} else {
		vol, err := models.VolumeFromShape(magnitudes(obj), shape)
		if err != nil {
			return err
		}
		viewer := visualization.NewViewer(vol)
		for _, axis := range []string{"x", "y", "z"} {
			if err := viewer.SaveSliceSequence(axis, r.outputPath("cdi_object", axis)); err != nil {
				return fmt.Errorf("failed to save %s-axis slices: %w", axis, err)
			}
		}
	}

	rows := make([][]float64, len(errs.Object))
	for i := range rows {
		rows[i] = []float64{float64(i), errs.Object[i], errs.Diffraction[i], errs.Support[i]}
	}
	if err := writeTable(r.outputPath("cdi_errors.txt"), []string{"iteration", "object", "diffraction", "support"}, rows); err != nil {
		return err
	}

	r.addSummary("iterations", "%d", len(rows))
	if len(rows) > 0 {
		r.addSummary("object_error", "%.6g", errs.Object[len(rows)-1])
	}
	r.addSummary("diffraction_error", "%.6g", cdi.DiffError(obj, diff, shape))
	return nil
}

func magnitudes(c []complex128) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = cmplx.Abs(v)
	}
	return out
}

// saveObject saves |obj| as an image; 3D objects save their middle z slice
func (r *Runner) saveObject(obj []complex128, shape []int, filename string) error {
	mag := magnitudes(obj)
	if len(shape) == 3 {
		n := shape[1] * shape[2]
		mid := shape[0] / 2
		mag = mag[mid*n : (mid+1)*n]
	}
	rows, cols := shape[len(shape)-2], shape[len(shape)-1]
	im, err := models.ImageFromData(mag, rows, cols)
	if err != nil {
		return err
	}
	return visualization.SaveImage(im, filename)
}

// runXSVS computes photon count distributions in concentric ring ROIs
func (r *Runner) runXSVS() error {
	cfg := r.params.Config.XSVS

	edges, err := roi.RingEdges(cfg.InnerRadius, []float64{cfg.Width}, []float64{cfg.Spacing}, cfg.NumRings)
	if err != nil {
		return err
	}
	labels, err := roi.Rings(edges, r.centerOrDefault(cfg.Center), r.rows, r.cols, [2]float64{1, 1})
	if err != nil {
		return err
	}
	images := r.frames.Images()

	opts := xsvs.Options{TimebinNum: cfg.TimebinNum, NumberOfImg: cfg.NumberOfImg, MaxCts: cfg.MaxCts}
	if opts.NumberOfImg > len(images) {
		opts.NumberOfImg = len(images)
	}
	res, err := xsvs.XSVS([][]*models.Image{images}, labels, opts)
	if err != nil {
		return err
	}

	means, index, err := roi.MeanIntensity(images, labels)
	if err != nil {
		return err
	}
	if len(index) == 0 {
		return fmt.Errorf("no ring ROI lies inside the %dx%d frame", r.rows, r.cols)
	}
	meanROI := make([]float64, len(index))
	for j := range index {
		col := make([]float64, len(means))
		for n := range means {
			col[n] = means[n][j]
		}
		meanROI[j] = stat.Mean(col, nil)
	}

	_, centers, err := xsvs.NormalizeBinEdges(len(res.TimeBins), len(index), meanROI, res.MaxCts)
	if err != nil {
		return err
	}

	for t, tb := range res.TimeBins {
		header := []string{"counts"}
		for _, l := range index {
			header = append(header, fmt.Sprintf("norm_%d prob_%d std_%d", l, l, l))
		}
		var rows [][]float64
		for k := range res.Prob[t][index[0]-1] {
			row := []float64{float64(k)}
			for j, l := range index {
				row = append(row, centers[t][j][k], res.Prob[t][l-1][k], res.StdDev[t][l-1][k])
			}
			rows = append(rows, row)
		}
		if err := writeTable(r.outputPath(fmt.Sprintf("xsvs_t%03d.txt", tb)), header, rows); err != nil {
			return err
		}
	}

	// overall photon count distribution inside the ROIs
	h, err := histogram.New(histogram.Axis{Bins: res.MaxCts + 1, Low: 0, High: float64(res.MaxCts + 1)})
	if err != nil {
		return err
	}
	var counts []float64
	for _, im := range images {
		for p, l := range labels.Data {
			if l > 0 {
				counts = append(counts, im.Data[p])
			}
		}
	}
	if err := h.Fill([][]float64{counts}, nil); err != nil {
		return err
	}
	binCenters, err := h.Centers(0)
	if err != nil {
		return err
	}
	values := h.Values()
	hist := make([][]float64, len(values))
	for i, v := range values {
		hist[i] = []float64{math.Floor(binCenters[i]), v}
	}
	if err := writeTable(r.outputPath("xsvs_counts.txt"), []string{"counts", "pixels"}, hist); err != nil {
		return err
	}

	r.addSummary("rois", "%d", len(index))
	r.addSummary("time_bins", "%v", res.TimeBins)
	r.addSummary("max_counts", "%d", res.MaxCts)
	for j, l := range index {
		r.addSummary(fmt.Sprintf("mean_intensity_roi_%d", l), "%.6g", meanROI[j])
	}
	return nil
}
