// Package dpc reconstructs phase images from scanning differential phase
// contrast data by Fourier shift fitting.
//
// Reference: H. Yan et al., "Quantitative x-ray phase imaging at the
// nanoscale by multilayer Laue lenses", Scientific Reports 3 (2013).
package dpc

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/cmplx"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/optimize"

	"xraykit/internal/fftn"
	"xraykit/internal/models"
)

// ErrOutOfRange is returned for a ROI or bad pixel outside the image
var ErrOutOfRange = errors.New("out of range")

// ImageReduction sums an image along both axes.
//
// Parameters:
//   - im: Detector image, left unmodified
//   - roi: Optional (row0, col0, row1, col1) rectangle; rows row0..row1-1
//     and columns col0..col1-1 are kept
//   - badPixels: (row, col) of pixels to zero before summing
//
// Returns:
//   - xline: Sum of every column
//   - yline: Sum of every row
func ImageReduction(im *models.Image, roi *[4]int, badPixels [][2]int) ([]float64, []float64, error) {
	work := im
	if len(badPixels) > 0 {
		work = im.Clone()
		for _, p := range badPixels {
			if p[0] < 0 || p[0] >= im.Rows || p[1] < 0 || p[1] >= im.Cols {
				return nil, nil, fmt.Errorf("bad pixel %v: %w", p, ErrOutOfRange)
			}
			work.Set(p[0], p[1], 0)
		}
	}

	r0, c0, r1, c1 := 0, 0, im.Rows, im.Cols
	if roi != nil {
		r0, c0, r1, c1 = roi[0], roi[1], roi[2], roi[3]
		if r0 < 0 || c0 < 0 || r1 > im.Rows || c1 > im.Cols || r0 >= r1 || c0 >= c1 {
			return nil, nil, fmt.Errorf("roi %v on %dx%d image: %w", *roi, im.Rows, im.Cols, ErrOutOfRange)
		}
	}

	xline := make([]float64, c1-c0)
	yline := make([]float64, r1-r0)
	for r := r0; r < r1; r++ {
		row := work.Data[r*work.Cols+c0 : r*work.Cols+c1]
		vecmath.AddBlockInPlace(xline, row)
		yline[r-r0] = vecmath.Sum(row)
	}
	return xline, yline, nil
}

// ShiftedIFFT returns fftshift(ifft(line)), the form consumed by Fit
func ShiftedIFFT(line []float64) []complex128 {
	shape := []int{len(line)}
	return fftn.Shift(fftn.Inverse(fftn.Real(line), shape), shape)
}

// FitOptions controls the Nelder-Mead search of Fit
type FitOptions struct {
	// Tol is the absolute change in residue treated as converged
	Tol float64

	// MaxIters caps the number of simplex iterations
	MaxIters int
}

// DefaultFitOptions returns a tolerance of 1e-8 and 2000 iterations
func DefaultFitOptions() FitOptions {
	return FitOptions{Tol: 1e-8, MaxIters: 2000}
}

// residue returns sum |f - refF*a*exp(i*g*beta)|^2 with beta centred on
// the middle sample
func residue(v []float64, refF, f []complex128) float64 {
	n := len(refF)
	lo := float64(floorDiv(-(n - 1), 2))
	a, g := v[0], v[1]
	var sum float64
	for k := range refF {
		fitted := refF[k] * complex(a, 0) * cmplx.Exp(complex(0, g*(lo+float64(k))))
		d := f[k] - fitted
		sum += real(d)*real(d) + imag(d)*imag(d)
	}
	return sum
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Fit finds the attenuation a and phase gradient g that best map the
// reference spectrum refF onto f.
//
// Returns:
//   - a: Intensity attenuation
//   - g: Phase gradient
func Fit(refF, f []complex128, start [2]float64, opts FitOptions) (float64, float64, error) {
	if len(refF) != len(f) {
		return 0, 0, fmt.Errorf("spectra differ in length: %d and %d", len(refF), len(f))
	}
	if len(refF) == 0 {
		return 0, 0, fmt.Errorf("empty spectra")
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 { return residue(x, refF, f) },
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tol,
			Iterations: 50,
		},
		MajorIterations: opts.MaxIters,
	}
	res, err := optimize.Minimize(problem, start[:], settings, &optimize.NelderMead{})
	if res == nil {
		return 0, 0, fmt.Errorf("nelder-mead: %w", err)
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) || math.IsNaN(res.X[0]) || math.IsNaN(res.X[1]) {
		if err == nil {
			err = fmt.Errorf("status %v", res.Status)
		}
		return 0, 0, fmt.Errorf("nelder-mead: no finite minimum found: %w", err)
	}
	if err != nil {
		log.Printf("DPC: fit stopped early: %v", err)
	}
	return res.X[0], res.X[1], nil
}

// Recon integrates the phase gradients gx (along columns) and gy (along
// rows) in Fourier space.
//
// Parameters:
//   - gx, gy: Phase gradients on the scan grid
//   - dx, dy: Scan step along columns and rows
//   - pad: Padding factor; the gradients are embedded in the centre block
//     of a pad x pad tiling of zeros
//   - w: Weight of the y gradient relative to x
//
// Returns:
//   - The phase on the scan grid
func Recon(gx, gy *models.Image, dx, dy float64, pad int, w float64) (*models.Image, error) {
	if gx.Rows != gy.Rows || gx.Cols != gy.Cols {
		return nil, fmt.Errorf("%w: gradients are %dx%d and %dx%d", models.ErrShapeMismatch, gx.Rows, gx.Cols, gy.Rows, gy.Cols)
	}
	if pad < 1 {
		return nil, fmt.Errorf("padding must be at least 1, got %d", pad)
	}
	rows, cols := gx.Rows, gx.Cols
	pr, pc := pad*rows, pad*cols
	off := pad / 2
	shape := []int{pr, pc}

	embed := func(g *models.Image) []complex128 {
		out := make([]complex128, pr*pc)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out[(off*rows+r)*pc+off*cols+c] = complex(g.At(r, c), 0)
			}
		}
		return fftn.Shift(fftn.Forward(out, shape), shape)
	}
	tx := embed(gx)
	ty := embed(gy)

	midCol := pc/2 + 1
	midRow := pr/2 + 1
	c := make([]complex128, pr*pc)
	for r := 0; r < pr; r++ {
		ky := 2 * math.Pi * float64(r+1-midRow) / (float64(pr) * dy)
		for col := 0; col < pc; col++ {
			kx := 2 * math.Pi * float64(col+1-midCol) / (float64(pc) * dx)
			denom := kx*kx + w*ky*ky
			if denom == 0 {
				continue
			}
			i := r*pc + col
			num := complex(kx, 0)*tx[i] + complex(w*ky, 0)*ty[i]
			c[i] = complex(0, -1) * num / complex(denom, 0)
		}
	}

	phiPad := fftn.Inverse(fftn.IShift(c, shape), shape)
	phi := models.NewImage(rows, cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			phi.Set(r, col, -real(phiPad[(off*rows+r)*pc+off*cols+col]))
		}
	}
	return phi, nil
}

// Params configures a full DPC run
type Params struct {
	// StartPoint is the initial (attenuation, gradient) of every fit
	StartPoint [2]float64

	// PixelSize of the detector
	PixelSize float64

	// FocusToDet is the focus to detector distance, in the units of PixelSize
	FocusToDet float64

	// Rows and Cols describe the scan grid
	Rows int
	Cols int

	// Energy of the beam in keV
	Energy float64

	// ROI optionally restricts the detector area, see ImageReduction
	ROI *[4]int

	// BadPixels are zeroed in every frame
	BadPixels [][2]int

	// Pad and W are passed to Recon
	Pad int
	W   float64

	// DX and DY are the scan steps passed to Recon
	DX float64
	DY float64

	// Fit controls the per-frame fits
	Fit FitOptions
}

// DefaultParams returns the settings of a 121x121 scan at 19.5 keV
func DefaultParams() Params {
	return Params{
		StartPoint: [2]float64{1, 0},
		PixelSize:  55,
		FocusToDet: 1.46e6,
		Rows:       121,
		Cols:       121,
		Energy:     19.5,
		Pad:        1,
		W:          1,
		DX:         0.1,
		DY:         0.1,
		Fit:        DefaultFitOptions(),
	}
}

// Result holds the output of Run on the scan grid
type Result struct {
	// Phase is the reconstructed phase
	Phase *models.Image

	// GX and GY are the scaled phase gradients
	GX *models.Image
	GY *models.Image

	// A is the fitted intensity attenuation
	A *models.Image
}

// Run fits every frame of a scan against the reference and reconstructs the
// phase. Frames are in row-major scan order and there must be exactly
// Rows*Cols of them.
func Run(ref *models.Image, frames []*models.Image, p Params) (*Result, error) {
	if len(frames) != p.Rows*p.Cols {
		return nil, fmt.Errorf("expected %d frames for a %dx%d scan, got %d", p.Rows*p.Cols, p.Rows, p.Cols, len(frames))
	}
	if p.Energy <= 0 || p.FocusToDet <= 0 {
		return nil, fmt.Errorf("energy and focus distance must be positive, got %g and %g", p.Energy, p.FocusToDet)
	}

	refX, refY, err := ImageReduction(ref, p.ROI, p.BadPixels)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	refFX := ShiftedIFFT(refX)
	refFY := ShiftedIFFT(refY)

	res := &Result{
		GX: models.NewImage(p.Rows, p.Cols),
		GY: models.NewImage(p.Rows, p.Cols),
		A:  models.NewImage(p.Rows, p.Cols),
	}

	for idx, im := range frames {
		if im.Rows != ref.Rows || im.Cols != ref.Cols {
			return nil, fmt.Errorf("frame %d: %w: %dx%d, reference is %dx%d", idx, models.ErrShapeMismatch, im.Rows, im.Cols, ref.Rows, ref.Cols)
		}
		imX, imY, err := ImageReduction(im, p.ROI, p.BadPixels)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", idx, err)
		}
		_, gx, err := Fit(refFX, ShiftedIFFT(imX), p.StartPoint, p.Fit)
		if err != nil {
			return nil, fmt.Errorf("frame %d x fit: %w", idx, err)
		}
		a, gy, err := Fit(refFY, ShiftedIFFT(imY), p.StartPoint, p.Fit)
		if err != nil {
			return nil, fmt.Errorf("frame %d y fit: %w", idx, err)
		}
		res.GX.Data[idx] = gx
		res.GY.Data[idx] = gy
		res.A.Data[idx] = a

		if (idx+1)%p.Cols == 0 {
			log.Printf("DPC: fitted scan row %d/%d", (idx+1)/p.Cols, p.Rows)
		}
	}

	lambda := 12.4e-4 / p.Energy
	vecmath.ScaleBlockInPlace(res.GX.Data, -float64(len(refFX))*p.PixelSize/(lambda*p.FocusToDet))
	vecmath.ScaleBlockInPlace(res.GY.Data, float64(len(refFY))*p.PixelSize/(lambda*p.FocusToDet))

	res.Phase, err = Recon(res.GX, res.GY, p.DX, p.DY, p.Pad, p.W)
	if err != nil {
		return nil, err
	}
	return res, nil
}
