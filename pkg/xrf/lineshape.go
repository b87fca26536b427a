// Package xrf builds X-ray fluorescence spectrum models: detector line
// shapes, the elastic and Compton scatter peaks, element emission lines and
// the parameter sets that drive them.
package xrf

import (
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Epsilon is the energy to create an electron-hole pair in silicon, in eV
const Epsilon = 2.96

// electronRestEnergy in keV
const electronRestEnergy = 511.0

// fwhmToSigma converts a Gaussian FWHM into its standard deviation
var fwhmToSigma = 2 * math.Sqrt(2*math.Ln2)

// GaussPeak returns a Gaussian of the given area centred at center
func GaussPeak(x []float64, area, center, sigma float64) []float64 {
	out := make([]float64, len(x))
	norm := area / (sigma * math.Sqrt(2*math.Pi))
	for i, v := range x {
		d := (v - center) / sigma
		out[i] = norm * math.Exp(-0.5*d*d)
	}
	return out
}

// GaussStep returns the incomplete charge collection step below a peak at
// center. peakE is the peak energy used for normalisation.
func GaussStep(x []float64, area, center, sigma, peakE float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = area * math.Erfc((v-center)/(math.Sqrt2*sigma)) / (2 * peakE)
	}
	return out
}

// GaussTail returns the exponential low energy tail of a peak at center.
// gamma is the tail slope in units of sigma.
func GaussTail(x []float64, area, center, sigma, gamma float64) []float64 {
	out := make([]float64, len(x))
	norm := area / (2 * gamma * sigma * math.Exp(-0.5/(gamma*gamma)))
	for i, v := range x {
		neg := math.Min(v-center, 0)
		out[i] = norm * math.Exp(neg/(gamma*sigma)) *
			math.Erfc((v-center)/(math.Sqrt2*sigma)+1/(gamma*math.Sqrt2))
	}
	return out
}

// Calibration maps detector channels to energy:
// e = Offset + x*Linear + x^2*Quadratic
type Calibration struct {
	Offset    float64
	Linear    float64
	Quadratic float64
}

// Energy returns the calibrated energy of every channel in x
func (c Calibration) Energy(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = c.Offset + v*c.Linear + v*v*c.Quadratic
	}
	return out
}

// Width describes the detector resolution
type Width struct {
	// FWHMOffset is the electronic noise contribution to the FWHM
	FWHMOffset float64

	// FanoPrime is the Fano factor times the pair creation energy
	FanoPrime float64

	// Epsilon defaults to the package constant when zero
	Epsilon float64
}

// Sigma returns the peak standard deviation at energy e
func (w Width) Sigma(e float64) float64 {
	eps := w.Epsilon
	if eps == 0 {
		eps = Epsilon
	}
	off := w.FWHMOffset / fwhmToSigma
	return math.Sqrt(off*off + e*eps*w.FanoPrime)
}

// ElasticParams configures ElasticPeak
type ElasticParams struct {
	// Energy of the incident beam, the coherent scatter energy
	Energy float64

	// Amplitude is the peak area
	Amplitude float64

	Calibration Calibration
	Width       Width
}

// ElasticPeak returns the coherent scatter peak on channels x and its sigma
func ElasticPeak(x []float64, p ElasticParams) ([]float64, float64) {
	sigma := p.Width.Sigma(p.Energy)
	return GaussPeak(p.Calibration.Energy(x), p.Amplitude, p.Energy, sigma), sigma
}

// ComptonParams configures ComptonPeak
type ComptonParams struct {
	// Energy of the incident beam
	Energy float64

	// Angle is the scattering angle in degrees
	Angle float64

	// FWHMCorr scales the Gaussian width of the peak
	FWHMCorr float64

	// Amplitude is log10 of the peak area unless Matrix is set, in which
	// case the peak has unit area
	Amplitude float64
	Matrix    bool

	// FStep, FTail and HiFTail weight the step, the low energy tail and the
	// high energy tail
	FStep   float64
	FTail   float64
	HiFTail float64

	// Gamma and HiGamma are the slopes of the two tails
	Gamma   float64
	HiGamma float64

	Calibration Calibration
	Width       Width
}

// ComptonEnergy returns the energy of a photon of energy e scattered by
// angle degrees off a free electron
func ComptonEnergy(e, angle float64) float64 {
	return e / (1 + (e/electronRestEnergy)*(1-math.Cos(angle*math.Pi/180)))
}

// ComptonPeak returns the incoherent scatter peak on channels x.
//
// Returns:
//   - The counts
//   - sigma at the Compton energy
//   - The normalisation factor applied to every component
func ComptonPeak(x []float64, p ComptonParams) ([]float64, float64, float64) {
	e := p.Calibration.Energy(x)
	ce := ComptonEnergy(p.Energy, p.Angle)
	sigma := p.Width.Sigma(ce)

	factor := 1 / (1 + p.FStep + p.FTail + p.HiFTail)
	if !p.Matrix {
		factor *= math.Pow(10, p.Amplitude)
	}

	counts := GaussPeak(e, 1, ce, sigma*p.FWHMCorr)
	vecmath.ScaleBlockInPlace(counts, factor)

	if p.FStep > 0 {
		step := GaussStep(e, 1, ce, sigma, ce)
		vecmath.ScaleBlockInPlace(step, factor*p.FStep)
		vecmath.AddBlockInPlace(counts, step)
	}

	tail := GaussTail(e, 1, ce, sigma, p.Gamma)
	vecmath.ScaleBlockInPlace(tail, factor*p.FTail)
	vecmath.AddBlockInPlace(counts, tail)

	// the high energy tail is the low energy tail mirrored about the peak
	neg := make([]float64, len(e))
	vecmath.ScaleBlock(neg, e, -1)
	hi := GaussTail(neg, 1, -ce, sigma, p.HiGamma)
	vecmath.ScaleBlockInPlace(hi, factor*p.HiFTail)
	vecmath.AddBlockInPlace(counts, hi)

	return counts, sigma, factor
}

// LineParams configures a single element emission line
type LineParams struct {
	// Area of the line before branching
	Area float64

	// Center is the tabulated line energy
	Center float64

	// DeltaCenter and DeltaSigma adjust position and width
	DeltaCenter float64
	DeltaSigma  float64

	// Ratio is the branching ratio relative to the strongest line of the
	// family and RatioAdjust a relative correction to it
	Ratio       float64
	RatioAdjust float64

	Calibration Calibration
	Width       Width
}

// GaussPeakXRF returns an emission line whose width follows the detector
// resolution at its tabulated energy
func GaussPeakXRF(x []float64, p LineParams) []float64 {
	sigma := p.Width.Sigma(p.Center) + p.DeltaSigma
	out := GaussPeak(p.Calibration.Energy(x), p.Area, p.Center+p.DeltaCenter, sigma)
	vecmath.ScaleBlockInPlace(out, p.Ratio*(1+p.RatioAdjust))
	return out
}
