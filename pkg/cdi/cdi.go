// Package cdi reconstructs a sample from its coherent diffraction pattern
// using the difference map algorithm with shrink-wrap support refinement.
//
// References:
//   - V. Elser, "Phase retrieval by iterated projections", J. Opt. Soc. Am. A
//     20 (2003) 40-55.
//   - S. Marchesini et al., "X-ray image reconstruction from a diffraction
//     pattern alone", Phys. Rev. B 68 (2003) 140101.
package cdi

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"math/rand"
	"os"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"

	"xraykit/internal/fftn"
)

// Logger receives per-iteration progress from Recon. Replace it to silence
// or redirect the output.
var Logger = log.New(os.Stderr, "cdi: ", log.LstdFlags)

// ErrUnknownModulus is returned for a modulus projection mode other than
// "complex" or "real"
var ErrUnknownModulus = errors.New("unknown modulus mode")

// modulusOffset keeps the modulus projection finite where the estimate is
// zero
const modulusOffset = 1e-12

// Dist returns the distance of every element from the array center,
// index n/2 along each axis.
func Dist(shape []int) []float64 {
	n := fftn.Size(shape)
	out := make([]float64, n)
	idx := make([]int, len(shape))
	for i := range out {
		var sq float64
		for d, v := range idx {
			off := float64(v - shape[d]/2)
			sq += off * off
		}
		out[i] = math.Sqrt(sq)

		// advance the row-major multi-index
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// Gauss returns a centred Gaussian of standard deviation sigma normalised to
// a sum of one.
func Gauss(shape []int, sigma float64) []float64 {
	g := Dist(shape)
	for i, d := range g {
		x := d / sigma
		g[i] = math.Exp(-x * x / 2)
	}
	floats.Scale(1/floats.Sum(g), g)
	return g
}

// Convolution returns |fftshift(ifft(fft(a)·fft(b)))| using orthonormal
// transforms. A kernel centred at shape/2 therefore leaves a in place.
func Convolution(a, b []float64, shape []int) []float64 {
	fa := fftn.ForwardOrtho(fftn.Real(a), shape)
	fb := fftn.ForwardOrtho(fftn.Real(b), shape)
	for i := range fa {
		fa[i] *= fb[i]
	}
	c := fftn.Shift(fftn.InverseOrtho(fa, shape), shape)
	return magnitude(c)
}

// magnitude returns |c| element-wise
func magnitude(c []complex128) []float64 {
	re := make([]float64, len(c))
	im := make([]float64, len(c))
	for i, v := range c {
		re[i], im[i] = real(v), imag(v)
	}
	out := make([]float64, len(c))
	vecmath.Magnitude(out, re, im)
	return out
}

// norm returns the Euclidean norm of c
func norm(c []complex128) float64 {
	re := make([]float64, len(c))
	im := make([]float64, len(c))
	for i, v := range c {
		re[i], im[i] = real(v), imag(v)
	}
	pow := make([]float64, len(c))
	vecmath.Power(pow, re, im)
	return math.Sqrt(vecmath.Sum(pow))
}

// PiModulus replaces the Fourier magnitudes of obj with the measured
// amplitudes diff wherever diff is positive, keeping the phases.
func PiModulus(obj []complex128, diff []float64, shape []int) []complex128 {
	f := fftn.ForwardOrtho(obj, shape)
	for i, d := range diff {
		if d > 0 {
			f[i] = complex(d/(cmplx.Abs(f[i])+modulusOffset), 0) * f[i]
		}
	}
	return fftn.InverseOrtho(f, shape)
}

// FindSupport returns a mask of the elements where |obj| smoothed by a
// Gaussian of width sigma reaches threshold times its maximum.
func FindSupport(obj []complex128, shape []int, sigma, threshold float64) []bool {
	conv := Convolution(magnitude(obj), Gauss(shape, sigma), shape)
	limit := threshold * floats.Max(conv)
	sup := make([]bool, len(conv))
	for i, v := range conv {
		sup[i] = v >= limit
	}
	return sup
}

// PiSupport zeroes obj in place wherever outside is set and returns it
func PiSupport(obj []complex128, outside []bool) []complex128 {
	for i, o := range outside {
		if o {
			obj[i] = 0
		}
	}
	return obj
}

// RelativeError returns ||cur - old|| / ||old||
func RelativeError(old, cur []complex128) float64 {
	d := make([]complex128, len(old))
	for i := range d {
		d[i] = cur[i] - old[i]
	}
	return norm(d) / norm(old)
}

// DiffError returns the relative distance between the Fourier magnitudes of
// obj and the measured amplitudes diff
func DiffError(obj []complex128, diff []float64, shape []int) float64 {
	mag := magnitude(fftn.ForwardOrtho(obj, shape))
	floats.Sub(mag, diff)
	return floats.Norm(mag, 2) / floats.Norm(diff, 2)
}

// RandomPhaseField returns the object whose Fourier amplitudes are diff with
// uniformly random phases.
func RandomPhaseField(diff []float64, shape []int, rng *rand.Rand) []complex128 {
	f := make([]complex128, len(diff))
	for i, d := range diff {
		f[i] = complex(d, 0) * cmplx.Exp(complex(0, 2*math.Pi*rng.Float64()))
	}
	return fftn.InverseOrtho(f, shape)
}

// BoxSupport returns a centred hypercube of side 2*radius
func BoxSupport(radius int, shape []int) []bool {
	sup := make([]bool, fftn.Size(shape))
	idx := make([]int, len(shape))
	for i := range sup {
		inside := true
		for d, v := range idx {
			c := shape[d] / 2
			if v < c-radius || v >= c+radius {
				inside = false
				break
			}
		}
		sup[i] = inside

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return sup
}

// DiskSupport returns a centred disk (or ball) of the given radius
func DiskSupport(radius float64, shape []int) []bool {
	dist := Dist(shape)
	sup := make([]bool, len(dist))
	for i, d := range dist {
		sup[i] = d < radius
	}
	return sup
}

// Options controls Recon
type Options struct {
	// Beta is the difference map feedback parameter
	Beta float64

	// StartAvg is the fraction of iterations after which the object is
	// averaged into the result
	StartAvg float64

	// Modulus is "complex" or "real"; real keeps only the magnitude of the
	// modulus projection
	Modulus string

	// Shrinkwrap enables support refinement
	Shrinkwrap bool

	// SwSigma and SwThreshold configure FindSupport
	SwSigma     float64
	SwThreshold float64

	// SwStart and SwEnd bound the iterations, as fractions of Iterations,
	// in which the support is refined
	SwStart float64
	SwEnd   float64

	// SwStep is the refinement interval in iterations
	SwStep int

	// Iterations is the number of difference map iterations
	Iterations int

	// Callback, when set, receives the current object every CbStep
	// iterations
	Callback func(obj []complex128, iteration int)
	CbStep   int
}

// DefaultOptions returns the standard reconstruction settings
func DefaultOptions() Options {
	return Options{
		Beta:        1.15,
		StartAvg:    0.8,
		Modulus:     "complex",
		Shrinkwrap:  true,
		SwSigma:     0.5,
		SwThreshold: 0.1,
		SwStart:     0.2,
		SwEnd:       0.8,
		SwStep:      10,
		Iterations:  1000,
		CbStep:      10,
	}
}

// Errors records the convergence of Recon, one entry per iteration
type Errors struct {
	// Object is the relative change of the object
	Object []float64

	// Diffraction is the relative Fourier magnitude error
	Diffraction []float64

	// Support is the support area after each refinement, zero elsewhere
	Support []float64
}

// Recon runs the difference map from the starting object obj within the
// support sup. diff holds the measured Fourier magnitudes in FFT order, with
// the zero frequency at index 0; a centred pattern must be passed through
// fftn.IShift first. Modulus is matched case-insensitively.
//
// Returns:
//   - The object averaged over the iterations after StartAvg
//   - The per-iteration errors
func Recon(diff []float64, obj []complex128, sup []bool, shape []int, opts Options) ([]complex128, *Errors, error) {
	n := fftn.Size(shape)
	if len(diff) != n || len(obj) != n || len(sup) != n {
		return nil, nil, fmt.Errorf("inputs must have %d elements, got diff %d, obj %d, support %d", n, len(diff), len(obj), len(sup))
	}
	var realMode bool
	switch strings.ToLower(opts.Modulus) {
	case "complex":
	case "real":
		realMode = true
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownModulus, opts.Modulus)
	}
	if opts.Beta == 0 {
		return nil, nil, fmt.Errorf("beta must be non-zero")
	}
	if opts.Iterations < 1 {
		return nil, nil, fmt.Errorf("iterations must be positive, got %d", opts.Iterations)
	}

	modulus := func(x []complex128) []complex128 {
		out := PiModulus(x, diff, shape)
		if realMode {
			for i, v := range out {
				out[i] = complex(cmplx.Abs(v), 0)
			}
		}
		return out
	}

	gamma1 := -1 / opts.Beta
	gamma2 := 1 / opts.Beta
	beta := complex(opts.Beta, 0)

	outside := make([]bool, n)
	for i, s := range sup {
		outside[i] = !s
	}

	x := make([]complex128, n)
	copy(x, obj)
	old := make([]complex128, n)
	avg := make([]complex128, n)
	avgCount := 0

	errs := &Errors{
		Object:      make([]float64, opts.Iterations),
		Diffraction: make([]float64, opts.Iterations),
		Support:     make([]float64, opts.Iterations),
	}

	total := float64(opts.Iterations)
	for it := 0; it < opts.Iterations; it++ {
		copy(old, x)

		a := modulus(x)
		for i := range a {
			a[i] = complex(1+gamma2, 0)*a[i] - complex(gamma2, 0)*x[i]
		}
		PiSupport(a, outside)

		b := make([]complex128, n)
		copy(b, x)
		PiSupport(b, outside)
		for i := range b {
			b[i] = complex(1+gamma1, 0)*b[i] - complex(gamma1, 0)*x[i]
		}
		b = modulus(b)

		for i := range x {
			x[i] += beta * (a[i] - b[i])
		}

		errs.Object[it] = RelativeError(old, x)
		errs.Diffraction[it] = DiffError(x, diff, shape)

		if opts.Shrinkwrap && float64(it) >= opts.SwStart*total && float64(it) <= opts.SwEnd*total &&
			opts.SwStep > 0 && it%opts.SwStep == 0 {
			newSup := FindSupport(a, shape, opts.SwSigma, opts.SwThreshold)
			area := 0
			for i, s := range newSup {
				outside[i] = !s
				if s {
					area++
				}
			}
			errs.Support[it] = float64(area)
			Logger.Printf("iteration %d: support refined to %d elements", it, area)
		}

		if opts.Callback != nil && opts.CbStep > 0 && it%opts.CbStep == 0 {
			opts.Callback(x, it)
		}

		if float64(it) > opts.StartAvg*total {
			for i := range avg {
				avg[i] += x[i]
			}
			avgCount++
		}

		Logger.Printf("%d object_chi=%f, diff_chi=%f", it, errs.Object[it], errs.Diffraction[it])
	}

	if avgCount == 0 {
		copy(avg, x)
	} else {
		inv := complex(1/float64(avgCount), 0)
		for i := range avg {
			avg[i] *= inv
		}
	}
	return avg, errs, nil
}
