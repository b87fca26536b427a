// Package recip converts detector pixels of a six-circle diffractometer
// into reciprocal space coordinates.
//
// The geometry follows M. Lohmeier and E. Vlieg, J. Appl. Cryst. 26 (1993)
// 706-716, and E. Vlieg, J. Appl. Cryst. 31 (1998) 198-203.
package recip

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// FrameMode selects the frame the scattering vectors are reported in
type FrameMode int

const (
	// FrameTheta is the theta axis frame
	FrameTheta FrameMode = iota + 1
	// FramePhi is the phi axis frame
	FramePhi
	// FrameCart is the crystal cartesian frame
	FrameCart
	// FrameHKL is reciprocal lattice units
	FrameHKL
)

// ErrUnknownFrameMode is returned for frame mode names that are not recognised
var ErrUnknownFrameMode = errors.New("unknown frame mode")

var frameNames = map[FrameMode]string{
	FrameTheta: "theta",
	FramePhi:   "phi",
	FrameCart:  "cart",
	FrameHKL:   "hkl",
}

func (m FrameMode) String() string {
	if s, ok := frameNames[m]; ok {
		return s
	}
	return fmt.Sprintf("FrameMode(%d)", int(m))
}

// ParseFrameMode converts a frame name to a FrameMode. The empty string
// selects FrameHKL.
func ParseFrameMode(s string) (FrameMode, error) {
	if s == "" {
		return FrameHKL, nil
	}
	for m, name := range frameNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w %q (valid: theta, phi, cart, hkl)", ErrUnknownFrameMode, s)
}

// Geometry describes the area detector
type Geometry struct {
	// DetectorSize is (columns, rows) in pixels
	DetectorSize [2]int

	// PixelSize is (column, row) pixel size, in the units of Distance
	PixelSize [2]float64

	// Center is the (column, row) of the direct beam in pixels
	Center [2]float64

	// Distance from the sample to the detector
	Distance float64

	// Wavelength of the incident beam in Angstroms
	Wavelength float64
}

// ProcessToQ computes the scattering vector of every pixel of every image.
//
// Parameters:
//   - settingAngles: One row per image holding (delta, theta, chi, phi, mu,
//     gamma) in degrees
//   - geom: Detector geometry
//   - ub: 3x3 orientation matrix
//   - mode: Output frame
//
// Returns:
//   - One (x, y, z) triple per pixel, ordered by image, then row, then column
func ProcessToQ(settingAngles [][]float64, geom Geometry, ub mat.Matrix, mode FrameMode) ([][3]float64, error) {
	if _, ok := frameNames[mode]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFrameMode, mode)
	}
	for i, a := range settingAngles {
		if len(a) != 6 {
			return nil, fmt.Errorf("image %d: expected six setting angles, got %d", i, len(a))
		}
	}
	cols, rows := geom.DetectorSize[0], geom.DetectorSize[1]
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("invalid detector size %v", geom.DetectorSize)
	}
	if geom.Distance <= 0 || geom.Wavelength <= 0 {
		return nil, fmt.Errorf("distance and wavelength must be positive, got %g and %g", geom.Distance, geom.Wavelength)
	}
	if r, c := ub.Dims(); r != 3 || c != 3 {
		return nil, fmt.Errorf("UB must be 3x3, got %dx%d", r, c)
	}

	var crystal *mat.Dense
	switch mode {
	case FrameCart:
		crystal = orthogonalFactor(ub)
		crystal = mat.DenseCopyOf(crystal.T())
	case FrameHKL:
		var inv mat.Dense
		if err := inv.Inverse(ub); err != nil {
			return nil, fmt.Errorf("inverting UB: %w", err)
		}
		crystal = &inv
	}

	start := time.Now()

	k := 2 * math.Pi / geom.Wavelength
	out := make([][3]float64, 0, len(settingAngles)*rows*cols)

	// Detector angle offset of every column and row
	colOffset := make([]float64, cols)
	for c := range colOffset {
		colOffset[c] = math.Atan((float64(c) - geom.Center[0]) * geom.PixelSize[0] / geom.Distance)
	}
	rowOffset := make([]float64, rows)
	for r := range rowOffset {
		rowOffset[r] = math.Atan((float64(r) - geom.Center[1]) * geom.PixelSize[1] / geom.Distance)
	}

	q := mat.NewVecDense(3, nil)
	res := mat.NewVecDense(3, nil)
	for _, a := range settingAngles {
		delta := deg2rad(a[0])
		theta := deg2rad(a[1])
		chi := deg2rad(a[2])
		phi := deg2rad(a[3])
		mu := deg2rad(a[4])
		gamma := deg2rad(a[5])

		rot := sampleRotation(theta, chi, phi, mu, mode)
		if crystal != nil {
			var full mat.Dense
			full.Mul(crystal, rot)
			rot = &full
		}

		cosMu, sinMu := math.Cos(mu), math.Sin(mu)
		for r := 0; r < rows; r++ {
			g := gamma - rowOffset[r]
			cosG, sinG := math.Cos(g), math.Sin(g)
			for c := 0; c < cols; c++ {
				d := delta + colOffset[c]
				q.SetVec(0, k*math.Sin(d)*cosG)
				q.SetVec(1, k*(math.Cos(d)*cosG-cosMu))
				q.SetVec(2, k*(sinG+sinMu))
				res.MulVec(rot, q)
				out = append(out, [3]float64{res.AtVec(0), res.AtVec(1), res.AtVec(2)})
			}
		}
	}

	log.Printf("Processing time for %d %d x %d images took %v", len(settingAngles), cols, rows, time.Since(start))
	return out, nil
}

// sampleRotation returns the matrix taking laboratory frame vectors to the
// theta or phi axis frame
func sampleRotation(theta, chi, phi, mu float64, mode FrameMode) *mat.Dense {
	muM := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(mu), -math.Sin(mu),
		0, math.Sin(mu), math.Cos(mu),
	})
	thetaM := azimuthal(theta)

	var rot mat.Dense
	rot.Mul(thetaM.T(), muM.T())
	if mode == FrameTheta {
		return &rot
	}

	chiM := mat.NewDense(3, 3, []float64{
		math.Cos(chi), 0, math.Sin(chi),
		0, 1, 0,
		-math.Sin(chi), 0, math.Cos(chi),
	})
	var chiPhi mat.Dense
	chiPhi.Mul(azimuthal(phi).T(), chiM.T())

	var full mat.Dense
	full.Mul(&chiPhi, &rot)
	return &full
}

// azimuthal is a left-handed rotation about z, shared by theta and phi
func azimuthal(a float64) *mat.Dense {
	c, s := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

// orthogonalFactor returns U of the decomposition UB = U·B with B upper
// triangular with a positive diagonal
func orthogonalFactor(ub mat.Matrix) *mat.Dense {
	var qr mat.QR
	qr.Factorize(ub)
	var u, r mat.Dense
	qr.QTo(&u)
	qr.RTo(&r)
	for j := 0; j < 3; j++ {
		if r.At(j, j) < 0 {
			for i := 0; i < 3; i++ {
				u.Set(i, j, -u.At(i, j))
			}
		}
	}
	return &u
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}
