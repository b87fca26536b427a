package calibration

import (
	"fmt"
	"math"
	"sort"
)

// Reflection is a set of Miller indices
type Reflection [3]int

// Standard is a cubic powder diffraction calibration standard
type Standard struct {
	// Name identifies the material, e.g. "Si"
	Name string

	// LatticeConstant is the cubic cell edge in Angstroms
	LatticeConstant float64

	// Reflections lists the allowed reflections in order of decreasing d-spacing
	Reflections []Reflection
}

var standards = map[string]Standard{
	"Si": {
		Name:            "Si",
		LatticeConstant: 5.43095,
		Reflections: []Reflection{
			{1, 1, 1}, {2, 2, 0}, {3, 1, 1}, {4, 0, 0}, {3, 3, 1}, {4, 2, 2}, {5, 1, 1},
			{4, 4, 0}, {5, 3, 1}, {6, 2, 0}, {5, 3, 3}, {6, 2, 2}, {4, 4, 4},
		},
	},
	"CeO2": {
		Name:            "CeO2",
		LatticeConstant: 5.4113,
		Reflections: []Reflection{
			{1, 1, 1}, {2, 0, 0}, {2, 2, 0}, {3, 1, 1}, {2, 2, 2},
			{4, 0, 0}, {3, 3, 1}, {4, 2, 0}, {4, 2, 2}, {5, 1, 1},
		},
	},
	"LaB6": {
		Name:            "LaB6",
		LatticeConstant: 4.1569162,
		Reflections: []Reflection{
			{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {2, 0, 0}, {2, 1, 0},
			{2, 1, 1}, {2, 2, 0}, {3, 0, 0}, {3, 1, 0}, {3, 1, 1},
		},
	},
	"Ni": {
		Name:            "Ni",
		LatticeConstant: 3.52,
		Reflections: []Reflection{
			{1, 1, 1}, {2, 0, 0}, {2, 2, 0}, {3, 1, 1}, {2, 2, 2}, {4, 0, 0},
		},
	},
}

// LookupStandard returns the calibration standard registered under name
func LookupStandard(name string) (Standard, error) {
	s, ok := standards[name]
	if !ok {
		return Standard{}, fmt.Errorf("unknown calibration standard %q (known: %v)", name, StandardNames())
	}
	return s, nil
}

// StandardNames lists the registered standards in sorted order
func StandardNames() []string {
	names := make([]string, 0, len(standards))
	for k := range standards {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DSpacings returns the plane spacing of every reflection in Angstroms
func (s Standard) DSpacings() []float64 {
	d := make([]float64, len(s.Reflections))
	for i, r := range s.Reflections {
		d[i] = s.LatticeConstant / math.Sqrt(float64(r[0]*r[0]+r[1]*r[1]+r[2]*r[2]))
	}
	return d
}

// ConvertTwoTheta returns the scattering angle 2θ in radians of every
// reflection reachable at wavelength (Angstroms). Reflections beyond the
// back-scattering limit are omitted.
func (s Standard) ConvertTwoTheta(wavelength float64) []float64 {
	var out []float64
	for _, d := range s.DSpacings() {
		ratio := wavelength / (2 * d)
		if ratio > 1 {
			continue
		}
		out = append(out, 2*math.Asin(ratio))
	}
	return out
}

// RingRadii returns the expected distance of every reachable ring from the
// beam center on a flat detector at distance, in the units of distance.
// Rings at or beyond 90 degrees never reach the detector and are omitted.
func (s Standard) RingRadii(wavelength, distance float64) []float64 {
	var out []float64
	for _, tth := range s.ConvertTwoTheta(wavelength) {
		if tth >= math.Pi/2 {
			break
		}
		out = append(out, distance*math.Tan(tth))
	}
	return out
}
