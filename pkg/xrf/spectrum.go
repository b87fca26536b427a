package xrf

import (
	"errors"
	"fmt"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// ErrUnknownElement is returned for a line whose element is in none of
// KLines, LLines and MLines
var ErrUnknownElement = errors.New("unknown element")

// EmissionLine is one fluorescence line of an element
type EmissionLine struct {
	// Element as listed in KLines, LLines or MLines
	Element string

	// Line name, e.g. ka1 or lb2
	Line string

	// Energy of the line in keV
	Energy float64

	// Ratio is the branching ratio relative to the strongest line of the
	// family. Lines with a zero ratio are not excited and are skipped.
	Ratio float64

	// Area of the strongest line of the family
	Area float64
}

// Model is a spectrum model assembled from a parameter set
type Model struct {
	Elastic ElasticParams
	Compton ComptonParams

	// Lines and LineNames are parallel; names are Element_line
	Lines     []LineParams
	LineNames []string
}

type lookup struct {
	set      *ParameterSet
	defaults *ParameterSet
}

// value prefers the set and falls back to the default parameters
func (l lookup) value(name string) float64 {
	if v, ok := l.set.Value(name); ok {
		return v
	}
	v, _ := l.defaults.Value(name)
	return v
}

// NewModel builds the elastic, Compton and emission line components. Lines
// of elements missing from a non-empty s.Elements are left out.
func NewModel(s *ParameterSet, lines []EmissionLine) (*Model, error) {
	l := lookup{set: s, defaults: DefaultParameters()}

	calib := Calibration{
		Offset:    l.value("e_offset"),
		Linear:    l.value("e_linear"),
		Quadratic: l.value("e_quadratic"),
	}
	width := Width{
		FWHMOffset: l.value("fwhm_offset"),
		FanoPrime:  l.value("fwhm_fanoprime"),
		Epsilon:    Epsilon,
	}
	energy := l.value("coherent_sct_energy")

	m := &Model{
		Elastic: ElasticParams{
			Energy:      energy,
			Amplitude:   l.value("coherent_sct_amplitude"),
			Calibration: calib,
			Width:       width,
		},
		Compton: ComptonParams{
			Energy:      energy,
			Angle:       l.value("compton_angle"),
			FWHMCorr:    l.value("compton_fwhm_corr"),
			Amplitude:   l.value("compton_amplitude"),
			FStep:       l.value("compton_f_step"),
			FTail:       l.value("compton_f_tail"),
			HiFTail:     l.value("compton_hi_f_tail"),
			Gamma:       l.value("compton_gamma"),
			HiGamma:     l.value("compton_hi_gamma"),
			Calibration: calib,
			Width:       width,
		},
	}

	for _, line := range lines {
		if !IsKLine(line.Element) && !IsLLine(line.Element) && !IsMLine(line.Element) {
			return nil, fmt.Errorf("%w %q", ErrUnknownElement, line.Element)
		}
		if len(s.Elements) > 0 && !contains(s.Elements, line.Element) {
			continue
		}
		if line.Ratio <= 0 {
			continue
		}

		ratio := line.Ratio
		if f, ok := s.BranchRatio[line.Element][line.Line]; ok {
			ratio *= f
		}
		suffix := "-" + line.Element + "-" + line.Line
		p := LineParams{
			Area:        line.Area,
			Center:      line.Energy,
			Ratio:       ratio,
			Calibration: calib,
			Width:       width,
		}
		p.DeltaCenter, _ = s.Value("pos" + suffix)
		p.DeltaSigma, _ = s.Value("width" + suffix)
		p.RatioAdjust, _ = s.Value("ratio" + suffix)

		m.Lines = append(m.Lines, p)
		m.LineNames = append(m.LineNames, ElementSymbol(line.Element)+"_"+line.Line)
	}
	return m, nil
}

// Components evaluates every part of the model on channels x, keyed by
// elastic, compton and the line names
func (m *Model) Components(x []float64) map[string][]float64 {
	out := make(map[string][]float64, len(m.Lines)+2)
	out["elastic"], _ = ElasticPeak(x, m.Elastic)
	out["compton"], _, _ = ComptonPeak(x, m.Compton)
	for i, p := range m.Lines {
		out[m.LineNames[i]] = GaussPeakXRF(x, p)
	}
	return out
}

// Evaluate returns the summed model on channels x, adding elastic, Compton
// and then the lines in order
func (m *Model) Evaluate(x []float64) []float64 {
	total, _ := ElasticPeak(x, m.Elastic)
	compton, _, _ := ComptonPeak(x, m.Compton)
	vecmath.AddBlockInPlace(total, compton)
	for _, p := range m.Lines {
		vecmath.AddBlockInPlace(total, GaussPeakXRF(x, p))
	}
	return total
}

// Spectrum evaluates the elastic and Compton peaks plus the given emission
// lines on channels x
func Spectrum(x []float64, s *ParameterSet, lines []EmissionLine) ([]float64, error) {
	m, err := NewModel(s, lines)
	if err != nil {
		return nil, err
	}
	return m.Evaluate(x), nil
}
