package xrf

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownBoundType is returned for a bound type outside none, fixed,
	// lo, hi and lohi
	ErrUnknownBoundType = errors.New("unknown bound type")

	// ErrUnknownStrategy is returned when a parameter has no bound type for
	// the requested fitting strategy
	ErrUnknownStrategy = errors.New("unknown fitting strategy")
)

// BoundType says how a parameter is constrained during a fit
type BoundType string

const (
	BoundNone  BoundType = "none"
	BoundFixed BoundType = "fixed"
	BoundLo    BoundType = "lo"
	BoundHi    BoundType = "hi"
	BoundLoHi  BoundType = "lohi"
)

// Valid reports whether b is one of the known bound types
func (b BoundType) Valid() bool {
	switch b {
	case BoundNone, BoundFixed, BoundLo, BoundHi, BoundLoHi:
		return true
	}
	return false
}

// Strategies names the fitting strategies of the default parameter set
var Strategies = []string{"free_more", "adjust_element", "e_calibration"}

// Parameter is one fit parameter with its constraint
type Parameter struct {
	// BoundType is the constraint currently in use
	BoundType BoundType `yaml:"bound_type"`

	Value float64 `yaml:"value"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`

	// Strategies maps a strategy name to the bound type used by it
	Strategies map[string]BoundType `yaml:",inline"`
}

// Bounds is the interval a fitter may move a parameter in
type Bounds struct {
	Lo   float64
	Hi   float64
	Vary bool
}

// Bounds converts the bound type into an interval
func (p Parameter) Bounds() (Bounds, error) {
	inf := math.Inf(1)
	switch p.BoundType {
	case BoundNone:
		return Bounds{Lo: -inf, Hi: inf, Vary: true}, nil
	case BoundFixed:
		return Bounds{Lo: p.Value, Hi: p.Value}, nil
	case BoundLo:
		return Bounds{Lo: p.Min, Hi: inf, Vary: true}, nil
	case BoundHi:
		return Bounds{Lo: -inf, Hi: p.Max, Vary: true}, nil
	case BoundLoHi:
		return Bounds{Lo: p.Min, Hi: p.Max, Vary: true}, nil
	}
	return Bounds{}, fmt.Errorf("%w %q", ErrUnknownBoundType, p.BoundType)
}

func (p *Parameter) clone() *Parameter {
	c := *p
	if p.Strategies != nil {
		c.Strategies = make(map[string]BoundType, len(p.Strategies))
		for k, v := range p.Strategies {
			c.Strategies[k] = v
		}
	}
	return &c
}

// ParameterSet holds the parameters of a spectrum model
type ParameterSet struct {
	// Elements lists the elements to model, e.g. "Fe", "Pt_L", "Au_M"
	Elements []string

	// BranchRatio overrides the branching ratio of single lines, element
	// then line name, as a factor of the tabulated value
	BranchRatio map[string]map[string]float64

	// Params is keyed by parameter name
	Params map[string]*Parameter
}

// NewParameterSet returns an empty set
func NewParameterSet() *ParameterSet {
	return &ParameterSet{Params: make(map[string]*Parameter)}
}

// Clone returns a deep copy of s
func (s *ParameterSet) Clone() *ParameterSet {
	c := NewParameterSet()
	c.Elements = append([]string(nil), s.Elements...)
	if s.BranchRatio != nil {
		c.BranchRatio = make(map[string]map[string]float64, len(s.BranchRatio))
		for el, lines := range s.BranchRatio {
			m := make(map[string]float64, len(lines))
			for k, v := range lines {
				m[k] = v
			}
			c.BranchRatio[el] = m
		}
	}
	for k, p := range s.Params {
		c.Params[k] = p.clone()
	}
	return c
}

// Names returns the parameter names in sorted order
func (s *ParameterSet) Names() []string {
	names := make([]string, 0, len(s.Params))
	for k := range s.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Value returns the value of the named parameter
func (s *ParameterSet) Value(name string) (float64, bool) {
	p, ok := s.Params[name]
	if !ok {
		return 0, false
	}
	return p.Value, true
}

// Validate checks every bound type of the set
func (s *ParameterSet) Validate() error {
	for _, name := range s.Names() {
		p := s.Params[name]
		if !p.BoundType.Valid() {
			return fmt.Errorf("parameter %s: %w %q", name, ErrUnknownBoundType, p.BoundType)
		}
		for strategy, b := range p.Strategies {
			if !b.Valid() {
				return fmt.Errorf("parameter %s strategy %s: %w %q", name, strategy, ErrUnknownBoundType, b)
			}
		}
	}
	return nil
}

// splitElements accepts comma or whitespace separated element names
func splitElements(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// UnmarshalYAML reads the flat layout used by parameter files: an
// element_list string, an optional set_branch_ratio table and one mapping
// per parameter.
func (s *ParameterSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: parameter set must be a mapping", value.Line)
	}
	*s = *NewParameterSet()
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, node := value.Content[i].Value, value.Content[i+1]
		switch key {
		case "element_list":
			var list string
			if err := node.Decode(&list); err != nil {
				return fmt.Errorf("element_list: %w", err)
			}
			s.Elements = splitElements(list)
		case "set_branch_ratio":
			if err := node.Decode(&s.BranchRatio); err != nil {
				return fmt.Errorf("set_branch_ratio: %w", err)
			}
		default:
			p := &Parameter{}
			if err := node.Decode(p); err != nil {
				return fmt.Errorf("parameter %s: %w", key, err)
			}
			s.Params[key] = p
		}
	}
	return nil
}

// MarshalYAML writes the layout read by UnmarshalYAML
func (s *ParameterSet) MarshalYAML() (interface{}, error) {
	out := make(map[string]interface{}, len(s.Params)+2)
	for k, p := range s.Params {
		out[k] = p
	}
	out["element_list"] = strings.Join(s.Elements, ", ")
	if len(s.BranchRatio) > 0 {
		out["set_branch_ratio"] = s.BranchRatio
	}
	return out, nil
}

// ParseParameters decodes and validates a YAML parameter set
func ParseParameters(data []byte) (*ParameterSet, error) {
	s := NewParameterSet()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("error parsing parameters: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadParameters reads a parameter set from a YAML file
func LoadParameters(path string) (*ParameterSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading parameter file: %w", err)
	}
	return ParseParameters(data)
}

// SaveParameters writes s to a YAML file
func SaveParameters(s *ParameterSet, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating parameter directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing parameter file: %w", err)
	}
	return nil
}

// fitName maps an adjustment parameter to the name of the fitted model
// variable: pos-Fe-ka1 becomes Fe_ka1_delta_center, width-… _delta_sigma
// and ratio-… _ratio_adjust. Other names map to themselves.
func fitName(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) != 3 {
		return name
	}
	var suffix string
	switch parts[0] {
	case "pos":
		suffix = "delta_center"
	case "width":
		suffix = "delta_sigma"
	case "ratio":
		suffix = "ratio_adjust"
	default:
		return name
	}
	return parts[1] + "_" + parts[2] + "_" + suffix
}

// UpdateParameters returns a copy of s with the fitted values copied back
// and every bound type switched to the one of strategy.
func UpdateParameters(s *ParameterSet, fitValues map[string]float64, strategy string) (*ParameterSet, error) {
	out := s.Clone()
	for _, name := range out.Names() {
		p := out.Params[name]
		b, ok := p.Strategies[strategy]
		if !ok {
			return nil, fmt.Errorf("parameter %s: %w %q", name, ErrUnknownStrategy, strategy)
		}
		p.BoundType = b
		if v, ok := fitValues[fitName(name)]; ok {
			p.Value = v
		}
	}
	return out, nil
}

// adjustment bounds per K line: position, then width
var kLineAdjust = []struct {
	line     string
	posLimit float64
}{
	{"ka1", 0.005},
	{"ka2", 0.01},
	{"kb1", 0.01},
}

const widthLimit = 0.02

func adjustParameter(limit float64) *Parameter {
	return &Parameter{
		BoundType: BoundFixed,
		Min:       -limit,
		Max:       limit,
		Strategies: map[string]BoundType{
			"free_more":      BoundFixed,
			"adjust_element": BoundLoHi,
			"e_calibration":  BoundFixed,
		},
	}
}

// AddElementParameters returns a copy of s with fixed position and width
// adjustments for the ka1, ka2 and kb1 lines of every K line element. A nil
// elements uses s.Elements.
func AddElementParameters(s *ParameterSet, elements []string) *ParameterSet {
	out := s.Clone()
	if elements == nil {
		elements = s.Elements
	}
	for _, el := range elements {
		if !IsKLine(el) {
			continue
		}
		for _, a := range kLineAdjust {
			out.Params["pos-"+el+"-"+a.line] = adjustParameter(a.posLimit)
			out.Params["width-"+el+"-"+a.line] = adjustParameter(widthLimit)
		}
	}
	return out
}

func defaultParameter(b BoundType, value, lo, hi float64, strategies ...BoundType) *Parameter {
	p := &Parameter{BoundType: b, Value: value, Min: lo, Max: hi, Strategies: make(map[string]BoundType)}
	for i, s := range strategies {
		p.Strategies[Strategies[i]] = s
	}
	return p
}

// DefaultParameters returns the parameters of the scatter peaks and the
// detector response with their usual starting values. Strategies are
// free_more, adjust_element and e_calibration in that order.
func DefaultParameters() *ParameterSet {
	s := NewParameterSet()
	s.Params = map[string]*Parameter{
		"coherent_sct_amplitude": defaultParameter(BoundNone, 1e5, 0.1, 1e7, BoundNone, BoundFixed, BoundFixed),
		"coherent_sct_energy":    defaultParameter(BoundFixed, 11.8, 9, 13, BoundLoHi, BoundFixed, BoundFixed),
		"compton_amplitude":      defaultParameter(BoundNone, 5, 0, 8, BoundNone, BoundFixed, BoundFixed),
		"compton_angle":          defaultParameter(BoundLoHi, 90, 80, 100, BoundLoHi, BoundFixed, BoundFixed),
		"compton_f_step":         defaultParameter(BoundFixed, 0.01, 0, 0.1, BoundLoHi, BoundFixed, BoundFixed),
		"compton_f_tail":         defaultParameter(BoundFixed, 0.1, 0.0001, 0.3, BoundLoHi, BoundFixed, BoundFixed),
		"compton_fwhm_corr":      defaultParameter(BoundLoHi, 1.5, 0.5, 2.5, BoundLoHi, BoundFixed, BoundFixed),
		"compton_gamma":          defaultParameter(BoundFixed, 4, 3.8, 4.2, BoundLoHi, BoundFixed, BoundFixed),
		"compton_hi_f_tail":      defaultParameter(BoundFixed, 0.01, 1e-6, 1, BoundLoHi, BoundFixed, BoundFixed),
		"compton_hi_gamma":       defaultParameter(BoundFixed, 1, 0.1, 3, BoundLoHi, BoundFixed, BoundFixed),
		"e_offset":               defaultParameter(BoundFixed, 0.01, 0.005, 0.015, BoundLoHi, BoundFixed, BoundLoHi),
		"e_linear":               defaultParameter(BoundFixed, 0.01, 0.009, 0.011, BoundLoHi, BoundFixed, BoundLoHi),
		"e_quadratic":            defaultParameter(BoundFixed, 0, -1e-6, 1e-6, BoundLoHi, BoundFixed, BoundLoHi),
		"fwhm_offset":            defaultParameter(BoundLoHi, 0.178, 0.16, 0.19, BoundLoHi, BoundFixed, BoundFixed),
		"fwhm_fanoprime":         defaultParameter(BoundFixed, 1e-6, 1e-7, 1e-4, BoundLoHi, BoundFixed, BoundFixed),
	}
	return s
}
