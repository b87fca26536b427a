package xrf

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/floats"

	"xraykit/internal/testutil"
)

func ironLines() []EmissionLine {
	return []EmissionLine{
		{Element: "Fe", Line: "ka1", Energy: 6.4038, Ratio: 1, Area: 1000},
		{Element: "Fe", Line: "kb1", Energy: 7.058, Ratio: 0.13, Area: 1000},
		{Element: "Fe", Line: "kb3", Energy: 7.058, Ratio: 0, Area: 1000},
		{Element: "Cu", Line: "ka1", Energy: 8.0478, Ratio: 1, Area: 500},
	}
}

func TestNewModel(t *testing.T) {
	s := DefaultParameters()
	s.Elements = []string{"Fe"}

	m, err := NewModel(s, ironLines())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	// kb3 is not excited and Cu is not selected
	if len(m.Lines) != 2 || m.LineNames[0] != "Fe_ka1" || m.LineNames[1] != "Fe_kb1" {
		t.Fatalf("Expected lines [Fe_ka1 Fe_kb1], got %v", m.LineNames)
	}
	if m.Elastic.Energy != 11.8 || m.Compton.Angle != 90 {
		t.Errorf("Expected default scatter parameters, got %+v and %+v", m.Elastic, m.Compton)
	}
	if m.Lines[0].Calibration != (Calibration{Offset: 0.01, Linear: 0.01}) {
		t.Errorf("Unexpected calibration %+v", m.Lines[0].Calibration)
	}

	// without an element list every line is modelled
	s.Elements = nil
	m, err = NewModel(s, ironLines())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	if len(m.Lines) != 3 {
		t.Errorf("Expected 3 lines, got %v", m.LineNames)
	}
}

func TestNewModelAdjustments(t *testing.T) {
	s := AddElementParameters(DefaultParameters(), []string{"Fe"})
	s.Elements = []string{"Fe"}
	s.Params["pos-Fe-ka1"].Value = 0.002
	s.Params["width-Fe-ka1"].Value = 0.01
	s.Params["ratio-Fe-kb1"] = &Parameter{BoundType: BoundFixed, Value: 0.2}
	s.BranchRatio = map[string]map[string]float64{"Fe": {"kb1": 0.5}}

	m, err := NewModel(s, ironLines())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	ka1, kb1 := m.Lines[0], m.Lines[1]
	if ka1.DeltaCenter != 0.002 || ka1.DeltaSigma != 0.01 {
		t.Errorf("Expected ka1 adjustments, got %+v", ka1)
	}
	testutil.RequireNearlyEqual(t, "kb1 ratio", kb1.Ratio, 0.065, 1e-12)
	testutil.RequireNearlyEqual(t, "kb1 ratio adjust", kb1.RatioAdjust, 0.2, 0)
}

func TestSpectrum(t *testing.T) {
	s := DefaultParameters()
	s.Elements = []string{"Fe", "Cu"}
	x := floats.Span(make([]float64, 1201), 0, 1200)

	y, err := Spectrum(x, s, ironLines())
	if err != nil {
		t.Fatalf("Spectrum failed: %v", err)
	}

	m, _ := NewModel(s, ironLines())
	parts := m.Components(x)
	if len(parts) != 5 {
		t.Fatalf("Expected elastic, compton and 3 lines, got %d components", len(parts))
	}
	want := make([]float64, len(x))
	for _, c := range parts {
		floats.Add(want, c)
	}
	testutil.RequireSliceNearlyEqual(t, y, want, 1e-9)
	testutil.RequireFinite(t, y)

	// Fe ka1 at 6.4038 keV sits at channel (6.4038 - 0.01) / 0.01
	fe := parts["Fe_ka1"]
	if i := floats.MaxIdx(fe); i != 639 {
		t.Errorf("Expected Fe ka1 at channel 639, got %d", i)
	}
}

func TestSpectrumUnknownElement(t *testing.T) {
	lines := []EmissionLine{{Element: "Xx", Line: "ka1", Energy: 5, Ratio: 1, Area: 1}}
	if _, err := Spectrum([]float64{0, 1}, DefaultParameters(), lines); !errors.Is(err, ErrUnknownElement) {
		t.Errorf("Expected ErrUnknownElement, got %v", err)
	}
}

func TestLineLists(t *testing.T) {
	if !IsKLine("Fe") || IsKLine("Fe_L") {
		t.Error("Expected Fe to be a K line element")
	}
	if !IsLLine("Pt_L") || !IsMLine("Au_M") {
		t.Error("Expected Pt_L and Au_M to be listed")
	}
	if ElementSymbol("Pt_L") != "Pt" || ElementSymbol("Fe") != "Fe" {
		t.Error("Unexpected element symbols")
	}
}

func TestEvaluateOrder(t *testing.T) {
	s := DefaultParameters()
	s.Elements = []string{"Fe", "Cu"}
	x := floats.Span(make([]float64, 1201), 0, 1200)
	m, err := NewModel(s, ironLines())
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}

	parts := m.Components(x)
	want := make([]float64, len(x))
	for _, name := range append([]string{"elastic", "compton"}, m.LineNames...) {
		for i, v := range parts[name] {
			want[i] += v
		}
	}

	// repeated evaluations must agree bit for bit
	for run := 0; run < 5; run++ {
		got := m.Evaluate(x)
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("run %d: channel %d expected %v, got %v", run, i, want[i], got[i])
			}
		}
	}
}
