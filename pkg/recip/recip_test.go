package recip

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"xraykit/internal/testutil"
)

func singlePixel() Geometry {
	return Geometry{
		DetectorSize: [2]int{1, 1},
		PixelSize:    [2]float64{0.1, 0.1},
		Center:       [2]float64{0, 0},
		Distance:     100,
		Wavelength:   2 * math.Pi,
	}
}

func requireVec(t *testing.T, got, want [3]float64) {
	t.Helper()
	testutil.RequireSliceNearlyEqual(t, got[:], want[:], 1e-12)
}

func TestParseFrameMode(t *testing.T) {
	tests := []struct {
		in   string
		want FrameMode
	}{
		{"theta", FrameTheta},
		{"phi", FramePhi},
		{"cart", FrameCart},
		{"hkl", FrameHKL},
		{"", FrameHKL},
	}
	for _, tc := range tests {
		got, err := ParseFrameMode(tc.in)
		if err != nil {
			t.Fatalf("ParseFrameMode(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseFrameMode(%q): expected %v, got %v", tc.in, tc.want, got)
		}
	}

	if _, err := ParseFrameMode("lab"); !errors.Is(err, ErrUnknownFrameMode) {
		t.Errorf("Expected ErrUnknownFrameMode, got %v", err)
	}
}

func TestDirectBeamIsZero(t *testing.T) {
	got, err := ProcessToQ([][]float64{{0, 0, 0, 0, 0, 0}}, singlePixel(), mat.NewDiagDense(3, []float64{1, 1, 1}), FrameHKL)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}
	requireVec(t, got[0], [3]float64{0, 0, 0})
}

func TestThetaFrame(t *testing.T) {
	// k = 1 with delta at 90 degrees gives Q = (1, -1, 0) in the lab
	got, err := ProcessToQ([][]float64{
		{90, 0, 0, 0, 0, 0},
		{90, 90, 0, 0, 0, 0},
	}, singlePixel(), mat.NewDiagDense(3, []float64{1, 1, 1}), FrameTheta)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}
	requireVec(t, got[0], [3]float64{1, -1, 0})
	requireVec(t, got[1], [3]float64{1, 1, 0})
}

func TestPhiFrameChi(t *testing.T) {
	// gamma at 90 degrees scatters straight up: Q = (0, -1, 1)
	got, err := ProcessToQ([][]float64{{0, 0, 90, 0, 0, 90}}, singlePixel(), mat.NewDiagDense(3, []float64{1, 1, 1}), FramePhi)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}
	// X^T (0, -1, 1) with chi = 90
	requireVec(t, got[0], [3]float64{-1, -1, 0})
}

func TestCrystalFrames(t *testing.T) {
	angles := [][]float64{{30, 10, 20, 40, 5, 15}}
	g := singlePixel()

	phi, err := ProcessToQ(angles, g, mat.NewDiagDense(3, []float64{1, 1, 1}), FramePhi)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}

	// UB = Rz(90) diag(2, 3, 4): U is the rotation, B the diagonal
	rz := mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	var ub mat.Dense
	ub.Mul(rz, mat.NewDiagDense(3, []float64{2, 3, 4}))

	cart, err := ProcessToQ(angles, g, &ub, FrameCart)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}
	p := phi[0]
	requireVec(t, cart[0], [3]float64{p[1], -p[0], p[2]})

	hkl, err := ProcessToQ(angles, g, &ub, FrameHKL)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}
	requireVec(t, hkl[0], [3]float64{p[1] / 2, -p[0] / 3, p[2] / 4})
}

func TestDetectorLayout(t *testing.T) {
	g := Geometry{
		DetectorSize: [2]int{3, 2},
		PixelSize:    [2]float64{0.1, 0.1},
		Center:       [2]float64{1, 0.5},
		Distance:     100,
		Wavelength:   1,
	}
	got, err := ProcessToQ([][]float64{{0, 0, 0, 0, 0, 0}, {10, 0, 0, 0, 0, 0}}, g, mat.NewDiagDense(3, []float64{1, 1, 1}), FrameTheta)
	if err != nil {
		t.Fatalf("ProcessToQ failed: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("Expected 12 vectors, got %d", len(got))
	}

	// rows straddle the center symmetrically in gamma
	testutil.RequireNearlyEqual(t, "qz symmetry", got[0][2], -got[3][2], 1e-12)
	if got[0][2] <= 0 {
		t.Errorf("Expected positive qz for the first row, got %g", got[0][2])
	}
	// the center column of the first image has no horizontal component
	testutil.RequireNearlyEqual(t, "qx center column", got[1][0], 0, 1e-12)
	// columns either side of it mirror each other
	testutil.RequireNearlyEqual(t, "qx symmetry", got[0][0], -got[2][0], 1e-12)
}

func TestProcessToQErrors(t *testing.T) {
	ident := mat.NewDiagDense(3, []float64{1, 1, 1})
	g := singlePixel()

	if _, err := ProcessToQ([][]float64{{0, 0, 0, 0, 0}}, g, ident, FrameHKL); err == nil {
		t.Error("Expected error for five angles")
	}
	singular := mat.NewDense(3, 3, []float64{1, 2, 3, 2, 4, 6, 0, 0, 1})
	if _, err := ProcessToQ([][]float64{{0, 0, 0, 0, 0, 0}}, g, singular, FrameHKL); err == nil {
		t.Error("Expected error for singular UB")
	}
	if _, err := ProcessToQ([][]float64{{0, 0, 0, 0, 0, 0}}, g, ident, FrameMode(9)); !errors.Is(err, ErrUnknownFrameMode) {
		t.Errorf("Expected ErrUnknownFrameMode, got %v", err)
	}
}
