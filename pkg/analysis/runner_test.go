package analysis

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xraykit/internal/models"
	"xraykit/pkg/calibration"
	"xraykit/pkg/config"
)

// writeFrame saves im as a 16-bit grayscale PNG
func writeFrame(t *testing.T, dir, name string, im *models.Image) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, im.Cols, im.Rows))
	for r := 0; r < im.Rows; r++ {
		for c := 0; c < im.Cols; c++ {
			img.SetGray16(c, r, color.Gray16{Y: uint16(math.Round(im.At(r, c)))})
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to create frame: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
}

func constantImage(rows, cols int, v float64) *models.Image {
	im := models.NewImage(rows, cols)
	for i := range im.Data {
		im.Data[i] = v
	}
	return im
}

func readSummary(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "summary.txt"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	return string(data)
}

func requireFile(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected output file does not exist: %s", path)
	}
}

func countDataLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(strings.ToUpper(string(m)))
		if err != nil {
			t.Fatalf("ParseMode(%q) failed: %v", m, err)
		}
		if got != m {
			t.Errorf("Expected %s, got %s", m, got)
		}
	}
	if _, err := ParseMode("tomography"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"frame_012.png", 12},
		{"scan7_0003.png", 70003},
		{"dark.png", 0},
	}
	for _, tc := range tests {
		if got := extractNumber(tc.name); got != tc.want {
			t.Errorf("extractNumber(%q): expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"f10.png", "f2.png", "f1.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := listFrames(dir)
	if err != nil {
		t.Fatalf("listFrames failed: %v", err)
	}
	want := []string{"f1.jpg", "f2.png", "f10.png"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, files)
	}

	if _, err := listFrames(t.TempDir()); err == nil {
		t.Error("Expected error for a directory without frames")
	}
}

func TestImageToModel(t *testing.T) {
	g := image.NewGray16(image.Rect(0, 0, 3, 2))
	g.SetGray16(2, 1, color.Gray16{Y: 40000})
	im := imageToModel(g)
	if im.Rows != 2 || im.Cols != 3 {
		t.Fatalf("Expected a 2x3 image, got %dx%d", im.Rows, im.Cols)
	}
	if got := im.At(1, 2); got != 40000 {
		t.Errorf("Expected the raw 16-bit count 40000, got %f", got)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	rgba.Set(0, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	im = imageToModel(rgba)
	if got := im.At(1, 0); got != 255 {
		t.Errorf("Expected white to map to 255, got %f", got)
	}
}

func TestProcessShapeMismatch(t *testing.T) {
	in := t.TempDir()
	writeFrame(t, in, "frame_0.png", constantImage(4, 4, 1))
	writeFrame(t, in, "frame_1.png", constantImage(4, 5, 1))

	r := NewRunner(&Params{InputDir: in, OutputDir: t.TempDir(), Mode: ModeXSVS, NumCores: 2})
	if err := r.Process(); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestProcessUnknownMode(t *testing.T) {
	r := NewRunner(&Params{InputDir: t.TempDir(), OutputDir: t.TempDir(), Mode: "tomography"})
	if err := r.Process(); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestRunDPC(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()

	// even counts so the half-intensity scan frames stay exact
	ref := models.NewImage(8, 8)
	for i := range ref.Data {
		ref.Data[i] = 2 * (100 + math.Round(50*math.Sin(float64(i)*0.7)) + float64(i%3))
	}
	writeFrame(t, in, "frame_000.png", ref)
	half := ref.Clone()
	for i := range half.Data {
		half.Data[i] /= 2
	}
	for i := 1; i <= 6; i++ {
		writeFrame(t, in, fmt.Sprintf("frame_%03d.png", i), half)
	}

	cfg := config.DefaultConfig()
	cfg.DPC.Rows, cfg.DPC.Cols = 2, 3
	r := NewRunner(&Params{InputDir: in, OutputDir: out, Mode: ModeDPC, Config: cfg})
	if err := r.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(r.Frames()) != 7 {
		t.Errorf("Expected 7 frames, got %d", len(r.Frames()))
	}
	for _, name := range []string{"dpc_phase.png", "dpc_gx.png", "dpc_gy.png", "dpc_a.png"} {
		requireFile(t, filepath.Join(out, name))
	}
	summary := readSummary(t, out)
	if !strings.Contains(summary, "mode: dpc") {
		t.Errorf("Expected the mode in the summary, got:\n%s", summary)
	}
	for _, e := range r.Summary() {
		if e.Key != "attenuation_mean" {
			continue
		}
		var got float64
		if _, err := fmt.Sscanf(e.Value, "%g", &got); err != nil {
			t.Fatalf("Failed to parse attenuation %q: %v", e.Value, err)
		}
		if math.Abs(got-0.5) > 1e-3 {
			t.Errorf("Expected a mean attenuation of 0.5, got %f", got)
		}
	}
}

func TestRunDPCTooFewFrames(t *testing.T) {
	in := t.TempDir()
	writeFrame(t, in, "frame_0.png", constantImage(4, 4, 1))

	r := NewRunner(&Params{InputDir: in, OutputDir: t.TempDir(), Mode: ModeDPC})
	if err := r.Process(); err == nil {
		t.Error("Expected error for a scan without frames")
	}
}

// gaussianPattern returns a centred Gaussian intensity pattern
func gaussianPattern(n int, sigma, peak float64) *models.Image {
	im := models.NewImage(n, n)
	c := float64(n) / 2
	for r := 0; r < n; r++ {
		for col := 0; col < n; col++ {
			d2 := (float64(r)-c)*(float64(r)-c) + (float64(col)-c)*(float64(col)-c)
			im.Set(r, col, peak*math.Exp(-d2/(2*sigma*sigma)))
		}
	}
	return im
}

func TestRunCDI2D(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeFrame(t, in, "pattern.png", gaussianPattern(16, 3, 10000))

	cfg := config.DefaultConfig()
	cfg.CDI.Iterations = 10
	cfg.CDI.Shrinkwrap = false
	cfg.CDI.SupportRadius = 4
	cfg.CDI.SnapshotStep = 5
	cfg.Output.SaveIntermediaryResults = true

	r := NewRunner(&Params{InputDir: in, OutputDir: out, Mode: ModeCDI, Config: cfg})
	if err := r.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	requireFile(t, filepath.Join(out, "cdi_object.png"))
	if n := countDataLines(t, filepath.Join(out, "cdi_errors.txt")); n != 10 {
		t.Errorf("Expected 10 error rows, got %d", n)
	}
	for _, it := range []int{0, 5} {
		requireFile(t, filepath.Join(out, "intermediary", "cdi", fmt.Sprintf("%05d.png", it)))
	}
	if summary := readSummary(t, out); !strings.Contains(summary, "iterations: 10") {
		t.Errorf("Expected the iteration count in the summary, got:\n%s", summary)
	}
}

func TestRunCDI3D(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	for i := 0; i < 4; i++ {
		writeFrame(t, in, fmt.Sprintf("slice_%d.png", i), gaussianPattern(8, 2, float64(1000*(i+1))))
	}

	cfg := config.DefaultConfig()
	cfg.CDI.Iterations = 5
	cfg.CDI.Shrinkwrap = false
	cfg.CDI.SupportRadius = 2

	r := NewRunner(&Params{InputDir: in, OutputDir: out, Mode: ModeCDI, Config: cfg})
	if err := r.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// the object is 4 deep and 8x8 in plane
	requireFile(t, filepath.Join(out, "cdi_object", "x", "slice_x_007.png"))
	requireFile(t, filepath.Join(out, "cdi_object", "y", "slice_y_007.png"))
	requireFile(t, filepath.Join(out, "cdi_object", "z", "slice_z_003.png"))
}

func TestRunXSVS(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	for i := 0; i < 8; i++ {
		writeFrame(t, in, fmt.Sprintf("frame_%02d.png", i), constantImage(32, 32, float64(1+i%2)))
	}

	cfg := config.DefaultConfig()
	cfg.XSVS.MaxCts = 8
	cfg.XSVS.InnerRadius = 2
	cfg.XSVS.Width = 3
	cfg.XSVS.Spacing = 1
	cfg.XSVS.NumRings = 3
	cfg.Output.Verbose = false

	r := NewRunner(&Params{InputDir: in, OutputDir: out, Mode: ModeXSVS, Config: cfg})
	if err := r.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if log.Writer() == io.Discard {
		t.Error("Expected the log output to be restored after a quiet run")
	}

	for _, tb := range []int{1, 2, 4, 8} {
		path := filepath.Join(out, fmt.Sprintf("xsvs_t%03d.txt", tb))
		requireFile(t, path)
		if n := countDataLines(t, path); n != 8*tb-1 {
			t.Errorf("time bin %d: expected %d count rows, got %d", tb, 8*tb-1, n)
		}
	}
	if n := countDataLines(t, filepath.Join(out, "xsvs_counts.txt")); n != 9 {
		t.Errorf("Expected 9 histogram rows, got %d", n)
	}

	// half the frames hold 1 photon per pixel and half hold 2
	data, err := os.ReadFile(filepath.Join(out, "xsvs_counts.txt"))
	if err != nil {
		t.Fatalf("Failed to read count histogram: %v", err)
	}
	pixels := map[int]float64{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		var k, n float64
		if _, err := fmt.Sscanf(line, "%g %g", &k, &n); err != nil {
			t.Fatalf("Failed to parse histogram row %q: %v", line, err)
		}
		pixels[int(k)] = n
	}
	if pixels[1] == 0 || pixels[1] != pixels[2] {
		t.Errorf("Expected equal non-zero pixel totals at counts 1 and 2, got %v and %v", pixels[1], pixels[2])
	}
	for k, n := range pixels {
		if k != 1 && k != 2 && n != 0 {
			t.Errorf("Expected no pixels at count %d, got %v", k, n)
		}
	}

	summary := readSummary(t, out)
	for _, want := range []string{"rois: 3", "max_counts: 8", "mean_intensity_roi_1: 1.5"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Expected %q in the summary, got:\n%s", want, summary)
		}
	}
}

func TestRunCalibrationBlankFrame(t *testing.T) {
	in := t.TempDir()
	writeFrame(t, in, "blank.png", constantImage(32, 32, 10))

	r := NewRunner(&Params{InputDir: in, OutputDir: t.TempDir(), Mode: ModeCalibrate})
	if err := r.Process(); !errors.Is(err, calibration.ErrNoPeaks) {
		t.Errorf("Expected ErrNoPeaks, got %v", err)
	}
}

func TestRunCalibration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping center refinement in short mode")
	}

	in, out := t.TempDir(), t.TempDir()
	size := 201
	truth := [2]float64{102, 98.5}
	img := models.NewImage(size, size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			rho := math.Hypot(float64(r)-truth[0], float64(c)-truth[1])
			var v float64
			for _, R := range []float64{25, 40, 55} {
				v += 20000 * math.Exp(-(rho-R)*(rho-R)/(2*1.5*1.5))
			}
			img.Set(r, c, v)
		}
	}
	writeFrame(t, in, "rings.png", img)

	cfg := config.DefaultConfig()
	cfg.Calibration.PixelSize = [2]float64{1, 1}
	cfg.Calibration.Center = [2]float64{100, 100}
	cfg.Calibration.PhiSteps = 13
	cfg.Calibration.Bins = 120
	cfg.Calibration.MinRadius = 10
	cfg.Calibration.MaxRadius = 70
	cfg.Calibration.Threshold = 10000

	r := NewRunner(&Params{InputDir: in, OutputDir: out, Mode: ModeCalibrate, Config: cfg})
	if err := r.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if n := countDataLines(t, filepath.Join(out, "ring_profile.txt")); n != 120 {
		t.Errorf("Expected 120 profile rows, got %d", n)
	}
	if n := countDataLines(t, filepath.Join(out, "ring_index.txt")); n != 3 {
		t.Errorf("Expected 3 indexed rings, got %d", n)
	}

	values := map[string]string{}
	for _, e := range r.Summary() {
		values[e.Key] = e.Value
	}
	for key, want := range map[string]float64{"center_row": truth[0], "center_col": truth[1]} {
		var got float64
		if _, err := fmt.Sscanf(values[key], "%g", &got); err != nil {
			t.Fatalf("Failed to parse %s %q: %v", key, values[key], err)
		}
		if math.Abs(got-want) > 0.5 {
			t.Errorf("Expected %s near %f, got %f", key, want, got)
		}
	}
}
