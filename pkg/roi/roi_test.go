package roi

import (
	"errors"
	"math"
	"testing"

	"xraykit/internal/models"
	"xraykit/internal/testutil"
)

// diamond returns a (2n+1)x(2n+1) image with ones inside the L1 ball of
// radius n
func diamond(n int) *models.Image {
	size := 2*n + 1
	im := models.NewImage(size, size)
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			if abs(r-n)+abs(c-n) <= n {
				im.Set(r, c, 1)
			}
		}
	}
	return im
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func filled(rows, cols int, v float64) *models.Image {
	im := models.NewImage(rows, cols)
	for i := range im.Data {
		im.Data[i] = v
	}
	return im
}

func TestRectangles(t *testing.T) {
	labels, err := Rectangles([][4]int{{2, 30, 12, 15}, {40, 20, 15, 10}}, 50, 50)
	if err != nil {
		t.Fatalf("Rectangles failed: %v", err)
	}
	if got := labels.At(2, 30); got != 1 {
		t.Errorf("Expected label 1 at (2, 30), got %d", got)
	}
	if got := labels.At(13, 44); got != 1 {
		t.Errorf("Expected label 1 at (13, 44), got %d", got)
	}
	if got := labels.At(14, 44); got != 0 {
		t.Errorf("Expected background at (14, 44), got %d", got)
	}
	// second rectangle is clipped at the bottom edge
	if got := labels.At(49, 29); got != 2 {
		t.Errorf("Expected label 2 at (49, 29), got %d", got)
	}

	if _, err := Rectangles([][4]int{{0, 0, -1, 2}}, 5, 5); err == nil {
		t.Error("Expected error for negative extent")
	}
}

func TestRectangleROIs(t *testing.T) {
	detector := [2]int{15, 26}
	roiData := [][4]int{{2, 2, 6, 3}, {6, 7, 8, 5}, {8, 18, 5, 10}}

	labels, numPixels, pixels, err := RectangleROIs(roiData, detector)
	if err != nil {
		t.Fatalf("RectangleROIs failed: %v", err)
	}

	want := []int{18, 40, 40}
	for i := range want {
		if numPixels[i] != want[i] {
			t.Errorf("roi %d: expected %d pixels, got %d", i, want[i], numPixels[i])
		}
	}
	if len(labels) != len(pixels) || len(labels) != 98 {
		t.Fatalf("Expected 98 labelled pixels, got %d labels and %d indices", len(labels), len(pixels))
	}

	// first and last pixel of every rectangle, clipped to the detector
	for i, r := range roiData {
		first, last := -1, -1
		for k, p := range pixels {
			if labels[k] != i+1 {
				continue
			}
			if first < 0 {
				first = p
			}
			last = p
		}
		top, left := max(r[0], 0), max(r[1], 0)
		bottom, right := min(r[0]+r[2], detector[0]), min(r[1]+r[3], detector[1])
		if first != top*detector[1]+left {
			t.Errorf("roi %d: expected first pixel %d, got %d", i, top*detector[1]+left, first)
		}
		if last != (bottom-1)*detector[1]+right-1 {
			t.Errorf("roi %d: expected last pixel %d, got %d", i, (bottom-1)*detector[1]+right-1, last)
		}
	}
}

func TestRingEdges(t *testing.T) {
	edges, err := RingEdges(2, []float64{1}, []float64{1}, 3)
	if err != nil {
		t.Fatalf("RingEdges failed: %v", err)
	}
	want := [][2]float64{{2, 3}, {4, 5}, {6, 7}}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("ring %d: expected %v, got %v", i, want[i], edges[i])
		}
	}

	edges, err = RingEdges(1, []float64{1, 2, 3}, []float64{0.5, 1}, 3)
	if err != nil {
		t.Fatalf("RingEdges with lists failed: %v", err)
	}
	want = [][2]float64{{1, 2}, {2.5, 4.5}, {5.5, 8.5}}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("ring %d: expected %v, got %v", i, want[i], edges[i])
		}
	}

	tests := []struct {
		name    string
		width   []float64
		spacing []float64
		n       int
	}{
		{"overlap", []float64{1}, []float64{-0.5}, 2},
		{"zero width", []float64{0}, nil, 2},
		{"width count", []float64{1, 2}, nil, 3},
		{"spacing count", []float64{1}, []float64{1, 1, 1}, 3},
		{"no rings", []float64{1}, nil, 0},
	}
	for _, tc := range tests {
		if _, err := RingEdges(1, tc.width, tc.spacing, tc.n); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestPixelValues(t *testing.T) {
	img := diamond(8)

	if _, _, err := PixelValues(img, models.NewLabels(256, 256)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	edges, err := RingEdges(2, []float64{1}, []float64{1}, 5)
	if err != nil {
		t.Fatalf("RingEdges failed: %v", err)
	}
	rings, err := Rings(edges, [2]float64{8, 8}, img.Rows, img.Cols, [2]float64{1, 1})
	if err != nil {
		t.Fatalf("Rings failed: %v", err)
	}

	values, idx, err := PixelValues(img, rings)
	if err != nil {
		t.Fatalf("PixelValues failed: %v", err)
	}
	if len(values[0]) != 16 {
		t.Fatalf("Expected 16 pixels in the first ring, got %d", len(values[0]))
	}
	for _, v := range values[0] {
		if v != 1 {
			t.Errorf("Expected every first-ring pixel to be 1, got %v", values[0])
			break
		}
	}
	for i, want := range []int{1, 2, 3, 4, 5} {
		if idx[i] != want {
			t.Errorf("Expected index [1 2 3 4 5], got %v", idx)
			break
		}
	}
}

func TestMaxCounts(t *testing.T) {
	labels := models.NewLabels(4, 4)
	labels.Set(0, 0, 1)
	labels.Set(3, 3, 2)

	a := filled(4, 4, 5)
	a.Set(1, 1, 100) // unlabelled
	b := filled(4, 4, 7)
	b.Set(3, 3, 60)

	got, err := MaxCounts([][]*models.Image{{a}, {a, b}}, labels)
	if err != nil {
		t.Fatalf("MaxCounts failed: %v", err)
	}
	if got != 60 {
		t.Errorf("Expected 60, got %v", got)
	}
}

// triangleSets reproduces the lower/upper triangular image sets: inside the
// triangle pixels hold i, elsewhere i*100
func triangleSets() [][]*models.Image {
	build := func(n int, lower bool) []*models.Image {
		out := make([]*models.Image, n)
		for i := range out {
			im := models.NewImage(50, 50)
			for r := 0; r < 50; r++ {
				for c := 0; c < 50; c++ {
					inside := c <= r
					if !lower {
						inside = c >= r
					}
					v := float64(i)
					if !inside || i == 0 {
						v = float64(i) * 100
					}
					im.Set(r, c, v)
				}
			}
			out[i] = im
		}
		return out
	}
	return [][]*models.Image{build(10, true), build(20, false)}
}

func TestMeanIntensitySets(t *testing.T) {
	sets := triangleSets()
	labels, err := Rectangles([][4]int{{2, 30, 12, 15}, {40, 20, 15, 10}}, 50, 50)
	if err != nil {
		t.Fatalf("Rectangles failed: %v", err)
	}

	if _, _, err := MeanIntensity(sets[0], models.NewLabels(25, 25)); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	means, indices, err := MeanIntensitySets(sets, labels)
	if err != nil {
		t.Fatalf("MeanIntensitySets failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		testutil.RequireNearlyEqual(t, "set 0 label 1", means[0][i][0], float64(i)*100, 1e-9)
		testutil.RequireNearlyEqual(t, "set 0 label 2", means[0][i][1], float64(i), 1e-9)
	}
	for i := 0; i < 20; i++ {
		testutil.RequireNearlyEqual(t, "set 1 label 1", means[1][i][0], float64(i), 1e-9)
		testutil.RequireNearlyEqual(t, "set 1 label 2", means[1][i][1], float64(i)*100, 1e-9)
	}

	combined, err := CombineMeanIntensity(means, indices)
	if err != nil {
		t.Fatalf("CombineMeanIntensity failed: %v", err)
	}
	if len(combined) != 30 {
		t.Errorf("Expected 30 combined rows, got %d", len(combined))
	}

	labels3, _ := Rectangles([][4]int{{2, 30, 12, 15}, {40, 20, 15, 10}, {20, 2, 4, 5}}, 50, 50)
	m3, idx3, err := MeanIntensity(sets[0], labels3)
	if err != nil {
		t.Fatalf("MeanIntensity failed: %v", err)
	}
	_, err = CombineMeanIntensity(append(means, m3), append(indices, idx3))
	if !errors.Is(err, ErrLabelMismatch) {
		t.Errorf("Expected ErrLabelMismatch, got %v", err)
	}
}

func TestCircularAverage(t *testing.T) {
	img := models.NewImage(12, 12)
	center := [2]float64{5, 5}

	edges, err := RingEdges(1, []float64{1}, []float64{1}, 2)
	if err != nil {
		t.Fatalf("RingEdges failed: %v", err)
	}
	labels, err := Rings(edges, center, 12, 12, [2]float64{1, 1})
	if err != nil {
		t.Fatalf("Rings failed: %v", err)
	}
	for i, v := range labels.Data {
		if v > 0 {
			img.Data[i] = 10
		}
	}

	opts := DefaultAverageOptions()
	opts.NX = 6
	binCenters, avg, err := CircularAverage(img, center, opts)
	if err != nil {
		t.Fatalf("CircularAverage failed: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, binCenters, []float64{
		0.70710678, 2.12132034, 3.53553391, 4.94974747, 6.36396103, 7.77817459,
	}, 1e-6)
	testutil.RequireSliceNearlyEqual(t, avg, []float64{8, 2.5, 5.55555556, 0, 0, 0}, 1e-6)
}

func TestKymograph(t *testing.T) {
	edges, err := RingEdges(5, []float64{2}, nil, 1)
	if err != nil {
		t.Fatalf("RingEdges failed: %v", err)
	}
	labels, err := Rings(edges, [2]float64{25, 25}, 50, 50, [2]float64{1, 1})
	if err != nil {
		t.Fatalf("Rings failed: %v", err)
	}

	images := make([]*models.Image, 100)
	for i := range images {
		images[i] = filled(50, 50, float64(i))
	}

	kymo, err := Kymograph(images, labels, 1)
	if err != nil {
		t.Fatalf("Kymograph failed: %v", err)
	}
	for i, row := range kymo {
		if math.Abs(row[0]-float64(i)) > 1e-12 {
			t.Fatalf("image %d: expected %d, got %v", i, i, row[0])
		}
	}

	if _, err := Kymograph(images, labels, 3); err == nil {
		t.Error("Expected error for a missing label")
	}
}
