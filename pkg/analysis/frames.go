package analysis

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"xraykit/internal/models"
)

// frameExtensions are the detector image formats read from the input
// directory
var frameExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// listFrames returns the frame files of dir ordered by the number in their
// name, falling back to the name itself
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no PNG or JPEG frames found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// loadImage decodes a PNG or JPEG file
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// imageToModel converts a decoded image to intensities. Gray images keep
// their stored values, so 16-bit PNGs carry detector counts unchanged;
// color images are converted to 8-bit luminance.
func imageToModel(img image.Image) *models.Image {
	b := img.Bounds()
	out := models.NewImage(b.Dy(), b.Dx())

	var at func(x, y int) float64
	switch src := img.(type) {
	case *image.Gray16:
		at = func(x, y int) float64 { return float64(src.Gray16At(x, y).Y) }
	case *image.Gray:
		at = func(x, y int) float64 { return float64(src.GrayAt(x, y).Y) }
	default:
		at = func(x, y int) float64 { return float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y) }
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(y, x, at(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
