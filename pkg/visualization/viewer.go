// Package visualization renders analysis results as grayscale images: single
// detector sized maps and slices through reconstructed volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"

	"xraykit/internal/models"
)

// Viewer extracts and saves slices of a volume. Intensities are mapped
// linearly from the volume minimum (black) to its maximum (white).
type Viewer struct {
	// volume holds the data being viewed
	volume *models.Volume

	// lo and hi bound the gray scale window
	lo float64
	hi float64
}

// NewViewer creates a viewer whose gray scale spans the whole volume
func NewViewer(v *models.Volume) *Viewer {
	lo, hi := 0.0, 0.0
	if len(v.Data) > 0 {
		lo, hi = floats.Min(v.Data), floats.Max(v.Data)
	}
	return &Viewer{volume: v, lo: lo, hi: hi}
}

// SetWindow overrides the gray scale window
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// gray maps a value into the window
func gray(value, lo, hi float64) color.Gray16 {
	if hi <= lo || math.IsNaN(value) {
		return color.Gray16{}
	}
	scaled := (value - lo) / (hi - lo) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// x runs along Width, y along Height and z along Depth.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	w, h, d := v.volume.Width, v.volume.Height, v.volume.Depth
	data := v.volume.Data

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= w {
			return nil, fmt.Errorf("position %d exceeds width %d", position, w)
		}
		img = image.NewGray16(image.Rect(0, 0, d, h))
		for y := 0; y < h; y++ {
			for z := 0; z < d; z++ {
				img.SetGray16(z, y, gray(data[z*w*h+y*w+position], v.lo, v.hi))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= h {
			return nil, fmt.Errorf("position %d exceeds height %d", position, h)
		}
		img = image.NewGray16(image.Rect(0, 0, w, d))
		for z := 0; z < d; z++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, z, gray(data[z*w*h+position*w+x], v.lo, v.hi))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= d {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d)
		}
		img = image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, y, gray(data[position*w*h+y*w+x], v.lo, v.hi))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.Volume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	w, h, d := v.volume.Width, v.volume.Height, v.volume.Depth
	if startX+sizeX > w || startY+sizeY > h || startZ+sizeZ > d {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float64, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			src := (startZ+z)*w*h + (startY+y)*w + startX
			copy(region[(z*sizeY+y)*sizeX:], v.volume.Data[src:src+sizeX])
		}
	}
	out, err := models.VolumeFromShape(region, []int{sizeZ, sizeY, sizeX})
	if err != nil {
		return nil, err
	}
	out.VoxelSize = v.volume.VoxelSize
	return out, nil
}

// Render converts a 2D image to 16-bit gray, spanning its own range
func Render(im *models.Image) image.Image {
	lo, hi := 0.0, 0.0
	if len(im.Data) > 0 {
		lo, hi = floats.Min(im.Data), floats.Max(im.Data)
	}
	img := image.NewGray16(image.Rect(0, 0, im.Cols, im.Rows))
	for r := 0; r < im.Rows; r++ {
		for c := 0; c < im.Cols; c++ {
			img.SetGray16(c, r, gray(im.At(r, c), lo, hi))
		}
	}
	return img
}

// SaveSlice saves an image as PNG, or as JPEG when filename ends in .jpg or
// .jpeg
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveImage renders im and saves it, see SaveSlice
func SaveImage(im *models.Image, filename string) error {
	return SaveSlice(Render(im), filename)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as PNG files named slice_<axis>_<pos>.png
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Width
	case "y", "Y":
		maxPos = v.volume.Height
	case "z", "Z":
		maxPos = v.volume.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
