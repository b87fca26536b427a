package models

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two arrays that must share a shape do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Image represents a single 2D detector frame
type Image struct {
	// Data holds the pixel values in row-major order
	Data []float64

	// Rows is the number of detector rows
	Rows int

	// Cols is the number of detector columns
	Cols int
}

// NewImage allocates a zero-filled image
func NewImage(rows, cols int) *Image {
	return &Image{
		Data: make([]float64, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

// ImageFromData wraps data as an image without copying it
func ImageFromData(data []float64, rows, cols int) (*Image, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for %dx%d image", ErrShapeMismatch, len(data), rows, cols)
	}
	return &Image{Data: data, Rows: rows, Cols: cols}, nil
}

// At returns the pixel at (row, col)
func (im *Image) At(row, col int) float64 {
	return im.Data[row*im.Cols+col]
}

// Set stores v at (row, col)
func (im *Image) Set(row, col int, v float64) {
	im.Data[row*im.Cols+col] = v
}

// Clone returns a deep copy of the image
func (im *Image) Clone() *Image {
	data := make([]float64, len(im.Data))
	copy(data, im.Data)
	return &Image{Data: data, Rows: im.Rows, Cols: im.Cols}
}

// Shape returns (rows, cols)
func (im *Image) Shape() (int, int) {
	return im.Rows, im.Cols
}

// Labels is an integer label mask over a detector frame.
// Zero marks background, every positive value is one region of interest.
type Labels struct {
	// Data holds the labels in row-major order
	Data []int

	Rows int
	Cols int
}

// NewLabels allocates an all-background label mask
func NewLabels(rows, cols int) *Labels {
	return &Labels{
		Data: make([]int, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

// At returns the label at (row, col)
func (l *Labels) At(row, col int) int {
	return l.Data[row*l.Cols+col]
}

// Set stores label v at (row, col)
func (l *Labels) Set(row, col, v int) {
	l.Data[row*l.Cols+col] = v
}

// Max returns the largest label present, or 0 for an empty mask
func (l *Labels) Max() int {
	m := 0
	for _, v := range l.Data {
		if v > m {
			m = v
		}
	}
	return m
}

// CheckShape reports ErrShapeMismatch if im and l do not cover the same pixels
func CheckShape(im *Image, l *Labels) error {
	if im.Rows != l.Rows || im.Cols != l.Cols {
		return fmt.Errorf("%w: image is %dx%d, labels are %dx%d", ErrShapeMismatch, im.Rows, im.Cols, l.Rows, l.Cols)
	}
	return nil
}

// Volume represents a 3D array such as a reconstructed CDI object
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	Data []float64

	// Width is the extent along the fastest axis
	Width int

	// Height is the extent along the middle axis
	Height int

	// Depth is the extent along the slowest axis
	Depth int

	// VoxelSize is the physical size of each voxel
	VoxelSize struct {
		X, Y, Z float64
	}
}

// VolumeFromShape builds a Volume from a row-major N-D array with one to
// three dimensions. Missing leading axes have extent 1.
func VolumeFromShape(data []float64, shape []int) (*Volume, error) {
	if len(shape) == 0 || len(shape) > 3 {
		return nil, fmt.Errorf("unsupported number of dimensions: %d", len(shape))
	}
	dims := []int{1, 1, 1}
	copy(dims[3-len(shape):], shape)
	if dims[0]*dims[1]*dims[2] != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	v := &Volume{Data: data, Depth: dims[0], Height: dims[1], Width: dims[2]}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v, nil
}
