// Package fftn provides N-dimensional complex Fourier transforms over
// row-major arrays, built from gonum's 1D transforms applied axis by axis.
package fftn

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Size returns the number of elements described by shape.
func Size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Forward returns the unnormalized N-D DFT of data.
//
// Parameters:
//   - data: Input array in row-major order
//   - shape: Extent of each axis, slowest first
//
// Returns:
//   - A new array holding the transform
func Forward(data []complex128, shape []int) []complex128 {
	out := make([]complex128, len(data))
	copy(out, data)
	transform(out, shape, false)
	return out
}

// Inverse returns the inverse N-D DFT of data, scaled by 1/N.
func Inverse(data []complex128, shape []int) []complex128 {
	out := make([]complex128, len(data))
	copy(out, data)
	transform(out, shape, true)
	scale := complex(1/float64(len(out)), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// ForwardOrtho is Forward scaled by 1/sqrt(N).
func ForwardOrtho(data []complex128, shape []int) []complex128 {
	out := Forward(data, shape)
	scale := complex(1/math.Sqrt(float64(len(out))), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// InverseOrtho is the inverse of ForwardOrtho.
func InverseOrtho(data []complex128, shape []int) []complex128 {
	out := Inverse(data, shape)
	scale := complex(math.Sqrt(float64(len(out))), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// transform runs a 1D transform along every axis of data in place.
func transform(data []complex128, shape []int, inverse bool) {
	stride := len(data)
	for _, n := range shape {
		stride /= n
		if n < 2 {
			continue
		}
		fft := fourier.NewCmplxFFT(n)
		line := make([]complex128, n)
		block := n * stride
		for base := 0; base < len(data); base += block {
			for off := 0; off < stride; off++ {
				start := base + off
				// Gather the line along this axis
				for j := 0; j < n; j++ {
					line[j] = data[start+j*stride]
				}
				if inverse {
					fft.Sequence(line, line)
				} else {
					fft.Coefficients(line, line)
				}
				for j := 0; j < n; j++ {
					data[start+j*stride] = line[j]
				}
			}
		}
	}
}

// Shift moves the zero-frequency element to the center of every axis.
func Shift[T any](data []T, shape []int) []T {
	return roll(data, shape, func(n int) int { return n / 2 })
}

// IShift undoes Shift.
func IShift[T any](data []T, shape []int) []T {
	return roll(data, shape, func(n int) int { return n - n/2 })
}

// roll circularly shifts every axis by amount(n) positions.
func roll[T any](data []T, shape []int, amount func(n int) int) []T {
	out := make([]T, len(data))
	strides := make([]int, len(shape))
	s := 1
	for k := len(shape) - 1; k >= 0; k-- {
		strides[k] = s
		s *= shape[k]
	}

	for idx := range data {
		rem := idx
		dst := 0
		for k, n := range shape {
			c := rem / strides[k]
			rem %= strides[k]
			dst += ((c + amount(n)) % n) * strides[k]
		}
		out[dst] = data[idx]
	}
	return out
}

// Real promotes a real array to complex.
func Real(data []float64) []complex128 {
	out := make([]complex128, len(data))
	for i, v := range data {
		out[i] = complex(v, 0)
	}
	return out
}
