package calibration

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// ringPoint is an expected ring radius in a one-dimensional kd-tree
type ringPoint struct {
	Radius float64
	Index  int
}

// Compare implements the kdtree.Comparable interface
func (p ringPoint) Compare(c kdtree.Comparable, _ kdtree.Dim) float64 {
	return p.Radius - c.(ringPoint).Radius
}

// Dims implements the kdtree.Comparable interface
func (p ringPoint) Dims() int { return 1 }

// Distance returns the squared radial distance
func (p ringPoint) Distance(c kdtree.Comparable) float64 {
	d := p.Radius - c.(ringPoint).Radius
	return d * d
}

type ringPoints []ringPoint

func (p ringPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p ringPoints) Len() int                              { return len(p) }
func (p ringPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p ringPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(ringPlane{p}, kdtree.MedianOfRandoms(ringPlane{p}, 100))
}

// ringPlane implements sort.Interface and kdtree.SortSlicer for ringPoints
type ringPlane struct {
	ringPoints
}

func (p ringPlane) Less(i, j int) bool { return p.ringPoints[i].Radius < p.ringPoints[j].Radius }
func (p ringPlane) Swap(i, j int) {
	p.ringPoints[i], p.ringPoints[j] = p.ringPoints[j], p.ringPoints[i]
}
func (p ringPlane) Slice(start, end int) kdtree.SortSlicer {
	return ringPlane{p.ringPoints[start:end]}
}

// IndexedPeak is a measured ring matched to a reflection of a standard
type IndexedPeak struct {
	// Measured is the observed ring radius
	Measured float64

	// Reflection is the index into Standard.Reflections, or -1 when no
	// expected ring is within tolerance
	Reflection int

	// Expected is the radius predicted for the matched reflection
	Expected float64

	// Residual is Measured - Expected
	Residual float64
}

// IndexPeaks assigns each measured ring radius to the nearest ring predicted
// by the standard at the given wavelength (Angstroms) and sample distance.
// Matches further away than tolerance are reported with Reflection -1; a
// non-positive tolerance accepts every match.
func IndexPeaks(peaks []float64, s Standard, wavelength, distance, tolerance float64) []IndexedPeak {
	radii := s.RingRadii(wavelength, distance)
	out := make([]IndexedPeak, len(peaks))
	if len(radii) == 0 {
		for i, p := range peaks {
			out[i] = IndexedPeak{Measured: p, Reflection: -1, Expected: math.NaN(), Residual: math.NaN()}
		}
		return out
	}

	pts := make(ringPoints, len(radii))
	for i, r := range radii {
		pts[i] = ringPoint{Radius: r, Index: i}
	}
	tree := kdtree.New(pts, false)

	for i, p := range peaks {
		got, dist := tree.Nearest(ringPoint{Radius: p})
		match := got.(ringPoint)
		ip := IndexedPeak{
			Measured:   p,
			Reflection: match.Index,
			Expected:   match.Radius,
			Residual:   p - match.Radius,
		}
		if tolerance > 0 && math.Sqrt(dist) > tolerance {
			ip.Reflection = -1
		}
		out[i] = ip
	}
	return out
}
