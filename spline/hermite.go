// Package spline implements the cubic Hermite curve used to distribute spine
// joints between the hips and a spline IK target, with an arc-length
// parametrization so joints can be spaced by distance along the curve.
package spline

import (
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
)

// numSegments is the resolution of the arc-length table. The curves solved
// here span a torso, where chordal error at this resolution is far below the
// solver's error tolerance.
const numSegments = 16

// CubicHermite is a cubic Hermite curve between two points with tangents,
// carrying a precomputed arc-length table.
type CubicHermite struct {
	p0, m0, p1, m1 r3.Vector
	// cumLengths[i] is the arc length from t=0 to t=i/numSegments.
	cumLengths [numSegments + 1]float64
}

// NewCubicHermite builds the curve from base point/tangent p0/m0 to tip
// point/tangent p1/m1 and measures its arc-length table.
func NewCubicHermite(p0, m0, p1, m1 r3.Vector) *CubicHermite {
	s := &CubicHermite{p0: p0, m0: m0, p1: p1, m1: m1}
	var segments [numSegments + 1]float64
	prev := s.Eval(0)
	for i := 1; i <= numSegments; i++ {
		next := s.Eval(float64(i) / numSegments)
		segments[i] = next.Sub(prev).Norm()
		prev = next
	}
	floats.CumSum(s.cumLengths[:], segments[:])
	return s
}

// Eval returns the curve position at parameter t in [0, 1].
func (s *CubicHermite) Eval(t float64) r3.Vector {
	t2 := t * t
	t3 := t2 * t
	w0 := 2*t3 - 3*t2 + 1
	w1 := t3 - 2*t2 + t
	w2 := -2*t3 + 3*t2
	w3 := t3 - t2
	return s.p0.Mul(w0).Add(s.m0.Mul(w1)).Add(s.p1.Mul(w2)).Add(s.m1.Mul(w3))
}

// Derivative returns the curve tangent at parameter t.
func (s *CubicHermite) Derivative(t float64) r3.Vector {
	t2 := t * t
	w0 := 6*t2 - 6*t
	w1 := 3*t2 - 4*t + 1
	w2 := -6*t2 + 6*t
	w3 := 3*t2 - 2*t
	return s.p0.Mul(w0).Add(s.m0.Mul(w1)).Add(s.p1.Mul(w2)).Add(s.m1.Mul(w3))
}

// ArcLength returns the distance along the curve from t=0 to the given t.
// t is clamped to [0, 1].
func (s *CubicHermite) ArcLength(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return s.cumLengths[numSegments]
	}
	scaled := t * numSegments
	i := int(scaled)
	frac := scaled - float64(i)
	return s.cumLengths[i] + frac*(s.cumLengths[i+1]-s.cumLengths[i])
}

// ArcLengthInverse returns the parameter t whose arc length is the given
// distance, clamped to [0, 1].
func (s *CubicHermite) ArcLengthInverse(length float64) float64 {
	total := s.cumLengths[numSegments]
	if length <= 0 || total == 0 {
		return 0
	}
	if length >= total {
		return 1
	}
	i := sort.SearchFloat64s(s.cumLengths[:], length)
	// cumLengths[i-1] < length <= cumLengths[i]
	span := s.cumLengths[i] - s.cumLengths[i-1]
	frac := 0.0
	if span > 0 {
		frac = (length - s.cumLengths[i-1]) / span
	}
	return (float64(i-1) + frac) / numSegments
}
