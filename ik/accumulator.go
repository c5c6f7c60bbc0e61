package ik

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/spatialmath"
)

// RotationAccumulator blends the rotation contributions several target
// chains make to one joint within a solver iteration. Contributions are
// sign-aligned before summing so the weighted average interpolates the short
// way around.
//
// The dirty flag records whether the joint received any contribution since
// ClearAndClean; Clear resets the sums between iterations but keeps it.
type RotationAccumulator struct {
	sum         quat.Number
	totalWeight float64
	count       int
	dirty       bool
}

// Add accumulates one weighted rotation.
func (a *RotationAccumulator) Add(q quat.Number, weight float64) {
	if a.count > 0 && spatialmath.Dot(q, a.sum) < 0 {
		q = spatialmath.Flip(q)
	}
	a.sum = quat.Add(a.sum, quat.Scale(weight, q))
	a.totalWeight += weight
	a.count++
	a.dirty = true
}

// Size returns the number of contributions since the last Clear.
func (a *RotationAccumulator) Size() int { return a.count }

// IsDirty reports whether any contribution arrived since ClearAndClean.
func (a *RotationAccumulator) IsDirty() bool { return a.dirty }

// Average returns the normalized weighted average, or identity if empty.
func (a *RotationAccumulator) Average() quat.Number {
	if a.totalWeight <= 0 {
		return spatialmath.QuatIdentity
	}
	return spatialmath.Normalize(quat.Scale(1/a.totalWeight, a.sum))
}

// Clear resets the accumulation but preserves the dirty flag.
func (a *RotationAccumulator) Clear() {
	a.sum = quat.Number{}
	a.totalWeight = 0
	a.count = 0
}

// ClearAndClean resets the accumulation and the dirty flag.
func (a *RotationAccumulator) ClearAndClean() {
	a.Clear()
	a.dirty = false
}

// TranslationAccumulator is the translation counterpart of
// RotationAccumulator.
type TranslationAccumulator struct {
	sum         r3.Vector
	totalWeight float64
	count       int
	dirty       bool
}

// Add accumulates one weighted translation.
func (a *TranslationAccumulator) Add(v r3.Vector, weight float64) {
	a.sum = a.sum.Add(v.Mul(weight))
	a.totalWeight += weight
	a.count++
	a.dirty = true
}

// Size returns the number of contributions since the last Clear.
func (a *TranslationAccumulator) Size() int { return a.count }

// IsDirty reports whether any contribution arrived since ClearAndClean.
func (a *TranslationAccumulator) IsDirty() bool { return a.dirty }

// Average returns the weighted average, or zero if empty.
func (a *TranslationAccumulator) Average() r3.Vector {
	if a.totalWeight <= 0 {
		return r3.Vector{}
	}
	return a.sum.Mul(1 / a.totalWeight)
}

// Clear resets the accumulation but preserves the dirty flag.
func (a *TranslationAccumulator) Clear() {
	a.sum = r3.Vector{}
	a.totalWeight = 0
	a.count = 0
}

// ClearAndClean resets the accumulation and the dirty flag.
func (a *TranslationAccumulator) ClearAndClean() {
	a.Clear()
	a.dirty = false
}
