package ik

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/spatialmath"
	"go.viam.com/bodyik/utils"
)

// ElbowConstraint is a single-axis hinge (elbows, knees): rotation is
// projected onto the hinge axis, the hinge angle is clamped to a signed
// range, and any off-axis component is rejected.
type ElbowConstraint struct {
	referenceRotation  quat.Number
	hingeAxis          r3.Vector // child frame, unit length
	minAngle, maxAngle float64

	originalMinAngle, originalMaxAngle float64
}

// NewElbowConstraint returns a hinge constraint around the given reference
// rotation. The hinge axis and angle limits must be set before use.
func NewElbowConstraint(referenceRotation quat.Number) *ElbowConstraint {
	c := &ElbowConstraint{
		referenceRotation: spatialmath.Normalize(referenceRotation),
		hingeAxis:         r3.Vector{Z: 1},
		minAngle:          -math.Pi,
		maxAngle:          math.Pi,
	}
	c.snapshotLimits()
	return c
}

// Kind returns KindElbow.
func (c *ElbowConstraint) Kind() ConstraintKind { return KindElbow }

// ReferenceRotation returns the reference rotation.
func (c *ElbowConstraint) ReferenceRotation() quat.Number { return c.referenceRotation }

// LowerSpine always reports false for hinges.
func (c *ElbowConstraint) LowerSpine() bool { return false }

// HingeAxis returns the hinge axis in the child frame.
func (c *ElbowConstraint) HingeAxis() r3.Vector { return c.hingeAxis }

// MinAngle returns the current lower hinge limit (radians).
func (c *ElbowConstraint) MinAngle() float64 { return c.minAngle }

// MaxAngle returns the current upper hinge limit (radians).
func (c *ElbowConstraint) MaxAngle() float64 { return c.maxAngle }

// SetHingeAxis sets the hinge axis, expressed in the child frame.
func (c *ElbowConstraint) SetHingeAxis(axis r3.Vector) {
	if axis.Norm() > 0 {
		c.hingeAxis = axis.Normalize()
	}
}

// SetAngleLimits sets the signed hinge angle range.
func (c *ElbowConstraint) SetAngleLimits(minAngle, maxAngle float64) {
	c.minAngle = minAngle
	c.maxAngle = maxAngle
	c.snapshotLimits()
}

// Apply projects the candidate onto the hinge axis and clamps its angle.
func (c *ElbowConstraint) Apply(rotation quat.Number) (quat.Number, bool) {
	post := quat.Mul(rotation, quat.Conj(c.referenceRotation))
	swing, twist := spatialmath.SwingTwistDecomposition(post, c.hingeAxis)

	angle := spatialmath.TwistAngle(twist, c.hingeAxis)
	clamped := utils.Clamp(angle, c.minAngle, c.maxAngle)

	// swing is identity iff its scalar part is (close to) +/-1
	offAxis := math.Abs(swing.Real) < 1-1e-12
	if !offAxis && math.Abs(clamped-angle) <= 1e-9 {
		return rotation, false
	}
	return spatialmath.Normalize(quat.Mul(spatialmath.AngleAxis(clamped, c.hingeAxis), c.referenceRotation)), true
}

// DynamicallyAdjustLimits expands the hinge range to admit the observed
// rotation's on-axis angle. Off-axis components are ignored; they are always
// rejected by Apply.
func (c *ElbowConstraint) DynamicallyAdjustLimits(observed quat.Number) {
	post := quat.Mul(observed, quat.Conj(c.referenceRotation))
	_, twist := spatialmath.SwingTwistDecomposition(post, c.hingeAxis)
	angle := spatialmath.TwistAngle(twist, c.hingeAxis)
	if angle < c.minAngle {
		c.minAngle = angle
	} else if angle > c.maxAngle {
		c.maxAngle = angle
	}
}

// ClearHistory restores the limits configured at build time.
func (c *ElbowConstraint) ClearHistory() {
	c.minAngle = c.originalMinAngle
	c.maxAngle = c.originalMaxAngle
}

// CenterRotation returns the rotation at the middle of the hinge range.
func (c *ElbowConstraint) CenterRotation() quat.Number {
	return spatialmath.Normalize(quat.Mul(spatialmath.AngleAxis((c.minAngle+c.maxAngle)/2, c.hingeAxis), c.referenceRotation))
}

func (c *ElbowConstraint) snapshotLimits() {
	c.originalMinAngle = c.minAngle
	c.originalMaxAngle = c.maxAngle
}
