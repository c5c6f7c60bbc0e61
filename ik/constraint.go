package ik

import (
	"gonum.org/v1/gonum/num/quat"
)

// ConstraintKind tags the concrete constraint variant so debug-only code can
// branch without runtime type inspection.
type ConstraintKind int

// The supported constraint variants.
const (
	KindSwingTwist ConstraintKind = iota
	KindElbow
)

// RotationConstraint limits a joint's parent-relative rotation. Constraints
// are built once per skeleton binding; their limits may be loosened (never
// tightened) at runtime to accommodate incoming animation that violates them.
type RotationConstraint interface {
	Kind() ConstraintKind

	// ReferenceRotation is the joint's default parent-relative rotation the
	// limits are expressed against.
	ReferenceRotation() quat.Number

	// Apply clamps the candidate rotation into the constraint's limits,
	// reporting whether it had to be modified.
	Apply(rotation quat.Number) (quat.Number, bool)

	// DynamicallyAdjustLimits expands the limits just enough to admit an
	// externally-driven rotation. Monotonic; limits never shrink until
	// ClearHistory.
	DynamicallyAdjustLimits(observed quat.Number)

	// ClearHistory restores the limits configured at build time.
	ClearHistory()

	// CenterRotation returns the rotation at the midpoint of the
	// constraint's range, used to build limit-center seed poses.
	CenterRotation() quat.Number

	// LowerSpine reports whether this joint is part of the lower spine,
	// whose swing is suppressed when no hips target is active.
	LowerSpine() bool
}
