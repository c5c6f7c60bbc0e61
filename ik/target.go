package ik

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/animvars"
	"go.viam.com/bodyik/spatialmath"
)

// TargetType selects how a target is solved.
type TargetType int

// Target types, in wire order of the type animation variable.
const (
	TargetRotationAndPosition TargetType = iota
	TargetRotationOnly
	TargetHmdHead
	TargetHipsRelativeRotationAndPosition
	TargetSpline
	TargetUnknown
)

// MaxFlexCoefficients caps the per-chain-depth damping list of a target.
const MaxFlexCoefficients = 10

var unitZ = r3.Vector{Z: 1}

// TargetSpec is the persistent specification of an IK target: a joint name
// plus the animation-variable names its live values are read from each
// frame. Specs are configured by the owning rig and survive skeleton
// rebinds; the joint index is re-resolved lazily.
type TargetSpec struct {
	JointName string

	PositionVar string
	RotationVar string
	TypeVar     string
	WeightVar   string

	// Weight is the static weight used when WeightVar is not set.
	Weight float64

	// FlexCoefficients damp the response per chain depth, tip first. At most
	// MaxFlexCoefficients entries are kept.
	FlexCoefficients []float64

	PoleVectorEnabledVar   string
	PoleReferenceVectorVar string
	PoleVectorVar          string
}

// targetVar is a TargetSpec bound to a skeleton. jointIndex is -1 until the
// joint name has been resolved; it is reset on rebind.
type targetVar struct {
	TargetSpec
	flex       []float64
	jointIndex int
}

func newTargetVar(spec TargetSpec) targetVar {
	flex := spec.FlexCoefficients
	if len(flex) > MaxFlexCoefficients {
		flex = flex[:MaxFlexCoefficients]
	}
	return targetVar{
		TargetSpec: spec,
		flex:       append([]float64{}, flex...),
		jointIndex: -1,
	}
}

// Target is the live, per-frame realization of a TargetSpec. It is built
// fresh each frame from the animation-variable snapshot and consumed within
// that frame only.
type Target struct {
	Type                TargetType
	Rotation            quat.Number
	Translation         r3.Vector
	Weight              float64
	Index               int
	PoleVectorEnabled   bool
	PoleVector          r3.Vector
	PoleReferenceVector r3.Vector

	flex []float64
}

// Pose returns the target's rotation and translation as a pose.
func (t *Target) Pose() spatialmath.Pose {
	return spatialmath.NewPose(t.Rotation, t.Translation)
}

// HasPosition reports whether the target constrains its joint's position.
func (t *Target) HasPosition() bool {
	switch t.Type {
	case TargetRotationAndPosition, TargetHmdHead, TargetHipsRelativeRotationAndPosition:
		return true
	case TargetRotationOnly, TargetSpline, TargetUnknown:
		return false
	}
	return false
}

// FlexCoefficient returns the damping factor at the given chain depth (0 is
// the tip). Depths beyond the configured list reuse the final entry; an
// empty list yields 0.5.
func (t *Target) FlexCoefficient(chainDepth int) float64 {
	const defaultFlexCoefficient = 0.5
	if len(t.flex) == 0 {
		return defaultFlexCoefficient
	}
	if chainDepth < len(t.flex) {
		return t.flex[chainDepth]
	}
	return t.flex[len(t.flex)-1]
}

// computeTargets resolves the configured target specs against the current
// skeleton and animation variables. Specs naming joints absent from the
// skeleton are warned about once and dropped until the next rebind.
func (e *Engine) computeTargets(vars animvars.Map, underPoses []spatialmath.Pose) []Target {
	e.maxTargetIndex = -1
	e.hipsTargetIndex = -1
	removeUnfound := false

	targets := e.targetScratch[:0]
	for i := range e.targetVars {
		tv := &e.targetVars[i]
		if tv.jointIndex == -1 {
			// this spec has not been resolved against the skeleton yet
			if jointIndex := e.skeleton.NameToIndex(tv.JointName); jointIndex >= 0 {
				tv.jointIndex = jointIndex
			} else {
				e.logger.Warnw("could not find IK target joint in skeleton", "joint", tv.JointName)
				removeUnfound = true
			}
			continue
		}

		targetType := TargetType(vars.Int(tv.TypeVar, int(TargetRotationAndPosition)))
		if targetType < TargetRotationAndPosition || targetType >= TargetUnknown {
			continue
		}

		absPose := e.skeleton.AbsolutePose(tv.jointIndex, underPoses)
		target := Target{
			Type:                targetType,
			Rotation:            vars.Quat(tv.RotationVar, absPose.Rotation),
			Translation:         vars.Vec3(tv.PositionVar, absPose.Translation),
			Weight:              vars.Float64(tv.WeightVar, tv.Weight),
			Index:               tv.jointIndex,
			PoleVectorEnabled:   vars.Bool(tv.PoleVectorEnabledVar, false),
			PoleVector:          normalizeOr(vars.Vec3(tv.PoleVectorVar, unitZ), unitZ),
			PoleReferenceVector: normalizeOr(vars.Vec3(tv.PoleReferenceVectorVar, unitZ), unitZ),
			flex:                tv.flex,
		}
		targets = append(targets, target)

		if tv.jointIndex > e.maxTargetIndex {
			e.maxTargetIndex = tv.jointIndex
		}
		if tv.jointIndex == e.hipsIndex {
			e.hipsTargetIndex = len(targets) - 1
		}
	}

	if removeUnfound {
		// swap-to-end-and-pop; order of specs is not significant
		numVars := len(e.targetVars)
		i := 0
		for i < numVars {
			if e.targetVars[i].jointIndex == -1 {
				if numVars > 1 {
					e.targetVars[i] = e.targetVars[numVars-1]
				}
				numVars--
			} else {
				i++
			}
		}
		e.targetVars = e.targetVars[:numVars]
	}

	e.targetScratch = targets
	return targets
}

func normalizeOr(v, fallback r3.Vector) r3.Vector {
	if v.Norm() == 0 {
		return fallback
	}
	return v.Normalize()
}
