// Package ik solves full-body inverse kinematics for animated skeletal
// rigs. An Engine overlays sparse end-effector targets onto an incoming
// animation each frame, walking joint chains with cyclic coordinate descent
// under per-joint rotation limits, bending the spine along a spline, and
// drifting the hips to keep unreachable targets in range. Solving is
// best-effort within a fixed iteration cap and never fails hard.
package ik

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/animvars"
	"go.viam.com/bodyik/skeleton"
	"go.viam.com/bodyik/spatialmath"
	"go.viam.com/bodyik/utils"
)

// SolutionSource selects how the solver is seeded each frame before
// iterating.
type SolutionSource int

// Solution sources, in wire order of the solution-source animation variable.
const (
	// SolutionSourceRelaxToUnderPoses drifts the previous solution toward
	// the incoming animation.
	SolutionSourceRelaxToUnderPoses SolutionSource = iota
	// SolutionSourceRelaxToLimitCenterPoses drifts the previous solution
	// toward the constraint-center pose.
	SolutionSourceRelaxToLimitCenterPoses
	// SolutionSourcePreviousSolution reuses the previous solution as is.
	SolutionSourcePreviousSolution
	// SolutionSourceUnderPoses seeds directly from the incoming animation.
	SolutionSourceUnderPoses
	// SolutionSourceLimitCenterPoses seeds directly from the
	// constraint-center pose.
	SolutionSourceLimitCenterPoses
)

const (
	maxIterations     = 16
	maxErrorTolerance = 0.1 // cm
	relaxBlendFactor  = 1.0 / 16.0
	copyBlendFactor   = 1.0
)

// Engine is the per-rig IK solver. It is bound to one skeleton at a time and
// keeps its previous solution, constraint history and hips offset between
// frames. An Engine is not safe for concurrent use.
type Engine struct {
	logger golog.Logger

	skeleton *skeleton.Skeleton

	relativePoses        []spatialmath.Pose
	defaultRelativePoses []spatialmath.Pose
	limitCenterPoses     []spatialmath.Pose

	rotationAccumulators    []RotationAccumulator
	translationAccumulators []TranslationAccumulator

	constraints      map[int]RotationConstraint
	targetVars       []targetVar
	targetScratch    []Target
	chainScratch     []jointChainInfo
	splineJointInfos map[int][]splineJointInfo

	hipsOffset          r3.Vector
	maxHipsOffsetLength float64

	solutionSource    SolutionSource
	solutionSourceVar string

	maxTargetIndex  int
	hipsTargetIndex int

	hipsIndex       int
	hipsParentIndex int
	headIndex       int
	leftHandIndex   int
	rightHandIndex  int

	maxErrorOnLastSolve float64

	uncontrolledLeftHandPose  spatialmath.Pose
	uncontrolledRightHandPose spatialmath.Pose
	uncontrolledHipsPose      spatialmath.Pose

	prevDrawTargets bool
}

// NewEngine returns an engine with no skeleton bound.
func NewEngine(logger golog.Logger) *Engine {
	return &Engine{
		logger:              logger,
		constraints:         map[int]RotationConstraint{},
		splineJointInfos:    map[int][]splineJointInfo{},
		maxHipsOffsetLength: math.MaxFloat64,
		maxTargetIndex:      -1,
		hipsTargetIndex:     -1,
		hipsIndex:           -1,
		hipsParentIndex:     -1,
		headIndex:           -1,
		leftHandIndex:       -1,
		rightHandIndex:      -1,
	}
}

// BindSkeleton binds the engine to a skeleton: constraints are authored from
// the joint names, limit-center poses are derived, well-known joints are
// cached, and all per-frame state is reset.
func (e *Engine) BindSkeleton(skel *skeleton.Skeleton) error {
	if skel == nil {
		return errors.New("cannot bind nil skeleton")
	}
	e.skeleton = skel

	// invalidate all target vars; joint indices are re-resolved lazily
	for i := range e.targetVars {
		e.targetVars[i].jointIndex = -1
	}
	e.maxTargetIndex = -1
	e.hipsTargetIndex = -1

	e.defaultRelativePoses = skel.RelativeDefaultPoses()
	e.relativePoses = nil
	e.rotationAccumulators = make([]RotationAccumulator, skel.NumJoints())
	e.translationAccumulators = make([]TranslationAccumulator, skel.NumJoints())
	e.splineJointInfos = map[int][]splineJointInfo{}
	e.chainScratch = make([]jointChainInfo, 0, skel.MaxChainDepth())

	e.constraints = buildConstraints(skel, e.defaultRelativePoses)
	e.limitCenterPoses = buildLimitCenterPoses(skel, e.defaultRelativePoses, e.constraints)

	e.headIndex = skel.NameToIndex("Head")
	e.hipsIndex = skel.NameToIndex("Hips")
	e.hipsParentIndex = -1
	if e.hipsIndex >= 0 {
		e.hipsParentIndex = skel.ParentIndex(e.hipsIndex)
	}
	e.leftHandIndex = skel.NameToIndex("LeftHand")
	e.rightHandIndex = skel.NameToIndex("RightHand")

	e.uncontrolledLeftHandPose = spatialmath.NewZeroPose()
	e.uncontrolledRightHandPose = spatialmath.NewZeroPose()
	e.uncontrolledHipsPose = spatialmath.NewZeroPose()
	e.hipsOffset = r3.Vector{}
	return nil
}

// SetTargetSpec registers a target specification. Specs accumulate; each is
// resolved against the skeleton on the next frame.
func (e *Engine) SetTargetSpec(spec TargetSpec) {
	e.targetVars = append(e.targetVars, newTargetVar(spec))
}

// SetConstraint replaces (or installs) the constraint for a joint index.
// Passing nil removes it.
func (e *Engine) SetConstraint(jointIndex int, constraint RotationConstraint) {
	if constraint == nil {
		delete(e.constraints, jointIndex)
		return
	}
	e.constraints[jointIndex] = constraint
}

// Constraint returns the constraint for a joint index, or nil.
func (e *Engine) Constraint(jointIndex int) RotationConstraint {
	return e.constraints[jointIndex]
}

// SetSolutionSource sets the default per-frame seeding strategy.
func (e *Engine) SetSolutionSource(source SolutionSource) { e.solutionSource = source }

// SetSolutionSourceVar names an animation variable that overrides the
// solution source per frame.
func (e *Engine) SetSolutionSourceVar(name string) { e.solutionSourceVar = name }

// SetMaxHipsOffsetLength clamps the hips-offset magnitude. The argument is
// in meters; poses are in centimeters.
func (e *Engine) SetMaxHipsOffsetLength(maxLengthMeters float64) {
	const metersToCentimeters = 100.0
	e.maxHipsOffsetLength = metersToCentimeters * maxLengthMeters
}

// ClearJointLimitHistory undoes any dynamic loosening of the joint limits.
func (e *Engine) ClearJointLimitHistory() {
	for _, constraint := range e.constraints {
		constraint.ClearHistory()
	}
}

// MaxErrorOnLastSolve returns the largest positional target error (cm) after
// the last solve's final iteration.
func (e *Engine) MaxErrorOnLastSolve() float64 { return e.maxErrorOnLastSolve }

// HipsOffset returns the current accumulated hips offset.
func (e *Engine) HipsOffset() r3.Vector { return e.hipsOffset }

// UncontrolledLeftHandPose returns the left hand's absolute pose in the
// incoming animation of the last frame, untouched by IK.
func (e *Engine) UncontrolledLeftHandPose() spatialmath.Pose { return e.uncontrolledLeftHandPose }

// UncontrolledRightHandPose returns the right hand's absolute pose in the
// incoming animation of the last frame, untouched by IK.
func (e *Engine) UncontrolledRightHandPose() spatialmath.Pose { return e.uncontrolledRightHandPose }

// UncontrolledHipsPose returns the hips' absolute pose in the incoming
// animation of the last frame, untouched by IK.
func (e *Engine) UncontrolledHipsPose() spatialmath.Pose { return e.uncontrolledHipsPose }

// RelativePoses returns the engine's current solution. The returned slice is
// owned by the engine and valid until the next Overlay.
func (e *Engine) RelativePoses() []spatialmath.Pose { return e.relativePoses }

// loadPoses adopts the given poses as the current solution and resizes the
// accumulators to match.
func (e *Engine) loadPoses(poses []spatialmath.Pose) {
	e.relativePoses = append(e.relativePoses[:0], poses...)
	if len(e.rotationAccumulators) != len(poses) {
		e.rotationAccumulators = make([]RotationAccumulator, len(poses))
		e.translationAccumulators = make([]TranslationAccumulator, len(poses))
	} else {
		for i := range e.rotationAccumulators {
			e.rotationAccumulators[i].ClearAndClean()
			e.translationAccumulators[i].ClearAndClean()
		}
	}
}

// blendToPoses relaxes joints under IK toward targetPoses and slams joints
// not under IK to underPoses. Translations always come from underPoses.
func (e *Engine) blendToPoses(targetPoses, underPoses []spatialmath.Pose, blendFactor float64) {
	for i := range e.relativePoses {
		if e.rotationAccumulators[i].IsDirty() {
			targetRot := targetPoses[i].Rotation
			if spatialmath.Dot(e.relativePoses[i].Rotation, targetRot) < 0 {
				targetRot = spatialmath.Flip(targetRot)
			}
			e.relativePoses[i].Rotation = spatialmath.NLerp(e.relativePoses[i].Rotation, targetRot, blendFactor)
		} else {
			e.relativePoses[i].Rotation = underPoses[i].Rotation
		}
		e.relativePoses[i].Translation = underPoses[i].Translation
	}
}

func (e *Engine) initRelativePosesFromSolutionSource(source SolutionSource, underPoses []spatialmath.Pose) {
	switch source {
	case SolutionSourceRelaxToLimitCenterPoses:
		e.blendToPoses(e.limitCenterPoses, underPoses, relaxBlendFactor)
		// copy over the hips pose whether or not it is under IK
		if e.hipsIndex >= 0 && e.hipsIndex < len(e.relativePoses) {
			e.relativePoses[e.hipsIndex] = e.limitCenterPoses[e.hipsIndex]
		}
	case SolutionSourcePreviousSolution:
		// the current solution is already the previous one
	case SolutionSourceUnderPoses:
		e.relativePoses = append(e.relativePoses[:0], underPoses...)
	case SolutionSourceLimitCenterPoses:
		e.blendToPoses(underPoses, e.limitCenterPoses, copyBlendFactor)
	case SolutionSourceRelaxToUnderPoses:
		fallthrough
	default:
		e.blendToPoses(underPoses, underPoses, relaxBlendFactor)
	}
}

// preconditionLimbs rotates each targeted limb's base so the limb's lever
// arm lies over the target line. This reduces limb locking and helps the
// solver converge faster.
func (e *Engine) preconditionLimbs(targets []Target) {
	limbs := [4][2]int{
		{e.skeleton.NameToIndex("LeftHand"), e.skeleton.NameToIndex("LeftArm")},
		{e.skeleton.NameToIndex("RightHand"), e.skeleton.NameToIndex("RightArm")},
		{e.skeleton.NameToIndex("LeftFoot"), e.skeleton.NameToIndex("LeftUpLeg")},
		{e.skeleton.NameToIndex("RightFoot"), e.skeleton.NameToIndex("RightUpLeg")},
	}

	for i := range targets {
		target := &targets[i]
		if target.Index == -1 {
			continue
		}
		for _, limb := range limbs {
			tipIndex, baseIndex := limb[0], limb[1]
			if tipIndex != target.Index || baseIndex < 0 {
				continue
			}
			baseParentIndex := e.skeleton.ParentIndex(baseIndex)
			if baseParentIndex < 0 {
				continue
			}

			tipPose := e.skeleton.AbsolutePose(tipIndex, e.relativePoses)
			basePose := e.skeleton.AbsolutePose(baseIndex, e.relativePoses)
			baseParentPose := e.skeleton.AbsolutePose(baseParentIndex, e.relativePoses)

			targetLine := target.Translation.Sub(basePose.Translation)
			leverArm := tipPose.Translation.Sub(basePose.Translation)
			axis := leverArm.Cross(targetLine)
			axisLength := axis.Norm()
			if axisLength <= minAxisLength {
				continue
			}
			axis = axis.Mul(1 / axisLength)
			cosAngle := utils.Clamp(leverArm.Dot(targetLine)/(leverArm.Norm()*targetLine.Norm()), -1, 1)
			angle := math.Acos(cosAngle)
			newBaseRotation := quat.Mul(spatialmath.AngleAxis(angle, axis), basePose.Rotation)

			e.relativePoses[baseIndex].Rotation = quat.Mul(quat.Conj(baseParentPose.Rotation), newBaseRotation)
		}
	}
}

// shiftHips slams the hips to a hips target if one is active, otherwise
// applies the accumulated hips offset from the previous frame, then
// re-offsets hips-relative targets by the resulting absolute shift.
func (e *Engine) shiftHips(targets []Target, underPoses []spatialmath.Pose) {
	if e.hipsIndex < 0 {
		return
	}
	if e.hipsTargetIndex >= 0 && e.hipsTargetIndex < len(targets) {
		// slam the hips to match the hips target
		absPose := targets[e.hipsTargetIndex].Pose()
		parentIndex := e.skeleton.ParentIndex(targets[e.hipsTargetIndex].Index)
		if parentIndex != -1 {
			e.relativePoses[e.hipsIndex] = e.skeleton.AbsolutePose(parentIndex, e.relativePoses).Invert().Compose(absPose)
		} else {
			e.relativePoses[e.hipsIndex] = absPose
		}
	} else {
		// no hips target; shift hips according to the offset measured on the
		// previous frame
		offsetLength := e.hipsOffset.Norm()
		const minHipsOffsetLength = 0.03
		if offsetLength > minHipsOffsetLength && e.hipsIndex >= 0 {
			scaleFactor := (offsetLength - minHipsOffsetLength) / offsetLength
			hipsOffset := e.hipsOffset.Mul(scaleFactor)
			if e.hipsParentIndex == -1 {
				e.relativePoses[e.hipsIndex].Translation = e.relativePoses[e.hipsIndex].Translation.Add(hipsOffset)
			} else {
				absHipsPose := e.skeleton.AbsolutePose(e.hipsIndex, e.relativePoses)
				absHipsPose.Translation = absHipsPose.Translation.Add(hipsOffset)
				e.relativePoses[e.hipsIndex] = e.skeleton.AbsolutePose(e.hipsParentIndex, e.relativePoses).Invert().Compose(absHipsPose)
			}
		}
	}

	// update hips-relative targets to account for the shift
	shiftedHipsAbsPose := e.skeleton.AbsolutePose(e.hipsIndex, e.relativePoses)
	underHipsAbsPose := e.skeleton.AbsolutePose(e.hipsIndex, underPoses)
	absHipsOffset := shiftedHipsAbsPose.Translation.Sub(underHipsAbsPose.Translation)
	for i := range targets {
		if targets[i].Type == TargetHipsRelativeRotationAndPosition {
			targets[i].Translation = targets[i].Translation.Add(absHipsOffset)
		}
	}
}

// solve runs the iterative pass over all targets against the current
// relative poses, then snaps untouched rotation-only tips.
func (e *Engine) solve(ctx *FrameContext, targets []Target) {
	absolutePoses := make([]spatialmath.Pose, len(e.relativePoses))
	copy(absolutePoses, e.relativePoses)
	e.skeleton.ConvertRelativeToAbsolute(absolutePoses)

	for i := range e.rotationAccumulators {
		e.rotationAccumulators[i].ClearAndClean()
		e.translationAccumulators[i].ClearAndClean()
	}

	maxError := math.MaxFloat64
	numLoops := 0
	for maxError > maxErrorTolerance && numLoops < maxIterations {
		numLoops++

		debug := ctx.DrawChains && numLoops == maxIterations

		// solve all targets
		for i := range targets {
			if targets[i].Type == TargetSpline {
				e.solveTargetWithSpline(ctx, &targets[i], absolutePoses, debug)
			} else {
				e.solveTargetWithCCD(ctx, &targets[i], absolutePoses, debug)
			}
		}

		// harvest the accumulated deltas and apply the averages
		for i := range e.relativePoses {
			if e.rotationAccumulators[i].Size() > 0 {
				e.relativePoses[i].Rotation = e.rotationAccumulators[i].Average()
				e.rotationAccumulators[i].Clear()
			}
			if e.translationAccumulators[i].Size() > 0 {
				e.relativePoses[i].Translation = e.translationAccumulators[i].Average()
				e.translationAccumulators[i].Clear()
			}
		}

		// update the absolute poses
		for i := range e.relativePoses {
			if parentIndex := e.skeleton.ParentIndex(i); parentIndex != -1 {
				absolutePoses[i] = absolutePoses[parentIndex].Compose(e.relativePoses[i])
			}
		}

		maxError = 0
		for i := range targets {
			if targets[i].HasPosition() {
				if err := absolutePoses[targets[i].Index].Translation.Sub(targets[i].Translation).Norm(); err > maxError {
					maxError = err
				}
			}
		}
	}
	e.maxErrorOnLastSolve = maxError

	// finally set the relative rotation of each rotation-only tip that no
	// other chain touched to agree with its absolute target rotation
	for i := range targets {
		target := &targets[i]
		tipIndex := target.Index
		parentIndex := e.skeleton.ParentIndex(tipIndex)
		if parentIndex == -1 || e.rotationAccumulators[tipIndex].IsDirty() || target.Type != TargetRotationOnly {
			continue
		}
		// Q = Qp * q, so q' = Qp^ * Q
		newRelativeRotation := quat.Mul(quat.Conj(absolutePoses[parentIndex].Rotation), target.Rotation)
		if constraint, ok := e.constraints[tipIndex]; ok {
			if result, constrained := constraint.Apply(newRelativeRotation); constrained {
				newRelativeRotation = result
			}
		}
		e.relativePoses[tipIndex].Rotation = newRelativeRotation
		absolutePoses[tipIndex].Rotation = target.Rotation
	}
}

// Overlay runs one frame of IK: it seeds the solution, resolves targets,
// shifts the hips, solves, and measures the hips offset for the next frame.
// It returns the engine-owned relative poses.
func (e *Engine) Overlay(ctx *FrameContext, vars animvars.Map, dt float64, underPoses []spatialmath.Pose) []spatialmath.Pose {
	solutionSource := SolutionSource(vars.Int(e.solutionSourceVar, int(e.solutionSource)))

	const maxOverlayDT = 1.0 / 30.0
	if dt > maxOverlayDT {
		dt = maxOverlayDT
	}

	if len(e.relativePoses) != len(underPoses) {
		e.loadPoses(underPoses)
	} else {
		e.initRelativePosesFromSolutionSource(solutionSource, underPoses)

		if len(underPoses) > 0 {
			// the underpose itself can violate the constraints; rather than
			// clamp the animation, dynamically expand each constraint to
			// accommodate it
			for index, constraint := range e.constraints {
				constraint.DynamicallyAdjustLimits(underPoses[index].Rotation)
			}
		}
	}

	if len(e.relativePoses) > 0 {
		targets := e.computeTargets(vars, underPoses)

		if len(targets) == 0 {
			e.relativePoses = append(e.relativePoses[:0], underPoses...)
		} else {
			e.shiftHips(targets, underPoses)

			e.drawTargets(ctx, targets)

			e.preconditionLimbs(targets)
			e.solve(ctx, targets)

			if e.hipsTargetIndex < 0 {
				e.computeHipsOffset(targets, underPoses, dt)
			} else {
				e.hipsOffset = r3.Vector{}
			}
		}

		if ctx.DrawConstraints {
			e.debugDrawConstraints(ctx)
		}
		if ctx.DrawSplines {
			e.debugDrawSpineSplines(ctx, e.targetScratch)
		}
	}

	if e.leftHandIndex > -1 {
		e.uncontrolledLeftHandPose = e.skeleton.AbsolutePose(e.leftHandIndex, underPoses)
	}
	if e.rightHandIndex > -1 {
		e.uncontrolledRightHandPose = e.skeleton.AbsolutePose(e.rightHandIndex, underPoses)
	}
	if e.hipsIndex > -1 {
		e.uncontrolledHipsPose = e.skeleton.AbsolutePose(e.hipsIndex, underPoses)
	}

	return e.relativePoses
}
