package ik

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/animvars"
	"go.viam.com/bodyik/skeleton"
	"go.viam.com/bodyik/spatialmath"
)

// newChainSkeleton builds a 4-joint straight chain along y with unit bones.
// The names deliberately match no constraint table entry.
func newChainSkeleton(t *testing.T) *skeleton.Skeleton {
	t.Helper()
	skel, err := skeleton.New([]skeleton.Joint{
		{Name: "base", Parent: -1, DefaultPose: spatialmath.NewZeroPose()},
		{Name: "seg1", Parent: 0, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, r3.Vector{Y: 1})},
		{Name: "seg2", Parent: 1, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, r3.Vector{Y: 1})},
		{Name: "seg3", Parent: 2, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, r3.Vector{Y: 1})},
	})
	test.That(t, err, test.ShouldBeNil)
	return skel
}

func newHumanoidSkeleton(t *testing.T) *skeleton.Skeleton {
	t.Helper()
	bone := func(name string, parent int, trans r3.Vector) skeleton.Joint {
		return skeleton.Joint{Name: name, Parent: parent, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, trans)}
	}
	skel, err := skeleton.New([]skeleton.Joint{
		bone("Hips", -1, r3.Vector{Y: 90}),
		bone("Spine", 0, r3.Vector{Y: 10}),
		bone("Spine1", 1, r3.Vector{Y: 10}),
		bone("Spine2", 2, r3.Vector{Y: 10}),
		bone("Neck", 3, r3.Vector{Y: 10}),
		bone("Head", 4, r3.Vector{Y: 10}),
		bone("LeftShoulder", 3, r3.Vector{X: -5, Y: 8}),
		bone("LeftArm", 6, r3.Vector{X: -10}),
		bone("LeftForeArm", 7, r3.Vector{X: -25}),
		bone("LeftHand", 8, r3.Vector{X: -25}),
		bone("RightShoulder", 3, r3.Vector{X: 5, Y: 8}),
		bone("RightArm", 10, r3.Vector{X: 10}),
		bone("RightForeArm", 11, r3.Vector{X: 25}),
		bone("RightHand", 12, r3.Vector{X: 25}),
		bone("LeftUpLeg", 0, r3.Vector{X: -10}),
		bone("LeftLeg", 14, r3.Vector{Y: -40}),
		bone("LeftFoot", 15, r3.Vector{Y: -40}),
		bone("RightUpLeg", 0, r3.Vector{X: 10}),
		bone("RightLeg", 17, r3.Vector{Y: -40}),
		bone("RightFoot", 18, r3.Vector{Y: -40}),
	})
	test.That(t, err, test.ShouldBeNil)
	return skel
}

// newArmSkeleton builds a right-arm chain whose names pick up the authored
// shoulder, elbow and wrist constraints. The bones lie along +x.
func newArmSkeleton(t *testing.T) *skeleton.Skeleton {
	t.Helper()
	skel, err := skeleton.New([]skeleton.Joint{
		{Name: "RightShoulder", Parent: -1, DefaultPose: spatialmath.NewZeroPose()},
		{Name: "RightArm", Parent: 0, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, r3.Vector{X: 10})},
		{Name: "RightForeArm", Parent: 1, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, r3.Vector{X: 25})},
		{Name: "RightHand", Parent: 2, DefaultPose: spatialmath.NewPose(spatialmath.QuatIdentity, r3.Vector{X: 25})},
	})
	test.That(t, err, test.ShouldBeNil)
	return skel
}

// elbowHingeAngle decomposes a parent-relative rotation against the elbow's
// reference frame, returning the hinge angle and the residual swing.
func elbowHingeAngle(c *ElbowConstraint, relRot quat.Number) (float64, quat.Number) {
	post := quat.Mul(relRot, quat.Conj(c.ReferenceRotation()))
	swing, twist := spatialmath.SwingTwistDecomposition(post, c.HingeAxis())
	return spatialmath.TwistAngle(twist, c.HingeAxis()), swing
}

func TestOverlayNoTargets(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newChainSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	out := e.Overlay(&ctx, animvars.Map{}, 1.0/60, underPoses)
	test.That(t, out, test.ShouldResemble, underPoses)

	out = e.Overlay(&ctx, animvars.Map{}, 1.0/60, underPoses)
	test.That(t, out, test.ShouldResemble, underPoses)
}

func TestOverlayPoseCountMismatch(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newChainSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	e.Overlay(&ctx, animvars.Map{}, 1.0/60, underPoses)

	// a shorter pose vector resets the solver and passes straight through
	short := underPoses[:2]
	out := e.Overlay(&ctx, animvars.Map{}, 1.0/60, short)
	test.That(t, out, test.ShouldResemble, short)
}

func TestOverlayReachesPositionTarget(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newChainSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetSolutionSource(SolutionSourcePreviousSolution)
	e.SetTargetSpec(TargetSpec{JointName: "seg3", PositionVar: "tipPos", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	targetPos := r3.Vector{X: 1.5, Y: 1.5}
	vars := animvars.Map{"tipPos": targetPos}

	var out []spatialmath.Pose
	for i := 0; i < 6; i++ {
		out = e.Overlay(&ctx, vars, 1.0/60, underPoses)
	}

	tip := skel.AbsolutePose(3, out)
	test.That(t, tip.Translation.Sub(targetPos).Norm(), test.ShouldBeLessThan, 0.2)
	test.That(t, e.MaxErrorOnLastSolve(), test.ShouldBeLessThan, 0.2)
}

func TestOverlayUnreachableHandTarget(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newArmSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetSolutionSource(SolutionSourcePreviousSolution)
	e.SetTargetSpec(TargetSpec{JointName: "RightHand", PositionVar: "handPos", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	// 30 beyond the arm's full extension
	targetPos := r3.Vector{X: 90}
	vars := animvars.Map{"handPos": targetPos}

	var out []spatialmath.Pose
	for i := 0; i < 10; i++ {
		out = e.Overlay(&ctx, vars, 1.0/60, underPoses)
	}

	// the arm points straight at the target and stops at full extension
	hand := skel.AbsolutePose(skel.NameToIndex("RightHand"), out)
	test.That(t, hand.Translation.Sub(targetPos).Norm(), test.ShouldAlmostEqual, 30, 1e-6)
	test.That(t, e.MaxErrorOnLastSolve(), test.ShouldAlmostEqual, 30, 1e-6)

	// the elbow remains a pure hinge inside its limits
	elbow, ok := e.Constraint(skel.NameToIndex("RightForeArm")).(*ElbowConstraint)
	test.That(t, ok, test.ShouldBeTrue)
	angle, swing := elbowHingeAngle(elbow, out[skel.NameToIndex("RightForeArm")].Rotation)
	test.That(t, angle, test.ShouldBeGreaterThanOrEqualTo, elbow.MinAngle()-1e-9)
	test.That(t, angle, test.ShouldBeLessThanOrEqualTo, elbow.MaxAngle()+1e-9)
	test.That(t, math.Abs(swing.Real), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestOverlayElbowBendWithinLimits(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newArmSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetSolutionSource(SolutionSourcePreviousSolution)
	e.SetTargetSpec(TargetSpec{JointName: "RightHand", PositionVar: "handPos", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	// reachable, but only by bending the elbow in its allowed direction
	targetPos := r3.Vector{X: 30, Y: -25}
	vars := animvars.Map{"handPos": targetPos}

	var out []spatialmath.Pose
	for i := 0; i < 10; i++ {
		out = e.Overlay(&ctx, vars, 1.0/60, underPoses)
	}

	hand := skel.AbsolutePose(skel.NameToIndex("RightHand"), out)
	test.That(t, hand.Translation.Sub(targetPos).Norm(), test.ShouldBeLessThan, 1.0)

	elbow, ok := e.Constraint(skel.NameToIndex("RightForeArm")).(*ElbowConstraint)
	test.That(t, ok, test.ShouldBeTrue)
	angle, swing := elbowHingeAngle(elbow, out[skel.NameToIndex("RightForeArm")].Rotation)
	test.That(t, angle, test.ShouldBeGreaterThan, 0.1)
	test.That(t, angle, test.ShouldBeLessThanOrEqualTo, elbow.MaxAngle()+1e-9)
	test.That(t, math.Abs(swing.Real), test.ShouldAlmostEqual, 1, 1e-6)
}

func TestOverlayRotationOnlyTarget(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newChainSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetTargetSpec(TargetSpec{JointName: "seg3", RotationVar: "tipRot", TypeVar: "tipType", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	want := spatialmath.AngleAxis(0.4, r3.Vector{Z: 1})
	vars := animvars.Map{"tipRot": want, "tipType": int(TargetRotationOnly)}

	var out []spatialmath.Pose
	for i := 0; i < 2; i++ {
		out = e.Overlay(&ctx, vars, 1.0/60, underPoses)
	}

	// the chain above the tip is untouched, so the tip's parent-relative
	// rotation matches the absolute target rotation
	test.That(t, spatialmath.QuaternionAlmostEqual(out[3].Rotation, want, 1e-9), test.ShouldBeTrue)
	test.That(t, spatialmath.QuaternionAlmostEqual(out[2].Rotation, spatialmath.QuatIdentity, 1e-9), test.ShouldBeTrue)
}

func TestOverlayHipsOffsetClamp(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newChainSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetMaxHipsOffsetLength(0.01) // meters in, cm internally
	e.SetTargetSpec(TargetSpec{JointName: "seg3", PositionVar: "tipPos", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	vars := animvars.Map{"tipPos": r3.Vector{X: 10, Y: 10}}

	for i := 0; i < 30; i++ {
		e.Overlay(&ctx, vars, 1.0/30, underPoses)
	}

	offset := e.HipsOffset()
	test.That(t, offset.Norm(), test.ShouldBeGreaterThan, 0.5)
	test.That(t, offset.Norm(), test.ShouldBeLessThanOrEqualTo, 1+1e-9)
}

func TestOverlaySplineTarget(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newHumanoidSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetSolutionSource(SolutionSourcePreviousSolution)
	e.SetTargetSpec(TargetSpec{JointName: "Head", PositionVar: "headPos", TypeVar: "headType", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	headIndex := skel.NameToIndex("Head")
	targetPos := r3.Vector{X: 4, Y: 138, Z: 2}
	vars := animvars.Map{"headPos": targetPos, "headType": int(TargetSpline)}

	var out []spatialmath.Pose
	for i := 0; i < 10; i++ {
		out = e.Overlay(&ctx, vars, 1.0/60, underPoses)
	}

	head := skel.AbsolutePose(headIndex, out)
	test.That(t, head.Translation.Sub(targetPos).Norm(), test.ShouldBeLessThan, 1.0)

	// the spline joint info cache is built once per target
	test.That(t, e.splineJointInfos[headIndex], test.ShouldHaveLength, 6)
}

func TestOverlayUncontrolledPoses(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newHumanoidSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	e.Overlay(&ctx, animvars.Map{}, 1.0/60, underPoses)

	leftHand := skel.AbsolutePose(skel.NameToIndex("LeftHand"), underPoses)
	test.That(t, spatialmath.PoseAlmostEqual(e.UncontrolledLeftHandPose(), leftHand, 1e-9), test.ShouldBeTrue)
	hips := skel.AbsolutePose(skel.NameToIndex("Hips"), underPoses)
	test.That(t, spatialmath.PoseAlmostEqual(e.UncontrolledHipsPose(), hips, 1e-9), test.ShouldBeTrue)
}

func TestOverlayHipsTarget(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newHumanoidSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetTargetSpec(TargetSpec{JointName: "Hips", PositionVar: "hipsPos", Weight: 1})

	ctx := NewFrameContext()
	underPoses := skel.RelativeDefaultPoses()
	hipsPos := r3.Vector{X: 3, Y: 88, Z: -2}
	vars := animvars.Map{"hipsPos": hipsPos}

	var out []spatialmath.Pose
	for i := 0; i < 2; i++ {
		out = e.Overlay(&ctx, vars, 1.0/60, underPoses)
	}

	// the hips are slammed straight onto their target
	hips := skel.AbsolutePose(skel.NameToIndex("Hips"), out)
	test.That(t, hips.Translation.Sub(hipsPos).Norm(), test.ShouldBeLessThan, 1e-9)
	// and no offset accumulates while a hips target is active
	test.That(t, e.HipsOffset().Norm(), test.ShouldAlmostEqual, 0)
}

func TestInitRelativePosesFromSolutionSource(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newHumanoidSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)

	underPoses := skel.RelativeDefaultPoses()
	leftArm := skel.NameToIndex("LeftArm")

	e.loadPoses(underPoses)
	e.initRelativePosesFromSolutionSource(SolutionSourceLimitCenterPoses, underPoses)
	test.That(t, spatialmath.QuaternionAlmostEqual(
		e.relativePoses[leftArm].Rotation, e.limitCenterPoses[leftArm].Rotation, 1e-9), test.ShouldBeTrue)

	// with no joints under IK, relaxing toward the limit centers slams
	// everything except the hips back to the under poses
	e.loadPoses(underPoses)
	e.initRelativePosesFromSolutionSource(SolutionSourceRelaxToLimitCenterPoses, underPoses)
	test.That(t, spatialmath.QuaternionAlmostEqual(
		e.relativePoses[leftArm].Rotation, underPoses[leftArm].Rotation, 1e-9), test.ShouldBeTrue)
	hips := skel.NameToIndex("Hips")
	test.That(t, e.relativePoses[hips], test.ShouldResemble, e.limitCenterPoses[hips])
}

func TestDynamicLimitAdjustFromUnderPoses(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newHumanoidSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)

	foreArm := skel.NameToIndex("LeftForeArm")
	elbow, ok := e.Constraint(foreArm).(*ElbowConstraint)
	test.That(t, ok, test.ShouldBeTrue)
	origMax := elbow.MaxAngle()

	// an under pose that hyper-extends the elbow loosens its limit
	underPoses := skel.RelativeDefaultPoses()
	underPoses[foreArm].Rotation = spatialmath.AngleAxis(origMax+0.3, elbow.HingeAxis())

	ctx := NewFrameContext()
	e.Overlay(&ctx, animvars.Map{}, 1.0/60, underPoses)
	e.Overlay(&ctx, animvars.Map{}, 1.0/60, underPoses)

	test.That(t, elbow.MaxAngle(), test.ShouldBeGreaterThan, origMax+0.2)

	e.ClearJointLimitHistory()
	test.That(t, elbow.MaxAngle(), test.ShouldAlmostEqual, origMax)
}

func TestSolveIterationsReduceError(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newChainSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)
	e.SetTargetSpec(TargetSpec{JointName: "seg3", PositionVar: "tipPos", Weight: 1})

	targetPos := r3.Vector{X: 1.5, Y: 1.5}
	vars := animvars.Map{"tipPos": targetPos}
	underPoses := skel.RelativeDefaultPoses()

	e.loadPoses(underPoses)
	e.computeTargets(vars, underPoses)
	targets := e.computeTargets(vars, underPoses)
	test.That(t, targets, test.ShouldHaveLength, 1)

	initialError := skel.AbsolutePose(3, e.relativePoses).Translation.Sub(targetPos).Norm()

	// run a single pass over the chain by hand
	ctx := NewFrameContext()
	absolutePoses := make([]spatialmath.Pose, len(e.relativePoses))
	copy(absolutePoses, e.relativePoses)
	skel.ConvertRelativeToAbsolute(absolutePoses)
	e.solveTargetWithCCD(&ctx, &targets[0], absolutePoses, false)
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
	onePassError := skel.AbsolutePose(3, e.relativePoses).Translation.Sub(targetPos).Norm()
	test.That(t, onePassError, test.ShouldBeLessThan, initialError)

	// the full iteration loop from the same seed never ends up worse than a
	// single pass
	e.loadPoses(underPoses)
	e.solve(&ctx, targets)
	test.That(t, e.MaxErrorOnLastSolve(), test.ShouldBeLessThanOrEqualTo, onePassError+1e-9)
}

func TestBindSkeletonSizesChainScratch(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	skel := newHumanoidSkeleton(t)
	test.That(t, e.BindSkeleton(skel), test.ShouldBeNil)

	// the chain walk scratch is sized for the deepest chain up front
	test.That(t, e.chainScratch, test.ShouldHaveLength, 0)
	test.That(t, cap(e.chainScratch), test.ShouldEqual, skel.MaxChainDepth())
}

func TestSetMaxHipsOffsetLength(t *testing.T) {
	e := NewEngine(golog.NewTestLogger(t))
	e.SetMaxHipsOffsetLength(0.5)
	test.That(t, e.maxHipsOffsetLength, test.ShouldAlmostEqual, 50)
	test.That(t, math.IsInf(NewEngine(golog.NewTestLogger(t)).maxHipsOffsetLength, 1), test.ShouldBeFalse)
}
