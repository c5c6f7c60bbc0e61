package ik

import (
	"github.com/golang/geo/r3"

	"go.viam.com/bodyik/spatialmath"
	"go.viam.com/bodyik/spline"
)

// splineJointInfo describes one joint influenced by a spline target: its
// fractional position along the default hips-to-tip chord and its default
// offset from the spline frame at that position.
type splineJointInfo struct {
	jointIndex int
	ratio      float64
	offsetPose spatialmath.Pose
}

const (
	splineHipsGain = 0.5
	splineHeadGain = 1.0
)

// splineFromTipAndBase builds a Hermite spline whose endpoint tangents follow
// the base and tip y-axes, scaled by the chord length and the given gains.
func splineFromTipAndBase(tipPose, basePose spatialmath.Pose, baseGain, tipGain float64) *spline.CubicHermite {
	linearDistance := basePose.Translation.Sub(tipPose.Translation).Norm()
	p0 := basePose.Translation
	m0 := spatialmath.RotateVec(basePose.Rotation, yAxis).Mul(baseGain * linearDistance)
	p1 := tipPose.Translation
	m1 := spatialmath.RotateVec(tipPose.Rotation, yAxis).Mul(tipGain * linearDistance)
	return spline.NewCubicHermite(p0, m0, p1, m1)
}

func (e *Engine) splineForTarget(target *Target, tipPose, basePose spatialmath.Pose) *spline.CubicHermite {
	if target.Index == e.headIndex {
		// more curvature near the tip of the spline
		return splineFromTipAndBase(tipPose, basePose, splineHipsGain, splineHeadGain)
	}
	return splineFromTipAndBase(tipPose, basePose, 1, 1)
}

// computeSplineJointInfos precomputes, from the default poses, how each joint
// between the target and the hips sits relative to the default spline.
func (e *Engine) computeSplineJointInfos(target *Target) []splineJointInfo {
	var infos []splineJointInfo

	// build the spline between the default poses
	tipPose := e.skeleton.AbsoluteDefaultPose(target.Index)
	basePose := e.skeleton.AbsoluteDefaultPose(e.hipsIndex)
	sp := e.splineForTarget(target, tipPose, basePose)
	totalArcLength := sp.ArcLength(1)

	baseToTip := tipPose.Translation.Sub(basePose.Translation)
	baseToTipLength := baseToTip.Norm()
	baseToTipNormal := baseToTip.Mul(1 / baseToTipLength)

	index := target.Index
	endIndex := e.skeleton.ParentIndex(e.hipsIndex)
	for index != endIndex {
		defaultPose := e.skeleton.AbsoluteDefaultPose(index)

		ratio := defaultPose.Translation.Sub(basePose.Translation).Dot(baseToTipNormal) / baseToTipLength
		t := sp.ArcLengthInverse(ratio * totalArcLength)

		// orient the frame with the spline's derivative as the y-axis and
		// the default pose's x-axis as the hint
		y := sp.Derivative(t)
		x := spatialmath.RotateVec(defaultPose.Rotation, r3.Vector{X: 1})
		rot := spatialmath.RotationFromYX(y, x)

		pose := spatialmath.NewPose(rot, sp.Eval(t))
		offsetPose := pose.Invert().Compose(defaultPose)

		infos = append(infos, splineJointInfo{jointIndex: index, ratio: ratio, offsetPose: offsetPose})
		index = e.skeleton.ParentIndex(index)
	}

	e.splineJointInfos[target.Index] = infos
	return infos
}

func (e *Engine) findOrCreateSplineJointInfos(target *Target) []splineJointInfo {
	if infos, ok := e.splineJointInfos[target.Index]; ok {
		return infos
	}
	return e.computeSplineJointInfos(target)
}

// solveTargetWithSpline bends the joints between the hips and the target
// along a spline fit between the current hips pose and the target pose, and
// deposits the resulting relative poses into the accumulators.
func (e *Engine) solveTargetWithSpline(ctx *FrameContext, target *Target, absolutePoses []spatialmath.Pose, debug bool) {
	if e.hipsIndex < 0 {
		return
	}
	baseIndex := e.hipsIndex

	// build the spline from tip to base
	tipPose := spatialmath.NewPose(target.Rotation, target.Translation)
	basePose := absolutePoses[baseIndex]
	sp := e.splineForTarget(target, tipPose, basePose)
	totalArcLength := sp.ArcLength(1)

	// keep the rotation interpolation from rotating the wrong physical way
	// (but correct mathematical way) when the head is arched far backwards
	halfRot := spatialmath.NLerp(basePose.Rotation, tipPose.Rotation, 0.5)
	if spatialmath.RotateVec(halfRot, unitZ).Dot(spatialmath.RotateVec(basePose.Rotation, unitZ)) < 0 {
		tipPose.Rotation = spatialmath.Flip(tipPose.Rotation)
	}

	infos := e.findOrCreateSplineJointInfos(target)
	if len(infos) == 0 {
		return
	}

	chain := e.chainScratch[:0]
	for range infos {
		chain = append(chain, jointChainInfo{})
	}

	parentAbsPose := spatialmath.NewZeroPose()
	if baseParentIndex := e.skeleton.ParentIndex(baseIndex); baseParentIndex >= 0 {
		parentAbsPose = absolutePoses[baseParentIndex]
	}

	// walk the infos backwards (base to tip)
	for i := len(infos) - 1; i >= 0; i-- {
		info := &infos[i]
		t := sp.ArcLengthInverse(info.ratio * totalArcLength)
		trans := sp.Eval(t)

		// for head splines, perform most of the twist toward the tip
		rotT := t
		if target.Index == e.headIndex {
			rotT = t * t
		}
		twistRot := spatialmath.NLerp(basePose.Rotation, tipPose.Rotation, rotT)

		// orient the frame with the spline's derivative as the y-axis and
		// the twist rotation's x-axis as the hint
		y := sp.Derivative(t)
		x := spatialmath.RotateVec(twistRot, r3.Vector{X: 1})
		rot := spatialmath.RotationFromYX(y, x)

		desiredAbsPose := spatialmath.NewPose(rot, trans).Compose(info.offsetPose)

		// apply the flex coefficient
		flexedAbsPose := spatialmath.BlendPoses(absolutePoses[info.jointIndex], desiredAbsPose, target.FlexCoefficient(i))

		relPose := parentAbsPose.Invert().Compose(flexedAbsPose)

		constrained := false
		if info.jointIndex != e.hipsIndex {
			// constrain how much the spine can stretch or compress
			length := relPose.Translation.Norm()
			const epsilon = 0.0001
			if length > epsilon {
				defaultLength := e.skeleton.RelativeDefaultPose(info.jointIndex).Translation.Norm()
				const stretchCompressFraction = 0.15
				maxLength := defaultLength * (1 + stretchCompressFraction)
				minLength := defaultLength * (1 - stretchCompressFraction)
				if length > maxLength {
					relPose.Translation = relPose.Translation.Mul(maxLength / length)
					constrained = true
				} else if length < minLength {
					relPose.Translation = relPose.Translation.Mul(minLength / length)
					constrained = true
				}
			} else {
				relPose.Translation = r3.Vector{}
			}
		}

		chain[i] = jointChainInfo{
			relRot:      relPose.Rotation,
			relTrans:    relPose.Translation,
			weight:      target.Weight,
			jointIndex:  info.jointIndex,
			constrained: constrained,
		}

		parentAbsPose = flexedAbsPose
	}

	for i := range chain {
		e.rotationAccumulators[chain[i].jointIndex].Add(chain[i].relRot, chain[i].weight)
		e.translationAccumulators[chain[i].jointIndex].Add(chain[i].relTrans, chain[i].weight)
	}

	if debug {
		e.debugDrawIKChain(ctx, chain)
	}

	e.chainScratch = chain
}
