package ik

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/debugdraw"
	"go.viam.com/bodyik/spatialmath"
	"go.viam.com/bodyik/utils"
)

const minAxisLength = 1.0e-4

// jointChainInfo is one pending joint adjustment along a target's chain,
// held back until the whole chain has been walked so pole-vector corrections
// can rewrite entries before they reach the accumulators.
type jointChainInfo struct {
	relRot      quat.Number
	relTrans    r3.Vector
	weight      float64
	jointIndex  int
	constrained bool
}

func easeOutExpo(t float64) float64 {
	return 1 - math.Pow(2, -10*t)
}

// solveTargetWithCCD walks from the target's joint toward the root, swinging
// each pivot so the tip chases the target, and deposits the resulting
// parent-relative rotations into the accumulators.
func (e *Engine) solveTargetWithCCD(ctx *FrameContext, target *Target, absolutePoses []spatialmath.Pose, debug bool) {
	chainDepth := 0

	targetType := target.Type
	if targetType == TargetRotationOnly {
		// the final rotation is enforced after the iterations
		return
	}

	tipIndex := target.Index
	pivotIndex := e.skeleton.ParentIndex(tipIndex)
	if pivotIndex == -1 || pivotIndex == e.hipsIndex {
		return
	}
	pivotsParentIndex := e.skeleton.ParentIndex(pivotIndex)
	if pivotsParentIndex == -1 {
		return
	}

	// cache the tip's absolute orientation, and its parent's so the tip's
	// parent-relative rotation can be recomputed while ascending the chain
	tipOrientation := absolutePoses[tipIndex].Rotation
	tipParentOrientation := absolutePoses[pivotIndex].Rotation

	chain := e.chainScratch[:0]

	// without this block the head stays rigid and nodding thrusts the
	// spine/hips forward and backward
	if targetType == TargetHmdHead ||
		targetType == TargetRotationAndPosition ||
		targetType == TargetHipsRelativeRotationAndPosition {
		// rotate tip partway toward target orientation
		deltaRot := quat.Mul(target.Rotation, quat.Conj(tipOrientation))
		if deltaRot.Real < 0 {
			deltaRot = spatialmath.Flip(deltaRot)
		}
		deltaRot = spatialmath.NLerp(spatialmath.QuatIdentity, deltaRot, target.FlexCoefficient(chainDepth))

		// compute parent-relative rotation
		tipRelativeRotation := quat.Mul(quat.Conj(tipParentOrientation), quat.Mul(deltaRot, tipOrientation))

		constrained := false
		if constraint, ok := e.constraints[tipIndex]; ok {
			var result quat.Number
			result, constrained = constraint.Apply(tipRelativeRotation)
			if constrained {
				tipRelativeRotation = result
				tipOrientation = quat.Mul(tipParentOrientation, tipRelativeRotation)
			}
		}

		chain = append(chain, jointChainInfo{
			relRot:      tipRelativeRotation,
			relTrans:    e.relativePoses[tipIndex].Translation,
			weight:      target.Weight,
			jointIndex:  tipIndex,
			constrained: constrained,
		})
	}

	tipPosition := absolutePoses[tipIndex].Translation
	chainDepth++

	// ascend toward the root, pivoting each joint to bring the tip closer
	for pivotIndex != e.hipsIndex && pivotsParentIndex != -1 {
		jointPosition := absolutePoses[pivotIndex].Translation
		leverArm := tipPosition.Sub(jointPosition)

		deltaRotation := spatialmath.QuatIdentity
		switch targetType {
		case TargetRotationAndPosition, TargetHipsRelativeRotationAndPosition:
			// compute the swing that brings the tip closer
			targetLine := target.Translation.Sub(jointPosition)

			constraint := e.constraints[pivotIndex]

			// only allow swing on the lower spine if there is a hips target;
			// otherwise hand targets bend the spine enough to drag the hips
			if e.hipsTargetIndex < 0 && constraint != nil && constraint.LowerSpine() && tipIndex != e.headIndex {
				twistAxis := absolutePoses[pivotIndex].Translation.Sub(absolutePoses[pivotsParentIndex].Translation)
				if twistAxisLength := twistAxis.Norm(); twistAxisLength > minAxisLength {
					// project leverArm and targetLine to the plane
					twistAxis = twistAxis.Mul(1 / twistAxisLength)
					leverArm = leverArm.Sub(twistAxis.Mul(leverArm.Dot(twistAxis)))
					targetLine = targetLine.Sub(twistAxis.Mul(targetLine.Dot(twistAxis)))
				} else {
					leverArm = r3.Vector{}
					targetLine = r3.Vector{}
				}
			}

			axis := leverArm.Cross(targetLine)
			if axisLength := axis.Norm(); axisLength > minAxisLength {
				// compute the angle of rotation that brings the tip closer
				axis = axis.Mul(1 / axisLength)
				cosAngle := utils.Clamp(leverArm.Dot(targetLine)/(leverArm.Norm()*targetLine.Norm()), -1, 1)
				angle := math.Acos(cosAngle)
				const minAdjustmentAngle = 1.0e-4
				if angle > minAdjustmentAngle {
					angle *= target.FlexCoefficient(chainDepth)
					deltaRotation = spatialmath.AngleAxis(angle, axis)

					// the swing re-orients the tip but usually leaves a
					// non-zero delta between the tip's new orientation and its
					// target; this is the parent-relative orientation the tip
					// joint must reach
					tipRelativeRotation := quat.Mul(quat.Conj(quat.Mul(deltaRotation, tipParentOrientation)), target.Rotation)

					if constraint, ok := e.constraints[tipIndex]; ok {
						result, constrained := constraint.Apply(tipRelativeRotation)
						if constrained {
							// the tip's final parent-relative rotation would
							// violate its constraint, so pre-twist this pivot
							// to compensate
							constrainedTipRotation := quat.Mul(deltaRotation, quat.Mul(tipParentOrientation, result))
							missingRotation := quat.Mul(target.Rotation, quat.Conj(constrainedTipRotation))
							leakAxis := spatialmath.RotateVec(deltaRotation, leverArm).Normalize()
							_, twistPart := spatialmath.SwingTwistDecomposition(missingRotation, leakAxis)
							if twistPart.Real < 0 {
								twistPart = spatialmath.Flip(twistPart)
							}
							const limitLeakFraction = 0.1
							leak := spatialmath.NLerp(spatialmath.QuatIdentity, twistPart, limitLeakFraction)
							deltaRotation = quat.Mul(leak, deltaRotation)
						}
					}
				}
			}

		case TargetHmdHead:
			// slave the end-effector's orientation by distributing rotation
			// deltas up the hierarchy; its position is enforced later by
			// shifting the hips
			deltaRotation = quat.Mul(target.Rotation, quat.Conj(tipOrientation))
			if deltaRotation.Real < 0 {
				deltaRotation = spatialmath.Flip(deltaRotation)
			}
			const angleDistributionFactor = 0.45
			deltaRotation = spatialmath.NLerp(spatialmath.QuatIdentity, deltaRotation, angleDistributionFactor)

		case TargetRotationOnly, TargetSpline, TargetUnknown:
		}

		// the pivot's new parent-relative rotation after the swing:
		// Q' = dQ * Q and Q = Qp * q, so q' = Qp^ * dQ * Q
		newRot := spatialmath.Normalize(quat.Mul(
			quat.Conj(absolutePoses[pivotsParentIndex].Rotation),
			quat.Mul(deltaRotation, absolutePoses[pivotIndex].Rotation)))

		constrained := false
		if constraint, ok := e.constraints[pivotIndex]; ok {
			var result quat.Number
			result, constrained = constraint.Apply(newRot)
			if constrained {
				newRot = result
				// the constraint modified the pivot's local rotation, so
				// recover the corresponding model-frame delta:
				// q' = Qp^ * dQ * Q, so dQ = Qp * q' * Q^
				deltaRotation = quat.Mul(absolutePoses[pivotsParentIndex].Rotation,
					quat.Mul(newRot, quat.Conj(absolutePoses[pivotIndex].Rotation)))
			}
		}

		chain = append(chain, jointChainInfo{
			relRot:      newRot,
			relTrans:    e.relativePoses[pivotIndex].Translation,
			weight:      target.Weight,
			jointIndex:  pivotIndex,
			constrained: constrained,
		})

		// track the tip's transform while descending toward the root
		tipPosition = jointPosition.Add(spatialmath.RotateVec(deltaRotation, tipPosition.Sub(jointPosition)))
		tipOrientation = spatialmath.Normalize(quat.Mul(deltaRotation, tipOrientation))
		tipParentOrientation = spatialmath.Normalize(quat.Mul(deltaRotation, tipParentOrientation))

		pivotIndex = pivotsParentIndex
		pivotsParentIndex = e.skeleton.ParentIndex(pivotIndex)
		chainDepth++
	}

	if target.PoleVectorEnabled {
		e.applyPoleVector(ctx, target, absolutePoses, chain, debug)
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

// applyPoleVector twists the target's two-bone sub-chain (e.g. shoulder,
// elbow, wrist) about its base-to-tip axis so the mid joint points along the
// requested pole vector, rewriting the affected chain entries in place.
func (e *Engine) applyPoleVector(ctx *FrameContext, target *Target, absolutePoses []spatialmath.Pose, chain []jointChainInfo, debug bool) {
	topJointIndex := target.Index
	midJointIndex := e.skeleton.ParentIndex(topJointIndex)
	if midJointIndex == -1 {
		return
	}
	baseJointIndex := e.skeleton.ParentIndex(midJointIndex)
	if baseJointIndex == -1 {
		return
	}
	baseParentJointIndex := e.skeleton.ParentIndex(baseJointIndex)

	// rebuild the chain's absolute poses from the pending relative ones,
	// starting from the chain's base parent (the hips)
	var topPose, midPose, basePose spatialmath.Pose
	accum := spatialmath.NewZeroPose()
	if e.hipsIndex >= 0 {
		accum = absolutePoses[e.hipsIndex]
	}
	topChainIndex, baseChainIndex := -1, -1
	baseParentPose := accum
	for i := len(chain) - 1; i >= 0; i-- {
		accum = accum.Compose(spatialmath.NewPose(chain[i].relRot, chain[i].relTrans))
		switch chain[i].jointIndex {
		case topJointIndex:
			topChainIndex = i
			topPose = accum
		case midJointIndex:
			midPose = accum
		case baseJointIndex:
			baseChainIndex = i
			basePose = accum
		case baseParentJointIndex:
			baseParentPose = accum
		}
	}
	if topChainIndex == -1 || baseChainIndex == -1 {
		return
	}

	const epsilon = 1.0e-5
	poleRot := spatialmath.QuatIdentity
	d := basePose.Translation.Sub(topPose.Translation)
	dLen := d.Norm()
	if dLen > epsilon {
		dUnit := d.Mul(1 / dLen)
		eVec := midPose.TransformVector(target.PoleReferenceVector)
		eProj := eVec.Sub(dUnit.Mul(eVec.Dot(dUnit)))
		eProjLen := eProj.Norm()

		const minEProjLen = 0.5
		if eProjLen < minEProjLen {
			// the configured reference vector is nearly parallel to the
			// chain; fall back to the mid joint's offset from the chord
			midPoint := topPose.Translation.Add(d.Mul(0.5))
			eVec = midPose.Translation.Sub(midPoint)
			eProj = eVec.Sub(dUnit.Mul(eVec.Dot(dUnit)))
			eProjLen = eProj.Norm()
		}

		p := target.PoleVector
		pProj := p.Sub(dUnit.Mul(p.Dot(dUnit)))
		pProjLen := pProj.Norm()

		if eProjLen > epsilon && pProjLen > epsilon {
			// as the pole vector becomes orthogonal to d, reduce the rotation
			magnitude := easeOutExpo(pProjLen)
			dot := utils.Clamp(eProj.Mul(1/eProjLen).Dot(pProj.Mul(1/pProjLen)), 0, 1)
			theta := math.Acos(dot)
			cross := eProj.Cross(pProj)
			const minAdjustmentAngle = 0.001745 // 0.1 degree
			if theta > minAdjustmentAngle {
				axis := dUnit
				if cross.Dot(dUnit) < 0 {
					axis = dUnit.Mul(-1)
				}
				poleRot = spatialmath.AngleAxis(magnitude*theta, axis)
			}
		}

		if debug {
			geomToWorld := ctx.geomToWorld()
			drawer := ctx.drawer()

			const (
				projVectorLen = 10.0
				poleVectorLen = 100.0
			)
			midPoint := basePose.Translation.Add(topPose.Translation).Mul(0.5)
			drawer.DrawRay(transformPoint(geomToWorld, basePose.Translation),
				transformPoint(geomToWorld, topPose.Translation), debugdraw.Yellow)
			drawer.DrawRay(transformPoint(geomToWorld, midPoint),
				transformPoint(geomToWorld, midPoint.Add(eProj.Normalize().Mul(projVectorLen))), debugdraw.Red)
			drawer.DrawRay(transformPoint(geomToWorld, midPoint),
				transformPoint(geomToWorld, midPoint.Add(p.Normalize().Mul(poleVectorLen))), debugdraw.Blue)
		}
	}

	chain[baseChainIndex].relRot = quat.Mul(quat.Conj(baseParentPose.Rotation), quat.Mul(poleRot, basePose.Rotation))
	chain[topChainIndex].relRot = quat.Mul(quat.Conj(midPose.Rotation), quat.Mul(quat.Conj(poleRot), topPose.Rotation))
}
