package ik

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/debugdraw"
	"go.viam.com/bodyik/spatialmath"
)

const (
	debugAxisLength  = 2.0 // cm
	debugHingeLength = 4.0 // cm
	debugTwistLength = 4.0 // cm
	debugSwingLength = 4.0 // cm
)

func sphericalToCartesian(phi, theta float64) r3.Vector {
	sinPhi := math.Sin(phi)
	return r3.Vector{X: sinPhi * math.Cos(theta), Y: math.Cos(phi), Z: sinPhi * math.Sin(theta)}
}

func drawPoseAxes(drawer debugdraw.Drawer, geomToWorld mgl64.Mat4, pose spatialmath.Pose, axisLength float64) r3.Vector {
	xAxis := transformVec(geomToWorld, spatialmath.RotateVec(pose.Rotation, r3.Vector{X: 1}))
	yDir := transformVec(geomToWorld, spatialmath.RotateVec(pose.Rotation, r3.Vector{Y: 1}))
	zAxis := transformVec(geomToWorld, spatialmath.RotateVec(pose.Rotation, r3.Vector{Z: 1}))
	pos := transformPoint(geomToWorld, pose.Translation)
	drawer.DrawRay(pos, pos.Add(xAxis.Mul(axisLength)), debugdraw.Red)
	drawer.DrawRay(pos, pos.Add(yDir.Mul(axisLength)), debugdraw.Green)
	drawer.DrawRay(pos, pos.Add(zAxis.Mul(axisLength)), debugdraw.Blue)
	return pos
}

// debugDrawIKChain draws the joints a single chain walk touched, with red
// links to the parent where the joint was constrained.
func (e *Engine) debugDrawIKChain(ctx *FrameContext, chain []jointChainInfo) {
	poses := make([]spatialmath.Pose, len(e.relativePoses))
	copy(poses, e.relativePoses)

	// copy the pending chain adjustments into the poses
	for i := range chain {
		poses[chain[i].jointIndex].Rotation = chain[i].relRot
		poses[chain[i].jointIndex].Translation = chain[i].relTrans
	}
	e.skeleton.ConvertRelativeToAbsolute(poses)

	inChain := func(jointIndex int) *jointChainInfo {
		for i := range chain {
			if chain[i].jointIndex == jointIndex {
				return &chain[i]
			}
		}
		return nil
	}

	geomToWorld := ctx.geomToWorld()
	drawer := ctx.drawer()
	for i := range poses {
		parentIndex := e.skeleton.ParentIndex(i)
		info := inChain(i)
		parentInfo := inChain(parentIndex)
		if info == nil || parentInfo == nil {
			continue
		}

		pos := drawPoseAxes(drawer, geomToWorld, poses[i], debugAxisLength)

		if parentIndex != -1 {
			parentPos := transformPoint(geomToWorld, poses[parentIndex].Translation)
			color := debugdraw.Gray
			if parentInfo.constrained {
				color = debugdraw.Red
			}
			drawer.DrawRay(pos, parentPos, color)
		}
	}
}

// debugDrawConstraints draws every joint's frame plus its twist fan, hinge
// axis and swing boundary.
func (e *Engine) debugDrawConstraints(ctx *FrameContext) {
	poses := make([]spatialmath.Pose, len(e.relativePoses))
	copy(poses, e.relativePoses)
	e.skeleton.ConvertRelativeToAbsolute(poses)

	geomToWorld := ctx.geomToWorld()
	drawer := ctx.drawer()

	const numSwingSteps = 10
	const axisLength = 5.0 // cm

	for i := range poses {
		pos := drawPoseAxes(drawer, geomToWorld, poses[i], axisLength)

		parentIndex := e.skeleton.ParentIndex(i)
		parentAbsRot := spatialmath.QuatIdentity
		if parentIndex != -1 {
			parentPos := transformPoint(geomToWorld, poses[parentIndex].Translation)
			drawer.DrawRay(pos, parentPos, debugdraw.Gray)
			parentAbsRot = poses[parentIndex].Rotation
		}

		constraint, ok := e.constraints[i]
		if !ok {
			continue
		}
		refRot := constraint.ReferenceRotation()

		switch c := constraint.(type) {
		case *ElbowConstraint:
			hingeAxis := transformVec(geomToWorld,
				spatialmath.RotateVec(quat.Mul(parentAbsRot, refRot), c.HingeAxis()))
			drawer.DrawRay(pos, pos.Add(hingeAxis.Mul(debugHingeLength)), debugdraw.Magenta)

			minRot := spatialmath.AngleAxis(c.MinAngle(), c.HingeAxis())
			maxRot := spatialmath.AngleAxis(c.MaxAngle(), c.HingeAxis())
			for step := 0; step <= numSwingSteps; step++ {
				rot := spatialmath.NLerp(minRot, maxRot, float64(step)/numSwingSteps)
				axis := transformVec(geomToWorld,
					spatialmath.RotateVec(quat.Mul(parentAbsRot, quat.Mul(rot, refRot)), yAxis))
				drawer.DrawRay(pos, pos.Add(axis.Mul(debugTwistLength)), debugdraw.Cyan)
			}

		case *SwingTwistConstraint:
			twistAxis := spatialmath.RotateVec(refRot, yAxis)
			worldTwistAxis := transformVec(geomToWorld, spatialmath.RotateVec(parentAbsRot, twistAxis))
			drawer.DrawRay(pos, pos.Add(worldTwistAxis.Mul(debugHingeLength)), debugdraw.Magenta)

			minRot := spatialmath.AngleAxis(c.MinTwist(), twistAxis)
			maxRot := spatialmath.AngleAxis(c.MaxTwist(), twistAxis)
			for step := 0; step <= numSwingSteps; step++ {
				rot := spatialmath.NLerp(minRot, maxRot, float64(step)/numSwingSteps)
				axis := transformVec(geomToWorld,
					spatialmath.RotateVec(quat.Mul(parentAbsRot, quat.Mul(rot, refRot)), r3.Vector{X: 1}))
				drawer.DrawRay(pos, pos.Add(axis.Mul(debugTwistLength)), debugdraw.Cyan)
			}

			// swing boundary
			minDots := c.MinDots()
			if len(minDots) > 1 {
				dTheta := 2 * math.Pi / float64(len(minDots))
				frameRot := quat.Mul(parentAbsRot, refRot)
				prevTip := r3.Vector{}
				havePrev := false
				for k := 0; k <= len(minDots); k++ {
					idx := k % len(minDots)
					phi := math.Acos(minDots[idx])
					theta := float64(k)*dTheta - math.Pi/2
					swungAxis := sphericalToCartesian(phi, theta)
					worldSwungAxis := transformVec(geomToWorld, spatialmath.RotateVec(frameRot, swungAxis))
					swingTip := pos.Add(worldSwungAxis.Mul(debugSwingLength))
					drawer.DrawRay(pos, swingTip, debugdraw.Purple)
					if havePrev {
						drawer.DrawRay(prevTip, swingTip, debugdraw.Purple)
					}
					prevTip = swingTip
					havePrev = true
				}
			}
		}
	}
}

// drawTargets places a named marker per target in the avatar frame, and
// removes the markers on the frame the switch turns off.
func (e *Engine) drawTargets(ctx *FrameContext, targets []Target) {
	drawer := ctx.drawer()
	if ctx.DrawTargets {
		rigToAvatar := mgl64.HomogRotate3DY(math.Pi)
		for i := range targets {
			target := &targets[i]
			geomTarget := poseToMat4(spatialmath.NewPose(target.Rotation, target.Translation))
			avatarTarget := rigToAvatar.Mul4(ctx.GeometryToRig).Mul4(geomTarget)
			markerPose := spatialmath.NewPoseFromMat4(avatarTarget)
			name := fmt.Sprintf("ikTarget%d", target.Index)
			drawer.AddMarker(name, markerPose.Rotation, markerPose.Translation, debugdraw.White)
		}
	} else if e.prevDrawTargets {
		// remove markers added on previous frames
		for i := range targets {
			drawer.RemoveMarker(fmt.Sprintf("ikTarget%d", targets[i].Index))
		}
	}
	e.prevDrawTargets = ctx.DrawTargets
}

// debugDrawSpineSplines draws each spline target's curve as equal-length
// alternating red and white stripes.
func (e *Engine) debugDrawSpineSplines(ctx *FrameContext, targets []Target) {
	if e.hipsIndex < 0 {
		return
	}
	geomToWorld := ctx.geomToWorld()
	drawer := ctx.drawer()

	for i := range targets {
		target := &targets[i]
		if target.Type != TargetSpline {
			continue
		}

		tipPose := spatialmath.NewPose(target.Rotation, target.Translation)
		basePose := e.skeleton.AbsolutePose(e.hipsIndex, e.relativePoses)
		sp := e.splineForTarget(target, tipPose, basePose)
		totalArcLength := sp.ArcLength(1)

		const numStripes = 20
		dArcLength := totalArcLength / numStripes
		arcLength := 0.0
		for stripe := 0; stripe < numStripes; stripe++ {
			prevT := sp.ArcLengthInverse(arcLength)
			nextT := sp.ArcLengthInverse(arcLength + dArcLength)
			color := debugdraw.Red
			if stripe%2 != 0 {
				color = debugdraw.White
			}
			drawer.DrawRay(transformPoint(geomToWorld, sp.Eval(prevT)),
				transformPoint(geomToWorld, sp.Eval(nextT)), color)
			arcLength += dArcLength
		}
	}
}

// poseToMat4 converts a rotation+translation pose into a homogeneous matrix.
func poseToMat4(p spatialmath.Pose) mgl64.Mat4 {
	q := mgl64.Quat{W: p.Rotation.Real, V: mgl64.Vec3{p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag}}
	m := q.Mat4()
	return mgl64.Translate3D(p.Translation.X, p.Translation.Y, p.Translation.Z).Mul4(m)
}
