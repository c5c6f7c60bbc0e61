package ik

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/skeleton"
	"go.viam.com/bodyik/spatialmath"
	"go.viam.com/bodyik/utils"
)

// setEllipticalSwingLimits configures an elliptical swing cone where
// lateralSwingPhi limits side-to-side swings and anteriorSwingPhi limits
// forward/backward swings (x-axis of the reference rotation is sideways,
// -z-axis is forward).
func setEllipticalSwingLimits(c *SwingTwistConstraint, lateralSwingPhi, anteriorSwingPhi float64) {
	minDots := make([]float64, 0, swingLimitSamples)
	dTheta := 2 * math.Pi / swingLimitSamples
	theta := 0.0
	for i := 0; i < swingLimitSamples; i++ {
		thetaPrime := math.Atan((anteriorSwingPhi / lateralSwingPhi) * math.Tan(theta))
		phi := math.Cos(2*thetaPrime)*((anteriorSwingPhi-lateralSwingPhi)/2) + (anteriorSwingPhi+lateralSwingPhi)/2
		minDots = append(minDots, math.Cos(phi))
		theta += dTheta
	}
	c.SetSwingLimits(minDots)
}

// newHingeConstraint builds a hinge whose angle limits are measured by
// swinging the parent-frame y-axis about the given parent-frame hinge axis
// and re-expressing the swept boundary in the child frame.
func newHingeConstraint(referenceRotation quat.Number, parentHingeAxis r3.Vector, minAngle, maxAngle float64) *ElbowConstraint {
	c := NewElbowConstraint(referenceRotation)
	invReference := quat.Conj(referenceRotation)
	minSwingAxis := spatialmath.RotateVec(invReference, spatialmath.RotateVec(spatialmath.AngleAxis(minAngle, parentHingeAxis), yAxis))
	maxSwingAxis := spatialmath.RotateVec(invReference, spatialmath.RotateVec(spatialmath.AngleAxis(maxAngle, parentHingeAxis), yAxis))

	// the rest of the math runs with the hinge axis in the child frame
	hingeAxis := spatialmath.RotateVec(referenceRotation, parentHingeAxis)
	c.SetHingeAxis(hingeAxis)
	hingeAxis = c.HingeAxis()

	projectedY := yAxis.Sub(hingeAxis.Mul(yAxis.Dot(hingeAxis))).Normalize()
	measured := func(swingAxis r3.Vector) float64 {
		angle := math.Acos(utils.Clamp(projectedY.Dot(swingAxis), -1, 1))
		if hingeAxis.Dot(projectedY.Cross(swingAxis)) < 0 {
			angle = -angle
		}
		return angle
	}
	c.SetAngleLimits(measured(minSwingAxis), measured(maxSwingAxis))
	return c
}

// buildConstraints authors a constraint per joint from joint-name
// heuristics, mirroring Left/Right sides through a single table.
func buildConstraints(skel *skeleton.Skeleton, defaultRelativePoses []spatialmath.Pose) map[int]RotationConstraint {
	constraints := map[int]RotationConstraint{}
	for i := 0; i < skel.NumJoints(); i++ {
		baseName, mirror := skeleton.BaseJointName(skel.JointName(i))
		referenceRotation := defaultRelativePoses[i].Rotation

		var constraint RotationConstraint
		switch {
		case baseName == "Arm":
			c := NewSwingTwistConstraint(referenceRotation)
			const twistLimit = 5 * math.Pi / 8
			c.SetTwistLimits(-twistLimit, twistLimit)
			const maxArmSwing = 5 * math.Pi / 8
			c.SetSwingLimits([]float64{math.Cos(maxArmSwing)})
			constraint = c

		case baseName == "UpLeg":
			c := NewSwingTwistConstraint(referenceRotation)
			c.SetTwistLimits(-math.Pi/2, math.Pi/2)

			// an asymmetric boundary: most swing toward anterior directions
			elevations := []float64{1, 0.5, 0.25, -1.5, -3, -1.5, 0.25, 0.5}
			minDots := make([]float64, 0, len(elevations))
			deltaTheta := math.Pi / 4
			theta := 0.0
			for _, y := range elevations {
				dir := r3.Vector{X: mirror * math.Cos(theta), Y: y, Z: math.Sin(theta)}
				minDots = append(minDots, dir.Normalize().Dot(yAxis))
				theta += deltaTheta
			}
			c.SetSwingLimits(minDots)
			constraint = c

		case baseName == "Hand":
			c := NewSwingTwistConstraint(referenceRotation)
			c.SetTwistLimits(0, 0) // equal limits leave wrist twist free
			const maxHandSwing = math.Pi / 2
			c.SetSwingLimits([]float64{math.Cos(maxHandSwing)})
			constraint = c

		case baseName == "Shoulder":
			c := NewSwingTwistConstraint(referenceRotation)
			const maxShoulderTwist = math.Pi / 10
			c.SetTwistLimits(-maxShoulderTwist, maxShoulderTwist)
			const maxShoulderSwing = math.Pi / 12
			c.SetSwingLimits([]float64{math.Cos(maxShoulderSwing)})
			constraint = c

		case baseName == "Spine" || baseName == "Spine1" || baseName == "Spine2":
			c := NewSwingTwistConstraint(referenceRotation)
			const maxSpineTwist = math.Pi / 20
			c.SetTwistLimits(-maxSpineTwist, maxSpineTwist)
			const (
				maxSpineLateralSwing  = math.Pi / 15
				maxSpineAnteriorSwing = math.Pi / 10
			)
			setEllipticalSwingLimits(c, maxSpineLateralSwing, maxSpineAnteriorSwing)
			if baseName == "Spine" || baseName == "Spine1" {
				c.SetLowerSpine(true)
			}
			constraint = c

		case baseName == "Neck":
			c := NewSwingTwistConstraint(referenceRotation)
			const maxNeckTwist = math.Pi / 8
			c.SetTwistLimits(-maxNeckTwist, maxNeckTwist)
			const (
				maxNeckLateralSwing  = math.Pi / 12
				maxNeckAnteriorSwing = math.Pi / 10
			)
			setEllipticalSwingLimits(c, maxNeckLateralSwing, maxNeckAnteriorSwing)
			constraint = c

		case baseName == "Head":
			c := NewSwingTwistConstraint(referenceRotation)
			const maxHeadTwist = math.Pi / 6
			c.SetTwistLimits(-maxHeadTwist, maxHeadTwist)
			const (
				maxHeadLateralSwing  = math.Pi / 4
				maxHeadAnteriorSwing = math.Pi / 3
			)
			setEllipticalSwingLimits(c, maxHeadLateralSwing, maxHeadAnteriorSwing)
			constraint = c

		case baseName == "ForeArm":
			// the elbow rotates about the parent-frame z-axis (negated for
			// the right side)
			const (
				minElbowAngle = 0.0
				maxElbowAngle = 11 * math.Pi / 12
			)
			constraint = newHingeConstraint(referenceRotation, r3.Vector{Z: -mirror}, minElbowAngle, maxElbowAngle)

		case baseName == "Leg":
			// the knee rotates about the parent-frame -x-axis
			const (
				minKneeAngle = 0.0
				maxKneeAngle = 7 * math.Pi / 8
			)
			constraint = newHingeConstraint(referenceRotation, r3.Vector{X: -1}, minKneeAngle, maxKneeAngle)

		case baseName == "Foot":
			c := NewSwingTwistConstraint(referenceRotation)
			c.SetTwistLimits(-math.Pi/4, math.Pi/4)

			// approximate swing boundary in the parent frame, rotated into
			// the joint frame
			directions := []r3.Vector{
				{Y: 1},
				{X: 1},
				{X: 1, Y: 1, Z: 1},
				{X: 1, Y: 1, Z: -1},
			}
			invRelative := quat.Conj(referenceRotation)
			for j := range directions {
				directions[j] = spatialmath.RotateVec(invRelative, directions[j])
			}
			c.SetSwingLimitsFromDirections(directions)
			constraint = c
		}

		if constraint != nil {
			constraints[i] = constraint
		}
	}
	return constraints
}

// buildLimitCenterPoses derives the relaxed seed pose for each joint: the
// default pose with its rotation moved to the center of the joint's
// constraint range. The arms are additionally rotated down by the rig's
// sides so the limit-center pose is not a T-pose.
func buildLimitCenterPoses(skel *skeleton.Skeleton, defaultRelativePoses []spatialmath.Pose, constraints map[int]RotationConstraint) []spatialmath.Pose {
	poses := make([]spatialmath.Pose, 0, skel.NumJoints())
	for i := 0; i < skel.NumJoints(); i++ {
		pose := defaultRelativePoses[i]
		if constraint, ok := constraints[i]; ok {
			pose.Rotation = constraint.CenterRotation()
		}
		poses = append(poses, pose)
	}

	const upperArmTheta = math.Pi / 3 // 60 deg
	armRot := spatialmath.AngleAxis(upperArmTheta, r3.Vector{X: 1})
	for _, name := range []string{"LeftArm", "RightArm"} {
		if idx := skel.NameToIndex(name); idx >= 0 && idx < len(poses) {
			poses[idx].Rotation = spatialmath.Normalize(quat.Mul(poses[idx].Rotation, armRot))
		}
	}
	return poses
}
