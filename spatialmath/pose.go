package spatialmath

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: rotation, translation and a componentwise scale.
// It is an immutable value type; operations return new Poses.
type Pose struct {
	Rotation    quat.Number
	Translation r3.Vector
	Scale       r3.Vector
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{Rotation: QuatIdentity, Scale: r3.Vector{X: 1, Y: 1, Z: 1}}
}

// NewPose returns a pose with the given rotation and translation and unit scale.
func NewPose(rot quat.Number, trans r3.Vector) Pose {
	return Pose{Rotation: rot, Translation: trans, Scale: r3.Vector{X: 1, Y: 1, Z: 1}}
}

// NewPoseFromMat4 extracts rotation and translation from a rigid mgl64 matrix.
// Any scale or shear in the matrix is discarded.
func NewPoseFromMat4(m mgl64.Mat4) Pose {
	x := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}.Normalize()
	y := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}.Normalize()
	z := x.Cross(y)
	return NewPose(quatFromBasis(x, y, z), r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)})
}

// Compose returns the pose equivalent to applying o in p's frame, i.e. the
// parent-child composition p * o.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Rotation:    Normalize(quat.Mul(p.Rotation, o.Rotation)),
		Translation: p.Translation.Add(RotateVec(p.Rotation, scaleVec(p.Scale, o.Translation))),
		Scale:       scaleVec(p.Scale, o.Scale),
	}
}

// Invert returns the inverse transform, so that p.Compose(p.Invert()) is
// the identity.
func (p Pose) Invert() Pose {
	invRot := quat.Conj(p.Rotation)
	invScale := r3.Vector{X: safeInv(p.Scale.X), Y: safeInv(p.Scale.Y), Z: safeInv(p.Scale.Z)}
	return Pose{
		Rotation:    invRot,
		Translation: scaleVec(invScale, RotateVec(invRot, p.Translation)).Mul(-1),
		Scale:       invScale,
	}
}

// TransformPoint maps a point through the pose.
func (p Pose) TransformPoint(v r3.Vector) r3.Vector {
	return p.Translation.Add(RotateVec(p.Rotation, scaleVec(p.Scale, v)))
}

// TransformVector maps a direction through the pose, ignoring translation.
func (p Pose) TransformVector(v r3.Vector) r3.Vector {
	return RotateVec(p.Rotation, scaleVec(p.Scale, v))
}

// BlendPoses interpolates between two poses: translation and scale linearly,
// rotation by sign-aligned normalized lerp.
func BlendPoses(a, b Pose, alpha float64) Pose {
	bRot := b.Rotation
	if Dot(a.Rotation, bRot) < 0 {
		bRot = Flip(bRot)
	}
	return Pose{
		Rotation:    NLerp(a.Rotation, bRot, alpha),
		Translation: a.Translation.Add(b.Translation.Sub(a.Translation).Mul(alpha)),
		Scale:       a.Scale.Add(b.Scale.Sub(a.Scale).Mul(alpha)),
	}
}

// PoseAlmostEqual compares rotation, translation and scale within epsilon.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	return QuaternionAlmostEqual(a.Rotation, b.Rotation, epsilon) &&
		a.Translation.Sub(b.Translation).Norm() <= epsilon &&
		a.Scale.Sub(b.Scale).Norm() <= epsilon
}

func scaleVec(s, v r3.Vector) r3.Vector {
	return r3.Vector{X: s.X * v.X, Y: s.Y * v.Y, Z: s.Z * v.Z}
}

func safeInv(f float64) float64 {
	if f == 0 {
		return 0
	}
	return 1 / f
}
