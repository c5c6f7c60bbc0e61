// Package spatialmath defines the rigid-transform and quaternion math used by
// the body IK solver. Rotations are gonum quaternions, points and directions
// are r3 vectors, all in the rig's geometry frame.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// QuatIdentity is the identity (no-op) rotation.
var QuatIdentity = quat.Number{Real: 1}

// Norm returns the norm of the quaternion.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize returns a unit quaternion pointing the same direction as q.
// The zero quaternion normalizes to the identity.
func Normalize(q quat.Number) quat.Number {
	n := Norm(q)
	if n == 0 {
		return QuatIdentity
	}
	return quat.Scale(1/n, q)
}

// Flip negates all components. The flipped quaternion represents the same
// rotation but interpolates the other way around.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// Dot returns the 4-component dot product of two quaternions.
func Dot(q1, q2 quat.Number) float64 {
	return q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
}

// Lerp linearly interpolates each component; the result is not unit length.
func Lerp(q1, q2 quat.Number, t float64) quat.Number {
	return quat.Add(quat.Scale(1-t, q1), quat.Scale(t, q2))
}

// NLerp is a normalized Lerp. It does not flip signs; callers that need
// shortest-path interpolation align the signs of the inputs first.
func NLerp(q1, q2 quat.Number, t float64) quat.Number {
	return Normalize(Lerp(q1, q2, t))
}

// AngleAxis builds the rotation of the given angle (radians) about the given
// axis. The axis need not be normalized.
func AngleAxis(angle float64, axis r3.Vector) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return QuatIdentity
	}
	s := math.Sin(angle/2) / n
	return quat.Number{Real: math.Cos(angle / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// RotateVec rotates vector v by unit quaternion q.
func RotateVec(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// SwingTwistDecomposition splits q into a twist about the given unit axis and
// the remaining swing, such that q = swing * twist.
func SwingTwistDecomposition(q quat.Number, axis r3.Vector) (swing, twist quat.Number) {
	proj := q.Imag*axis.X + q.Jmag*axis.Y + q.Kmag*axis.Z
	twist = quat.Number{Real: q.Real, Imag: axis.X * proj, Jmag: axis.Y * proj, Kmag: axis.Z * proj}
	if Norm(twist) < 1e-12 {
		// q is a 180 degree swing; twist is indeterminate, pick identity
		twist = QuatIdentity
	} else {
		twist = Normalize(twist)
	}
	swing = quat.Mul(q, quat.Conj(twist))
	return swing, twist
}

// TwistAngle returns the signed angle (radians) of a twist quaternion about
// the given unit axis, in (-pi, pi].
func TwistAngle(twist quat.Number, axis r3.Vector) float64 {
	proj := twist.Imag*axis.X + twist.Jmag*axis.Y + twist.Kmag*axis.Z
	return 2 * math.Atan2(proj, twist.Real)
}

// RotationFromYX builds the rotation whose y-axis aligns with yDir and whose
// x-axis lies as close as possible to xHint. Degenerate hints fall back to an
// arbitrary perpendicular.
func RotationFromYX(yDir, xHint r3.Vector) quat.Number {
	const minLength = 1e-9
	y := yDir
	if y.Norm() < minLength {
		y = r3.Vector{Y: 1}
	}
	y = y.Normalize()
	x := xHint.Sub(y.Mul(xHint.Dot(y)))
	if x.Norm() < minLength {
		// xHint is parallel to y, pick any perpendicular
		x = r3.Vector{X: 1}.Sub(y.Mul(y.X))
		if x.Norm() < minLength {
			x = r3.Vector{Z: 1}.Sub(y.Mul(y.Z))
		}
	}
	x = x.Normalize()
	z := x.Cross(y)
	return quatFromBasis(x, y, z)
}

// quatFromBasis converts an orthonormal right-handed basis (matrix columns
// x, y, z) into a unit quaternion.
func quatFromBasis(x, y, z r3.Vector) quat.Number {
	m00, m01, m02 := x.X, y.X, z.X
	m10, m11, m12 := x.Y, y.Y, z.Y
	m20, m21, m22 := x.Z, y.Z, z.Z

	tr := m00 + m11 + m22
	var q quat.Number
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}

// QuaternionAlmostEqual compares two quaternions componentwise within epsilon,
// treating q and -q as equal.
func QuaternionAlmostEqual(q1, q2 quat.Number, epsilon float64) bool {
	if Dot(q1, q2) < 0 {
		q2 = Flip(q2)
	}
	return math.Abs(q1.Real-q2.Real) <= epsilon &&
		math.Abs(q1.Imag-q2.Imag) <= epsilon &&
		math.Abs(q1.Jmag-q2.Jmag) <= epsilon &&
		math.Abs(q1.Kmag-q2.Kmag) <= epsilon
}
