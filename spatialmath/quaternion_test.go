package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func randomUnitQuat(rr *rand.Rand) quat.Number {
	q := quat.Number{Real: rr.NormFloat64(), Imag: rr.NormFloat64(), Jmag: rr.NormFloat64(), Kmag: rr.NormFloat64()}
	return Normalize(q)
}

func TestAngleAxisRotateVec(t *testing.T) {
	// 90 degrees about z maps x onto y
	q := AngleAxis(math.Pi/2, r3.Vector{Z: 1})
	v := RotateVec(q, r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0, 1e-12)

	// axis does not need to be normalized
	q2 := AngleAxis(math.Pi/2, r3.Vector{Z: 10})
	test.That(t, QuaternionAlmostEqual(q, q2, 1e-12), test.ShouldBeTrue)
}

func TestSwingTwistDecomposition(t *testing.T) {
	//nolint:gosec
	rr := rand.New(rand.NewSource(5))
	axis := r3.Vector{Y: 1}
	for i := 0; i < 1000; i++ {
		q := randomUnitQuat(rr)
		swing, twist := SwingTwistDecomposition(q, axis)

		// recomposition must recover the original rotation
		recomposed := quat.Mul(swing, twist)
		test.That(t, QuaternionAlmostEqual(q, recomposed, 1e-9), test.ShouldBeTrue)

		// twist must be purely about the axis
		test.That(t, twist.Imag, test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, twist.Kmag, test.ShouldAlmostEqual, 0, 1e-9)

		// swing must not rotate the axis's perpendicular component into the axis;
		// equivalently, swing has no twist about the axis
		_, swingTwist := SwingTwistDecomposition(swing, axis)
		test.That(t, math.Abs(TwistAngle(swingTwist, axis)), test.ShouldBeLessThan, 1e-6)
	}
}

func TestTwistAngle(t *testing.T) {
	axis := r3.Vector{Y: 1}
	for _, angle := range []float64{-2.5, -1.0, -0.25, 0, 0.25, 1.0, 2.5} {
		q := AngleAxis(angle, axis)
		test.That(t, TwistAngle(q, axis), test.ShouldAlmostEqual, angle, 1e-12)
	}
}

func TestRotationFromYX(t *testing.T) {
	//nolint:gosec
	rr := rand.New(rand.NewSource(9))
	for i := 0; i < 100; i++ {
		y := r3.Vector{X: rr.NormFloat64(), Y: rr.NormFloat64(), Z: rr.NormFloat64()}
		x := r3.Vector{X: rr.NormFloat64(), Y: rr.NormFloat64(), Z: rr.NormFloat64()}
		if y.Norm() < 1e-6 || x.Norm() < 1e-6 {
			continue
		}
		q := RotationFromYX(y, x)
		test.That(t, Norm(q), test.ShouldAlmostEqual, 1, 1e-9)

		// the rotated y-axis must align with the requested direction
		yAxis := RotateVec(q, r3.Vector{Y: 1})
		test.That(t, yAxis.Dot(y.Normalize()), test.ShouldAlmostEqual, 1, 1e-9)

		// the rotated x-axis stays in the plane spanned by the hint and y
		xAxis := RotateVec(q, r3.Vector{X: 1})
		test.That(t, xAxis.Dot(y.Normalize()), test.ShouldAlmostEqual, 0, 1e-9)
	}

	// degenerate hint parallel to y still yields a valid basis
	q := RotationFromYX(r3.Vector{Y: 2}, r3.Vector{Y: -3})
	test.That(t, Norm(q), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestNLerp(t *testing.T) {
	q1 := AngleAxis(0, r3.Vector{Z: 1})
	q2 := AngleAxis(math.Pi/2, r3.Vector{Z: 1})
	mid := NLerp(q1, q2, 0.5)
	test.That(t, QuaternionAlmostEqual(mid, AngleAxis(math.Pi/4, r3.Vector{Z: 1}), 1e-9), test.ShouldBeTrue)
	test.That(t, Norm(mid), test.ShouldAlmostEqual, 1, 1e-12)
}
