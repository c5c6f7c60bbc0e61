package ik

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/bodyik/spatialmath"
	"go.viam.com/bodyik/utils"
)

var yAxis = r3.Vector{Y: 1}

// swingLimitSamples is the angular resolution of a swing cone's boundary.
const swingLimitSamples = 16

// SwingTwistConstraint limits a ball-and-socket joint: twist about the
// reference y-axis is clamped to a signed range, and the swung y-axis is
// clamped to a cone described by minimum-dot-product samples around it.
type SwingTwistConstraint struct {
	referenceRotation  quat.Number
	minDots            []float64 // sampled uniformly over theta in [0, 2pi)
	minTwist, maxTwist float64

	// build-time limits restored by ClearHistory
	originalMinDots                    []float64
	originalMinTwist, originalMaxTwist float64

	lowerSpine bool
}

// NewSwingTwistConstraint returns an unconstrained swing-twist constraint
// around the given reference rotation.
func NewSwingTwistConstraint(referenceRotation quat.Number) *SwingTwistConstraint {
	c := &SwingTwistConstraint{
		referenceRotation: spatialmath.Normalize(referenceRotation),
		minTwist:          -math.Pi,
		maxTwist:          math.Pi,
		minDots:           []float64{-1},
	}
	c.snapshotLimits()
	return c
}

// Kind returns KindSwingTwist.
func (c *SwingTwistConstraint) Kind() ConstraintKind { return KindSwingTwist }

// ReferenceRotation returns the reference rotation.
func (c *SwingTwistConstraint) ReferenceRotation() quat.Number { return c.referenceRotation }

// LowerSpine reports the lower-spine flag.
func (c *SwingTwistConstraint) LowerSpine() bool { return c.lowerSpine }

// SetLowerSpine marks this joint as lower spine.
func (c *SwingTwistConstraint) SetLowerSpine(lowerSpine bool) { c.lowerSpine = lowerSpine }

// MinTwist returns the current lower twist limit (radians).
func (c *SwingTwistConstraint) MinTwist() float64 { return c.minTwist }

// MaxTwist returns the current upper twist limit (radians).
func (c *SwingTwistConstraint) MaxTwist() float64 { return c.maxTwist }

// MinDots returns the current swing-limit samples.
func (c *SwingTwistConstraint) MinDots() []float64 { return c.minDots }

// SetTwistLimits sets the signed twist range. Equal limits disable twist
// clamping entirely.
func (c *SwingTwistConstraint) SetTwistLimits(minTwist, maxTwist float64) {
	c.minTwist = minTwist
	c.maxTwist = maxTwist
	c.snapshotLimits()
}

// SetSwingLimits sets the cone boundary directly from minimum-dot samples,
// uniformly spaced in theta. A single sample describes a circular cone.
func (c *SwingTwistConstraint) SetSwingLimits(minDots []float64) {
	c.minDots = append([]float64{}, minDots...)
	if len(c.minDots) == 0 {
		c.minDots = []float64{-1}
	}
	c.snapshotLimits()
}

// SetSwingLimitsFromDirections builds the cone boundary from a set of
// joint-frame directions the bone is allowed to swing to. Directions are
// binned by azimuth and the boundary is interpolated angularly between them.
func (c *SwingTwistConstraint) SetSwingLimitsFromDirections(directions []r3.Vector) {
	type sample struct{ theta, phi float64 }
	samples := make([]sample, 0, len(directions))
	for _, d := range directions {
		if d.Norm() == 0 {
			continue
		}
		n := d.Normalize()
		samples = append(samples, sample{
			theta: normalizeTheta(math.Atan2(n.Z, n.X)),
			phi:   math.Acos(utils.Clamp(n.Y, -1, 1)),
		})
	}
	if len(samples) == 0 {
		c.SetSwingLimits(nil)
		return
	}
	if len(samples) == 1 {
		c.SetSwingLimits([]float64{math.Cos(samples[0].phi)})
		return
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].theta < samples[j].theta })

	minDots := make([]float64, swingLimitSamples)
	for k := range minDots {
		theta := float64(k) * 2 * math.Pi / swingLimitSamples
		// find the pair of samples bracketing theta, wrapping around
		next := sort.Search(len(samples), func(i int) bool { return samples[i].theta >= theta })
		prev := next - 1
		span := 0.0
		switch {
		case next == len(samples):
			span = samples[0].theta + 2*math.Pi - samples[prev].theta
			next = 0
		case next == 0:
			prev = len(samples) - 1
			span = samples[0].theta + 2*math.Pi - samples[prev].theta
			theta += 2 * math.Pi
		default:
			span = samples[next].theta - samples[prev].theta
		}
		frac := 0.0
		if span > 0 {
			frac = (theta - samples[prev].theta) / span
		}
		phi := samples[prev].phi + frac*(samples[next].phi-samples[prev].phi)
		minDots[k] = math.Cos(phi)
	}
	c.SetSwingLimits(minDots)
}

// Apply clamps the candidate rotation to the configured limits.
func (c *SwingTwistConstraint) Apply(rotation quat.Number) (quat.Number, bool) {
	post := quat.Mul(rotation, quat.Conj(c.referenceRotation))
	swing, twist := spatialmath.SwingTwistDecomposition(post, yAxis)
	constrained := false

	if c.minTwist != c.maxTwist {
		angle := spatialmath.TwistAngle(twist, yAxis)
		clamped := utils.Clamp(angle, c.minTwist, c.maxTwist)
		if math.Abs(clamped-angle) > 1e-9 {
			twist = spatialmath.AngleAxis(clamped, yAxis)
			constrained = true
		}
	}

	swungY := spatialmath.RotateVec(swing, yAxis)
	minDot := c.minDotForTheta(math.Atan2(swungY.Z, swungY.X))
	if swungY.Y < minDot {
		axis := yAxis.Cross(swungY)
		if axis.Norm() > 1e-9 {
			swing = spatialmath.AngleAxis(math.Acos(utils.Clamp(minDot, -1, 1)), axis)
		} else {
			// swing is a half turn; any boundary direction is nearest
			swing = spatialmath.AngleAxis(math.Acos(utils.Clamp(minDot, -1, 1)), r3.Vector{X: 1})
		}
		constrained = true
	}

	if !constrained {
		return rotation, false
	}
	return spatialmath.Normalize(quat.Mul(quat.Mul(swing, twist), c.referenceRotation)), true
}

// DynamicallyAdjustLimits expands twist and swing limits to admit the
// observed rotation.
func (c *SwingTwistConstraint) DynamicallyAdjustLimits(observed quat.Number) {
	post := quat.Mul(observed, quat.Conj(c.referenceRotation))
	swing, twist := spatialmath.SwingTwistDecomposition(post, yAxis)

	if c.minTwist != c.maxTwist {
		angle := spatialmath.TwistAngle(twist, yAxis)
		if angle < c.minTwist {
			c.minTwist = angle
		} else if angle > c.maxTwist {
			c.maxTwist = angle
		}
	}

	swungY := spatialmath.RotateVec(swing, yAxis)
	theta := normalizeTheta(math.Atan2(swungY.Z, swungY.X))
	if swungY.Y < c.minDotForTheta(theta) {
		if len(c.minDots) == 1 {
			c.minDots[0] = swungY.Y
			return
		}
		// lower the two samples bracketing theta
		scaled := theta / (2 * math.Pi) * float64(len(c.minDots))
		i := int(scaled) % len(c.minDots)
		j := (i + 1) % len(c.minDots)
		c.minDots[i] = math.Min(c.minDots[i], swungY.Y)
		c.minDots[j] = math.Min(c.minDots[j], swungY.Y)
	}
}

// ClearHistory restores the limits configured at build time.
func (c *SwingTwistConstraint) ClearHistory() {
	c.minTwist = c.originalMinTwist
	c.maxTwist = c.originalMaxTwist
	c.minDots = append(c.minDots[:0], c.originalMinDots...)
}

// CenterRotation returns the rotation at the middle of the twist range with
// no swing.
func (c *SwingTwistConstraint) CenterRotation() quat.Number {
	centerTwist := spatialmath.AngleAxis((c.minTwist+c.maxTwist)/2, yAxis)
	return spatialmath.Normalize(quat.Mul(centerTwist, c.referenceRotation))
}

func (c *SwingTwistConstraint) snapshotLimits() {
	c.originalMinTwist = c.minTwist
	c.originalMaxTwist = c.maxTwist
	c.originalMinDots = append(c.originalMinDots[:0], c.minDots...)
}

// minDotForTheta interpolates the cone boundary at the given azimuth.
func (c *SwingTwistConstraint) minDotForTheta(theta float64) float64 {
	n := len(c.minDots)
	if n == 1 {
		return c.minDots[0]
	}
	scaled := normalizeTheta(theta) / (2 * math.Pi) * float64(n)
	i := int(scaled) % n
	j := (i + 1) % n
	frac := scaled - math.Floor(scaled)
	return c.minDots[i] + frac*(c.minDots[j]-c.minDots[i])
}

func normalizeTheta(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}
