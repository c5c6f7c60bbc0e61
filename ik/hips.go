package ik

import (
	"github.com/golang/geo/r3"

	"go.viam.com/bodyik/spatialmath"
)

// computeHipsOffset measures a new hips offset for the next frame by looking
// for discrepancies between where each targeted end-effector ended up and
// where it wants to be, then relaxes the stored offset toward it.
func (e *Engine) computeHipsOffset(targets []Target, underPoses []spatialmath.Pose, dt float64) {
	var newHipsOffset r3.Vector
	for i := range targets {
		target := &targets[i]
		targetIndex := target.Index
		if targetIndex == e.headIndex && e.headIndex != -1 {
			switch target.Type {
			case TargetRotationOnly:
				// shift the hips to bring the under pose closer to where the
				// head happens to be
				under := e.skeleton.AbsolutePose(e.headIndex, underPoses).Translation
				actual := e.skeleton.AbsolutePose(e.headIndex, e.relativePoses).Translation
				const headOffsetSlaveFactor = 0.65
				newHipsOffset = newHipsOffset.Add(actual.Sub(under).Mul(headOffsetSlaveFactor))
			case TargetHmdHead:
				// shift the hips to bring the head to its designated
				// position, and ignore all other targets
				actual := e.skeleton.AbsolutePose(e.headIndex, e.relativePoses).Translation
				e.hipsOffset = e.hipsOffset.Add(target.Translation.Sub(actual))
				newHipsOffset = e.hipsOffset
			case TargetRotationAndPosition:
				actual := e.skeleton.AbsolutePose(targetIndex, e.relativePoses).Translation
				newHipsOffset = newHipsOffset.Add(target.Translation.Sub(actual))

				// add downward pressure on the hips
				const (
					pressureScaleFactor       = 0.95
					pressureTranslationOffset = 1.0
				)
				newHipsOffset = newHipsOffset.Mul(pressureScaleFactor)
				newHipsOffset = newHipsOffset.Sub(r3.Vector{
					X: pressureTranslationOffset,
					Y: pressureTranslationOffset,
					Z: pressureTranslationOffset,
				})
			case TargetHipsRelativeRotationAndPosition, TargetSpline, TargetUnknown:
			}
			if target.Type == TargetHmdHead {
				break
			}
		} else if target.Type == TargetRotationAndPosition {
			actual := e.skeleton.AbsolutePose(targetIndex, e.relativePoses).Translation
			newHipsOffset = newHipsOffset.Add(target.Translation.Sub(actual))
		}
	}

	// smooth transitions by relaxing toward the new value
	const hipsOffsetSlaveTimescale = 0.10
	tau := 1.0
	if dt < hipsOffsetSlaveTimescale {
		tau = dt / hipsOffsetSlaveTimescale
	}
	e.hipsOffset = e.hipsOffset.Add(newHipsOffset.Sub(e.hipsOffset).Mul(tau))

	// clamp the offset's magnitude
	if length := e.hipsOffset.Norm(); length > e.maxHipsOffsetLength {
		e.hipsOffset = e.hipsOffset.Mul(e.maxHipsOffsetLength / length)
	}
}
