// Package debugdraw defines the drawing facility the solver uses for its
// optional visualization: joint axes, constraint cones, target markers and
// spine splines. Drawing is purely observational; implementations must not
// affect solver output.
package debugdraw

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Color is an RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

// Standard colors used by the solver's debug rendering.
var (
	Red     = Color{1, 0, 0, 1}
	Green   = Color{0, 1, 0, 1}
	Blue    = Color{0, 0, 1, 1}
	Yellow  = Color{1, 1, 0, 1}
	White   = Color{1, 1, 1, 1}
	Gray    = Color{0.2, 0.2, 0.2, 1}
	Purple  = Color{0.5, 0, 1, 1}
	Cyan    = Color{0, 1, 1, 1}
	Magenta = Color{1, 0, 1, 1}
)

// Drawer receives world-space debug primitives. Implementations are expected
// to be cheap; the solver may emit hundreds of rays per frame when enabled.
type Drawer interface {
	DrawRay(start, end r3.Vector, c Color)
	AddMarker(name string, rot quat.Number, pos r3.Vector, c Color)
	RemoveMarker(name string)
}

// Noop is a Drawer that discards everything.
type Noop struct{}

// DrawRay does nothing.
func (Noop) DrawRay(start, end r3.Vector, c Color) {}

// AddMarker does nothing.
func (Noop) AddMarker(name string, rot quat.Number, pos r3.Vector, c Color) {}

// RemoveMarker does nothing.
func (Noop) RemoveMarker(name string) {}
