// Package animvars provides the per-frame animation-variable snapshot the
// solver reads its targets from. Values are already expressed in the rig's
// geometry frame; the upstream rig performs any frame conversion before
// publishing a snapshot. Lookups never fail: a missing name or a
// wrongly-typed value yields the caller's default.
package animvars

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Map is a snapshot of named animation variables. A nil Map is valid and
// returns defaults for every lookup. The solver treats it as read-only for
// the duration of a frame.
type Map map[string]interface{}

// Float64 looks up a float variable.
func (m Map) Float64(name string, def float64) float64 {
	if v, ok := m[name].(float64); ok {
		return v
	}
	return def
}

// Int looks up an integer variable.
func (m Map) Int(name string, def int) int {
	if v, ok := m[name].(int); ok {
		return v
	}
	return def
}

// Bool looks up a boolean variable.
func (m Map) Bool(name string, def bool) bool {
	if v, ok := m[name].(bool); ok {
		return v
	}
	return def
}

// Vec3 looks up a vector variable.
func (m Map) Vec3(name string, def r3.Vector) r3.Vector {
	if v, ok := m[name].(r3.Vector); ok {
		return v
	}
	return def
}

// Quat looks up a rotation variable.
func (m Map) Quat(name string, def quat.Number) quat.Number {
	if v, ok := m[name].(quat.Number); ok {
		return v
	}
	return def
}
