package ik

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"go.viam.com/bodyik/debugdraw"
)

// FrameContext carries per-frame, caller-owned state that is not part of
// the skeleton or the animation variables: the transforms needed to draw in
// world space and the debug switches.
type FrameContext struct {
	// RigToWorld and GeometryToRig position the skeleton's geometry frame in
	// the world for debug drawing.
	RigToWorld    mgl64.Mat4
	GeometryToRig mgl64.Mat4

	Drawer debugdraw.Drawer

	DrawChains      bool
	DrawConstraints bool
	DrawTargets     bool
	DrawSplines     bool
}

// NewFrameContext returns a context with identity transforms and no-op
// drawing.
func NewFrameContext() FrameContext {
	return FrameContext{
		RigToWorld:    mgl64.Ident4(),
		GeometryToRig: mgl64.Ident4(),
		Drawer:        debugdraw.Noop{},
	}
}

// geomToWorld composes the two transforms into a geometry-to-world matrix.
func (c *FrameContext) geomToWorld() mgl64.Mat4 {
	return c.RigToWorld.Mul4(c.GeometryToRig)
}

func (c *FrameContext) drawer() debugdraw.Drawer {
	if c.Drawer == nil {
		return debugdraw.Noop{}
	}
	return c.Drawer
}

func transformPoint(m mgl64.Mat4, p r3.Vector) r3.Vector {
	out := mgl64.TransformCoordinate(mgl64.Vec3{p.X, p.Y, p.Z}, m)
	return r3.Vector{X: out.X(), Y: out.Y(), Z: out.Z()}
}

func transformVec(m mgl64.Mat4, v r3.Vector) r3.Vector {
	out := mgl64.TransformNormal(mgl64.Vec3{v.X, v.Y, v.Z}, m)
	return r3.Vector{X: out.X(), Y: out.Y(), Z: out.Z()}
}
