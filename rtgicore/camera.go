package rtgicore

import "github.com/go-gl/mathgl/mgl32"

// Camera is the caller-owned per-frame camera description.
type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Near       float32
	Far        float32
}

// ViewProj returns the combined view-projection matrix.
func (c Camera) ViewProj() mgl32.Mat4 {
	return c.Projection.Mul4(c.View)
}

// Frustum extracts the 6 planes (Left, Right, Bottom, Top, Near, Far) of the
// view-projection matrix, each normalized so that a point is inside the
// frustum iff its signed distance to every plane is non-negative.
func (c Camera) Frustum() [6]mgl32.Vec4 {
	vp := c.ViewProj()
	var planes [6]mgl32.Vec4

	planes[0] = addRows(vp, 3, 0)
	planes[1] = subRows(vp, 3, 0)
	planes[2] = addRows(vp, 3, 1)
	planes[3] = subRows(vp, 3, 1)
	planes[4] = addRows(vp, 3, 2)
	planes[5] = subRows(vp, 3, 2)

	for i := range planes {
		n := mgl32.Vec3{planes[i][0], planes[i][1], planes[i][2]}.Len()
		if n > 0 {
			planes[i] = planes[i].Mul(1.0 / n)
		}
	}
	return planes
}

func addRows(m mgl32.Mat4, a, b int) mgl32.Vec4 {
	return mgl32.Vec4{
		m.At(a, 0) + m.At(b, 0),
		m.At(a, 1) + m.At(b, 1),
		m.At(a, 2) + m.At(b, 2),
		m.At(a, 3) + m.At(b, 3),
	}
}

func subRows(m mgl32.Mat4, a, b int) mgl32.Vec4 {
	return mgl32.Vec4{
		m.At(a, 0) - m.At(b, 0),
		m.At(a, 1) - m.At(b, 1),
		m.At(a, 2) - m.At(b, 2),
		m.At(a, 3) - m.At(b, 3),
	}
}

// AABBInFrustum reports whether the world/view-space AABB [min,max]
// intersects the frustum defined by the six planes.
func AABBInFrustum(min, max mgl32.Vec3, planes [6]mgl32.Vec4) bool {
	for _, plane := range planes {
		var p mgl32.Vec3
		if plane[0] > 0 {
			p[0] = max[0]
		} else {
			p[0] = min[0]
		}
		if plane[1] > 0 {
			p[1] = max[1]
		} else {
			p[1] = min[1]
		}
		if plane[2] > 0 {
			p[2] = max[2]
		} else {
			p[2] = min[2]
		}
		dist := plane[0]*p[0] + plane[1]*p[1] + plane[2]*p[2] + plane[3]
		if dist < 0 {
			return false
		}
	}
	return true
}

// Viewport is the pipeline's resolution/depth-range state. Any
// change to it invalidates cluster AABBs, reservoir buffers, and SVGF
// history.
type Viewport struct {
	Width, Height uint32
	GridDim       [3]uint32
	Near, Far     float32
}

// Equal reports whether two viewports describe the same resources, i.e.
// whether a change between them requires invalidation.
func (v Viewport) Equal(o Viewport) bool {
	return v.Width == o.Width && v.Height == o.Height &&
		v.GridDim == o.GridDim && v.Near == o.Near && v.Far == o.Far
}
