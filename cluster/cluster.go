// Package cluster builds and caches the view-space cluster grid used to
// partition lights (component C).
package cluster

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/novaengine/rtgi/rtgicore"
)

// MaxClusters is the implementation-defined cap on gridX*gridY*gridZ (2^20).
const MaxClusters = 1 << 20

// AABB is a view-space axis-aligned bounding box.
type AABB struct {
	Min, Max mgl32.Vec3
}

// Grid is the cached set of per-cluster view-space AABBs for a given
// viewport. It is rebuilt only when the grid dimensions, near/far planes
// or projection change.
type Grid struct {
	dimX, dimY, dimZ uint32
	invProj          mgl32.Mat4
	near, far        float32
	aabbs            []AABB
}

// Index returns the linear index of cluster (x, y, z); callers are expected
// to have validated the coordinates are in range.
func Index(x, y, z, dimX, dimY uint32) uint32 {
	return z*dimX*dimY + y*dimX + x
}

// Build constructs the cluster grid for the given dimensions and the
// inverse of the camera's projection matrix (used to unproject screen-space
// corners into view space), and near/far planes for exponential depth
// slicing.
func Build(dimX, dimY, dimZ uint32, invProj mgl32.Mat4, near, far float32) (*Grid, *rtgicore.Error) {
	if dimX == 0 || dimY == 0 || dimZ == 0 {
		return nil, rtgicore.New(rtgicore.InvalidGrid, "cluster grid dimensions must be non-zero, got (%d,%d,%d)", dimX, dimY, dimZ)
	}
	total := uint64(dimX) * uint64(dimY) * uint64(dimZ)
	if total > MaxClusters {
		return nil, rtgicore.New(rtgicore.InvalidGrid, "cluster grid %d exceeds cap of %d", total, MaxClusters)
	}
	if near <= 0 || far <= near {
		return nil, rtgicore.New(rtgicore.InvalidGrid, "invalid depth range near=%f far=%f", near, far)
	}

	g := &Grid{dimX: dimX, dimY: dimY, dimZ: dimZ, invProj: invProj, near: near, far: far}
	g.aabbs = make([]AABB, total)

	for z := uint32(0); z < dimZ; z++ {
		zNear := sliceDepth(near, far, z, dimZ)
		zFar := sliceDepth(near, far, z+1, dimZ)
		for y := uint32(0); y < dimY; y++ {
			for x := uint32(0); x < dimX; x++ {
				g.aabbs[Index(x, y, z, dimX, dimY)] = clusterAABB(invProj, dimX, dimY, x, y, zNear, zFar)
			}
		}
	}
	return g, nil
}

// sliceDepth computes z_k = near * (far/near)^(k/gridZ) for slice boundary k.
func sliceDepth(near, far float32, k, gridZ uint32) float32 {
	t := float64(k) / float64(gridZ)
	return near * float32(math.Pow(float64(far)/float64(near), t))
}

// clusterAABB unprojects the 4 screen-corner rays of cluster (x,y) at depths
// zNear and zFar and returns the AABB of the resulting 8 points.
func clusterAABB(invProj mgl32.Mat4, dimX, dimY, x, y uint32, zNear, zFar float32) AABB {
	ndcMinX := 2*float32(x)/float32(dimX) - 1
	ndcMaxX := 2*float32(x+1)/float32(dimX) - 1
	ndcMinY := 2*float32(y)/float32(dimY) - 1
	ndcMaxY := 2*float32(y+1)/float32(dimY) - 1

	corners := [4][2]float32{
		{ndcMinX, ndcMinY},
		{ndcMaxX, ndcMinY},
		{ndcMinX, ndcMaxY},
		{ndcMaxX, ndcMaxY},
	}

	min := mgl32.Vec3{math32Max, math32Max, math32Max}
	max := mgl32.Vec3{-math32Max, -math32Max, -math32Max}

	for _, depth := range []float32{zNear, zFar} {
		for _, c := range corners {
			p := unprojectAtViewDepth(invProj, c[0], c[1], depth)
			min = componentMin(min, p)
			max = componentMax(max, p)
		}
	}
	return AABB{Min: min, Max: max}
}

const math32Max = math.MaxFloat32

// unprojectAtViewDepth unprojects an NDC (x,y) coordinate to the view-space
// point lying at the given (positive, camera-forward) view-space depth.
func unprojectAtViewDepth(invProj mgl32.Mat4, ndcX, ndcY, viewDepth float32) mgl32.Vec3 {
	clip := mgl32.Vec4{ndcX, ndcY, 1, 1}
	view := invProj.Mul4x1(clip)
	if view.W() == 0 {
		return mgl32.Vec3{0, 0, -viewDepth}
	}
	dir := mgl32.Vec3{view.X() / view.W(), view.Y() / view.W(), view.Z() / view.W()}
	if dir.Z() == 0 {
		return mgl32.Vec3{0, 0, -viewDepth}
	}
	scale := -viewDepth / dir.Z()
	return dir.Mul(scale)
}

func componentMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{minF(a.X(), b.X()), minF(a.Y(), b.Y()), minF(a.Z(), b.Z())}
}

func componentMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{maxF(a.X(), b.X()), maxF(a.Y(), b.Y()), maxF(a.Z(), b.Z())}
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Dims returns the grid's (gridX, gridY, gridZ).
func (g *Grid) Dims() (uint32, uint32, uint32) { return g.dimX, g.dimY, g.dimZ }

// AABBAt returns the cached view-space AABB of cluster (x,y,z).
func (g *Grid) AABBAt(x, y, z uint32) AABB {
	return g.aabbs[Index(x, y, z, g.dimX, g.dimY)]
}

// Count returns the total number of clusters in the grid.
func (g *Grid) Count() uint32 {
	return g.dimX * g.dimY * g.dimZ
}

// EncodeAABBs packs every cluster AABB as two 16-byte vectors (min, max)
// ready for a storage-buffer upload, in cluster-index order.
func (g *Grid) EncodeAABBs() []byte {
	buf := make([]byte, len(g.aabbs)*32)
	for i, box := range g.aabbs {
		off := i * 32
		putVec4(buf[off:off+16], box.Min.X(), box.Min.Y(), box.Min.Z(), 0)
		putVec4(buf[off+16:off+32], box.Max.X(), box.Max.Y(), box.Max.Z(), 0)
	}
	return buf
}

func putVec4(dst []byte, a, b, c, d float32) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(a))
	binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(b))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(c))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(d))
}

// StillValid reports whether this cached grid can be reused for the given
// viewport parameters without rebuilding.
func (g *Grid) StillValid(dimX, dimY, dimZ uint32, near, far float32) bool {
	return g.dimX == dimX && g.dimY == dimY && g.dimZ == dimZ && g.near == near && g.far == far
}
