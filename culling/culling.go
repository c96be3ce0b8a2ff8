// Package culling implements the per-cluster light list build (component
// E): the pure geometric tests a compute kernel evaluates per (cluster,
// light) pair, and a CPU-side mirror of the dispatch that reserves output
// regions from a running offset.
package culling

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/novaengine/rtgi/cluster"
	"github.com/novaengine/rtgi/lightstore"
)

// MaxLightsPerCluster bounds how many light indices one cluster can record;
// beyond this the first N are kept and Stats.Overflows is incremented.
const MaxLightsPerCluster = 256

// MaxTotalLightIndices bounds the shared output region reserved across all
// clusters in one frame.
const MaxTotalLightIndices = 1024 * 1024

// ClusterMeta is the per-cluster (count, offset) pair written by the
// culling dispatch.
type ClusterMeta struct {
	Count  uint32
	Offset uint32
}

// SphereIntersectsAABB reports whether a sphere (center, radius) in the
// same space as the AABB overlaps it.
func SphereIntersectsAABB(center mgl32.Vec3, radius float32, box cluster.AABB) bool {
	closest := mgl32.Vec3{
		clampF(center.X(), box.Min.X(), box.Max.X()),
		clampF(center.Y(), box.Min.Y(), box.Max.Y()),
		clampF(center.Z(), box.Min.Z(), box.Max.Z()),
	}
	d := center.Sub(closest)
	return d.Dot(d) <= radius*radius
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ConeRejectsAABB conservatively reports whether a spot light's cone
// entirely misses the AABB, by testing the AABB against the cone's
// supporting planes. A spot light at apex, pointing along dir (unit),
// with half-angle whose cosine is coneCos (callers pass the light's
// OuterConeCos, the widest angle the light affects).
//
// This is conservative: it may return false (no rejection) for some
// clusters the cone does not actually touch, but never rejects a cluster
// the cone does touch.
func ConeRejectsAABB(apex, dir mgl32.Vec3, coneCos, range_ float32, box cluster.AABB) bool {
	if !SphereIntersectsAABB(apex, range_, box) {
		return true
	}
	corners := aabbCorners(box)
	sinConeSq := 1 - coneCos*coneCos
	if sinConeSq < 0 {
		sinConeSq = 0
	}
	for _, c := range corners {
		toCorner := c.Sub(apex)
		dist := toCorner.Len()
		if dist == 0 {
			return false
		}
		cosAngle := toCorner.Dot(dir) / dist
		if cosAngle >= coneCos {
			return false
		}
		// Conservative check: a corner outside the cone's half-angle is
		// still within reach if its perpendicular distance from the axis
		// is within the cone's radius at that depth.
		along := toCorner.Dot(dir)
		if along < 0 {
			continue
		}
		perp := toCorner.Sub(dir.Mul(along)).Len()
		coneSin := float32(math.Sqrt(float64(sinConeSq)))
		if coneCos > 0 {
			maxPerp := along * (coneSin / coneCos)
			if perp <= maxPerp {
				return false
			}
		}
	}
	return true
}

func aabbCorners(box cluster.AABB) [8]mgl32.Vec3 {
	return [8]mgl32.Vec3{
		{box.Min.X(), box.Min.Y(), box.Min.Z()},
		{box.Max.X(), box.Min.Y(), box.Min.Z()},
		{box.Min.X(), box.Max.Y(), box.Min.Z()},
		{box.Max.X(), box.Max.Y(), box.Min.Z()},
		{box.Min.X(), box.Min.Y(), box.Max.Z()},
		{box.Max.X(), box.Min.Y(), box.Max.Z()},
		{box.Min.X(), box.Max.Y(), box.Max.Z()},
		{box.Max.X(), box.Max.Y(), box.Max.Z()},
	}
}

// Stats accumulates per-frame culling statistics.
type Stats struct {
	TotalAssignments uint32
	Overflows        uint32
}

// BuildCPU computes cluster_meta/light_indices for a grid and light store
// on the CPU. The compute-shader kernel performs the identical test with
// one invocation per cluster; this function exists to make the culling
// contract unit testable independent of a GPU device.
func BuildCPU(grid *cluster.Grid, lights *lightstore.Store, viewTransform func(mgl32.Vec3) mgl32.Vec3) ([]ClusterMeta, []uint32, Stats) {
	dimX, dimY, dimZ := grid.Dims()
	count := dimX * dimY * dimZ
	meta := make([]ClusterMeta, count)
	var indices []uint32
	var stats Stats

	type candidate struct {
		center mgl32.Vec3
		radius float32
		idx    uint32
		kind   lightstore.Kind
		dir    mgl32.Vec3
		cone   float32
	}

	records := lights.Snapshot()
	cands := make([]candidate, 0, len(records))
	for i, l := range records {
		if !l.Enabled {
			continue
		}
		if l.KindValue == lightstore.Directional {
			cands = append(cands, candidate{idx: uint32(i), kind: lightstore.Directional})
			continue
		}
		cands = append(cands, candidate{
			center: viewTransform(l.Position),
			radius: l.Range,
			idx:    uint32(i),
			kind:   l.KindValue,
			dir:    viewTransform(l.Position.Add(l.Direction)).Sub(viewTransform(l.Position)).Normalize(),
			cone:   l.OuterConeCos,
		})
	}

	offset := uint32(0)
	for z := uint32(0); z < dimZ; z++ {
		for y := uint32(0); y < dimY; y++ {
			for x := uint32(0); x < dimX; x++ {
				idx := cluster.Index(x, y, z, dimX, dimY)
				box := grid.AABBAt(x, y, z)
				var hits []uint32
				for _, c := range cands {
					switch c.kind {
					case lightstore.Directional:
						hits = append(hits, c.idx)
					case lightstore.Spot:
						if !SphereIntersectsAABB(c.center, c.radius, box) {
							continue
						}
						if ConeRejectsAABB(c.center, c.dir, c.cone, c.radius, box) {
							continue
						}
						hits = append(hits, c.idx)
					default:
						if SphereIntersectsAABB(c.center, c.radius, box) {
							hits = append(hits, c.idx)
						}
					}
				}
				n := uint32(len(hits))
				if n > MaxLightsPerCluster {
					stats.Overflows++
					n = MaxLightsPerCluster
				}
				// Same clamps as the GPU kernel: a cluster that cannot
				// reserve room in the shared index buffer records an empty
				// list.
				if n == 0 || offset+n > MaxTotalLightIndices {
					meta[idx] = ClusterMeta{}
					continue
				}
				meta[idx] = ClusterMeta{Count: n, Offset: offset}
				indices = append(indices, hits[:n]...)
				offset += n
				stats.TotalAssignments += n
			}
		}
	}
	return meta, indices, stats
}
