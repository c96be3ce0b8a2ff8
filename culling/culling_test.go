package culling

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/novaengine/rtgi/cluster"
	"github.com/novaengine/rtgi/lightstore"
)

func box(min, max mgl32.Vec3) cluster.AABB { return cluster.AABB{Min: min, Max: max} }

func TestSphereIntersectsAABB(t *testing.T) {
	b := box(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	tests := []struct {
		name   string
		center mgl32.Vec3
		radius float32
		want   bool
	}{
		{"inside", mgl32.Vec3{0, 0, 0}, 0.1, true},
		{"touching face", mgl32.Vec3{2, 0, 0}, 1, true},
		{"far outside", mgl32.Vec3{10, 0, 0}, 1, false},
		{"overlapping corner", mgl32.Vec3{1.5, 1.5, 1.5}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SphereIntersectsAABB(tt.center, tt.radius, b); got != tt.want {
				t.Errorf("SphereIntersectsAABB(%v,%v) = %v, want %v", tt.center, tt.radius, got, tt.want)
			}
		})
	}
}

func TestConeRejectsAABBNarrowConeAwayFromBox(t *testing.T) {
	b := box(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	apex := mgl32.Vec3{10, 0, 0}
	dir := mgl32.Vec3{0, 1, 0} // pointing away from the box entirely
	if rejected := ConeRejectsAABB(apex, dir, 0.99, 50, b); !rejected {
		t.Error("expected a narrow cone pointing away from the box to be rejected")
	}
}

func TestConeDoesNotRejectWhenAimedAtBox(t *testing.T) {
	b := box(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	apex := mgl32.Vec3{10, 0, 0}
	dir := mgl32.Vec3{-1, 0, 0}
	if rejected := ConeRejectsAABB(apex, dir, 0.5, 50, b); rejected {
		t.Error("expected a wide cone aimed directly at the box not to be rejected")
	}
}

func TestBuildCPUDirectionalTouchesEveryCluster(t *testing.T) {
	invProj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100).Inv()
	grid, err := cluster.Build(4, 4, 4, invProj, 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := lightstore.New()
	store.Add(lightstore.Light{KindValue: lightstore.Directional, Enabled: true, Color: mgl32.Vec3{1, 1, 1}, Intensity: 1, InnerConeCos: 1, OuterConeCos: 1})

	identity := func(v mgl32.Vec3) mgl32.Vec3 { return v }
	meta, _, _ := BuildCPU(grid, store, identity)
	for i, m := range meta {
		if m.Count != 1 {
			t.Fatalf("cluster %d: count = %d, want 1 (directional light must touch every cluster)", i, m.Count)
		}
	}
}

func TestBuildCPUEmptyClusterHasZeroCountAndOffset(t *testing.T) {
	invProj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100).Inv()
	grid, err := cluster.Build(2, 2, 2, invProj, 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := lightstore.New()
	identity := func(v mgl32.Vec3) mgl32.Vec3 { return v }
	meta, indices, stats := BuildCPU(grid, store, identity)
	if len(indices) != 0 {
		t.Fatalf("expected no indices with zero lights, got %d", len(indices))
	}
	for i, m := range meta {
		if m.Count != 0 || m.Offset != 0 {
			t.Fatalf("cluster %d: expected zero count/offset, got %+v", i, m)
		}
	}
	if stats.Overflows != 0 {
		t.Fatalf("expected no overflows, got %d", stats.Overflows)
	}
}

func TestBuildCPUOverflowIsClampedAndCounted(t *testing.T) {
	invProj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100).Inv()
	grid, err := cluster.Build(1, 1, 1, invProj, 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := lightstore.New()
	for i := 0; i < MaxLightsPerCluster+10; i++ {
		store.Add(lightstore.Light{KindValue: lightstore.Directional, Enabled: true, Color: mgl32.Vec3{1, 1, 1}, Intensity: 1, InnerConeCos: 1, OuterConeCos: 1})
	}
	identity := func(v mgl32.Vec3) mgl32.Vec3 { return v }
	meta, indices, stats := BuildCPU(grid, store, identity)
	if meta[0].Count != MaxLightsPerCluster {
		t.Fatalf("expected count clamped to %d, got %d", MaxLightsPerCluster, meta[0].Count)
	}
	if len(indices) != MaxLightsPerCluster {
		t.Fatalf("expected %d indices written, got %d", MaxLightsPerCluster, len(indices))
	}
	if stats.Overflows != 1 {
		t.Fatalf("expected 1 overflow recorded, got %d", stats.Overflows)
	}
}

func TestBuildCPUPointLightCoverage(t *testing.T) {
	invProj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 10).Inv()
	grid, err := cluster.Build(2, 2, 4, invProj, 0.1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := lightstore.New()
	idx, aerr := store.Add(lightstore.Light{
		Position:     mgl32.Vec3{0, 0, -5},
		Range:        3,
		KindValue:    lightstore.Point,
		Enabled:      true,
		Color:        mgl32.Vec3{1, 1, 1},
		Intensity:    1,
		InnerConeCos: 1,
		OuterConeCos: 1,
	})
	if aerr != nil {
		t.Fatalf("unexpected error: %v", aerr)
	}
	if idx != 0 {
		t.Fatalf("first light index = %d, want 0", idx)
	}

	identity := func(v mgl32.Vec3) mgl32.Vec3 { return v }
	meta, indices, _ := BuildCPU(grid, store, identity)

	// Every cluster list must agree with the sphere-AABB test: clusters the
	// light's sphere reaches contain exactly index 0, all others are empty.
	sawHit, sawMiss := false, false
	for z := uint32(0); z < 4; z++ {
		for y := uint32(0); y < 2; y++ {
			for x := uint32(0); x < 2; x++ {
				i := cluster.Index(x, y, z, 2, 2)
				overlaps := SphereIntersectsAABB(mgl32.Vec3{0, 0, -5}, 3, grid.AABBAt(x, y, z))
				if overlaps {
					sawHit = true
					if meta[i].Count != 1 {
						t.Fatalf("cluster (%d,%d,%d): count = %d, want 1", x, y, z, meta[i].Count)
					}
					if indices[meta[i].Offset] != 0 {
						t.Fatalf("cluster (%d,%d,%d): index = %d, want 0", x, y, z, indices[meta[i].Offset])
					}
				} else {
					sawMiss = true
					if meta[i].Count != 0 {
						t.Fatalf("cluster (%d,%d,%d): count = %d, want 0 outside light range", x, y, z, meta[i].Count)
					}
				}
			}
		}
	}
	if !sawHit || !sawMiss {
		t.Fatalf("test grid should produce both covered and empty clusters (hit=%v miss=%v)", sawHit, sawMiss)
	}
}

func TestBuildCPUTotalIndicesMatchOffsets(t *testing.T) {
	invProj := mgl32.Perspective(mgl32.DegToRad(60), 16.0/9.0, 0.1, 50).Inv()
	grid, err := cluster.Build(4, 3, 6, invProj, 0.1, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := lightstore.New()
	store.Add(lightstore.Light{Position: mgl32.Vec3{0, 0, -2}, Range: 5, KindValue: lightstore.Point, Enabled: true, Color: mgl32.Vec3{1, 0, 0}, Intensity: 1, InnerConeCos: 1, OuterConeCos: 1})
	store.Add(lightstore.Light{KindValue: lightstore.Directional, Enabled: true, Color: mgl32.Vec3{0, 1, 0}, Intensity: 1, InnerConeCos: 1, OuterConeCos: 1})

	identity := func(v mgl32.Vec3) mgl32.Vec3 { return v }
	meta, indices, stats := BuildCPU(grid, store, identity)

	var total uint32
	for _, m := range meta {
		if m.Count > 0 && m.Offset != total {
			t.Fatalf("offsets must partition the index buffer contiguously: offset %d, want %d", m.Offset, total)
		}
		total += m.Count
	}
	if total != uint32(len(indices)) {
		t.Fatalf("sum of counts = %d, index buffer holds %d", total, len(indices))
	}
	if total > MaxTotalLightIndices {
		t.Fatalf("total assignments %d exceed the shared buffer cap", total)
	}
	if stats.TotalAssignments != total {
		t.Fatalf("stats.TotalAssignments = %d, want %d", stats.TotalAssignments, total)
	}
}

func TestBuildCPUGlobalIndexCap(t *testing.T) {
	// 16x16x17 clusters x 256 directional lights would need 1,114,112
	// slots, past the shared buffer cap; clusters that cannot reserve
	// room must record an empty list, exactly like the GPU kernel.
	invProj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100).Inv()
	grid, err := cluster.Build(16, 16, 17, invProj, 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := lightstore.New()
	for i := 0; i < MaxLightsPerCluster; i++ {
		store.Add(lightstore.Light{KindValue: lightstore.Directional, Enabled: true, Color: mgl32.Vec3{1, 1, 1}, Intensity: 1, InnerConeCos: 1, OuterConeCos: 1})
	}

	identity := func(v mgl32.Vec3) mgl32.Vec3 { return v }
	meta, indices, stats := BuildCPU(grid, store, identity)

	if uint32(len(indices)) > MaxTotalLightIndices {
		t.Fatalf("index buffer grew to %d, cap is %d", len(indices), MaxTotalLightIndices)
	}
	var total uint32
	clamped := false
	for _, m := range meta {
		total += m.Count
		if m.Count == 0 {
			clamped = true
			if m.Offset != 0 {
				t.Fatalf("clamped cluster must record offset 0, got %d", m.Offset)
			}
		}
	}
	if total > MaxTotalLightIndices {
		t.Fatalf("sum of counts %d exceeds the shared buffer cap", total)
	}
	if !clamped {
		t.Fatal("expected at least one cluster clamped by the global cap")
	}
	if stats.TotalAssignments != total {
		t.Fatalf("stats.TotalAssignments = %d, want %d", stats.TotalAssignments, total)
	}
}
