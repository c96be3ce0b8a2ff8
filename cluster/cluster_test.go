package cluster

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testInvProj() mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 16.0/9.0, 0.1, 100.0)
	return proj.Inv()
}

func TestBuildRejectsZeroDimension(t *testing.T) {
	_, err := Build(0, 9, 24, testInvProj(), 0.1, 100)
	if err == nil {
		t.Fatal("expected InvalidGrid for zero dimension")
	}
}

func TestBuildRejectsOversizedGrid(t *testing.T) {
	_, err := Build(2000, 2000, 2000, testInvProj(), 0.1, 100)
	if err == nil {
		t.Fatal("expected InvalidGrid for grid exceeding cap")
	}
}

func TestBuildRejectsInvalidDepthRange(t *testing.T) {
	if _, err := Build(16, 9, 24, testInvProj(), 0, 100); err == nil {
		t.Fatal("expected InvalidGrid for near=0")
	}
	if _, err := Build(16, 9, 24, testInvProj(), 100, 1); err == nil {
		t.Fatal("expected InvalidGrid for far<=near")
	}
}

func TestClusterCoverage(t *testing.T) {
	g, err := Build(16, 9, 24, testInvProj(), 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Count() != 16*9*24 {
		t.Fatalf("Count() = %d, want %d", g.Count(), 16*9*24)
	}
	for z := uint32(0); z < 24; z++ {
		aabb := g.AABBAt(0, 0, z)
		if aabb.Max.Z() <= aabb.Min.Z() {
			t.Fatalf("cluster z=%d: expected Max.Z > Min.Z, got min=%v max=%v", z, aabb.Min, aabb.Max)
		}
	}
}

func TestClusterDepthSlicesAreMonotonic(t *testing.T) {
	g, err := Build(4, 4, 8, testInvProj(), 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prevFar := float32(0)
	for z := uint32(0); z < 8; z++ {
		aabb := g.AABBAt(0, 0, z)
		depth := -aabb.Max.Z()
		if depth < prevFar-1e-4 {
			t.Fatalf("slice %d near depth %f regressed from previous far %f", z, depth, prevFar)
		}
		prevFar = -aabb.Min.Z()
	}
}

func TestStillValid(t *testing.T) {
	g, err := Build(16, 9, 24, testInvProj(), 0.1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.StillValid(16, 9, 24, 0.1, 100) {
		t.Fatal("expected grid to still be valid for identical parameters")
	}
	if g.StillValid(8, 9, 24, 0.1, 100) {
		t.Fatal("expected grid to be invalid after gridX changed")
	}
	if g.StillValid(16, 9, 24, 0.1, 200) {
		t.Fatal("expected grid to be invalid after far plane changed")
	}
}
