package rtgicore

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func testCamera() Camera {
	return Camera{
		View:       mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}),
		Projection: mgl32.Perspective(mgl32.DegToRad(90), 16.0/9.0, 0.1, 100),
		Near:       0.1,
		Far:        100,
	}
}

func TestFrustumContainsPointAhead(t *testing.T) {
	planes := testCamera().Frustum()
	inside := mgl32.Vec3{0, 0, -10}
	if !AABBInFrustum(inside, inside, planes) {
		t.Fatal("point straight ahead of the camera must be inside the frustum")
	}
}

func TestFrustumRejectsBoxBehindCamera(t *testing.T) {
	planes := testCamera().Frustum()
	min := mgl32.Vec3{-1, -1, 5}
	max := mgl32.Vec3{1, 1, 10}
	if AABBInFrustum(min, max, planes) {
		t.Fatal("box behind the camera must be outside the frustum")
	}
}

func TestFrustumAcceptsStraddlingBox(t *testing.T) {
	planes := testCamera().Frustum()
	min := mgl32.Vec3{-200, -1, -50}
	max := mgl32.Vec3{200, 1, -40}
	if !AABBInFrustum(min, max, planes) {
		t.Fatal("box straddling the frustum sides must not be culled")
	}
}

func TestViewportEqual(t *testing.T) {
	a := Viewport{Width: 1920, Height: 1080, GridDim: [3]uint32{16, 9, 24}, Near: 0.1, Far: 100}
	b := a
	if !a.Equal(b) {
		t.Fatal("identical viewports must compare equal")
	}
	b.Height = 720
	if a.Equal(b) {
		t.Fatal("viewports with different heights must not compare equal")
	}
	b = a
	b.GridDim[2] = 32
	if a.Equal(b) {
		t.Fatal("viewports with different grids must not compare equal")
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(InvalidGrid, "grid too large")
	if !errors.Is(err, Sentinel(InvalidGrid)) {
		t.Fatal("errors.Is must match on kind")
	}
	if errors.Is(err, Sentinel(NotInitialized)) {
		t.Fatal("errors.Is must not match a different kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("device lost")
	err := Wrap(ResourceExhausted, cause, "allocating buffer")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
}

func TestErrorStringIncludesKind(t *testing.T) {
	err := New(KernelLoadFailed, "restir_initial")
	if got := err.Error(); got != "KernelLoadFailed: restir_initial" {
		t.Fatalf("Error() = %q", got)
	}
}
