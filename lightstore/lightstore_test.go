package lightstore

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func samplePoint() Light {
	return Light{
		Position:     mgl32.Vec3{1, 2, 3},
		Range:        10,
		Direction:    mgl32.Vec3{0, -1, 0},
		InnerConeCos: 1,
		Color:        mgl32.Vec3{1, 1, 1},
		Intensity:    5,
		OuterConeCos: 1,
		KindValue:    Point,
		Enabled:      true,
	}
}

func TestAddReturnsSequentialIndices(t *testing.T) {
	s := New()
	i0, err := s.Add(samplePoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	i1, err := s.Add(samplePoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i0 != 0 || i1 != 1 {
		t.Fatalf("got indices %d,%d; want 0,1", i0, i1)
	}
}

func TestRemoveRecyclesSlot(t *testing.T) {
	s := New()
	idx, _ := s.Add(samplePoint())
	if err := s.Remove(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	next, err := s.Add(samplePoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != idx {
		t.Fatalf("expected recycled index %d, got %d", idx, next)
	}
	if s.Len() != 1 {
		t.Fatalf("expected backing array to stay at length 1, got %d", s.Len())
	}
}

func TestUpdateOutOfRangeFails(t *testing.T) {
	s := New()
	if err := s.Update(7, samplePoint()); err == nil {
		t.Fatal("expected IndexOutOfRange for empty store")
	}
}

func TestRemoveTwiceFails(t *testing.T) {
	s := New()
	idx, _ := s.Add(samplePoint())
	if err := s.Remove(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Remove(idx); err == nil {
		t.Fatal("expected IndexOutOfRange removing an already-dead slot")
	}
}

func TestAddRejectsInvalidRange(t *testing.T) {
	l := samplePoint()
	l.Range = 0
	s := New()
	if _, err := s.Add(l); err == nil {
		t.Fatal("expected ConfigurationError for zero range on a point light")
	}
}

func TestAddRejectsBadConeAngles(t *testing.T) {
	l := samplePoint()
	l.KindValue = Spot
	l.InnerConeCos = 0.5
	l.OuterConeCos = 0.9
	s := New()
	if _, err := s.Add(l); err == nil {
		t.Fatal("expected ConfigurationError when inner_cone_cos < outer_cone_cos")
	}
}

func TestEncodeLength(t *testing.T) {
	s := New()
	s.Add(samplePoint())
	s.Add(samplePoint())
	buf := s.Encode()
	if len(buf) != 2*RecordBytes {
		t.Fatalf("Encode length = %d, want %d", len(buf), 2*RecordBytes)
	}
}

func TestDirtyFlag(t *testing.T) {
	s := New()
	if s.Dirty() {
		t.Fatal("new store should not be dirty")
	}
	s.Add(samplePoint())
	if !s.Dirty() {
		t.Fatal("store should be dirty after Add")
	}
	s.MarkClean()
	if s.Dirty() {
		t.Fatal("store should not be dirty after MarkClean")
	}
}

func TestEncodePacksKindAndEnabledAsFloats(t *testing.T) {
	s := New()
	l := samplePoint()
	l.KindValue = Spot
	s.Add(l)
	buf := s.Encode()

	kind := math.Float32frombits(binary.LittleEndian.Uint32(buf[52:56]))
	if kind != 1 {
		t.Fatalf("packed kind = %f, want 1 (spot)", kind)
	}
	enabled := math.Float32frombits(binary.LittleEndian.Uint32(buf[56:60]))
	if enabled != 1 {
		t.Fatalf("packed enabled = %f, want 1", enabled)
	}
	rng := math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16]))
	if rng != 10 {
		t.Fatalf("packed range = %f, want 10", rng)
	}
}
