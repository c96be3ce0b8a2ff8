// Package lightstore is the pipeline's dense, GPU-uploadable light array
// with free-slot recycling (component D).
package lightstore

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/novaengine/rtgi/rtgicore"
)

// Kind identifies the light type packed into a Light record's Params.
type Kind uint32

const (
	Point Kind = iota
	Spot
	Directional
)

// RecordBytes is the size in bytes of one packed Light record: four
// 4-component vectors.
const RecordBytes = 64

// Light is the host-side light record. Position is ignored for
// directional lights, which conservatively touch every cluster.
type Light struct {
	Position     mgl32.Vec3
	Range        float32
	Direction    mgl32.Vec3
	InnerConeCos float32
	Color        mgl32.Vec3
	Intensity    float32
	OuterConeCos float32
	KindValue    Kind
	Enabled      bool
}

// Validate checks the record invariants.
func (l Light) Validate() *rtgicore.Error {
	if l.KindValue != Directional && l.Range <= 0 {
		return rtgicore.New(rtgicore.ConfigurationError, "light range must be > 0 for point/spot lights, got %f", l.Range)
	}
	if l.InnerConeCos < l.OuterConeCos {
		return rtgicore.New(rtgicore.ConfigurationError, "inner_cone_cos (%f) must be >= outer_cone_cos (%f)", l.InnerConeCos, l.OuterConeCos)
	}
	return nil
}

func (l Light) encode(out []byte) {
	enabled := float32(0)
	if l.Enabled {
		enabled = 1
	}
	putVec4(out[0:16], l.Position.X(), l.Position.Y(), l.Position.Z(), l.Range)
	putVec4(out[16:32], l.Direction.X(), l.Direction.Y(), l.Direction.Z(), l.InnerConeCos)
	putVec4(out[32:48], l.Color.X(), l.Color.Y(), l.Color.Z(), l.Intensity)
	putVec4(out[48:64], l.OuterConeCos, float32(l.KindValue), enabled, 0)
}

func putVec4(dst []byte, a, b, c, d float32) {
	binary.LittleEndian.PutUint32(dst[0:4], math.Float32bits(a))
	binary.LittleEndian.PutUint32(dst[4:8], math.Float32bits(b))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(c))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(d))
}

// Store is a dense array of lights with a free-list of released indices,
// giving O(1) Add/Remove. The host mutates it only between frames; it is
// uploaded to a single GPU storage buffer per frame (or on dirty-flag).
type Store struct {
	records []Light
	alive   []bool
	free    []uint32
	dirty   bool
}

func New() *Store {
	return &Store{}
}

// Add inserts a light, returning its assigned index. Indices are reused
// from Remove before the array grows.
func (s *Store) Add(l Light) (uint32, *rtgicore.Error) {
	if rerr := l.Validate(); rerr != nil {
		return 0, rerr
	}
	s.dirty = true
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.records[idx] = l
		s.alive[idx] = true
		return idx, nil
	}
	idx := uint32(len(s.records))
	s.records = append(s.records, l)
	s.alive = append(s.alive, true)
	return idx, nil
}

// Update replaces the light at idx; idx must refer to a currently live slot.
func (s *Store) Update(idx uint32, l Light) *rtgicore.Error {
	if int(idx) >= len(s.records) || !s.alive[idx] {
		return rtgicore.New(rtgicore.IndexOutOfRange, "light index %d is not a live slot", idx)
	}
	if rerr := l.Validate(); rerr != nil {
		return rerr
	}
	s.records[idx] = l
	s.dirty = true
	return nil
}

// Remove releases idx back to the free-list. Removing an already-dead or
// out-of-range index is reported, not silently ignored.
func (s *Store) Remove(idx uint32) *rtgicore.Error {
	if int(idx) >= len(s.records) || !s.alive[idx] {
		return rtgicore.New(rtgicore.IndexOutOfRange, "light index %d is not a live slot", idx)
	}
	s.alive[idx] = false
	s.records[idx] = Light{}
	s.free = append(s.free, idx)
	s.dirty = true
	return nil
}

// Len returns the capacity of the backing array, including dead slots held
// by the free-list.
func (s *Store) Len() int { return len(s.records) }

// Dirty reports whether the store has changed since the last call to
// MarkClean.
func (s *Store) Dirty() bool { return s.dirty }

// MarkClean clears the dirty flag after a successful upload.
func (s *Store) MarkClean() { s.dirty = false }

// Snapshot returns a copy of the backing array, with dead slots reported as
// their zero Light value (Enabled == false), for CPU-side consumers such as
// culling.BuildCPU.
func (s *Store) Snapshot() []Light {
	out := make([]Light, len(s.records))
	copy(out, s.records)
	return out
}

// Encode packs the entire array (live and dead slots alike — dead slots
// are zeroed, so their enabled flag is 0 and the culling kernel skips
// them) into a single byte buffer ready for a storage-buffer upload.
func (s *Store) Encode() []byte {
	buf := make([]byte, len(s.records)*RecordBytes)
	for i, l := range s.records {
		if s.alive[i] {
			l.encode(buf[i*RecordBytes : (i+1)*RecordBytes])
		}
	}
	return buf
}
