// Package reservoir implements the per-pixel reservoir record and its
// ping-pong buffer store (component F), plus the reservoir-combination
// rule shared by ReSTIR's temporal and spatial reuse passes.
package reservoir

import "github.com/novaengine/rtgi/kernel"

// Empty is the sentinel light index meaning "no sample selected".
const Empty = -1

// Reservoir is the per-pixel RIS state.
type Reservoir struct {
	LightIndex int32
	WeightSum  float32
	W          float32
	M          uint32
}

// NewEmpty returns the zero/uninitialized reservoir state.
func NewEmpty() Reservoir {
	return Reservoir{LightIndex: Empty}
}

// Update performs one weighted-reservoir-sampling step: candidate y is
// accepted with probability weight/ (new weightSum), per the standard
// streaming RIS update rule. rnd must be a fresh uniform [0,1) value per
// call.
func (r *Reservoir) Update(lightIndex int32, weight float32, rnd float32) {
	r.WeightSum += weight
	r.M++
	if weight <= 0 {
		return
	}
	if rnd*r.WeightSum < weight {
		r.LightIndex = lightIndex
	}
}

// FinalizeWeight sets W from the accumulated weightSum, sample count, and
// the target pdf evaluated at the selected sample, per
// W = (weightSum / M) / pHat. If pHat is zero the reservoir is left with
// W = 0 (contributes nothing, avoids a NaN downstream).
func (r *Reservoir) FinalizeWeight(pHat float32) {
	if r.M == 0 || pHat <= 0 {
		r.W = 0
		return
	}
	r.W = (r.WeightSum / float32(r.M)) / pHat
}

// Combine merges src into dst using the reservoir-combination rule:
// dst's weightSum accumulates src's (srcWeight = src.W * src.M * pHatAtDst),
// M accumulates, and dst.LightIndex is replaced with src's selection with
// probability proportional to the merged weight. rnd must be fresh per call.
func Combine(dst *Reservoir, src Reservoir, pHatOfSrcSampleAtDst float32, rnd float32) {
	if src.M == 0 || src.W <= 0 {
		return
	}
	weight := pHatOfSrcSampleAtDst * src.W * float32(src.M)
	dst.WeightSum += weight
	dst.M += src.M
	if weight > 0 && rnd*dst.WeightSum < weight {
		dst.LightIndex = src.LightIndex
	}
}

// ClampM caps M at maxM, bounding bias and reaction latency for temporal
// reuse.
func (r *Reservoir) ClampM(maxM uint32) {
	if r.M > maxM {
		r.M = maxM
	}
}

// Reset returns the reservoir to its uninitialized state, used on
// disocclusion or an explicit temporal reset.
func (r *Reservoir) Reset() {
	*r = NewEmpty()
}

// RecordBytes is the packed GPU size of one reservoir record; the
// orchestrator sizes its reservoir storage buffers with it.
const RecordBytes = 16

// Buffer is a flat per-pixel array of reservoirs for one viewport.
type Buffer struct {
	Width, Height uint32
	Pixels        []Reservoir
}

// NewBuffer allocates a width*height reservoir buffer, all slots empty.
func NewBuffer(width, height uint32) *Buffer {
	b := &Buffer{Width: width, Height: height, Pixels: make([]Reservoir, width*height)}
	for i := range b.Pixels {
		b.Pixels[i] = NewEmpty()
	}
	return b
}

// At returns a pointer to the reservoir at (x, y).
func (b *Buffer) At(x, y uint32) *Reservoir {
	return &b.Pixels[y*b.Width+x]
}

// Store is the two-buffer (previous/current) ping-pong reservoir state the
// component contract requires.
type Store struct {
	pp *kernel.PingPong[*Buffer]
}

// NewStore allocates both ping-pong reservoir buffers for the given
// viewport dimensions.
func NewStore(width, height uint32) *Store {
	return &Store{pp: kernel.NewPingPong(NewBuffer(width, height), NewBuffer(width, height))}
}

// Current is the buffer this frame reads/writes as "current".
func (s *Store) Current() *Buffer { return s.pp.Current() }

// Previous is the buffer holding last frame's finalized reservoirs.
func (s *Store) Previous() *Buffer { return s.pp.Write() }

// Flip advances the ping-pong selection at the end of a frame.
func (s *Store) Flip() { s.pp.Flip() }

// ResetAll clears both buffers to empty, used on a full temporal reset.
func (s *Store) ResetAll() {
	for _, buf := range [2]*Buffer{s.pp.Current(), s.pp.Write()} {
		for i := range buf.Pixels {
			buf.Pixels[i] = NewEmpty()
		}
	}
}
