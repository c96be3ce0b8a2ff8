package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/novaengine/rtgi/restir"
	"github.com/novaengine/rtgi/svgf"
)

// Stats is the per-frame statistics block readable after each Render call.
// Timings come from the deferred timer ring, so they describe the frame
// submitted timerRingSize-1 frames ago.
type Stats struct {
	RestirMs          float32
	SvgfMs            float32
	TotalMs           float32
	EffectiveSPP      uint32
	SPPOverflowed     bool
	CurrentFPS        float32
	AvgFPS            float32
	TemporalReuseRate float32
	DisocclusionRate  float32
	CullOverflows     uint32
}

// timerRingSize is the number of in-flight frames the timer ring spans;
// samples are read back timerRingSize-1 frames after they were recorded so
// the readback never waits on the GPU.
const timerRingSize = 3

// frameTiming is one frame's set of timer samples, indexed into the ring by
// its frame number.
type frameTiming struct {
	frame  uint64
	valid  bool
	restir restir.Stats
	svgf   svgf.Stats
}

// timerRing is a ring of per-frame timer samples indexed by frame number.
// Each frame writes slot frame % N and resolves the slot written N-1 frames
// earlier, never the one just recorded.
type timerRing struct {
	slots [timerRingSize]frameTiming
}

func (r *timerRing) record(frame uint64, restirStats restir.Stats, svgfStats svgf.Stats) {
	r.slots[frame%timerRingSize] = frameTiming{
		frame:  frame,
		valid:  true,
		restir: restirStats,
		svgf:   svgfStats,
	}
}

// resolve returns the sample deferred by timerRingSize-1 frames, if one has
// been recorded for exactly that frame number.
func (r *timerRing) resolve(frame uint64) (frameTiming, bool) {
	if frame < timerRingSize-1 {
		return frameTiming{}, false
	}
	want := frame - (timerRingSize - 1)
	slot := r.slots[want%timerRingSize]
	if !slot.valid || slot.frame != want {
		return frameTiming{}, false
	}
	return slot, true
}

func (r *timerRing) reset() {
	for i := range r.slots {
		r.slots[i] = frameTiming{}
	}
}

// fpsWindow is the rolling 60-frame FPS average.
type fpsWindow struct {
	samples [60]float32
	next    int
	count   int
}

func (w *fpsWindow) add(fps float32) {
	w.samples[w.next] = fps
	w.next = (w.next + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

func (w *fpsWindow) avg() float32 {
	if w.count == 0 {
		return 0
	}
	var sum float32
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	return sum / float32(w.count)
}

func (w *fpsWindow) reset() {
	*w = fpsWindow{}
}

// EffectiveSPP estimates the sample count each pixel's estimator draws on:
// initial_candidates * temporal_max_M * spatial_samples * spatial_iterations.
// The product saturates instead of wrapping, and the overflowed flag is set
// once it reaches 2^31 so hosts can surface a warning.
func EffectiveSPP(initialCandidates, temporalMaxM, spatialSamples, spatialIterations uint32) (spp uint32, overflowed bool) {
	product := uint64(initialCandidates)
	for _, f := range []uint32{temporalMaxM, spatialSamples, spatialIterations} {
		product *= uint64(f)
		if product > math.MaxUint32 {
			return math.MaxUint32, true
		}
	}
	return uint32(product), product >= 1<<31
}

// budget classifies a frame time against the standard frame-rate targets.
func budget(totalMs float32) string {
	switch {
	case totalMs <= 0:
		return "no timing data yet"
	case totalMs <= 1000.0/120.0:
		return "exceeds 120 FPS target"
	case totalMs <= 1000.0/90.0:
		return "meets 90 FPS target"
	case totalMs <= 1000.0/60.0:
		return "meets 60 FPS target"
	default:
		return "below 60 FPS"
	}
}

// formatPerformanceReport renders the per-sub-stage timing breakdown and a
// classification against the 120/90/60 FPS budgets.
func formatPerformanceReport(stats Stats, restirStats restir.Stats, svgfStats svgf.Stats) string {
	var b strings.Builder
	b.WriteString("RTGI Performance Report\n")
	fmt.Fprintf(&b, "  total: %.2f ms  fps: %.1f (avg %.1f)  effective spp: %d\n",
		stats.TotalMs, stats.CurrentFPS, stats.AvgFPS, stats.EffectiveSPP)
	if stats.SPPOverflowed {
		b.WriteString("  warning: effective spp saturated\n")
	}
	b.WriteString("  restir:\n")
	fmt.Fprintf(&b, "    initial sampling: %.2f ms\n", restirStats.InitialSamplingMs)
	fmt.Fprintf(&b, "    temporal reuse:   %.2f ms\n", restirStats.TemporalReuseMs)
	fmt.Fprintf(&b, "    spatial reuse:    %.2f ms\n", restirStats.SpatialReuseMs)
	fmt.Fprintf(&b, "    final shading:    %.2f ms\n", restirStats.FinalShadingMs)
	fmt.Fprintf(&b, "    total:            %.2f ms\n", restirStats.TotalMs)
	b.WriteString("  svgf:\n")
	fmt.Fprintf(&b, "    temporal accum:   %.2f ms\n", svgfStats.TemporalAccumulationMs)
	fmt.Fprintf(&b, "    variance est:     %.2f ms\n", svgfStats.VarianceEstimationMs)
	fmt.Fprintf(&b, "    wavelet filter:   %.2f ms\n", svgfStats.WaveletFilterMs)
	fmt.Fprintf(&b, "    final modulation: %.2f ms\n", svgfStats.FinalModulationMs)
	fmt.Fprintf(&b, "    total:            %.2f ms\n", svgfStats.TotalMs)
	fmt.Fprintf(&b, "  status: %s\n", budget(stats.TotalMs))
	return b.String()
}
