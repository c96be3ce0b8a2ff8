// Package restir implements the ReSTIR GI stage (component G): the four
// ordered sub-passes over a per-pixel reservoir, their settings/statistics,
// and the pure similarity/shading math that drives each pass.
package restir

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/novaengine/rtgi/reservoir"
)

// Settings holds the resampling stage tunables, applied as plain data
// rather than through reflection or a singleton.
type Settings struct {
	InitialCandidates      uint32
	UseRIS                 bool
	TemporalReuse          bool
	TemporalMaxM           uint32
	TemporalDepthThreshold float32
	TemporalNormalThresh   float32
	SpatialIterations      uint32
	SpatialRadius          float32
	SpatialSamples         uint32
	SpatialDiscardHistory  bool
	BiasCorrection         bool
	BiasRayOffset          float32
}

// DefaultSettings targets 120 FPS at 1080p (the Medium quality preset).
func DefaultSettings() Settings {
	return Settings{
		InitialCandidates:      32,
		UseRIS:                 true,
		TemporalReuse:          true,
		TemporalMaxM:           20,
		TemporalDepthThreshold: 0.1,
		TemporalNormalThresh:   0.9,
		SpatialIterations:      3,
		SpatialRadius:          30,
		SpatialSamples:         5,
		BiasCorrection:         true,
		BiasRayOffset:          0.001,
	}
}

// Stats accumulates per-sub-stage timing and sampling statistics.
type Stats struct {
	InitialSamplingMs  float32
	TemporalReuseMs    float32
	SpatialReuseMs     float32
	FinalShadingMs     float32
	TotalMs            float32
	AvgSamplesPerPixel uint32
	TemporalReuseRate  float32
	AvgMValue          float32
	TemporalDriftRate  float32
}

// PixelState is the state-machine position of one pixel's reservoir within
// a frame.
type PixelState int

const (
	Uninitialized PixelState = iota
	HasCandidates
	TemporallyMerged
	SpatiallyMerged
	Shaded
)

// GeometrySample is the minimal per-pixel G-buffer data the similarity
// tests and shading evaluation need.
type GeometrySample struct {
	WorldPos mgl32.Vec3
	Normal   mgl32.Vec3
	Depth    float32
	Albedo   mgl32.Vec3
}

// PassesSimilarity reports whether a reprojected neighbor/history sample is
// similar enough to merge with the current pixel; temporal and spatial
// reuse apply the same test.
func PassesSimilarity(current, other GeometrySample, depthThreshold, normalThreshold float32) bool {
	if current.Depth <= 0 {
		return false
	}
	deltaZ := current.Depth - other.Depth
	if deltaZ < 0 {
		deltaZ = -deltaZ
	}
	if deltaZ/current.Depth >= depthThreshold {
		return false
	}
	if current.Normal.Dot(other.Normal) <= normalThreshold {
		return false
	}
	return true
}

// LightSample is one candidate light's shading-relevant terms, evaluated at
// a given pixel (BRDF/Le/G folded into a single radiance contribution by
// the caller, per the Non-goal that excludes full BRDF evaluation).
type LightSample struct {
	Index     int32
	Radiance  float32 // |BRDF * Le * G| magnitude used as the target pdf proxy
}

// TargetPDF returns p_hat(y) for a candidate: the Non-goals exclude BRDF
// evaluation beyond minimal sample weighting, so this stands in for
// |BRDF * Le * G * V_hat| with V_hat == 1 during initial sampling.
func TargetPDF(sample LightSample) float32 {
	if sample.Radiance < 0 {
		return -sample.Radiance
	}
	return sample.Radiance
}

// GenerateInitialCandidates draws settings.InitialCandidates samples
// uniformly (with replacement) from candidates, updating res via streaming
// RIS.
func GenerateInitialCandidates(res *reservoir.Reservoir, candidates []LightSample, settings Settings, rng *rand.Rand) {
	if len(candidates) == 0 {
		return
	}
	k := int(settings.InitialCandidates)
	pSource := float32(1) / float32(len(candidates))
	for i := 0; i < k; i++ {
		c := candidates[rng.Intn(len(candidates))]
		pHat := TargetPDF(c)
		weight := pHat / pSource
		res.Update(c.Index, weight, rng.Float32())
	}
	// W is normalized by the target pdf of the sample the reservoir kept.
	for _, c := range candidates {
		if c.Index == res.LightIndex {
			res.FinalizeWeight(TargetPDF(c))
			return
		}
	}
	res.FinalizeWeight(0)
}

// TemporalReuse merges prevRes into curRes if the reprojected sample passes
// the similarity test, then clamps M. On failure the current reservoir's
// history is reset; it reports whether a merge occurred.
func TemporalReuse(curRes *reservoir.Reservoir, prevRes reservoir.Reservoir, current, reprojected GeometrySample, settings Settings, pHatOfPrevAtCurrent float32, rng *rand.Rand) bool {
	if !settings.TemporalReuse {
		return false
	}
	if !PassesSimilarity(current, reprojected, settings.TemporalDepthThreshold, settings.TemporalNormalThresh) {
		curRes.Reset()
		return false
	}
	reservoir.Combine(curRes, prevRes, pHatOfPrevAtCurrent, rng.Float32())
	curRes.ClampM(settings.TemporalMaxM)
	return true
}

// SpatialReuse merges one neighbor's reservoir into curRes after a
// similarity test, as performed once per neighbor sample within one
// spatial-reuse iteration.
func SpatialReuse(curRes *reservoir.Reservoir, neighborRes reservoir.Reservoir, current, neighbor GeometrySample, settings Settings, pHatOfNeighborAtCurrent float32, rng *rand.Rand) bool {
	if !PassesSimilarity(current, neighbor, settings.TemporalDepthThreshold, settings.TemporalNormalThresh) {
		return false
	}
	reservoir.Combine(curRes, neighborRes, pHatOfNeighborAtCurrent, rng.Float32())
	return true
}

// StratifiedOffsets returns n pseudo-Poisson offsets within radius pixels,
// deterministic given rng, used to pick spatial-reuse neighbor pixels. One
// angular stratum per sample keeps the neighbors spread around the disc.
func StratifiedOffsets(n uint32, radius float32, rng *rand.Rand) []mgl32.Vec2 {
	offsets := make([]mgl32.Vec2, n)
	for i := uint32(0); i < n; i++ {
		angle := float64(float32(i)+rng.Float32()) / float64(n) * 2 * math.Pi
		r := radius * float32(math.Sqrt(float64(rng.Float32())))
		sin, cos := math.Sincos(angle)
		offsets[i] = mgl32.Vec2{r * float32(cos), r * float32(sin)}
	}
	return offsets
}

// FinalShade evaluates color = f * reservoir.W for the selected sample,
// where f folds BRDF/Le/G/visibility into one scalar-per-channel term
// supplied by the caller (Non-goal excludes full BRDF evaluation).
func FinalShade(res reservoir.Reservoir, f mgl32.Vec3) mgl32.Vec3 {
	if res.LightIndex == reservoir.Empty {
		return mgl32.Vec3{}
	}
	return f.Mul(res.W)
}
