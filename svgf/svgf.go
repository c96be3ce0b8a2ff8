// Package svgf implements the variance-guided denoising stage: temporal
// accumulation with per-pixel history, moment-based variance estimation,
// the edge-stopping à-trous wavelet filter, and final albedo modulation.
package svgf

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Settings are the denoiser tunables, applied as plain data.
type Settings struct {
	TemporalAccumulation   bool
	TemporalAlpha          float32
	TemporalMaxM           uint32
	TemporalDepthThreshold float32
	TemporalNormalThresh   float32
	VarianceKernelSize     uint32
	VarianceBoost          float32
	WaveletIterations      uint32
	PhiColor               float32
	PhiNormal              float32
	PhiDepth               float32
	SigmaLuminance         float32
	UseVarianceGuidance    bool
	AdaptiveKernel         bool
}

// DefaultSettings targets 120 FPS at 1080p.
func DefaultSettings() Settings {
	return Settings{
		TemporalAccumulation:   true,
		TemporalAlpha:          0.1,
		TemporalMaxM:           32,
		TemporalDepthThreshold: 0.05,
		TemporalNormalThresh:   0.95,
		VarianceKernelSize:     3,
		VarianceBoost:          1.0,
		WaveletIterations:      5,
		PhiColor:               10.0,
		PhiNormal:              128.0,
		PhiDepth:               1.0,
		SigmaLuminance:         4.0,
		UseVarianceGuidance:    true,
		AdaptiveKernel:         true,
	}
}

// Stats accumulates per-sub-stage timing plus the disocclusion rate of the
// last frame.
type Stats struct {
	TemporalAccumulationMs float32
	VarianceEstimationMs   float32
	WaveletFilterMs        float32
	FinalModulationMs      float32
	TotalMs                float32
	AvgAccumulatedFrames   float32
	DisocclusionRate       float32
}

const eps = 1e-4

// Luminance returns the Rec.709 luma of a linear color.
func Luminance(c mgl32.Vec3) float32 {
	return 0.2126*c.X() + 0.7152*c.Y() + 0.0722*c.Z()
}

// BlendAlpha computes the temporal blend factor for a pixel with the given
// accumulated history length: alpha = max(1/(history+1), floor).
func BlendAlpha(historyLength uint32, floor float32) float32 {
	a := 1.0 / float32(historyLength+1)
	if a < floor {
		a = floor
	}
	return a
}

// Moments is the per-pixel first and second luminance moment pair carried
// across frames for temporal variance estimation.
type Moments struct {
	Mean       float32
	MeanSquare float32
}

// Accumulate blends a new sample's luminance into the moment history with
// the given alpha.
func (m Moments) Accumulate(luminance, alpha float32) Moments {
	return Moments{
		Mean:       (1-alpha)*m.Mean + alpha*luminance,
		MeanSquare: (1-alpha)*m.MeanSquare + alpha*luminance*luminance,
	}
}

// Variance returns Var = E[l^2] - E[l]^2, clamped at zero against
// floating-point cancellation.
func (m Moments) Variance() float32 {
	v := m.MeanSquare - m.Mean*m.Mean
	if v < 0 {
		return 0
	}
	return v
}

// TemporalBlend computes the accumulated color for one pixel:
// c' = (1-alpha)*prev + alpha*new.
func TemporalBlend(cPrev, cNew mgl32.Vec3, alpha float32) mgl32.Vec3 {
	return cPrev.Mul(1 - alpha).Add(cNew.Mul(alpha))
}

// MinHistoryForTemporalVariance is the accumulation length below which the
// moment-based variance estimate is too noisy and the spatial fallback is
// used instead.
const MinHistoryForTemporalVariance = 4

// SpatialVariance estimates variance from a luminance neighborhood when the
// temporal history is too short, boosted to force wider filtering while the
// history warms up.
func SpatialVariance(luminances []float32, boost float32) float32 {
	if len(luminances) == 0 {
		return 0
	}
	var sum, sumSq float32
	for _, l := range luminances {
		sum += l
		sumSq += l * l
	}
	n := float32(len(luminances))
	mean := sum / n
	v := sumSq/n - mean*mean
	if v < 0 {
		v = 0
	}
	return v * boost
}

// kernelB3 is the 1D B3-spline coefficient row of the à-trous filter.
var kernelB3 = [5]float32{1.0 / 16.0, 1.0 / 4.0, 3.0 / 8.0, 1.0 / 4.0, 1.0 / 16.0}

// KernelWeight returns the separable B3-spline kernel coefficient for tap
// (i, j), with i, j in [-2, 2].
func KernelWeight(i, j int) float32 {
	return kernelB3[i+2] * kernelB3[j+2]
}

// Stride returns the à-trous tap spacing for the given filter iteration.
func Stride(iteration uint32) int32 {
	return int32(1) << iteration
}

// EdgeSample is the per-tap data the edge-stopping functions inspect.
type EdgeSample struct {
	Luminance float32
	Normal    mgl32.Vec3
	Depth     float32
}

// LuminanceWeight decays across luminance discontinuities, scaled by the
// center pixel's variance so noisy regions filter wider.
func LuminanceWeight(center, tap, sigmaL, centerVariance float32) float32 {
	d := center - tap
	if d < 0 {
		d = -d
	}
	denom := sigmaL*sqrtf(centerVariance) + eps
	return expf(-d / denom)
}

// NormalWeight is max(0, n_p . n_q)^phiN.
func NormalWeight(np, nq mgl32.Vec3, phiN float32) float32 {
	d := np.Dot(nq)
	if d <= 0 {
		return 0
	}
	return powf(d, phiN)
}

// DepthWeight decays across depth discontinuities, normalized by the depth
// gradient along the tap offset so slanted surfaces are not over-penalized.
func DepthWeight(zp, zq, gradAlongOffset, phiD float32) float32 {
	d := zp - zq
	if d < 0 {
		d = -d
	}
	g := gradAlongOffset
	if g < 0 {
		g = -g
	}
	return expf(-d / (phiD*g + eps))
}

// TapWeight combines the B3 kernel coefficient with the three edge-stopping
// functions for one à-trous tap.
func TapWeight(kernel float32, center, tap EdgeSample, centerVariance, gradAlongOffset float32, s Settings) float32 {
	w := kernel
	w *= LuminanceWeight(center.Luminance, tap.Luminance, s.SigmaLuminance, centerVariance)
	w *= NormalWeight(center.Normal, tap.Normal, s.PhiNormal)
	w *= DepthWeight(center.Depth, tap.Depth, gradAlongOffset, s.PhiDepth)
	return w
}

// CenterTapWeight is the weight of the filter's own pixel: the edge-stopping
// functions are identically 1 there, so the weight sum of any pixel's taps is
// at least the B3 center coefficient and the normalization never divides by
// zero.
func CenterTapWeight() float32 {
	return KernelWeight(0, 0)
}

// History is the per-pixel accumulation state the temporal pass maintains:
// accumulated frame counts and luminance moments.
type History struct {
	Width, Height uint32
	Lengths       []uint32
	Moments       []Moments
}

// NewHistory allocates a zeroed history for the given viewport.
func NewHistory(width, height uint32) *History {
	return &History{
		Width:   width,
		Height:  height,
		Lengths: make([]uint32, width*height),
		Moments: make([]Moments, width*height),
	}
}

// Advance records one accepted temporal sample at pixel index i, clamping
// the history length.
func (h *History) Advance(i int, maxM uint32) {
	h.Lengths[i]++
	if h.Lengths[i] > maxM {
		h.Lengths[i] = maxM
	}
}

// Disocclude resets pixel i to a history length of 1; the variance estimate
// for it falls back to the spatial path until the history regrows.
func (h *History) Disocclude(i int) {
	h.Lengths[i] = 1
	h.Moments[i] = Moments{}
}

// Reset clears all history. Calling it twice in a row yields the same state
// as calling it once.
func (h *History) Reset() {
	for i := range h.Lengths {
		h.Lengths[i] = 0
		h.Moments[i] = Moments{}
	}
}

// Modulate reapplies the albedo that was factored out before denoising.
func Modulate(filteredIllumination, albedo mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		filteredIllumination.X() * albedo.X(),
		filteredIllumination.Y() * albedo.Y(),
		filteredIllumination.Z() * albedo.Z(),
	}
}

// Demodulate factors albedo out of a shaded color so high-frequency albedo
// detail is not blurred by the filter. Channels with near-zero albedo pass
// through unchanged.
func Demodulate(color, albedo mgl32.Vec3) mgl32.Vec3 {
	out := color
	for i := 0; i < 3; i++ {
		if albedo[i] > eps {
			out[i] = color[i] / albedo[i]
		}
	}
	return out
}

func sqrtf(v float32) float32 {
	if v <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(v)))
}

func expf(v float32) float32 {
	return float32(math.Exp(float64(v)))
}

func powf(b, e float32) float32 {
	return float32(math.Pow(float64(b), float64(e)))
}
