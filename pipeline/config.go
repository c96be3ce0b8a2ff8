// Package pipeline is the per-frame orchestrator: it owns every GPU
// resource, sequences the culling, resampling, and denoising dispatches,
// applies quality presets, and reports frame statistics.
package pipeline

import (
	"github.com/novaengine/rtgi/restir"
	"github.com/novaengine/rtgi/svgf"
)

// QualityPreset selects coordinated resampling and denoising settings for a
// frame-rate target.
type QualityPreset int

const (
	VeryLow QualityPreset = iota // 240+ FPS
	Low                          // 144+ FPS
	Medium                       // 120 FPS
	High                         // 90 FPS
	Ultra                        // 60 FPS
)

func (p QualityPreset) String() string {
	switch p {
	case VeryLow:
		return "VeryLow"
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Ultra:
		return "Ultra"
	default:
		return "Unknown"
	}
}

// TargetFPS returns the frame rate the preset is tuned for.
func (p QualityPreset) TargetFPS() uint32 {
	switch p {
	case VeryLow:
		return 240
	case Low:
		return 144
	case Medium:
		return 120
	case High:
		return 90
	case Ultra:
		return 60
	default:
		return 120
	}
}

// DebugView routes an intermediate image to the output texture instead of
// the final composite.
type DebugView int

const (
	DebugNone DebugView = iota
	DebugReservoirM
	DebugVariance
	DebugHistoryLength
	DebugNormals
	DebugDepth
	DebugMotion
)

// Config is the pipeline's full configuration surface, applied as plain
// data via SetConfig; there is no global state.
type Config struct {
	RestirEnabled    bool
	SvgfEnabled      bool
	ProfilingEnabled bool
	Debug            DebugView
	Restir           restir.Settings
	Svgf             svgf.Settings
}

// DefaultConfig targets 120 FPS at 1080p (the Medium preset).
func DefaultConfig() Config {
	cfg := Config{
		RestirEnabled:    true,
		SvgfEnabled:      true,
		ProfilingEnabled: true,
		Restir:           restir.DefaultSettings(),
		Svgf:             svgf.DefaultSettings(),
	}
	return cfg
}

// presetValues are the coordinated knobs a preset drives; everything else
// in the settings structs keeps its current value.
type presetValues struct {
	initialCandidates  uint32
	spatialIterations  uint32
	spatialSamples     uint32
	temporalMaxM       uint32
	waveletIterations  uint32
	varianceKernelSize uint32
	svgfTemporalMaxM   uint32
}

var presetTable = map[QualityPreset]presetValues{
	VeryLow: {initialCandidates: 8, spatialIterations: 1, spatialSamples: 3, temporalMaxM: 8, waveletIterations: 3, varianceKernelSize: 3, svgfTemporalMaxM: 16},
	Low:     {initialCandidates: 16, spatialIterations: 2, spatialSamples: 4, temporalMaxM: 16, waveletIterations: 4, varianceKernelSize: 3, svgfTemporalMaxM: 24},
	Medium:  {initialCandidates: 32, spatialIterations: 3, spatialSamples: 5, temporalMaxM: 20, waveletIterations: 5, varianceKernelSize: 3, svgfTemporalMaxM: 32},
	High:    {initialCandidates: 48, spatialIterations: 3, spatialSamples: 8, temporalMaxM: 30, waveletIterations: 5, varianceKernelSize: 3, svgfTemporalMaxM: 48},
	Ultra:   {initialCandidates: 64, spatialIterations: 4, spatialSamples: 10, temporalMaxM: 40, waveletIterations: 5, varianceKernelSize: 5, svgfTemporalMaxM: 64},
}

// ApplyPreset overwrites the preset-driven fields of cfg in place. Presets
// take effect on the next frame; no frames are dropped.
func ApplyPreset(cfg *Config, preset QualityPreset) {
	v, ok := presetTable[preset]
	if !ok {
		v = presetTable[Medium]
	}
	cfg.Restir.InitialCandidates = v.initialCandidates
	cfg.Restir.SpatialIterations = v.spatialIterations
	cfg.Restir.SpatialSamples = v.spatialSamples
	cfg.Restir.TemporalMaxM = v.temporalMaxM
	cfg.Svgf.WaveletIterations = v.waveletIterations
	cfg.Svgf.VarianceKernelSize = v.varianceKernelSize
	cfg.Svgf.TemporalMaxM = v.svgfTemporalMaxM
}
