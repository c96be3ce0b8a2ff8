package pipeline

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaengine/rtgi/restir"
	"github.com/novaengine/rtgi/rtgicore"
	"github.com/novaengine/rtgi/svgf"
)

func TestApplyPresetMedium(t *testing.T) {
	cfg := DefaultConfig()
	ApplyPreset(&cfg, Medium)
	assert.Equal(t, uint32(32), cfg.Restir.InitialCandidates)
	assert.Equal(t, uint32(3), cfg.Restir.SpatialIterations)
	assert.Equal(t, uint32(5), cfg.Restir.SpatialSamples)
	assert.Equal(t, uint32(20), cfg.Restir.TemporalMaxM)
	assert.Equal(t, uint32(5), cfg.Svgf.WaveletIterations)
	assert.Equal(t, uint32(3), cfg.Svgf.VarianceKernelSize)
	assert.Equal(t, uint32(32), cfg.Svgf.TemporalMaxM)
}

func TestPresetCostMonotonicity(t *testing.T) {
	// Every preset-driven knob must be non-decreasing from VeryLow to
	// Ultra, so frame cost orders the same way.
	order := []QualityPreset{VeryLow, Low, Medium, High, Ultra}
	var prev presetValues
	for i, preset := range order {
		v := presetTable[preset]
		if i > 0 {
			assert.GreaterOrEqual(t, v.initialCandidates, prev.initialCandidates, "%s candidates", preset)
			assert.GreaterOrEqual(t, v.spatialIterations, prev.spatialIterations, "%s spatial iterations", preset)
			assert.GreaterOrEqual(t, v.spatialSamples, prev.spatialSamples, "%s spatial samples", preset)
			assert.GreaterOrEqual(t, v.temporalMaxM, prev.temporalMaxM, "%s temporal max M", preset)
			assert.GreaterOrEqual(t, v.waveletIterations, prev.waveletIterations, "%s wavelet iterations", preset)
			assert.GreaterOrEqual(t, v.varianceKernelSize, prev.varianceKernelSize, "%s variance kernel size", preset)
			assert.GreaterOrEqual(t, v.svgfTemporalMaxM, prev.svgfTemporalMaxM, "%s svgf max M", preset)
		}
		prev = v
	}
}

func TestPresetTargetFPSOrdering(t *testing.T) {
	assert.Greater(t, VeryLow.TargetFPS(), Low.TargetFPS())
	assert.Greater(t, Low.TargetFPS(), Medium.TargetFPS())
	assert.Greater(t, Medium.TargetFPS(), High.TargetFPS())
	assert.Greater(t, High.TargetFPS(), Ultra.TargetFPS())
}

func TestApplyPresetLeavesOtherSettingsAlone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Restir.SpatialRadius = 42
	cfg.Svgf.PhiColor = 7
	ApplyPreset(&cfg, Ultra)
	assert.Equal(t, float32(42), cfg.Restir.SpatialRadius)
	assert.Equal(t, float32(7), cfg.Svgf.PhiColor)
}

func TestEffectiveSPP(t *testing.T) {
	spp, overflowed := EffectiveSPP(32, 20, 5, 3)
	assert.Equal(t, uint32(32*20*5*3), spp)
	assert.False(t, overflowed)
}

func TestEffectiveSPPSaturates(t *testing.T) {
	spp, overflowed := EffectiveSPP(math.MaxUint32, math.MaxUint32, 2, 2)
	assert.Equal(t, uint32(math.MaxUint32), spp)
	assert.True(t, overflowed)
}

func TestEffectiveSPPWarnsNearSaturation(t *testing.T) {
	// 2^31 exactly: representable in u32 but flagged.
	_, overflowed := EffectiveSPP(1<<16, 1<<15, 1, 1)
	assert.True(t, overflowed)
}

func TestEffectiveSPPZeroFactor(t *testing.T) {
	spp, overflowed := EffectiveSPP(32, 20, 0, 3)
	assert.Equal(t, uint32(0), spp)
	assert.False(t, overflowed)
}

func TestTimerRingDefersReadback(t *testing.T) {
	var ring timerRing

	// Frames 0 and 1: nothing old enough to resolve yet.
	ring.record(0, restir.Stats{TotalMs: 1}, svgf.Stats{TotalMs: 10})
	_, ok := ring.resolve(0)
	assert.False(t, ok)
	ring.record(1, restir.Stats{TotalMs: 2}, svgf.Stats{TotalMs: 20})
	_, ok = ring.resolve(1)
	assert.False(t, ok)

	// Frame 2 resolves frame 0's sample, not its own.
	ring.record(2, restir.Stats{TotalMs: 3}, svgf.Stats{TotalMs: 30})
	timing, ok := ring.resolve(2)
	require.True(t, ok)
	assert.Equal(t, uint64(0), timing.frame)
	assert.Equal(t, float32(1), timing.restir.TotalMs)
	assert.Equal(t, float32(10), timing.svgf.TotalMs)

	ring.record(3, restir.Stats{TotalMs: 4}, svgf.Stats{TotalMs: 40})
	timing, ok = ring.resolve(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), timing.frame)
}

func TestTimerRingResetInvalidates(t *testing.T) {
	var ring timerRing
	ring.record(0, restir.Stats{TotalMs: 1}, svgf.Stats{})
	ring.record(1, restir.Stats{TotalMs: 2}, svgf.Stats{})
	ring.record(2, restir.Stats{TotalMs: 3}, svgf.Stats{})
	ring.reset()
	_, ok := ring.resolve(2)
	assert.False(t, ok)
}

func TestFpsWindowAverages(t *testing.T) {
	var w fpsWindow
	assert.Equal(t, float32(0), w.avg())
	w.add(100)
	w.add(200)
	assert.Equal(t, float32(150), w.avg())
}

func TestFpsWindowRollsOver(t *testing.T) {
	var w fpsWindow
	for i := 0; i < 70; i++ {
		w.add(60)
	}
	w.add(120)
	// Window holds exactly the most recent 60 samples.
	assert.Equal(t, 60, w.count)
	assert.InDelta(t, float64(60*59+120)/60.0, float64(w.avg()), 0.01)
}

func TestBudgetClassification(t *testing.T) {
	tests := []struct {
		ms   float32
		want string
	}{
		{5.0, "exceeds 120 FPS target"},
		{10.0, "meets 90 FPS target"},
		{15.0, "meets 60 FPS target"},
		{30.0, "below 60 FPS"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, budget(tt.ms), "%.1f ms", tt.ms)
	}
}

func TestPerformanceReportContents(t *testing.T) {
	stats := Stats{TotalMs: 6.5, CurrentFPS: 153.8, AvgFPS: 150, EffectiveSPP: 9600}
	restirStats := restir.Stats{InitialSamplingMs: 1, TemporalReuseMs: 0.5, SpatialReuseMs: 1.5, FinalShadingMs: 1, TotalMs: 4}
	svgfStats := svgf.Stats{TemporalAccumulationMs: 0.5, VarianceEstimationMs: 0.5, WaveletFilterMs: 1, FinalModulationMs: 0.5, TotalMs: 2.5}

	report := formatPerformanceReport(stats, restirStats, svgfStats)
	assert.Contains(t, report, "effective spp: 9600")
	assert.Contains(t, report, "initial sampling: 1.00 ms")
	assert.Contains(t, report, "wavelet filter:   1.00 ms")
	assert.Contains(t, report, "exceeds 120 FPS target")
	assert.NotContains(t, report, "warning")
}

func TestPerformanceReportWarnsOnSaturation(t *testing.T) {
	report := formatPerformanceReport(Stats{SPPOverflowed: true}, restir.Stats{}, svgf.Stats{})
	assert.True(t, strings.Contains(report, "effective spp saturated"))
}

func TestValidateGridDims(t *testing.T) {
	err := validateGridDims([3]uint32{0, 9, 24})
	require.NotNil(t, err)
	assert.Equal(t, rtgicore.InvalidGrid, err.Kind)

	err = validateGridDims([3]uint32{4096, 4096, 4096})
	require.NotNil(t, err)
	assert.Equal(t, rtgicore.InvalidGrid, err.Kind)

	assert.Nil(t, validateGridDims([3]uint32{16, 9, 24}))
}

func TestGBuffersValidateRejectsNil(t *testing.T) {
	err := GBuffers{}.Validate(1920, 1080)
	require.NotNil(t, err)
	assert.Equal(t, rtgicore.InvalidFormat, err.Kind)
}

func TestRenderBeforeInitFails(t *testing.T) {
	p := New(nil, nil)
	err := p.Render(rtgicore.Camera{}, nil, GBuffers{}, nil)
	require.NotNil(t, err)
	assert.Equal(t, rtgicore.NotInitialized, err.Kind)
}

func TestResizeBeforeInitFails(t *testing.T) {
	p := New(nil, nil)
	err := p.Resize(rtgicore.Viewport{Width: 64, Height: 64, GridDim: [3]uint32{2, 2, 1}, Near: 0.1, Far: 10})
	require.NotNil(t, err)
	assert.Equal(t, rtgicore.NotInitialized, err.Kind)
}

func TestDebugParamsMapping(t *testing.T) {
	p := New(nil, nil)
	cam := rtgicore.Camera{Far: 100}

	p.cfg.Debug = DebugReservoirM
	mode, scale := p.debugParams(cam)
	assert.Equal(t, uint32(1), mode)
	assert.Equal(t, float32(p.cfg.Restir.TemporalMaxM), scale)

	p.cfg.Debug = DebugDepth
	mode, scale = p.debugParams(cam)
	assert.Equal(t, uint32(5), mode)
	assert.Equal(t, float32(100), scale)

	p.cfg.Debug = DebugNone
	mode, _ = p.debugParams(cam)
	assert.Equal(t, uint32(0), mode)
}

func TestKernelSpecsCoverCatalogNames(t *testing.T) {
	want := []string{
		"clustered_light_culling",
		"restir_initial", "restir_temporal", "restir_spatial", "restir_final",
		"svgf_temporal", "svgf_variance", "svgf_wavelet", "svgf_modulate",
	}
	names := make(map[string]bool, kernelCount)
	for _, spec := range kernelSpecs {
		names[spec.name] = true
	}
	for _, n := range want {
		assert.True(t, names[n], "kernel %s missing from specs", n)
	}
}
