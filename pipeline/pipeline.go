package pipeline

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/novaengine/rtgi/cluster"
	"github.com/novaengine/rtgi/culling"
	"github.com/novaengine/rtgi/gpures"
	"github.com/novaengine/rtgi/kernel"
	"github.com/novaengine/rtgi/lightstore"
	"github.com/novaengine/rtgi/reservoir"
	"github.com/novaengine/rtgi/restir"
	"github.com/novaengine/rtgi/rtgicore"
	"github.com/novaengine/rtgi/shaders"
	"github.com/novaengine/rtgi/svgf"
)

// minLightCapacity is the smallest light-array buffer the pipeline keeps,
// so small scenes don't reallocate on every added light.
const minLightCapacity = 64

const statsWords = 2

// Pipeline owns every GPU resource of the lighting pipeline and sequences
// the per-frame dispatches. Construct one at startup and pass it to each
// frame explicitly; there are no package-level singletons.
type Pipeline struct {
	device *wgpu.Device
	alloc  *gpures.Allocator
	log    rtgicore.Logger

	cfg     Config
	onError func(error)

	initialized bool
	viewport    rtgicore.Viewport
	frameCount  uint64

	kernels  [kernelCount]*kernel.Handle
	uniforms [kernelCount]*gpures.UniformBuffer

	grid        *cluster.Grid
	lastInvProj mgl32.Mat4
	gridValid   bool

	clusterAABBs *gpures.StorageBuffer
	clusterMeta  *gpures.StorageBuffer
	lightIndices *gpures.StorageBuffer
	indexCursor  *gpures.AtomicCounter
	cullStatsBuf *gpures.StorageBuffer

	lightBuf      *gpures.StorageBuffer
	lightCapacity int

	resv           *kernel.PingPong[*gpures.StorageBuffer]
	restirStatsBuf *gpures.StorageBuffer
	restirOut      *gpures.StorageImage2D

	accumColor   *kernel.PingPong[*gpures.StorageImage2D]
	accumMoments *kernel.PingPong[*gpures.StorageImage2D]
	history      *kernel.PingPong[*gpures.StorageImage2D]
	wavelet      *kernel.PingPong[*gpures.StorageImage2D]
	variance     *gpures.StorageImage2D
	svgfStatsBuf *gpures.StorageBuffer

	statsRing [timerRingSize]*gpures.ReadbackBuffer

	timers          timerRing
	fps             fpsWindow
	stats           Stats
	lastRestirStats restir.Stats
	lastSvgfStats   svgf.Stats
}

// New constructs an uninitialized pipeline against a wgpu device. A nil
// logger falls back to the no-op logger.
func New(device *wgpu.Device, log rtgicore.Logger) *Pipeline {
	if log == nil {
		log = rtgicore.NewNopLogger()
	}
	return &Pipeline{
		device: device,
		alloc:  gpures.NewAllocator(device),
		log:    log,
		cfg:    DefaultConfig(),
	}
}

// SetErrorCallback registers the per-frame error sink. Frame-level failures
// (format or viewport mismatches) skip the frame, zero the output, and are
// reported here rather than aborting the host.
func (p *Pipeline) SetErrorCallback(fn func(error)) { p.onError = fn }

// SetConfig replaces the configuration; it takes effect on the next frame.
func (p *Pipeline) SetConfig(cfg Config) { p.cfg = cfg }

// Configuration returns the active configuration.
func (p *Pipeline) Configuration() Config { return p.cfg }

// ApplyQualityPreset overwrites the preset-driven settings immediately.
func (p *Pipeline) ApplyQualityPreset(preset QualityPreset) {
	ApplyPreset(&p.cfg, preset)
	p.log.Infof("applying %s quality preset (%d FPS target)", preset, preset.TargetFPS())
}

// Stats returns the statistics of the most recently completed frame.
func (p *Pipeline) Stats() Stats { return p.stats }

// PerformanceReport renders the timing breakdown of the last resolved frame
// as a formatted string.
func (p *Pipeline) PerformanceReport() string {
	return formatPerformanceReport(p.stats, p.lastRestirStats, p.lastSvgfStats)
}

// Init creates all GPU resources and compiles the kernel catalog for the
// given viewport. sources maps catalog kernel names to WGSL; nil selects
// the embedded catalog. On failure nothing is retained and the pipeline
// stays uninitialized.
func (p *Pipeline) Init(vp rtgicore.Viewport, sources map[string]string) *rtgicore.Error {
	if p.initialized {
		p.Shutdown()
	}
	if vp.Width == 0 || vp.Height == 0 {
		return rtgicore.New(rtgicore.ViewportMismatch, "viewport dimensions must be non-zero, got %dx%d", vp.Width, vp.Height)
	}
	if rerr := validateGridDims(vp.GridDim); rerr != nil {
		return rerr
	}
	if sources == nil {
		sources = shaders.Catalog()
	}

	handles, rerr := loadKernels(p.device, sources)
	if rerr != nil {
		return rerr
	}
	p.kernels = handles

	if rerr := p.createResources(vp); rerr != nil {
		p.destroyResources()
		return rerr
	}

	p.viewport = vp
	p.frameCount = 0
	p.gridValid = false
	p.timers.reset()
	p.fps.reset()
	p.stats = Stats{}
	p.initialized = true
	p.log.Infof("pipeline initialized %dx%d, grid %dx%dx%d",
		vp.Width, vp.Height, vp.GridDim[0], vp.GridDim[1], vp.GridDim[2])
	return nil
}

func validateGridDims(dim [3]uint32) *rtgicore.Error {
	if dim[0] == 0 || dim[1] == 0 || dim[2] == 0 {
		return rtgicore.New(rtgicore.InvalidGrid, "cluster grid dimensions must be non-zero, got (%d,%d,%d)", dim[0], dim[1], dim[2])
	}
	if total := uint64(dim[0]) * uint64(dim[1]) * uint64(dim[2]); total > cluster.MaxClusters {
		return rtgicore.New(rtgicore.InvalidGrid, "cluster grid %d exceeds cap of %d", total, cluster.MaxClusters)
	}
	return nil
}

func (p *Pipeline) createResources(vp rtgicore.Viewport) *rtgicore.Error {
	clusterCount := uint64(vp.GridDim[0]) * uint64(vp.GridDim[1]) * uint64(vp.GridDim[2])
	pixelCount := uint64(vp.Width) * uint64(vp.Height)

	var rerr *rtgicore.Error
	if p.clusterAABBs, rerr = p.alloc.CreateStorageBuffer("cluster_aabbs", clusterCount*32); rerr != nil {
		return rerr
	}
	if p.clusterMeta, rerr = p.alloc.CreateStorageBuffer("cluster_meta", clusterCount*8); rerr != nil {
		return rerr
	}
	if p.lightIndices, rerr = p.alloc.CreateStorageBuffer("light_indices", culling.MaxTotalLightIndices*4); rerr != nil {
		return rerr
	}
	if p.indexCursor, rerr = p.alloc.CreateAtomicCounter("light_index_cursor"); rerr != nil {
		return rerr
	}
	if p.cullStatsBuf, rerr = p.alloc.CreateStorageBuffer("cull_stats", statsWords*4); rerr != nil {
		return rerr
	}
	if p.lightBuf, rerr = p.alloc.CreateStorageBuffer("lights", minLightCapacity*lightstore.RecordBytes); rerr != nil {
		return rerr
	}
	p.lightCapacity = minLightCapacity

	resvA, rerr := p.alloc.CreateStorageBuffer("reservoirs_a", pixelCount*reservoir.RecordBytes)
	if rerr != nil {
		return rerr
	}
	resvB, rerr := p.alloc.CreateStorageBuffer("reservoirs_b", pixelCount*reservoir.RecordBytes)
	if rerr != nil {
		return rerr
	}
	p.resv = kernel.NewPingPong(resvA, resvB)
	if p.restirStatsBuf, rerr = p.alloc.CreateStorageBuffer("restir_stats", statsWords*4); rerr != nil {
		return rerr
	}
	if p.restirOut, rerr = p.alloc.CreateStorageImage2D("restir_output", vp.Width, vp.Height, wgpu.TextureFormatRGBA16Float); rerr != nil {
		return rerr
	}

	makeImagePair := func(label string, format wgpu.TextureFormat) (*kernel.PingPong[*gpures.StorageImage2D], *rtgicore.Error) {
		a, rerr := p.alloc.CreateStorageImage2D(label+"_a", vp.Width, vp.Height, format)
		if rerr != nil {
			return nil, rerr
		}
		b, rerr := p.alloc.CreateStorageImage2D(label+"_b", vp.Width, vp.Height, format)
		if rerr != nil {
			return nil, rerr
		}
		return kernel.NewPingPong(a, b), nil
	}
	if p.accumColor, rerr = makeImagePair("svgf_accum_color", wgpu.TextureFormatRGBA16Float); rerr != nil {
		return rerr
	}
	if p.accumMoments, rerr = makeImagePair("svgf_moments", wgpu.TextureFormatRG32Float); rerr != nil {
		return rerr
	}
	if p.history, rerr = makeImagePair("svgf_history", wgpu.TextureFormatR32Float); rerr != nil {
		return rerr
	}
	if p.wavelet, rerr = makeImagePair("svgf_wavelet", wgpu.TextureFormatRGBA16Float); rerr != nil {
		return rerr
	}
	if p.variance, rerr = p.alloc.CreateStorageImage2D("svgf_variance", vp.Width, vp.Height, wgpu.TextureFormatR32Float); rerr != nil {
		return rerr
	}
	if p.svgfStatsBuf, rerr = p.alloc.CreateStorageBuffer("svgf_stats", statsWords*4); rerr != nil {
		return rerr
	}

	uniformSizes := [kernelCount]uint64{
		kCull:           96,
		kRestirInitial:  112,
		kRestirTemporal: 32,
		kRestirSpatial:  48,
		kRestirFinal:    96,
		kSvgfTemporal:   32,
		kSvgfVariance:   16,
		kSvgfWavelet:    32,
		kSvgfModulate:   16,
		kDebugView:      16,
	}
	for i, size := range uniformSizes {
		if p.uniforms[i], rerr = p.alloc.CreateUniformBuffer(kernelSpecs[i].name+"_params", size); rerr != nil {
			return rerr
		}
	}

	for i := range p.statsRing {
		if p.statsRing[i], rerr = p.alloc.CreateReadbackBuffer("stats_readback", 3*statsWords*4); rerr != nil {
			return rerr
		}
	}
	return nil
}

func (p *Pipeline) destroyResources() {
	destroyBuf := func(b **gpures.StorageBuffer) {
		if *b != nil {
			(*b).Destroy()
			*b = nil
		}
	}
	destroyImg := func(i **gpures.StorageImage2D) {
		if *i != nil {
			(*i).Destroy()
			*i = nil
		}
	}
	destroyImagePair := func(pp **kernel.PingPong[*gpures.StorageImage2D]) {
		if *pp != nil {
			a, b := (*pp).Current(), (*pp).Write()
			a.Destroy()
			b.Destroy()
			*pp = nil
		}
	}

	destroyBuf(&p.clusterAABBs)
	destroyBuf(&p.clusterMeta)
	destroyBuf(&p.lightIndices)
	if p.indexCursor != nil {
		p.indexCursor.Destroy()
		p.indexCursor = nil
	}
	destroyBuf(&p.cullStatsBuf)
	destroyBuf(&p.lightBuf)
	if p.resv != nil {
		p.resv.Current().Destroy()
		p.resv.Write().Destroy()
		p.resv = nil
	}
	destroyBuf(&p.restirStatsBuf)
	destroyImg(&p.restirOut)
	destroyImagePair(&p.accumColor)
	destroyImagePair(&p.accumMoments)
	destroyImagePair(&p.history)
	destroyImagePair(&p.wavelet)
	destroyImg(&p.variance)
	destroyBuf(&p.svgfStatsBuf)
	for i := range p.uniforms {
		if p.uniforms[i] != nil {
			p.uniforms[i].Destroy()
			p.uniforms[i] = nil
		}
	}
	for i := range p.statsRing {
		if p.statsRing[i] != nil {
			p.statsRing[i].Destroy()
			p.statsRing[i] = nil
		}
	}
	p.grid = nil
	p.gridValid = false
}

// Shutdown releases every GPU resource and returns the pipeline to the
// pre-init state.
func (p *Pipeline) Shutdown() {
	if !p.initialized {
		return
	}
	p.destroyResources()
	for i, h := range p.kernels {
		if h != nil {
			h.Release()
			p.kernels[i] = nil
		}
	}
	p.initialized = false
}

// Resize recreates the viewport-sized resources and resets temporal
// history. Resizing to the current dimensions is a no-op.
func (p *Pipeline) Resize(vp rtgicore.Viewport) *rtgicore.Error {
	if !p.initialized {
		return rtgicore.New(rtgicore.NotInitialized, "resize before init")
	}
	if p.viewport.Equal(vp) {
		return nil
	}
	if vp.Width == 0 || vp.Height == 0 {
		return rtgicore.New(rtgicore.ViewportMismatch, "viewport dimensions must be non-zero, got %dx%d", vp.Width, vp.Height)
	}
	if rerr := validateGridDims(vp.GridDim); rerr != nil {
		return rerr
	}
	p.log.Infof("resizing to %dx%d", vp.Width, vp.Height)
	p.destroyResources()
	if rerr := p.createResources(vp); rerr != nil {
		p.destroyResources()
		p.initialized = false
		return rerr
	}
	p.viewport = vp
	p.frameCount = 0
	p.gridValid = false
	p.timers.reset()
	p.fps.reset()
	p.stats = Stats{}
	return nil
}

// ResetTemporalHistory clears all accumulated state: reservoirs, denoiser
// color/moment/history buffers, and the frame counter. Two consecutive
// resets produce identical state to one.
func (p *Pipeline) ResetTemporalHistory() {
	if !p.initialized {
		return
	}
	p.log.Infof("resetting temporal history")
	queue := p.device.GetQueue()
	zeroResv := make([]byte, p.resv.Current().Size())
	queue.WriteBuffer(p.resv.Current().Buffer(), 0, zeroResv)
	queue.WriteBuffer(p.resv.Write().Buffer(), 0, zeroResv)
	for _, pp := range []*kernel.PingPong[*gpures.StorageImage2D]{p.accumColor, p.accumMoments, p.history} {
		p.zeroImage(pp.Current())
		p.zeroImage(pp.Write())
	}
	p.frameCount = 0
	p.timers.reset()
	p.fps.reset()
}

// Render executes one frame: cull, resample, denoise, and write the output
// texture. Per-frame input mismatches skip the frame, zero the output, and
// are reported through the error callback as well as the return value.
func (p *Pipeline) Render(camera rtgicore.Camera, lights *lightstore.Store, gb GBuffers, output *gpures.StorageImage2D) *rtgicore.Error {
	if !p.initialized {
		return rtgicore.New(rtgicore.NotInitialized, "render before init")
	}
	if rerr := gb.Validate(p.viewport.Width, p.viewport.Height); rerr != nil {
		return p.frameError(output, rerr)
	}
	if rerr := validateOutput(output, p.viewport.Width, p.viewport.Height); rerr != nil {
		return p.frameError(nil, rerr)
	}
	if rerr := p.ensureGrid(camera); rerr != nil {
		return p.frameError(output, rerr)
	}
	p.uploadLights(lights)

	lightCount := uint32(lights.Len())
	restirStats := restir.Stats{}
	svgfStats := svgf.Stats{}

	queue := p.device.GetQueue()
	zeroStats := make([]byte, statsWords*4)
	queue.WriteBuffer(p.cullStatsBuf.Buffer(), 0, zeroStats)
	queue.WriteBuffer(p.restirStatsBuf.Buffer(), 0, zeroStats)
	queue.WriteBuffer(p.svgfStatsBuf.Buffer(), 0, zeroStats)
	p.indexCursor.Reset()

	if p.cfg.RestirEnabled {
		if rerr := p.dispatchCull(camera, lightCount); rerr != nil {
			return p.frameError(output, rerr)
		}
		gpures.EmitBarrier(p.log, "clustered_light_culling", "restir_initial", gpures.StorageBufferBarrier)
		gpures.EmitBarrier(p.log, "clustered_light_culling", "restir_initial", gpures.AtomicCounterBarrier)

		if rerr := p.runRestir(camera, gb, lightCount, &restirStats); rerr != nil {
			return p.frameError(output, rerr)
		}
	} else {
		p.zeroImage(p.restirOut)
	}

	gpures.EmitBarrier(p.log, "restir_final", "svgf_temporal", gpures.StorageImageBarrier)

	if p.cfg.SvgfEnabled {
		if rerr := p.runSvgf(gb, output, &svgfStats); rerr != nil {
			return p.frameError(output, rerr)
		}
	} else {
		if rerr := p.copyImage(p.restirOut, output); rerr != nil {
			return p.frameError(output, rerr)
		}
	}

	if p.cfg.Debug != DebugNone {
		if rerr := p.dispatchDebugView(camera, gb, output); rerr != nil {
			return p.frameError(output, rerr)
		}
	}

	p.recordStatsReadback()
	p.timers.record(p.frameCount, restirStats, svgfStats)
	p.updateStats()

	// The reservoir buffer left as "current" by the resampling passes is
	// next frame's history; the selector already points at it.
	p.frameCount++
	return nil
}

// frameError zeroes the output (when one was supplied), reports through the
// callback, and returns the error; the frame is skipped, not fatal.
func (p *Pipeline) frameError(output *gpures.StorageImage2D, rerr *rtgicore.Error) *rtgicore.Error {
	if output != nil {
		p.zeroImage(output)
	}
	p.log.Errorf("frame %d skipped: %v", p.frameCount, rerr)
	if p.onError != nil {
		p.onError(rerr)
	}
	return rerr
}

// ensureGrid rebuilds the cluster grid and re-uploads its AABBs when the
// projection or depth range changed since the last frame.
func (p *Pipeline) ensureGrid(camera rtgicore.Camera) *rtgicore.Error {
	invProj := camera.Projection.Inv()
	dims := p.viewport.GridDim
	if p.gridValid && p.grid != nil &&
		p.grid.StillValid(dims[0], dims[1], dims[2], camera.Near, camera.Far) &&
		invProj == p.lastInvProj {
		return nil
	}
	grid, rerr := cluster.Build(dims[0], dims[1], dims[2], invProj, camera.Near, camera.Far)
	if rerr != nil {
		return rerr
	}
	p.grid = grid
	p.lastInvProj = invProj
	p.gridValid = true
	p.device.GetQueue().WriteBuffer(p.clusterAABBs.Buffer(), 0, grid.EncodeAABBs())
	p.log.Debugf("cluster grid rebuilt (%dx%dx%d)", dims[0], dims[1], dims[2])
	return nil
}

// uploadLights grows the light buffer as needed and re-uploads the packed
// array when the store is dirty.
func (p *Pipeline) uploadLights(lights *lightstore.Store) {
	n := lights.Len()
	if n > p.lightCapacity {
		capacity := p.lightCapacity
		for capacity < n {
			capacity *= 2
		}
		if buf, rerr := p.alloc.CreateStorageBuffer("lights", uint64(capacity)*lightstore.RecordBytes); rerr == nil {
			p.lightBuf.Destroy()
			p.lightBuf = buf
			p.lightCapacity = capacity
		} else {
			p.log.Errorf("light buffer grow failed: %v", rerr)
			return
		}
		p.device.GetQueue().WriteBuffer(p.lightBuf.Buffer(), 0, lights.Encode())
		lights.MarkClean()
		return
	}
	if lights.Dirty() && n > 0 {
		p.device.GetQueue().WriteBuffer(p.lightBuf.Buffer(), 0, lights.Encode())
		lights.MarkClean()
	}
}

// timed runs fn and returns its wall-clock duration in milliseconds.
func (p *Pipeline) timed(fn func() *rtgicore.Error) (float32, *rtgicore.Error) {
	start := time.Now()
	rerr := fn()
	return float32(time.Since(start).Seconds() * 1000.0), rerr
}

func (p *Pipeline) dispatch(k int, res []kernel.BoundResource, gx, gy, gz uint32) *rtgicore.Error {
	h := p.kernels[k]
	if p.log.DebugEnabled() {
		p.log.Debugf("dispatch %s [%s] groups=(%d,%d,%d)", h.Label, h.ID, gx, gy, gz)
	}
	groups, rerr := h.BuildBindGroups(p.device, res)
	if rerr != nil {
		return rerr
	}
	enc, err := p.device.CreateCommandEncoder(nil)
	if err != nil {
		return rtgicore.Wrap(rtgicore.ResourceExhausted, err, "creating encoder for %s", h.Label)
	}
	h.Dispatch(enc, groups, gx, gy, gz)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return rtgicore.Wrap(rtgicore.ResourceExhausted, err, "encoding %s", h.Label)
	}
	p.device.GetQueue().Submit(cmd)
	return nil
}

func uniformRes(slot uint32, u *gpures.UniformBuffer) kernel.BoundResource {
	return kernel.BoundResource{Slot: slot, Class: kernel.ClassUniformBuffer, Buffer: u.Buffer()}
}

func bufRes(slot uint32, b *gpures.StorageBuffer) kernel.BoundResource {
	return kernel.BoundResource{Slot: slot, Class: kernel.ClassStorageBuffer, Buffer: b.Buffer()}
}

func counterRes(slot uint32, c *gpures.AtomicCounter) kernel.BoundResource {
	return kernel.BoundResource{Slot: slot, Class: kernel.ClassAtomicCounter, Buffer: c.Buffer()}
}

func texRes(slot uint32, view *wgpu.TextureView) kernel.BoundResource {
	return kernel.BoundResource{Slot: slot, Class: kernel.ClassSampledTexture, TextureView: view}
}

func imgRes(slot uint32, view *wgpu.TextureView) kernel.BoundResource {
	return kernel.BoundResource{Slot: slot, Class: kernel.ClassStorageImage, TextureView: view}
}

func (p *Pipeline) dispatchCull(camera rtgicore.Camera, lightCount uint32) *rtgicore.Error {
	dims := p.viewport.GridDim
	var pk packer
	pk.mat4(camera.View)
	pk.u32(dims[0])
	pk.u32(dims[1])
	pk.u32(dims[2])
	pk.u32(lightCount)
	pk.u32(culling.MaxLightsPerCluster)
	pk.u32(culling.MaxTotalLightIndices)
	pk.u32(0)
	pk.u32(0)
	p.uniforms[kCull].Write(pk.bytes())

	res := []kernel.BoundResource{
		uniformRes(0, p.uniforms[kCull]),
		bufRes(1, p.clusterAABBs),
		bufRes(2, p.lightBuf),
		bufRes(3, p.clusterMeta),
		bufRes(4, p.lightIndices),
		counterRes(5, p.indexCursor),
		bufRes(6, p.cullStatsBuf),
	}
	gx, gy, gz := kernel.ClusterDispatchSize(dims[0], dims[1], dims[2])
	return p.dispatch(kCull, res, gx, gy, gz)
}

// runRestir executes the four resampling sub-passes in order, with a
// storage-buffer barrier between each.
func (p *Pipeline) runRestir(camera rtgicore.Camera, gb GBuffers, lightCount uint32, stats *restir.Stats) *rtgicore.Error {
	vp := p.viewport
	gx, gy, gz := kernel.ImageDispatchSize(vp.Width, vp.Height)
	s := p.cfg.Restir

	// The reservoir selected last frame is this frame's history; new
	// candidates go into the other buffer.
	historyBuf := p.resv.Current()
	currentBuf := p.resv.Write()

	// 1. Initial candidates.
	var pk packer
	pk.mat4(camera.View)
	pk.f32(float32(vp.Width))
	pk.f32(float32(vp.Height))
	pk.f32(camera.Near)
	pk.f32(camera.Far)
	pk.u32(vp.GridDim[0])
	pk.u32(vp.GridDim[1])
	pk.u32(vp.GridDim[2])
	pk.u32(lightCount)
	pk.u32(uint32(p.frameCount))
	pk.u32(s.InitialCandidates)
	pk.u32(0)
	pk.u32(0)
	p.uniforms[kRestirInitial].Write(pk.bytes())

	ms, rerr := p.timed(func() *rtgicore.Error {
		return p.dispatch(kRestirInitial, []kernel.BoundResource{
			uniformRes(0, p.uniforms[kRestirInitial]),
			texRes(1, gb.Position.View()),
			texRes(2, gb.Normal.View()),
			texRes(3, gb.Depth.View()),
			bufRes(4, p.lightBuf),
			bufRes(5, p.clusterMeta),
			bufRes(6, p.lightIndices),
			bufRes(7, currentBuf),
		}, gx, gy, gz)
	})
	if rerr != nil {
		return rerr
	}
	stats.InitialSamplingMs = ms
	gpures.EmitBarrier(p.log, "restir_initial", "restir_temporal", gpures.StorageBufferBarrier)

	// 2. Temporal reuse.
	if s.TemporalReuse && p.frameCount > 0 {
		pk = packer{}
		pk.f32(float32(vp.Width))
		pk.f32(float32(vp.Height))
		pk.u32(uint32(p.frameCount))
		pk.u32(s.TemporalMaxM)
		pk.f32(s.TemporalDepthThreshold)
		pk.f32(s.TemporalNormalThresh)
		pk.u32(lightCount)
		pk.u32(0)
		p.uniforms[kRestirTemporal].Write(pk.bytes())

		ms, rerr = p.timed(func() *rtgicore.Error {
			return p.dispatch(kRestirTemporal, []kernel.BoundResource{
				uniformRes(0, p.uniforms[kRestirTemporal]),
				texRes(1, gb.Position.View()),
				texRes(2, gb.Normal.View()),
				texRes(3, gb.Depth.View()),
				texRes(4, gb.Motion.View()),
				bufRes(5, p.lightBuf),
				bufRes(6, historyBuf),
				bufRes(7, currentBuf),
				bufRes(8, p.restirStatsBuf),
			}, gx, gy, gz)
		})
		if rerr != nil {
			return rerr
		}
		stats.TemporalReuseMs = ms
		gpures.EmitBarrier(p.log, "restir_temporal", "restir_spatial", gpures.StorageBufferBarrier)
	}

	// Merged reservoirs become readable; the old history buffer is now the
	// scratch side of the spatial ping-pong.
	p.resv.Flip()

	// 3. Spatial reuse iterations.
	ms, rerr = p.timed(func() *rtgicore.Error {
		for i := uint32(0); i < s.SpatialIterations; i++ {
			pk = packer{}
			pk.f32(float32(vp.Width))
			pk.f32(float32(vp.Height))
			pk.u32(uint32(p.frameCount))
			pk.u32(i)
			pk.f32(s.SpatialRadius)
			pk.u32(s.SpatialSamples)
			pk.f32(s.TemporalDepthThreshold)
			pk.f32(s.TemporalNormalThresh)
			pk.u32(lightCount)
			pk.bool32(s.SpatialDiscardHistory)
			pk.u32(0)
			pk.u32(0)
			p.uniforms[kRestirSpatial].Write(pk.bytes())

			if rerr := p.dispatch(kRestirSpatial, []kernel.BoundResource{
				uniformRes(0, p.uniforms[kRestirSpatial]),
				texRes(1, gb.Position.View()),
				texRes(2, gb.Normal.View()),
				texRes(3, gb.Depth.View()),
				bufRes(4, p.lightBuf),
				bufRes(5, p.resv.Current()),
				bufRes(6, p.resv.Write()),
			}, gx, gy, gz); rerr != nil {
				return rerr
			}
			gpures.EmitBarrier(p.log, "restir_spatial", "restir_spatial", gpures.StorageBufferBarrier)
			p.resv.Flip()
		}
		return nil
	})
	if rerr != nil {
		return rerr
	}
	stats.SpatialReuseMs = ms
	gpures.EmitBarrier(p.log, "restir_spatial", "restir_final", gpures.StorageBufferBarrier)

	// 4. Final shading.
	pk = packer{}
	pk.mat4(camera.ViewProj())
	pk.f32(float32(vp.Width))
	pk.f32(float32(vp.Height))
	pk.u32(lightCount)
	pk.bool32(s.BiasCorrection)
	pk.f32(s.BiasRayOffset)
	pk.f32(0)
	pk.f32(0)
	pk.f32(0)
	p.uniforms[kRestirFinal].Write(pk.bytes())

	ms, rerr = p.timed(func() *rtgicore.Error {
		return p.dispatch(kRestirFinal, []kernel.BoundResource{
			uniformRes(0, p.uniforms[kRestirFinal]),
			texRes(1, gb.Position.View()),
			texRes(2, gb.Normal.View()),
			texRes(3, gb.Albedo.View()),
			texRes(4, gb.Depth.View()),
			bufRes(5, p.resv.Current()),
			bufRes(6, p.lightBuf),
			imgRes(7, p.restirOut.View()),
		}, gx, gy, gz)
	})
	if rerr != nil {
		return rerr
	}
	stats.FinalShadingMs = ms
	stats.TotalMs = stats.InitialSamplingMs + stats.TemporalReuseMs + stats.SpatialReuseMs + stats.FinalShadingMs
	return nil
}

// runSvgf executes the four denoising sub-passes in order.
func (p *Pipeline) runSvgf(gb GBuffers, output *gpures.StorageImage2D, stats *svgf.Stats) *rtgicore.Error {
	vp := p.viewport
	gx, gy, gz := kernel.ImageDispatchSize(vp.Width, vp.Height)
	s := p.cfg.Svgf

	// 1. Temporal accumulation: read last frame's color/moments/history,
	// write this frame's set.
	var pk packer
	pk.f32(float32(vp.Width))
	pk.f32(float32(vp.Height))
	pk.u32(uint32(p.frameCount))
	pk.u32(s.TemporalMaxM)
	pk.f32(s.TemporalAlpha)
	pk.f32(s.TemporalDepthThreshold)
	pk.f32(s.TemporalNormalThresh)
	pk.bool32(s.TemporalAccumulation && p.frameCount > 0)
	p.uniforms[kSvgfTemporal].Write(pk.bytes())

	ms, rerr := p.timed(func() *rtgicore.Error {
		return p.dispatch(kSvgfTemporal, []kernel.BoundResource{
			uniformRes(0, p.uniforms[kSvgfTemporal]),
			texRes(1, p.restirOut.View()),
			texRes(2, gb.Normal.View()),
			texRes(3, gb.Depth.View()),
			texRes(4, gb.Motion.View()),
			texRes(5, p.accumColor.Current().View()),
			texRes(6, p.accumMoments.Current().View()),
			texRes(7, p.history.Current().View()),
			imgRes(8, p.accumColor.Write().View()),
			imgRes(9, p.accumMoments.Write().View()),
			imgRes(10, p.history.Write().View()),
			bufRes(11, p.svgfStatsBuf),
		}, gx, gy, gz)
	})
	if rerr != nil {
		return rerr
	}
	stats.TemporalAccumulationMs = ms
	p.accumColor.Flip()
	p.accumMoments.Flip()
	p.history.Flip()
	gpures.EmitBarrier(p.log, "svgf_temporal", "svgf_variance", gpures.StorageImageBarrier)

	// 2. Variance estimation.
	pk = packer{}
	pk.f32(float32(vp.Width))
	pk.f32(float32(vp.Height))
	pk.u32(s.VarianceKernelSize)
	pk.f32(s.VarianceBoost)
	p.uniforms[kSvgfVariance].Write(pk.bytes())

	ms, rerr = p.timed(func() *rtgicore.Error {
		return p.dispatch(kSvgfVariance, []kernel.BoundResource{
			uniformRes(0, p.uniforms[kSvgfVariance]),
			texRes(1, p.accumColor.Current().View()),
			texRes(2, p.accumMoments.Current().View()),
			texRes(3, p.history.Current().View()),
			imgRes(4, p.variance.View()),
		}, gx, gy, gz)
	})
	if rerr != nil {
		return rerr
	}
	stats.VarianceEstimationMs = ms
	gpures.EmitBarrier(p.log, "svgf_variance", "svgf_wavelet", gpures.StorageImageBarrier)

	// 3. A-trous iterations, one ping-pong flip per iteration.
	filtered := p.accumColor.Current()
	ms, rerr = p.timed(func() *rtgicore.Error {
		for i := uint32(0); i < s.WaveletIterations; i++ {
			pk = packer{}
			pk.f32(float32(vp.Width))
			pk.f32(float32(vp.Height))
			pk.u32(i)
			pk.f32(s.PhiNormal)
			pk.f32(s.PhiDepth)
			pk.f32(s.SigmaLuminance)
			pk.bool32(s.UseVarianceGuidance)
			pk.u32(0)
			p.uniforms[kSvgfWavelet].Write(pk.bytes())

			input := filtered
			if i > 0 {
				input = p.wavelet.Current()
			}
			if rerr := p.dispatch(kSvgfWavelet, []kernel.BoundResource{
				uniformRes(0, p.uniforms[kSvgfWavelet]),
				texRes(1, input.View()),
				texRes(2, p.variance.View()),
				texRes(3, gb.Normal.View()),
				texRes(4, gb.Depth.View()),
				imgRes(5, p.wavelet.Write().View()),
			}, gx, gy, gz); rerr != nil {
				return rerr
			}
			gpures.EmitBarrier(p.log, "svgf_wavelet", "svgf_wavelet", gpures.StorageImageBarrier)
			p.wavelet.Flip()
		}
		return nil
	})
	if rerr != nil {
		return rerr
	}
	stats.WaveletFilterMs = ms
	if s.WaveletIterations > 0 {
		filtered = p.wavelet.Current()
	}
	gpures.EmitBarrier(p.log, "svgf_wavelet", "svgf_modulate", gpures.StorageImageBarrier)

	// 4. Modulation by albedo.
	pk = packer{}
	pk.f32(float32(vp.Width))
	pk.f32(float32(vp.Height))
	pk.f32(0)
	pk.f32(0)
	p.uniforms[kSvgfModulate].Write(pk.bytes())

	ms, rerr = p.timed(func() *rtgicore.Error {
		return p.dispatch(kSvgfModulate, []kernel.BoundResource{
			uniformRes(0, p.uniforms[kSvgfModulate]),
			texRes(1, filtered.View()),
			texRes(2, gb.Albedo.View()),
			imgRes(3, output.View()),
		}, gx, gy, gz)
	})
	if rerr != nil {
		return rerr
	}
	stats.FinalModulationMs = ms
	stats.TotalMs = stats.TemporalAccumulationMs + stats.VarianceEstimationMs + stats.WaveletFilterMs + stats.FinalModulationMs
	return nil
}

func (p *Pipeline) debugParams(camera rtgicore.Camera) (mode uint32, scale float32) {
	switch p.cfg.Debug {
	case DebugReservoirM:
		return 1, float32(p.cfg.Restir.TemporalMaxM)
	case DebugVariance:
		return 2, 1
	case DebugHistoryLength:
		return 3, float32(p.cfg.Svgf.TemporalMaxM)
	case DebugNormals:
		return 4, 1
	case DebugDepth:
		return 5, camera.Far
	case DebugMotion:
		return 6, 1
	default:
		return 0, 1
	}
}

func (p *Pipeline) dispatchDebugView(camera rtgicore.Camera, gb GBuffers, output *gpures.StorageImage2D) *rtgicore.Error {
	mode, scale := p.debugParams(camera)
	var pk packer
	pk.f32(float32(p.viewport.Width))
	pk.f32(float32(p.viewport.Height))
	pk.u32(mode)
	pk.f32(scale)
	p.uniforms[kDebugView].Write(pk.bytes())

	gx, gy, gz := kernel.ImageDispatchSize(p.viewport.Width, p.viewport.Height)
	return p.dispatch(kDebugView, []kernel.BoundResource{
		uniformRes(0, p.uniforms[kDebugView]),
		bufRes(1, p.resv.Current()),
		texRes(2, p.variance.View()),
		texRes(3, p.history.Current().View()),
		texRes(4, gb.Normal.View()),
		texRes(5, gb.Depth.View()),
		texRes(6, gb.Motion.View()),
		imgRes(7, output.View()),
	}, gx, gy, gz)
}

// copyImage copies src to dst; both must share format and dimensions.
func (p *Pipeline) copyImage(src, dst *gpures.StorageImage2D) *rtgicore.Error {
	enc, err := p.device.CreateCommandEncoder(nil)
	if err != nil {
		return rtgicore.Wrap(rtgicore.ResourceExhausted, err, "creating copy encoder")
	}
	enc.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: src.Texture(), Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: dst.Texture(), Aspect: wgpu.TextureAspectAll},
		&wgpu.Extent3D{Width: src.Width(), Height: src.Height(), DepthOrArrayLayers: 1},
	)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return rtgicore.Wrap(rtgicore.ResourceExhausted, err, "encoding copy")
	}
	p.device.GetQueue().Submit(cmd)
	return nil
}

func bytesPerPixel(format wgpu.TextureFormat) uint32 {
	switch format {
	case wgpu.TextureFormatRGBA32Float:
		return 16
	case wgpu.TextureFormatRGBA16Float, wgpu.TextureFormatRG32Float:
		return 8
	default:
		return 4
	}
}

// zeroImage clears an image to zero via a direct upload; used for the
// disabled-stage and skipped-frame paths.
func (p *Pipeline) zeroImage(img *gpures.StorageImage2D) {
	bpp := bytesPerPixel(img.Format())
	zeros := make([]byte, img.Width()*img.Height()*bpp)
	p.device.GetQueue().WriteTexture(
		&wgpu.ImageCopyTexture{Texture: img.Texture(), Aspect: wgpu.TextureAspectAll},
		zeros,
		&wgpu.TextureDataLayout{BytesPerRow: img.Width() * bpp, RowsPerImage: img.Height()},
		&wgpu.Extent3D{Width: img.Width(), Height: img.Height(), DepthOrArrayLayers: 1},
	)
}

// recordStatsReadback copies the three GPU statistics blocks into this
// frame's staging slot; the slot is mapped for reading timerRingSize-1
// frames later so the map never waits on in-flight work.
func (p *Pipeline) recordStatsReadback() {
	staging := p.statsRing[p.frameCount%timerRingSize]
	enc, err := p.device.CreateCommandEncoder(nil)
	if err != nil {
		return
	}
	enc.CopyBufferToBuffer(p.cullStatsBuf.Buffer(), 0, staging.Buffer(), 0, statsWords*4)
	enc.CopyBufferToBuffer(p.restirStatsBuf.Buffer(), 0, staging.Buffer(), statsWords*4, statsWords*4)
	enc.CopyBufferToBuffer(p.svgfStatsBuf.Buffer(), 0, staging.Buffer(), 2*statsWords*4, statsWords*4)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return
	}
	p.device.GetQueue().Submit(cmd)
}

// resolveStatsReadback maps the staging slot recorded timerRingSize-1
// frames ago and extracts the GPU-side counters.
func (p *Pipeline) resolveStatsReadback() (cull [statsWords]uint32, restirReuse [statsWords]uint32, svgfReuse [statsWords]uint32, ok bool) {
	if p.frameCount < timerRingSize-1 {
		return
	}
	staging := p.statsRing[(p.frameCount+1)%timerRingSize]
	mapped := false
	staging.Buffer().MapAsync(wgpu.MapModeRead, 0, staging.Size(), func(status wgpu.BufferMapAsyncStatus) {
		mapped = status == wgpu.BufferMapAsyncStatusSuccess
	})
	p.device.Poll(false, nil)
	if !mapped {
		return
	}
	data := staging.Buffer().GetMappedRange(0, uint(staging.Size()))
	if data != nil && len(data) >= 3*statsWords*4 {
		for i := 0; i < statsWords; i++ {
			cull[i] = binary.LittleEndian.Uint32(data[i*4:])
			restirReuse[i] = binary.LittleEndian.Uint32(data[(statsWords+i)*4:])
			svgfReuse[i] = binary.LittleEndian.Uint32(data[(2*statsWords+i)*4:])
		}
		ok = true
	}
	staging.Buffer().Unmap()
	return
}

// updateStats assembles the frame statistics from the deferred timer ring
// and the deferred GPU counter readback.
func (p *Pipeline) updateStats() {
	timing, haveTiming := p.timers.resolve(p.frameCount)
	if haveTiming {
		p.lastRestirStats = timing.restir
		p.lastSvgfStats = timing.svgf
		p.stats.RestirMs = timing.restir.TotalMs
		p.stats.SvgfMs = timing.svgf.TotalMs
		p.stats.TotalMs = p.stats.RestirMs + p.stats.SvgfMs
		if p.stats.TotalMs > 0 {
			p.stats.CurrentFPS = 1000.0 / p.stats.TotalMs
			p.fps.add(p.stats.CurrentFPS)
			p.stats.AvgFPS = p.fps.avg()
		}
	}

	s := p.cfg.Restir
	p.stats.EffectiveSPP, p.stats.SPPOverflowed = EffectiveSPP(
		s.InitialCandidates, s.TemporalMaxM, s.SpatialSamples, s.SpatialIterations)
	if p.stats.SPPOverflowed {
		p.log.Warnf("effective spp saturated at %d", uint32(math.MaxUint32))
	}

	if cull, restirReuse, svgfReuse, ok := p.resolveStatsReadback(); ok {
		pixels := float32(p.viewport.Width) * float32(p.viewport.Height)
		p.stats.CullOverflows = cull[1]
		if pixels > 0 {
			p.stats.TemporalReuseRate = float32(restirReuse[0]) / pixels
			p.stats.DisocclusionRate = float32(svgfReuse[0]) / pixels
			p.lastRestirStats.TemporalReuseRate = p.stats.TemporalReuseRate
			p.lastRestirStats.TemporalDriftRate = float32(restirReuse[1]) / pixels
			p.lastSvgfStats.DisocclusionRate = p.stats.DisocclusionRate
		}
	}
}

// packer accumulates little-endian uniform bytes in declaration order.
type packer struct {
	b []byte
}

func (pk *packer) f32(v float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	pk.b = append(pk.b, tmp[:]...)
}

func (pk *packer) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	pk.b = append(pk.b, tmp[:]...)
}

func (pk *packer) bool32(v bool) {
	if v {
		pk.u32(1)
	} else {
		pk.u32(0)
	}
}

func (pk *packer) mat4(m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		pk.f32(m[i])
	}
}

func (pk *packer) bytes() []byte { return pk.b }
