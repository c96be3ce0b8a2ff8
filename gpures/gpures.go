// Package gpures is the pipeline's GPU resource layer (component A): typed
// handles over wgpu buffers and textures, each with exactly one access
// capability, plus the explicit inter-stage barrier bookkeeping the
// orchestrator relies on.
package gpures

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"

	"github.com/novaengine/rtgi/rtgicore"
)

// BarrierClass identifies the kind of memory barrier a stage must emit
// before a consumer that depends on its writes runs.
type BarrierClass int

const (
	StorageBufferBarrier BarrierClass = iota
	StorageImageBarrier
	AtomicCounterBarrier
)

func (b BarrierClass) String() string {
	switch b {
	case StorageBufferBarrier:
		return "STORAGE_BUFFER"
	case StorageImageBarrier:
		return "STORAGE_IMAGE"
	case AtomicCounterBarrier:
		return "ATOMIC_COUNTER"
	default:
		return "UNKNOWN_BARRIER"
	}
}

// Every handle carries a uuid identity alongside its wgpu label: labels are
// reused across reallocations (resize recreates "reservoirs_a" and so on),
// the id names one allocation, so diagnostics can tell generations apart.

// StorageBuffer is a read+write buffer whose writes from one dispatch are
// visible to a later dispatch only after a barrier of class
// StorageBufferBarrier (or AtomicCounterBarrier, for the counter region) has
// been emitted.
type StorageBuffer struct {
	id     string
	label  string
	buf    *wgpu.Buffer
	size   uint64
	device *wgpu.Device
}

// SampledTexture2D/3D are read-only handles during a dispatch.
type SampledTexture2D struct {
	id     string
	label  string
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	format wgpu.TextureFormat
	width  uint32
	height uint32
}

type SampledTexture3D struct {
	id     string
	label  string
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	format wgpu.TextureFormat
	dims   [3]uint32
}

// StorageImage2D may be read or written within a single dispatch, never
// both; the orchestrator decides which mode a kernel binds it in.
type StorageImage2D struct {
	id     string
	label  string
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	format wgpu.TextureFormat
	width  uint32
	height uint32
}

// AtomicCounter is a single 32-bit value updated only via atomic increment
// inside compute kernels; the host resets it to zero between frames.
type AtomicCounter struct {
	id     string
	label  string
	buf    *wgpu.Buffer
	device *wgpu.Device
}

// UniformBuffer carries per-dispatch kernel parameters; the host rewrites it
// between dispatches, kernels read it.
type UniformBuffer struct {
	id     string
	label  string
	buf    *wgpu.Buffer
	size   uint64
	device *wgpu.Device
}

// renderableFormats lists texture formats this layer accepts for sampled or
// storage use; anything else fails with InvalidFormat.
var renderableFormats = map[wgpu.TextureFormat]bool{
	wgpu.TextureFormatRGBA32Float: true,
	wgpu.TextureFormatRGBA16Float: true,
	wgpu.TextureFormatRG32Float:   true,
	wgpu.TextureFormatRG16Float:   true,
	wgpu.TextureFormatRGBA8Unorm:  true,
	wgpu.TextureFormatR32Float:    true,
	wgpu.TextureFormatR32Uint:     true,
}

func validateFormat(format wgpu.TextureFormat) *rtgicore.Error {
	if !renderableFormats[format] {
		return rtgicore.New(rtgicore.InvalidFormat, "format %v is not a supported resource format", format)
	}
	return nil
}

// Allocator creates and owns GPU resources against a single wgpu device. It
// does not track which stage last wrote a resource; barrier sequencing is
// the orchestrator's responsibility per the component contract.
type Allocator struct {
	device *wgpu.Device
}

func NewAllocator(device *wgpu.Device) *Allocator {
	return &Allocator{device: device}
}

// CreateStorageBuffer allocates a read+write storage buffer of sizeBytes.
func (a *Allocator) CreateStorageBuffer(label string, sizeBytes uint64) (*StorageBuffer, *rtgicore.Error) {
	if sizeBytes == 0 {
		return nil, rtgicore.New(rtgicore.ResourceExhausted, "storage buffer %s requested with size 0", label)
	}
	id := uuid.NewString()
	buf, err := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             align4(sizeBytes),
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating storage buffer %s [%s] (%d bytes)", label, id, sizeBytes)
	}
	return &StorageBuffer{id: id, label: label, buf: buf, size: align4(sizeBytes), device: a.device}, nil
}

// CreateAtomicCounter allocates a single 4-byte atomic counter, zero-initialized.
func (a *Allocator) CreateAtomicCounter(label string) (*AtomicCounter, *rtgicore.Error) {
	id := uuid.NewString()
	buf, err := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             4,
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating atomic counter %s [%s]", label, id)
	}
	c := &AtomicCounter{id: id, label: label, buf: buf, device: a.device}
	c.Reset()
	return c, nil
}

// Reset zeroes the counter; the orchestrator calls this once per frame
// before the culling dispatch that consumes it.
func (c *AtomicCounter) Reset() {
	c.device.GetQueue().WriteBuffer(c.buf, 0, make([]byte, 4))
}

func (c *AtomicCounter) Buffer() *wgpu.Buffer { return c.buf }
func (c *AtomicCounter) ID() string           { return c.id }

// CreateUniformBuffer allocates a uniform buffer of sizeBytes for
// per-dispatch kernel parameters.
func (a *Allocator) CreateUniformBuffer(label string, sizeBytes uint64) (*UniformBuffer, *rtgicore.Error) {
	if sizeBytes == 0 {
		return nil, rtgicore.New(rtgicore.ResourceExhausted, "uniform buffer %s requested with size 0", label)
	}
	id := uuid.NewString()
	buf, err := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             align16(sizeBytes),
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating uniform buffer %s [%s] (%d bytes)", label, id, sizeBytes)
	}
	return &UniformBuffer{id: id, label: label, buf: buf, size: align16(sizeBytes), device: a.device}, nil
}

// Write uploads the packed parameter bytes for the next dispatch.
func (u *UniformBuffer) Write(data []byte) {
	u.device.GetQueue().WriteBuffer(u.buf, 0, data)
}

func (u *UniformBuffer) Buffer() *wgpu.Buffer { return u.buf }
func (u *UniformBuffer) Size() uint64         { return u.size }
func (u *UniformBuffer) ID() string           { return u.id }

// CreateSampledTexture2D allocates a read-only 2D texture in one of the
// supported formats.
func (a *Allocator) CreateSampledTexture2D(label string, width, height uint32, format wgpu.TextureFormat) (*SampledTexture2D, *rtgicore.Error) {
	if rerr := validateFormat(format); rerr != nil {
		return nil, rerr
	}
	id := uuid.NewString()
	tex, err := a.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating sampled texture %s [%s] (%dx%d)", label, id, width, height)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "creating view for sampled texture %s [%s]", label, id)
	}
	return &SampledTexture2D{id: id, label: label, tex: tex, view: view, format: format, width: width, height: height}, nil
}

// CreateSampledTexture3D allocates a read-only 3D texture (used for e.g.
// cached cluster volumes in future extensions; unused by the core
// stages but kept general per the layer contract).
func (a *Allocator) CreateSampledTexture3D(label string, w, h, d uint32, format wgpu.TextureFormat) (*SampledTexture3D, *rtgicore.Error) {
	if rerr := validateFormat(format); rerr != nil {
		return nil, rerr
	}
	id := uuid.NewString()
	tex, err := a.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: d},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension3D,
		Format:        format,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating sampled texture3D %s [%s] (%dx%dx%d)", label, id, w, h, d)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "creating view for sampled texture3D %s [%s]", label, id)
	}
	return &SampledTexture3D{id: id, label: label, tex: tex, view: view, format: format, dims: [3]uint32{w, h, d}}, nil
}

// CreateStorageImage2D allocates a 2D texture usable as a compute storage
// binding, read or written within a single dispatch.
func (a *Allocator) CreateStorageImage2D(label string, width, height uint32, format wgpu.TextureFormat) (*StorageImage2D, *rtgicore.Error) {
	if rerr := validateFormat(format); rerr != nil {
		return nil, rerr
	}
	id := uuid.NewString()
	tex, err := a.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageStorageBinding | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating storage image %s [%s] (%dx%d)", label, id, width, height)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "creating view for storage image %s [%s]", label, id)
	}
	return &StorageImage2D{id: id, label: label, tex: tex, view: view, format: format, width: width, height: height}, nil
}

func (t *StorageBuffer) Buffer() *wgpu.Buffer { return t.buf }
func (t *StorageBuffer) Size() uint64         { return t.size }
func (t *StorageBuffer) ID() string           { return t.id }

// ReadbackBuffer is a host-mappable staging buffer the profiler copies
// per-frame statistics into; it is mapped for reading several frames later
// so the readback never stalls the queue.
type ReadbackBuffer struct {
	id    string
	label string
	buf   *wgpu.Buffer
	size  uint64
}

// CreateReadbackBuffer allocates a CopyDst + MapRead staging buffer.
func (a *Allocator) CreateReadbackBuffer(label string, sizeBytes uint64) (*ReadbackBuffer, *rtgicore.Error) {
	id := uuid.NewString()
	buf, err := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  align4(sizeBytes),
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.ResourceExhausted, err, "allocating readback buffer %s [%s] (%d bytes)", label, id, sizeBytes)
	}
	return &ReadbackBuffer{id: id, label: label, buf: buf, size: align4(sizeBytes)}, nil
}

func (r *ReadbackBuffer) Buffer() *wgpu.Buffer { return r.buf }
func (r *ReadbackBuffer) Size() uint64         { return r.size }
func (r *ReadbackBuffer) ID() string           { return r.id }

func (r *ReadbackBuffer) Destroy() {
	if r.buf != nil {
		r.buf.Release()
		r.buf = nil
	}
}

// Destroy releases the underlying GPU object; safe to call more than once.
func (t *StorageBuffer) Destroy() {
	if t.buf != nil {
		t.buf.Release()
		t.buf = nil
	}
}

func (c *AtomicCounter) Destroy() {
	if c.buf != nil {
		c.buf.Release()
		c.buf = nil
	}
}

func (u *UniformBuffer) Destroy() {
	if u.buf != nil {
		u.buf.Release()
		u.buf = nil
	}
}

func (t *SampledTexture2D) Destroy() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (t *SampledTexture3D) Destroy() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (t *StorageImage2D) Destroy() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (t *SampledTexture2D) View() *wgpu.TextureView      { return t.view }
func (t *SampledTexture2D) Texture() *wgpu.Texture       { return t.tex }
func (t *SampledTexture2D) Format() wgpu.TextureFormat   { return t.format }
func (t *SampledTexture2D) Width() uint32                { return t.width }
func (t *SampledTexture2D) Height() uint32               { return t.height }
func (t *SampledTexture2D) ID() string                   { return t.id }

func (t *SampledTexture3D) View() *wgpu.TextureView { return t.view }
func (t *SampledTexture3D) ID() string              { return t.id }

func (t *StorageImage2D) View() *wgpu.TextureView    { return t.view }
func (t *StorageImage2D) Texture() *wgpu.Texture     { return t.tex }
func (t *StorageImage2D) Format() wgpu.TextureFormat { return t.format }
func (t *StorageImage2D) Width() uint32              { return t.width }
func (t *StorageImage2D) Height() uint32             { return t.height }
func (t *StorageImage2D) ID() string                 { return t.id }

// EmitBarrier records (via a debug log, if provided) that a barrier of the
// given class separates the writer from the next consumer. wgpu's Go
// binding tracks buffer/texture usage transitions itself at submission
// time; this call exists so the orchestrator's stage sequencing makes the
// required barrier explicit and auditable, matching the layer's contract
// that every cross-stage dependency names its barrier class.
func EmitBarrier(log rtgicore.Logger, from, to string, class BarrierClass) {
	if log != nil {
		log.Debugf("barrier %s: %s -> %s", class, from, to)
	}
}

func align4(n uint64) uint64 {
	if n%4 != 0 {
		n += 4 - (n % 4)
	}
	return n
}

func align16(n uint64) uint64 {
	if n%16 != 0 {
		n += 16 - (n % 16)
	}
	return n
}
