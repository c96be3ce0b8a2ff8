// Package kernel is the pipeline's compute kernel binding layer (component
// B): the fixed binding-table contract each dispatched kernel declares,
// dispatch-size computation, and generic ping-pong buffer selection.
package kernel

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"

	"github.com/novaengine/rtgi/rtgicore"
)

// WorkgroupSize is the fixed 8x8 work-group size used by every image-space
// compute kernel in the pipeline.
const WorkgroupSize = 8

// ResourceClass names the kind of resource a binding slot accepts.
type ResourceClass int

const (
	ClassStorageBuffer ResourceClass = iota
	ClassStorageImage
	ClassSampledTexture
	ClassAtomicCounter
	ClassUniformBuffer
)

func (c ResourceClass) String() string {
	switch c {
	case ClassStorageBuffer:
		return "StorageBuffer"
	case ClassStorageImage:
		return "StorageImage"
	case ClassSampledTexture:
		return "SampledTexture"
	case ClassAtomicCounter:
		return "AtomicCounter"
	case ClassUniformBuffer:
		return "UniformBuffer"
	default:
		return "Unknown"
	}
}

// Access names how a kernel uses a bound resource.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

// Binding is one entry of a kernel's fixed binding table.
type Binding struct {
	Slot  uint32
	Group uint32
	Class ResourceClass
	Access
	Name string
}

// BoundResource is what the caller supplies at dispatch time to satisfy one
// Binding.
type BoundResource struct {
	Slot        uint32
	Group       uint32
	Class       ResourceClass
	Buffer      *wgpu.Buffer
	TextureView *wgpu.TextureView
}

// Handle is a compiled compute kernel together with the binding table it
// expects. Every dispatch is validated against Table before the bind groups
// are built, so a mismatched resource fails fast with ConfigurationError
// instead of producing an undefined GPU binding.
type Handle struct {
	ID       string
	Label    string
	Pipeline *wgpu.ComputePipeline
	Table    []Binding
}

// Load compiles a WGSL compute kernel and records its binding table. The
// handle's uuid identity tags every diagnostic for this compilation, since
// the same label recurs when a host reloads its kernel catalog.
func Load(device *wgpu.Device, label, entryPoint, wgsl string, table []Binding) (*Handle, *rtgicore.Error) {
	id := uuid.NewString()
	mod, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: wgsl},
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.KernelLoadFailed, err, "compiling kernel %s [%s]", label, id)
	}
	defer mod.Release()

	pipeline, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: label,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		return nil, rtgicore.Wrap(rtgicore.KernelLoadFailed, err, "linking kernel %s [%s]", label, id)
	}

	return &Handle{ID: id, Label: label, Pipeline: pipeline, Table: table}, nil
}

// Release frees the compiled pipeline; the handle must not be dispatched
// afterwards.
func (h *Handle) Release() {
	if h.Pipeline != nil {
		h.Pipeline.Release()
		h.Pipeline = nil
	}
}

// Validate checks that resources supply exactly the table's slots, with
// matching resource classes, group by group.
func (h *Handle) Validate(resources []BoundResource) *rtgicore.Error {
	want := make(map[[2]uint32]Binding, len(h.Table))
	for _, b := range h.Table {
		want[[2]uint32{b.Group, b.Slot}] = b
	}
	got := make(map[[2]uint32]bool, len(resources))
	for _, r := range resources {
		key := [2]uint32{r.Group, r.Slot}
		binding, ok := want[key]
		if !ok {
			return rtgicore.New(rtgicore.ConfigurationError, "kernel %s [%s]: resource bound at group %d slot %d is not in the binding table", h.Label, h.ID, r.Group, r.Slot)
		}
		if binding.Class != r.Class {
			return rtgicore.New(rtgicore.ConfigurationError, "kernel %s [%s]: slot %d expects %s, got %s", h.Label, h.ID, r.Slot, binding.Class, r.Class)
		}
		got[key] = true
	}
	for key, b := range want {
		if !got[key] {
			return rtgicore.New(rtgicore.ConfigurationError, "kernel %s [%s]: binding %q (group %d slot %d) has no bound resource", h.Label, h.ID, b.Name, key[0], key[1])
		}
	}
	return nil
}

// BuildBindGroups creates one bind group per distinct group index, after
// validating the supplied resources against the kernel's table.
func (h *Handle) BuildBindGroups(device *wgpu.Device, resources []BoundResource) (map[uint32]*wgpu.BindGroup, *rtgicore.Error) {
	if rerr := h.Validate(resources); rerr != nil {
		return nil, rerr
	}
	byGroup := make(map[uint32][]wgpu.BindGroupEntry)
	for _, r := range resources {
		entry := wgpu.BindGroupEntry{Binding: r.Slot}
		if r.Buffer != nil {
			entry.Buffer = r.Buffer
			entry.Size = wgpu.WholeSize
		}
		if r.TextureView != nil {
			entry.TextureView = r.TextureView
		}
		byGroup[r.Group] = append(byGroup[r.Group], entry)
	}
	groups := make(map[uint32]*wgpu.BindGroup, len(byGroup))
	for idx, entries := range byGroup {
		bg, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Layout:  h.Pipeline.GetBindGroupLayout(idx),
			Entries: entries,
		})
		if err != nil {
			return nil, rtgicore.Wrap(rtgicore.ConfigurationError, err, "kernel %s [%s]: building bind group %d", h.Label, h.ID, idx)
		}
		groups[idx] = bg
	}
	return groups, nil
}

// Dispatch records the compute pass for this kernel with the given bind
// groups (each set at its own group index, in map iteration order) and
// workgroup counts.
func (h *Handle) Dispatch(encoder *wgpu.CommandEncoder, groups map[uint32]*wgpu.BindGroup, groupsX, groupsY, groupsZ uint32) {
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(h.Pipeline)
	for idx, bg := range groups {
		pass.SetBindGroup(idx, bg, nil)
	}
	pass.DispatchWorkgroups(groupsX, groupsY, groupsZ)
	pass.End()
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// ImageDispatchSize computes the (groupsX, groupsY, 1) size for an
// image-space kernel over a width x height target, using the fixed 8x8
// work-group.
func ImageDispatchSize(width, height uint32) (uint32, uint32, uint32) {
	return ceilDiv(width, WorkgroupSize), ceilDiv(height, WorkgroupSize), 1
}

// ClusterDispatchSize computes the dispatch size for a cluster-space
// kernel: one invocation per cluster, WorkgroupSize x WorkgroupSize
// clusters per work-group in X/Y, one layer per Z slice.
func ClusterDispatchSize(gridX, gridY, gridZ uint32) (uint32, uint32, uint32) {
	return ceilDiv(gridX, WorkgroupSize), ceilDiv(gridY, WorkgroupSize), gridZ
}

// PingPong holds two buffers of type T and an explicit selector for which
// one is "current". Callers never derive the selection from a raw frame
// counter; Flip is the only way to advance it.
type PingPong[T any] struct {
	a, b    T
	current bool
}

// NewPingPong constructs a PingPong with a as the initial current buffer.
func NewPingPong[T any](a, b T) *PingPong[T] {
	return &PingPong[T]{a: a, b: b, current: true}
}

// Current returns the buffer reads should consume this pass.
func (p *PingPong[T]) Current() T {
	if p.current {
		return p.a
	}
	return p.b
}

// Write returns the buffer this pass's output should be written to.
func (p *PingPong[T]) Write() T {
	if p.current {
		return p.b
	}
	return p.a
}

// Flip swaps which buffer is current; call exactly once per iteration that
// produced a new "current" result.
func (p *PingPong[T]) Flip() {
	p.current = !p.current
}
