package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/novaengine/rtgi/kernel"
	"github.com/novaengine/rtgi/rtgicore"
)

// Kernel indices into the pipeline's handle array; stages refer to kernels
// by index, never by name, after init.
const (
	kCull = iota
	kRestirInitial
	kRestirTemporal
	kRestirSpatial
	kRestirFinal
	kSvgfTemporal
	kSvgfVariance
	kSvgfWavelet
	kSvgfModulate
	kDebugView
	kernelCount
)

// kernelSpec pairs a stable catalog name with the binding table its WGSL
// source declares.
type kernelSpec struct {
	name  string
	table []kernel.Binding
}

var kernelSpecs = [kernelCount]kernelSpec{
	kCull: {"clustered_light_culling", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "cluster_aabbs"},
		{Slot: 2, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "lights"},
		{Slot: 3, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "cluster_meta"},
		{Slot: 4, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "light_indices"},
		{Slot: 5, Class: kernel.ClassAtomicCounter, Access: kernel.AccessReadWrite, Name: "index_cursor"},
		{Slot: 6, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "stats"},
	}},
	kRestirInitial: {"restir_initial", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_position"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 4, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "lights"},
		{Slot: 5, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "cluster_meta"},
		{Slot: 6, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "light_indices"},
		{Slot: 7, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "reservoirs_out"},
	}},
	kRestirTemporal: {"restir_temporal", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_position"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 4, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "motion_vectors"},
		{Slot: 5, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "lights"},
		{Slot: 6, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "reservoirs_prev"},
		{Slot: 7, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "reservoirs_cur"},
		{Slot: 8, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "stats"},
	}},
	kRestirSpatial: {"restir_spatial", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_position"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 4, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "lights"},
		{Slot: 5, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "reservoirs_in"},
		{Slot: 6, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "reservoirs_out"},
	}},
	kRestirFinal: {"restir_final", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_position"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_albedo"},
		{Slot: 4, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 5, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "reservoirs"},
		{Slot: 6, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "lights"},
		{Slot: 7, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "output"},
	}},
	kSvgfTemporal: {"svgf_temporal", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "noisy_color"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 4, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "motion_vectors"},
		{Slot: 5, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "prev_color"},
		{Slot: 6, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "prev_moments"},
		{Slot: 7, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "prev_history"},
		{Slot: 8, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "out_color"},
		{Slot: 9, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "out_moments"},
		{Slot: 10, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "out_history"},
		{Slot: 11, Class: kernel.ClassStorageBuffer, Access: kernel.AccessReadWrite, Name: "stats"},
	}},
	kSvgfVariance: {"svgf_variance", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "integrated_color"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "moments"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "history"},
		{Slot: 4, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "out_variance"},
	}},
	kSvgfWavelet: {"svgf_wavelet", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "in_color"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "variance_tex"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 4, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 5, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "out_color"},
	}},
	kSvgfModulate: {"svgf_modulate", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "filtered_color"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_albedo"},
		{Slot: 3, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "output"},
	}},
	kDebugView: {"debug_view", []kernel.Binding{
		{Slot: 0, Class: kernel.ClassUniformBuffer, Access: kernel.AccessRead, Name: "params"},
		{Slot: 1, Class: kernel.ClassStorageBuffer, Access: kernel.AccessRead, Name: "reservoirs"},
		{Slot: 2, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "variance_tex"},
		{Slot: 3, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "history_tex"},
		{Slot: 4, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_normal"},
		{Slot: 5, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "gbuffer_depth"},
		{Slot: 6, Class: kernel.ClassSampledTexture, Access: kernel.AccessRead, Name: "motion_vectors"},
		{Slot: 7, Class: kernel.ClassStorageImage, Access: kernel.AccessWrite, Name: "output"},
	}},
}

// loadKernels compiles every catalog kernel from the given name -> WGSL
// source map. Missing or broken sources fail the whole load.
func loadKernels(device *wgpu.Device, sources map[string]string) ([kernelCount]*kernel.Handle, *rtgicore.Error) {
	var handles [kernelCount]*kernel.Handle
	for i, spec := range kernelSpecs {
		src, ok := sources[spec.name]
		if !ok {
			return handles, rtgicore.New(rtgicore.KernelLoadFailed, "kernel %s has no source in the catalog", spec.name)
		}
		h, rerr := kernel.Load(device, spec.name, "main", src, spec.table)
		if rerr != nil {
			return handles, rerr
		}
		handles[i] = h
	}
	return handles, nil
}
