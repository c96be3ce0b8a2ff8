// Package shaders embeds the WGSL compute kernel catalog. Kernel names are
// stable; hosts that ship their own kernel variants can substitute sources
// by name at pipeline init.
package shaders

import (
	_ "embed"
)

//go:embed clustered_light_culling.wgsl
var ClusteredLightCullingWGSL string

//go:embed restir_initial.wgsl
var RestirInitialWGSL string

//go:embed restir_temporal.wgsl
var RestirTemporalWGSL string

//go:embed restir_spatial.wgsl
var RestirSpatialWGSL string

//go:embed restir_final.wgsl
var RestirFinalWGSL string

//go:embed svgf_temporal.wgsl
var SvgfTemporalWGSL string

//go:embed svgf_variance.wgsl
var SvgfVarianceWGSL string

//go:embed svgf_wavelet.wgsl
var SvgfWaveletWGSL string

//go:embed svgf_modulate.wgsl
var SvgfModulateWGSL string

//go:embed debug_view.wgsl
var DebugViewWGSL string

// Catalog maps the stable kernel names to their embedded WGSL sources.
func Catalog() map[string]string {
	return map[string]string{
		"clustered_light_culling": ClusteredLightCullingWGSL,
		"restir_initial":          RestirInitialWGSL,
		"restir_temporal":         RestirTemporalWGSL,
		"restir_spatial":          RestirSpatialWGSL,
		"restir_final":            RestirFinalWGSL,
		"svgf_temporal":           SvgfTemporalWGSL,
		"svgf_variance":           SvgfVarianceWGSL,
		"svgf_wavelet":            SvgfWaveletWGSL,
		"svgf_modulate":           SvgfModulateWGSL,
		"debug_view":              DebugViewWGSL,
	}
}
