package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/novaengine/rtgi/gpures"
	"github.com/novaengine/rtgi/rtgicore"
)

// GBuffers are the five caller-owned per-pixel surface attribute textures
// the pipeline reads each frame.
type GBuffers struct {
	Position *gpures.SampledTexture2D // rgba32f, xyz world-space hit
	Normal   *gpures.SampledTexture2D // rgba16f, unit world-space normal
	Albedo   *gpures.SampledTexture2D // rgba8, linear base color
	Depth    *gpures.SampledTexture2D // r32f, linear view-space depth
	Motion   *gpures.SampledTexture2D // rg16f, screen-space pixel displacement
}

// Validate checks formats and dimensions against the configured viewport.
func (g GBuffers) Validate(width, height uint32) *rtgicore.Error {
	checks := []struct {
		name   string
		tex    *gpures.SampledTexture2D
		format wgpu.TextureFormat
	}{
		{"position", g.Position, wgpu.TextureFormatRGBA32Float},
		{"normal", g.Normal, wgpu.TextureFormatRGBA16Float},
		{"albedo", g.Albedo, wgpu.TextureFormatRGBA8Unorm},
		{"depth", g.Depth, wgpu.TextureFormatR32Float},
		{"motion", g.Motion, wgpu.TextureFormatRG16Float},
	}
	for _, c := range checks {
		if c.tex == nil {
			return rtgicore.New(rtgicore.InvalidFormat, "g-buffer %s is nil", c.name)
		}
		if c.tex.Format() != c.format {
			return rtgicore.New(rtgicore.InvalidFormat, "g-buffer %s has format %v, want %v", c.name, c.tex.Format(), c.format)
		}
		if c.tex.Width() != width || c.tex.Height() != height {
			return rtgicore.New(rtgicore.ViewportMismatch, "g-buffer %s is %dx%d, viewport is %dx%d",
				c.name, c.tex.Width(), c.tex.Height(), width, height)
		}
	}
	return nil
}

// validateOutput checks the output image against the viewport contract.
func validateOutput(out *gpures.StorageImage2D, width, height uint32) *rtgicore.Error {
	if out == nil {
		return rtgicore.New(rtgicore.InvalidFormat, "output texture is nil")
	}
	if out.Format() != wgpu.TextureFormatRGBA16Float {
		return rtgicore.New(rtgicore.InvalidFormat, "output has format %v, want rgba16f", out.Format())
	}
	if out.Width() != width || out.Height() != height {
		return rtgicore.New(rtgicore.ViewportMismatch, "output is %dx%d, viewport is %dx%d",
			out.Width(), out.Height(), width, height)
	}
	return nil
}
