package renderer

import (
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/resource"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
)

// Options configures a Pipeline.
type Options struct {
	// PreviewMaxDimension bounds the long edge of the preview render.
	PreviewMaxDimension int
	// FullResolution renders at source resolution.
	FullResolution bool
	// Offscreen sends the final pass to a pooled target instead of the
	// visible surface.
	Offscreen bool
	// ToneMapper selects shader.ToneMapClip or shader.ToneMapFilmic.
	ToneMapper int
	// Format of intermediate targets. Float formats downgrade to RGBA8 on
	// devices that cannot render to them.
	Format graphics.Format

	Pool      resource.Config
	Scheduler scheduler.Config
}

// DefaultOptions returns options for an interactive preview.
func DefaultOptions() Options {
	return Options{
		PreviewMaxDimension: 2048,
		ToneMapper:          shader.ToneMapClip,
		Format:              graphics.FormatRGBA16F,
		Pool:                resource.DefaultConfig(),
		Scheduler:           scheduler.DefaultConfig(),
	}
}
