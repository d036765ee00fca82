package renderer

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/inputs"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
)

// ExportOptions controls a single export.
type ExportOptions struct {
	// Dither enables ordered dithering before 8-bit quantization.
	Dither bool
	// DitherStrength scales the dither amplitude; 0 means 1.
	DitherStrength float32
	// FenceTimeout bounds the wait for the GPU to finish.
	FenceTimeout time.Duration
	// PollInterval is how often the fence is checked.
	PollInterval time.Duration
}

// DefaultExportOptions returns the default export options.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Dither:         true,
		DitherStrength: 1,
		FenceTimeout:   10 * time.Second,
		PollInterval:   2 * time.Millisecond,
	}
}

// Exporter renders full resolution images through a private pipeline.
type Exporter struct {
	manager  *graphics.Manager
	composer *shader.Composer
	host     scheduler.Host
	opts     Options
}

// NewExporter returns an exporter sharing the manager's device. opts is the
// base configuration; resolution, target and tone mapping are overridden.
func NewExporter(manager *graphics.Manager, composer *shader.Composer, host scheduler.Host, opts Options) *Exporter {
	opts.FullResolution = true
	opts.Offscreen = true
	opts.ToneMapper = shader.ToneMapFilmic
	return &Exporter{manager: manager, composer: composer, host: host, opts: opts}
}

// Export renders img with adj and returns the 8-bit result with its first
// row at the top.
func (e *Exporter) Export(ctx context.Context, img image.Image, adj adjust.State, eo ExportOptions) (*image.NRGBA, error) {
	def := DefaultExportOptions()
	if eo.DitherStrength <= 0 {
		eo.DitherStrength = def.DitherStrength
	}
	if eo.FenceTimeout <= 0 {
		eo.FenceTimeout = def.FenceTimeout
	}
	if eo.PollInterval <= 0 {
		eo.PollInterval = def.PollInterval
	}

	start := time.Now()
	p, err := New(e.manager, e.composer, e.host, e.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create export pipeline: %w", err)
	}
	defer p.Dispose()

	if err := p.LoadSource(img); err != nil {
		return nil, err
	}
	if err := p.RenderNow(adj); err != nil {
		return nil, err
	}

	w, h := p.PreviewSize()
	target, err := p.pool.Acquire(w, h, graphics.FormatRGBA8)
	if err != nil {
		return nil, err
	}
	defer p.pool.Release(target.Framebuffer)

	strength := float32(0)
	if eo.Dither {
		strength = eo.DitherStrength
	}
	final := p.passes[len(p.passes)-1].output
	f := &frameInfo{state: p.state, width: w, height: h}
	err = p.draw(shader.ProgramDither, func(_ *frameInfo, u graphics.Uniforms) {
		u.Set1f("u_strength", strength)
	}, f, []graphics.TextureID{final.Texture}, target.Framebuffer)
	if err != nil {
		return nil, fmt.Errorf("dither pass: %w", err)
	}

	if err := e.waitFence(ctx, eo); err != nil {
		return nil, err
	}

	pix, err := e.manager.Device().ReadPixels(target.Framebuffer, w, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadback, err)
	}
	out, err := inputs.FromReadback(pix, w, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadback, err)
	}
	logging.Logger().Info("renderer: export complete",
		"width", w,
		"height", h,
		"dither", eo.Dither,
		"elapsed", time.Since(start),
	)
	return out, nil
}

func (e *Exporter) waitFence(ctx context.Context, eo ExportOptions) error {
	dev := e.manager.Device()
	fence, err := dev.InsertFence()
	if err != nil {
		return err
	}
	defer dev.DeleteFence(fence)
	dev.Flush()

	deadline := time.Now().Add(eo.FenceTimeout)
	ticker := time.NewTicker(eo.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := dev.FenceSignaled(fence)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrExportTimeout, eo.FenceTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
