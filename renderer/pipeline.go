// Package renderer runs the multi-pass adjustment pipeline: per-pass dirty
// tracking, pooled intermediates, scheduled redraws and full resolution
// export.
package renderer

import (
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"
	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/inputs"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/resource"
	"github.com/richinsley/darkroom/scheduler"
	"github.com/richinsley/darkroom/shader"
)

// Pipeline owns one device's programs, pooled targets and scheduler. It is
// not safe for concurrent use.
type Pipeline struct {
	id       string
	manager  *graphics.Manager
	composer *shader.Composer
	host     scheduler.Host
	opts     Options

	programs *ProgramCache
	pool     *resource.Pool
	sched    *scheduler.Scheduler
	passes   []*Pass

	image     image.Image
	source    *inputs.Source
	sourceTex graphics.TextureID
	width     int
	height    int

	state      adjust.State
	firstFrame bool
	frames     int
	disposed   bool
	sweep      scheduler.Timer

	onError    []func(error)
	onComplete []func()
}

// New creates a pipeline on the manager's device and compiles every
// built-in program. Programs that fail to compile are reported when a frame
// needs them.
func New(manager *graphics.Manager, composer *shader.Composer, host scheduler.Host, opts Options) (*Pipeline, error) {
	if manager == nil || manager.Device() == nil {
		return nil, fmt.Errorf("renderer: %w", graphics.ErrContextLost)
	}
	if composer == nil {
		composer = shader.NewComposer(shader.DefaultComposerConfig())
	}
	def := DefaultOptions()
	if opts.PreviewMaxDimension <= 0 {
		opts.PreviewMaxDimension = def.PreviewMaxDimension
	}
	if opts.Pool.Clock == nil {
		opts.Pool.Clock = host.Now
	}

	p := &Pipeline{
		id:       uuid.NewString(),
		manager:  manager,
		composer: composer,
		host:     host,
		opts:     opts,
		passes:   newPasses(),
		state:    adjust.Default(),
	}
	p.sched = scheduler.New(host, opts.Scheduler, p.scheduledFrame)
	if err := p.setup(manager.Device()); err != nil {
		return nil, err
	}
	p.armSweep()
	logging.Logger().Info("renderer: pipeline created",
		"pipeline", p.id,
		"offscreen", opts.Offscreen,
		"format", p.pool.Format(opts.Format).String(),
	)
	return p, nil
}

func (p *Pipeline) setup(dev graphics.Device) error {
	p.programs = NewProgramCache(dev, p.composer)
	errs := p.programs.CompileBuiltins()
	if len(errs) > 0 && p.programs.Stats().Programs == 0 {
		return fmt.Errorf("renderer: no program compiled: %w", errors.Join(errs...))
	}
	p.pool = resource.NewPool(dev, p.opts.Pool)
	return nil
}

func (p *Pipeline) armSweep() {
	p.sweep = p.host.AfterFunc(p.pool.Config().SweepInterval, func() {
		if p.disposed {
			return
		}
		p.pool.Sweep(p.host.Now())
		p.armSweep()
	})
}

// ID identifies the pipeline in logs.
func (p *Pipeline) ID() string {
	return p.id
}

// OnFrameError registers a callback for frames that failed.
func (p *Pipeline) OnFrameError(f func(error)) {
	p.onError = append(p.onError, f)
}

// OnFrameComplete registers a callback for frames that succeeded.
func (p *Pipeline) OnFrameComplete(f func()) {
	p.onComplete = append(p.onComplete, f)
}

func (p *Pipeline) maxDimension() int {
	limit := p.manager.Device().Info().MaxTextureSize
	if p.opts.FullResolution {
		return limit
	}
	if limit > 0 {
		return min(p.opts.PreviewMaxDimension, limit)
	}
	return p.opts.PreviewMaxDimension
}

// LoadSource prepares and uploads img, drops intermediates belonging to the
// previous image and marks every pass dirty.
func (p *Pipeline) LoadSource(img image.Image) error {
	if p.disposed {
		return ErrDisposed
	}
	if p.manager.Lost() {
		return graphics.ErrContextLost
	}
	src, err := inputs.Prepare(img, p.maxDimension())
	if err != nil {
		return err
	}
	dev := p.manager.Device()
	tex, err := dev.UploadImage(src.Image)
	if err != nil {
		return fmt.Errorf("failed to upload source: %w", err)
	}
	if p.sourceTex != 0 {
		dev.DeleteTexture(p.sourceTex)
	}
	p.releaseOutputs()
	p.image = img
	p.source = src
	p.sourceTex = tex
	p.resize()
	p.markDirty(adjust.StageGeometry)
	p.firstFrame = true
	logging.Logger().Info("renderer: source loaded",
		"pipeline", p.id,
		"original", fmt.Sprintf("%dx%d", src.OriginalWidth, src.OriginalHeight),
		"render", fmt.Sprintf("%dx%d", p.width, p.height),
	)
	return nil
}

func (p *Pipeline) resize() {
	c := p.state.Geometry.Crop
	p.width = max(1, int(float32(p.source.Width)*c.W+0.5))
	p.height = max(1, int(float32(p.source.Height)*c.H+0.5))
}

func (p *Pipeline) releaseOutputs() {
	for _, pass := range p.passes {
		if pass.output != nil {
			p.pool.Release(pass.output.Framebuffer)
			pass.output = nil
		}
	}
}

func (p *Pipeline) markDirty(from adjust.Stage) {
	for _, pass := range p.passes {
		if pass.Stage >= from {
			pass.dirty = true
		}
	}
}

// DirtyPasses returns the names of passes that will run on the next frame.
func (p *Pipeline) DirtyPasses() []string {
	var out []string
	for _, pass := range p.passes {
		if pass.dirty {
			out = append(out, pass.Name)
		}
	}
	return out
}

func (p *Pipeline) apply(adj adjust.State) bool {
	adj = adj.Normalize()
	st := adjust.Diff(p.state, adj)
	cropChanged := adj.Geometry.Crop != p.state.Geometry.Crop
	p.state = adj
	if st != adjust.StageNone {
		p.markDirty(st)
	}
	if cropChanged && p.source != nil {
		p.resize()
	}
	for _, pass := range p.passes {
		if pass.dirty {
			return true
		}
	}
	return false
}

// Submit stores adj and schedules a frame when any pass became dirty.
// Submitting the current state again does nothing.
func (p *Pipeline) Submit(adj adjust.State) error {
	if p.disposed {
		return ErrDisposed
	}
	if p.source == nil {
		return ErrNotInitialized
	}
	if p.apply(adj) {
		p.sched.RequestFrame()
	}
	return nil
}

// RenderNow stores adj, cancels scheduled work and renders one frame
// before returning.
func (p *Pipeline) RenderNow(adj adjust.State) error {
	if p.disposed {
		return ErrDisposed
	}
	if p.source == nil {
		return ErrNotInitialized
	}
	p.apply(adj)
	p.sched.CancelPending()
	return p.executeFrame()
}

func (p *Pipeline) scheduledFrame() {
	if err := p.executeFrame(); err != nil {
		logging.Logger().Error("renderer: frame failed", "pipeline", p.id, "error", err)
		for _, f := range p.onError {
			f(err)
		}
		return
	}
	for _, f := range p.onComplete {
		f()
	}
}

func (p *Pipeline) executeFrame() error {
	if p.disposed {
		return nil
	}
	if p.manager.Lost() {
		return graphics.ErrContextLost
	}
	f := &frameInfo{state: p.state, width: p.width, height: p.height, toneMap: p.opts.ToneMapper}
	input := p.sourceTex
	ran := 0
	for i, pass := range p.passes {
		last := i == len(p.passes)-1
		if !pass.dirty && !p.firstFrame {
			if pass.output != nil {
				input = pass.output.Texture
			}
			continue
		}

		target := graphics.Screen
		if !last || p.opts.Offscreen {
			fb, err := p.passTarget(pass)
			if err != nil {
				return fmt.Errorf("pass %s: %w", pass.Name, err)
			}
			target = fb
		}

		var err error
		switch pass.Kind {
		case Regular:
			err = p.draw(pass.program, pass.uniforms, f, []graphics.TextureID{input}, target)
		case Composite:
			err = pass.sub.run(p, f, input, target)
		}
		if err != nil {
			return fmt.Errorf("pass %s: %w", pass.Name, err)
		}
		pass.dirty = false
		pass.executions++
		ran++
		if pass.output != nil && target != graphics.Screen {
			input = pass.output.Texture
		}
	}
	p.firstFrame = false
	if ran > 0 {
		p.frames++
		p.manager.Device().Flush()
	}
	return nil
}

// passTarget returns the pass's cached target, replacing it when the render
// size changed.
func (p *Pipeline) passTarget(pass *Pass) (graphics.FramebufferID, error) {
	format := p.pool.Format(p.opts.Format)
	if e := pass.output; e != nil {
		if e.Width == p.width && e.Height == p.height && e.Format == format {
			return e.Framebuffer, nil
		}
		p.pool.Release(e.Framebuffer)
		pass.output = nil
	}
	e, err := p.pool.Acquire(p.width, p.height, p.opts.Format)
	if err != nil {
		return 0, err
	}
	pass.output = e
	return e.Framebuffer, nil
}

func (p *Pipeline) draw(name string, uniforms uniformFunc, f *frameInfo, in []graphics.TextureID, target graphics.FramebufferID) error {
	prog, err := p.programs.lookup(name)
	if err != nil {
		return err
	}
	u := graphics.Uniforms{}
	u.Set2f("u_resolution", float32(f.width), float32(f.height))
	if uniforms != nil {
		uniforms(f, u)
	}
	return p.manager.Device().Draw(graphics.DrawCall{
		Program:  prog.id,
		Target:   target,
		Inputs:   in,
		Uniforms: u,
		Width:    f.width,
		Height:   f.height,
	})
}

// Rebuild recreates everything device-bound after the manager brought up a
// new device: programs, pool and source texture. Handles of the old device
// are forgotten, not deleted.
func (p *Pipeline) Rebuild() error {
	if p.disposed {
		return ErrDisposed
	}
	p.sched.CancelPending()
	dev := p.manager.Device()
	if dev == nil || p.manager.Lost() {
		return graphics.ErrContextLost
	}
	for _, pass := range p.passes {
		pass.output = nil
	}
	p.pool.Reset()
	p.sourceTex = 0
	if err := p.setup(dev); err != nil {
		return err
	}
	p.markDirty(adjust.StageGeometry)
	p.firstFrame = true
	if p.image != nil {
		src := p.image
		p.source = nil
		if err := p.LoadSource(src); err != nil {
			return fmt.Errorf("failed to reload source: %w", err)
		}
	}
	logging.Logger().Info("renderer: pipeline rebuilt", "pipeline", p.id, "generation", p.manager.Generation())
	return nil
}

// Dispose releases programs, pooled targets and the source texture once.
func (p *Pipeline) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true
	p.sched.Dispose()
	if p.sweep != nil {
		p.sweep.Stop()
	}
	if dev := p.manager.Device(); dev != nil && !p.manager.Lost() {
		p.programs.Dispose()
		p.pool.Dispose()
		if p.sourceTex != 0 {
			dev.DeleteTexture(p.sourceTex)
		}
	}
	p.sourceTex = 0
	for _, pass := range p.passes {
		pass.output = nil
	}
	p.onError = nil
	p.onComplete = nil
	logging.Logger().Info("renderer: pipeline disposed", "pipeline", p.id, "frames", p.frames)
}

// Disposed reports whether Dispose ran.
func (p *Pipeline) Disposed() bool {
	return p.disposed
}

// State returns the last submitted adjustments.
func (p *Pipeline) State() adjust.State {
	return p.state
}

// PreviewSize returns the render size.
func (p *Pipeline) PreviewSize() (int, int) {
	return p.width, p.height
}

// OriginalSize returns the size of the loaded image before downscaling.
func (p *Pipeline) OriginalSize() (int, int) {
	if p.source == nil {
		return 0, 0
	}
	return p.source.OriginalWidth, p.source.OriginalHeight
}

// FPS returns the scheduler's current frame rate.
func (p *Pipeline) FPS() float64 {
	return p.sched.FPS()
}

// Degraded reports reduced precision or throttled frames.
func (p *Pipeline) Degraded() bool {
	return p.pool.Degraded() || p.sched.Degraded()
}

// Performance returns the scheduler's frame timing.
func (p *Pipeline) Performance() scheduler.Performance {
	return p.sched.Stats()
}

// PoolStats returns the render target pool counters.
func (p *Pipeline) PoolStats() resource.Stats {
	return p.pool.Stats()
}

// ProgramStats returns the program cache counters.
func (p *Pipeline) ProgramStats() ProgramStats {
	return p.programs.Stats()
}

// Frames returns the number of completed frames.
func (p *Pipeline) Frames() int {
	return p.frames
}

// PassExecutions returns how often each pass has drawn.
func (p *Pipeline) PassExecutions() map[string]int {
	out := make(map[string]int, len(p.passes))
	for _, pass := range p.passes {
		out[pass.Name] = pass.executions
	}
	return out
}

// PassOutput returns the cached output texture of the named pass.
func (p *Pipeline) PassOutput(name string) (graphics.TextureID, bool) {
	for _, pass := range p.passes {
		if pass.Name == name && pass.output != nil {
			return pass.output.Texture, true
		}
	}
	return 0, false
}

// finalTarget returns the framebuffer holding the last frame.
func (p *Pipeline) finalTarget() graphics.FramebufferID {
	if p.opts.Offscreen {
		if out := p.passes[len(p.passes)-1].output; out != nil {
			return out.Framebuffer
		}
	}
	return graphics.Screen
}

// ReadPreview reads back the last rendered frame as a top-down image.
func (p *Pipeline) ReadPreview() (*image.NRGBA, error) {
	if p.disposed {
		return nil, ErrDisposed
	}
	if p.source == nil {
		return nil, ErrNotInitialized
	}
	w, h := p.width, p.height
	if !p.opts.Offscreen {
		sw, sh := p.manager.Device().SurfaceSize()
		w, h = min(w, sw), min(h, sh)
	}
	pix, err := p.manager.Device().ReadPixels(p.finalTarget(), w, h)
	if err != nil {
		return nil, err
	}
	return inputs.FromReadback(pix, w, h)
}
