// Package softgpu is a CPU implementation of graphics.Device. It runs the
// reference kernels of the built-in programs and serves both as the reduced
// capability fallback path and as a deterministic device for tests.
package softgpu

import (
	"fmt"
	"image"
	"math"

	"github.com/richinsley/darkroom/graphics"
)

// Options configures a software device.
type Options struct {
	// Width and Height size the visible surface.
	Width  int
	Height int
	// FloatTargets controls whether float formats report complete.
	FloatTargets bool
	// MaxTextureSize bounds texture dimensions; 0 means 16384.
	MaxTextureSize int
}

type texture struct {
	w, h   int
	format graphics.Format
	pix    []float32 // RGBA, rows bottom-up
}

func newTexture(w, h int, f graphics.Format) *texture {
	return &texture{w: w, h: h, format: f, pix: make([]float32, w*h*4)}
}

type program struct {
	name     string
	kernel   Kernel
	bindings graphics.Bindings
}

type framebuffer struct {
	tex graphics.TextureID
}

// Device is a software graphics.Device.
type Device struct {
	opts     Options
	next     uint32
	released bool

	programs     map[graphics.ProgramID]*program
	textures     map[graphics.TextureID]*texture
	framebuffers map[graphics.FramebufferID]*framebuffer
	fences       map[graphics.FenceID]struct{}
	screen       *texture

	draws map[string]int
}

var _ graphics.Device = (*Device)(nil)

// New creates a software device with a surface of opts.Width x opts.Height.
func New(opts Options) *Device {
	if opts.MaxTextureSize <= 0 {
		opts.MaxTextureSize = 16384
	}
	return &Device{
		opts:         opts,
		programs:     make(map[graphics.ProgramID]*program),
		textures:     make(map[graphics.TextureID]*texture),
		framebuffers: make(map[graphics.FramebufferID]*framebuffer),
		fences:       make(map[graphics.FenceID]struct{}),
		screen:       newTexture(max(opts.Width, 0), max(opts.Height, 0), graphics.FormatRGBA8),
		draws:        make(map[string]int),
	}
}

// Factory returns a graphics.DeviceFactory producing devices with opts.
func Factory(opts Options) graphics.DeviceFactory {
	return func() (graphics.Device, error) {
		return New(opts), nil
	}
}

func (d *Device) id() uint32 {
	d.next++
	return d.next
}

// Resize changes the visible surface size, discarding its contents.
func (d *Device) Resize(width, height int) {
	d.screen = newTexture(width, height, graphics.FormatRGBA8)
}

// Draws returns how many draws ran with the named program.
func (d *Device) Draws(name string) int {
	return d.draws[name]
}

// Live returns the number of live programs, textures and framebuffers.
func (d *Device) Live() (programs, textures, framebuffers int) {
	return len(d.programs), len(d.textures), len(d.framebuffers)
}

func (d *Device) Info() graphics.Info {
	return graphics.Info{
		Name:           "softgpu",
		FloatTargets:   d.opts.FloatTargets,
		MaxTextureSize: d.opts.MaxTextureSize,
	}
}

func (d *Device) CompileProgram(src graphics.ProgramSource) (graphics.ProgramID, graphics.Bindings, error) {
	if d.released {
		return 0, graphics.Bindings{}, graphics.ErrDeviceReleased
	}
	k, ok := lookupKernel(src.Name)
	if !ok {
		return 0, graphics.Bindings{}, fmt.Errorf("%w: no kernel for program %q", graphics.ErrShader, src.Name)
	}
	id := graphics.ProgramID(d.id())
	d.programs[id] = &program{name: src.Name, kernel: k.fn, bindings: k.bindings}
	return id, k.bindings, nil
}

func (d *Device) DeleteProgram(p graphics.ProgramID) {
	delete(d.programs, p)
}

func (d *Device) UploadImage(img *image.NRGBA64) (graphics.TextureID, error) {
	if d.released {
		return 0, graphics.ErrDeviceReleased
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || w > d.opts.MaxTextureSize || h > d.opts.MaxTextureSize {
		return 0, fmt.Errorf("%w: texture %dx%d", graphics.ErrOutOfMemory, w, h)
	}
	t := newTexture(w, h, graphics.FormatRGBA16F)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			s := row[x*8:]
			o := (y*w + x) * 4
			t.pix[o+0] = float32(uint16(s[0])<<8|uint16(s[1])) / 65535
			t.pix[o+1] = float32(uint16(s[2])<<8|uint16(s[3])) / 65535
			t.pix[o+2] = float32(uint16(s[4])<<8|uint16(s[5])) / 65535
			t.pix[o+3] = float32(uint16(s[6])<<8|uint16(s[7])) / 65535
		}
	}
	id := graphics.TextureID(d.id())
	d.textures[id] = t
	return id, nil
}

func (d *Device) CreateTexture(width, height int, format graphics.Format) (graphics.TextureID, error) {
	if d.released {
		return 0, graphics.ErrDeviceReleased
	}
	if width <= 0 || height <= 0 || width > d.opts.MaxTextureSize || height > d.opts.MaxTextureSize {
		return 0, fmt.Errorf("%w: texture %dx%d", graphics.ErrOutOfMemory, width, height)
	}
	id := graphics.TextureID(d.id())
	d.textures[id] = newTexture(width, height, format)
	return id, nil
}

func (d *Device) DeleteTexture(t graphics.TextureID) {
	delete(d.textures, t)
}

func (d *Device) CreateFramebuffer() (graphics.FramebufferID, error) {
	if d.released {
		return 0, graphics.ErrDeviceReleased
	}
	id := graphics.FramebufferID(d.id())
	d.framebuffers[id] = &framebuffer{}
	return id, nil
}

func (d *Device) AttachTexture(fb graphics.FramebufferID, t graphics.TextureID) error {
	f, ok := d.framebuffers[fb]
	if !ok {
		return fmt.Errorf("%w: framebuffer %d", graphics.ErrUnknownHandle, fb)
	}
	if _, ok := d.textures[t]; !ok {
		return fmt.Errorf("%w: texture %d", graphics.ErrUnknownHandle, t)
	}
	f.tex = t
	return nil
}

func (d *Device) FramebufferStatus(fb graphics.FramebufferID) error {
	f, ok := d.framebuffers[fb]
	if !ok {
		return fmt.Errorf("%w: framebuffer %d", graphics.ErrUnknownHandle, fb)
	}
	t, ok := d.textures[f.tex]
	if !ok {
		return fmt.Errorf("%w: no color attachment", graphics.ErrIncompleteTarget)
	}
	if t.format.IsFloat() && !d.opts.FloatTargets {
		return fmt.Errorf("%w: %s not color-renderable", graphics.ErrIncompleteTarget, t.format)
	}
	return nil
}

func (d *Device) DeleteFramebuffer(fb graphics.FramebufferID) {
	delete(d.framebuffers, fb)
}

func (d *Device) target(fb graphics.FramebufferID) (*texture, error) {
	if fb == graphics.Screen {
		return d.screen, nil
	}
	f, ok := d.framebuffers[fb]
	if !ok {
		return nil, fmt.Errorf("%w: framebuffer %d", graphics.ErrUnknownHandle, fb)
	}
	t, ok := d.textures[f.tex]
	if !ok {
		return nil, fmt.Errorf("%w: framebuffer %d", graphics.ErrIncompleteTarget, fb)
	}
	return t, nil
}

func (d *Device) Draw(call graphics.DrawCall) error {
	if d.released {
		return graphics.ErrDeviceReleased
	}
	p, ok := d.programs[call.Program]
	if !ok {
		return fmt.Errorf("%w: program %d not linked", graphics.ErrShader, call.Program)
	}
	dst, err := d.target(call.Target)
	if err != nil {
		return err
	}
	inputs := make([]*texture, len(call.Inputs))
	for i, id := range call.Inputs {
		t, ok := d.textures[id]
		if !ok {
			return fmt.Errorf("%w: input texture %d", graphics.ErrUnknownHandle, id)
		}
		inputs[i] = t
	}
	w, h := min(call.Width, dst.w), min(call.Height, dst.h)
	if w <= 0 || h <= 0 {
		w, h = dst.w, dst.h
	}
	f := &Frag{W: w, H: h, Uniforms: call.Uniforms, inputs: inputs}
	if f.Uniforms == nil {
		f.Uniforms = graphics.Uniforms{}
	}
	quantize := !dst.format.IsFloat()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.X, f.Y = x, y
			f.U = (float32(x) + 0.5) / float32(w)
			f.V = (float32(y) + 0.5) / float32(h)
			c := p.kernel(f)
			o := (y*dst.w + x) * 4
			for i := 0; i < 4; i++ {
				v := c[i]
				if quantize {
					v = quantize8(v)
				}
				dst.pix[o+i] = v
			}
		}
	}
	d.draws[p.name]++
	return nil
}

func (d *Device) SurfaceSize() (int, int) {
	return d.screen.w, d.screen.h
}

func (d *Device) ReadPixels(fb graphics.FramebufferID, width, height int) ([]byte, error) {
	if d.released {
		return nil, graphics.ErrDeviceReleased
	}
	t, err := d.target(fb)
	if err != nil {
		return nil, err
	}
	if width > t.w || height > t.h {
		return nil, fmt.Errorf("softgpu: read %dx%d exceeds target %dx%d", width, height, t.w, t.h)
	}
	out := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			s := (y*t.w + x) * 4
			o := (y*width + x) * 4
			for i := 0; i < 4; i++ {
				out[o+i] = byte(quantize8(t.pix[s+i])*255 + 0.5)
			}
		}
	}
	return out, nil
}

// InsertFence returns a fence that is already signaled; draws are synchronous.
func (d *Device) InsertFence() (graphics.FenceID, error) {
	if d.released {
		return 0, graphics.ErrDeviceReleased
	}
	id := graphics.FenceID(d.id())
	d.fences[id] = struct{}{}
	return id, nil
}

func (d *Device) FenceSignaled(f graphics.FenceID) (bool, error) {
	if _, ok := d.fences[f]; !ok {
		return false, fmt.Errorf("%w: fence %d", graphics.ErrUnknownHandle, f)
	}
	return true, nil
}

func (d *Device) DeleteFence(f graphics.FenceID) {
	delete(d.fences, f)
}

func (d *Device) Flush() {}

func (d *Device) Release() {
	d.released = true
	clear(d.programs)
	clear(d.textures)
	clear(d.framebuffers)
	clear(d.fences)
}

// quantize8 clamps v to [0,1] and rounds it to the nearest 8-bit level.
func quantize8(v float32) float32 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return float32(math.Round(float64(v)*255)) / 255
}
