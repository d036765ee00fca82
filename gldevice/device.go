// Package gldevice implements graphics.Device on OpenGL 4.1 core or
// OpenGL ES 3.0. All calls must happen on the thread owning the context.
package gldevice

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/logging"
	"github.com/richinsley/darkroom/shader"
)

// GL_CONTEXT_LOST is core in 4.5 only.
const glContextLost = 0x0507

// Options configures a Device.
type Options struct {
	// GLES selects the ES dialect for translated shaders.
	GLES bool
	// Filter is "linear" or "nearest".
	Filter string
	// Wrap is "clamp", "repeat" or "mirror".
	Wrap string
}

// Device draws with the GL context current on the calling thread.
type Device struct {
	ctx  graphics.Context
	opts Options
	gles bool
	info graphics.Info

	quadVAO uint32
	quadVBO uint32
	pbo     uint32
	pboSize int

	programs     map[graphics.ProgramID]*program
	textures     map[graphics.TextureID]*texture
	framebuffers map[graphics.FramebufferID]graphics.TextureID
	fences       map[graphics.FenceID]uintptr
	nextFence    graphics.FenceID

	lost     bool
	released bool
}

var _ graphics.Device = (*Device)(nil)

// New makes ctx current, loads GL entry points and creates the quad every
// draw uses.
func New(ctx graphics.Context, opts Options) (*Device, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gldevice: nil context")
	}
	ctx.MakeCurrent()
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	d := &Device{
		ctx:          ctx,
		opts:         opts,
		gles:         opts.GLES,
		programs:     make(map[graphics.ProgramID]*program),
		textures:     make(map[graphics.TextureID]*texture),
		framebuffers: make(map[graphics.FramebufferID]graphics.TextureID),
		fences:       make(map[graphics.FenceID]uintptr),
	}

	var maxSize int32
	gl.GetIntegerv(gl.MAX_TEXTURE_SIZE, &maxSize)
	d.info = graphics.Info{
		Name:           gl.GoStr(gl.GetString(gl.RENDERER)),
		FloatTargets:   !d.gles || d.hasExtension("GL_EXT_color_buffer_float"),
		MaxTextureSize: int(maxSize),
	}

	gl.GenVertexArrays(1, &d.quadVAO)
	gl.GenBuffers(1, &d.quadVBO)
	gl.BindVertexArray(d.quadVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, d.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(shader.QuadVertices)*4, gl.Ptr(shader.QuadVertices), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, gl.PtrOffset(0))
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	gl.BindVertexArray(0)
	gl.GenBuffers(1, &d.pbo)

	if err := d.check("init"); err != nil {
		return nil, err
	}
	logging.Logger().Debug("gldevice: created",
		"renderer", d.info.Name,
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"gles", d.gles,
	)
	return d, nil
}

func (d *Device) hasExtension(name string) bool {
	var n int32
	gl.GetIntegerv(gl.NUM_EXTENSIONS, &n)
	for i := int32(0); i < n; i++ {
		if gl.GoStr(gl.GetStringi(gl.EXTENSIONS, uint32(i))) == name {
			return true
		}
	}
	return false
}

func (d *Device) Info() graphics.Info {
	return d.info
}

func (d *Device) usable() error {
	switch {
	case d.released:
		return graphics.ErrDeviceReleased
	case d.lost:
		return graphics.ErrContextLost
	}
	return nil
}

// check drains the GL error queue and maps the first error to a device
// error. A lost context sticks.
func (d *Device) check(op string) error {
	var first uint32
	for i := 0; i < 16; i++ {
		e := gl.GetError()
		if e == gl.NO_ERROR {
			break
		}
		if first == 0 {
			first = e
		}
		if e == glContextLost {
			first = e
			break
		}
	}
	switch first {
	case 0:
		return nil
	case glContextLost:
		d.lost = true
		return fmt.Errorf("%s: %w", op, graphics.ErrContextLost)
	case gl.OUT_OF_MEMORY:
		return fmt.Errorf("%s: %w", op, graphics.ErrOutOfMemory)
	}
	return fmt.Errorf("%s: gl error 0x%x", op, first)
}

// resolve looks up every handle a draw uses, so an unknown one fails before
// any GL state changes.
func (d *Device) resolve(call graphics.DrawCall) (*program, []uint32, error) {
	p, ok := d.programs[call.Program]
	if !ok {
		return nil, nil, fmt.Errorf("program %d: %w", call.Program, graphics.ErrUnknownHandle)
	}
	if call.Target != graphics.Screen {
		if _, ok := d.framebuffers[call.Target]; !ok {
			return nil, nil, fmt.Errorf("framebuffer %d: %w", call.Target, graphics.ErrUnknownHandle)
		}
	}
	inputs := make([]uint32, len(call.Inputs))
	for i, t := range call.Inputs {
		tex, ok := d.textures[t]
		if !ok {
			return nil, nil, fmt.Errorf("input %d texture %d: %w", i, t, graphics.ErrUnknownHandle)
		}
		inputs[i] = tex.id
	}
	return p, inputs, nil
}

func (d *Device) Draw(call graphics.DrawCall) error {
	if err := d.usable(); err != nil {
		return err
	}
	p, inputs, err := d.resolve(call)
	if err != nil {
		return err
	}

	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(call.Target))
	gl.Viewport(0, 0, int32(call.Width), int32(call.Height))
	gl.UseProgram(p.id)
	for name, v := range call.Uniforms {
		if u, ok := p.uniforms[name]; ok {
			setUniform(u, v)
		}
	}
	for i, id := range inputs {
		gl.ActiveTexture(gl.TEXTURE0 + uint32(i))
		gl.BindTexture(gl.TEXTURE_2D, id)
		if i < len(p.inputs) {
			gl.Uniform1i(p.inputs[i], int32(i))
		}
	}
	gl.BindVertexArray(d.quadVAO)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
	gl.BindVertexArray(0)
	for i := range inputs {
		gl.ActiveTexture(gl.TEXTURE0 + uint32(i))
		gl.BindTexture(gl.TEXTURE_2D, 0)
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return d.check("draw " + p.name)
}

func (d *Device) SurfaceSize() (int, int) {
	return d.ctx.GetFramebufferSize()
}

// ReadPixels reads fb through a pixel pack buffer. Rows come back in GL
// order, bottom first.
func (d *Device) ReadPixels(fb graphics.FramebufferID, width, height int) ([]byte, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	size := width * height * 4
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, uint32(fb))
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, d.pbo)
	if size != d.pboSize {
		gl.BufferData(gl.PIXEL_PACK_BUFFER, size, nil, gl.STREAM_READ)
		d.pboSize = size
	}
	gl.ReadPixels(0, 0, int32(width), int32(height), gl.RGBA, gl.UNSIGNED_BYTE, nil)

	ptr := gl.MapBufferRange(gl.PIXEL_PACK_BUFFER, 0, size, gl.MAP_READ_BIT)
	if ptr == nil {
		gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
		if err := d.check("read pixels"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to map pixel buffer")
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(ptr), size))
	gl.UnmapBuffer(gl.PIXEL_PACK_BUFFER)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	if err := d.check("read pixels"); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Device) InsertFence() (graphics.FenceID, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	sync := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	if err := d.check("fence"); err != nil {
		return 0, err
	}
	d.nextFence++
	d.fences[d.nextFence] = sync
	return d.nextFence, nil
}

// FenceSignaled polls without blocking.
func (d *Device) FenceSignaled(f graphics.FenceID) (bool, error) {
	if err := d.usable(); err != nil {
		return false, err
	}
	sync, ok := d.fences[f]
	if !ok {
		return false, graphics.ErrUnknownHandle
	}
	switch gl.ClientWaitSync(sync, gl.SYNC_FLUSH_COMMANDS_BIT, 0) {
	case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
		return true, nil
	case gl.TIMEOUT_EXPIRED:
		return false, nil
	}
	if err := d.check("wait fence"); err != nil {
		return false, err
	}
	return false, fmt.Errorf("wait fence: wait failed")
}

func (d *Device) DeleteFence(f graphics.FenceID) {
	sync, ok := d.fences[f]
	if !ok {
		return
	}
	delete(d.fences, f)
	if d.usable() == nil {
		gl.DeleteSync(sync)
	}
}

func (d *Device) Flush() {
	if d.usable() == nil {
		gl.Flush()
	}
}

// Release deletes every object the device created. After a context loss
// the objects died with the context and only the bookkeeping is dropped.
func (d *Device) Release() {
	if d.released {
		return
	}
	if !d.lost {
		for _, p := range d.programs {
			gl.DeleteProgram(p.id)
		}
		for _, t := range d.textures {
			gl.DeleteTextures(1, &t.id)
		}
		for fb := range d.framebuffers {
			id := uint32(fb)
			gl.DeleteFramebuffers(1, &id)
		}
		for _, s := range d.fences {
			gl.DeleteSync(s)
		}
		gl.DeleteBuffers(1, &d.pbo)
		gl.DeleteBuffers(1, &d.quadVBO)
		gl.DeleteVertexArrays(1, &d.quadVAO)
	}
	d.released = true
	d.programs = nil
	d.textures = nil
	d.framebuffers = nil
	d.fences = nil
	logging.Logger().Debug("gldevice: released", "renderer", d.info.Name)
}

// String is used in logs.
func (d *Device) String() string {
	return strings.TrimSpace(d.info.Name)
}
