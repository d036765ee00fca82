package graphics

import "image"

// Handles are small integers owned by the device that created them, in the
// manner of GL object names. Zero is never a valid handle; FramebufferID 0
// names the visible surface.
type (
	ProgramID     uint32
	TextureID     uint32
	FramebufferID uint32
	FenceID       uint32
)

// Screen is the framebuffer of the visible surface.
const Screen FramebufferID = 0

// ProgramSource is a fully composed program. Name identifies the program
// kind (devices without a shader compiler dispatch on it). An empty Vertex
// selects the device's full-screen quad shader.
type ProgramSource struct {
	Name     string
	Vertex   string
	Fragment string
}

// Bindings lists the active inputs of a linked program.
type Bindings struct {
	Uniforms   []string
	Samplers   []string
	Attributes []string
}

// Has reports whether the program declares uniform or sampler name.
func (b Bindings) Has(name string) bool {
	for _, u := range b.Uniforms {
		if u == name {
			return true
		}
	}
	for _, s := range b.Samplers {
		if s == name {
			return true
		}
	}
	return false
}

// Uniforms maps uniform names to 1 to 4 float components.
type Uniforms map[string][]float32

// Set1f sets a scalar uniform.
func (u Uniforms) Set1f(name string, v float32) { u[name] = []float32{v} }

// Set2f sets a vec2 uniform.
func (u Uniforms) Set2f(name string, x, y float32) { u[name] = []float32{x, y} }

// Set4f sets a vec4 uniform.
func (u Uniforms) Set4f(name string, x, y, z, w float32) { u[name] = []float32{x, y, z, w} }

// Float returns component 0 of name, or def when unset.
func (u Uniforms) Float(name string, def float32) float32 {
	if v, ok := u[name]; ok && len(v) > 0 {
		return v[0]
	}
	return def
}

// Vec returns name padded to n components with def.
func (u Uniforms) Vec(name string, n int, def float32) []float32 {
	out := make([]float32, n)
	v := u[name]
	for i := range out {
		if i < len(v) {
			out[i] = v[i]
		} else {
			out[i] = def
		}
	}
	return out
}

// DrawCall is one full-viewport quad draw. Inputs are bound to texture units
// in order and exposed to programs as u_input0, u_input1, ...
type DrawCall struct {
	Program  ProgramID
	Target   FramebufferID
	Inputs   []TextureID
	Uniforms Uniforms
	Width    int
	Height   int
}

// Info describes device capabilities.
type Info struct {
	Name           string
	FloatTargets   bool
	MaxTextureSize int
}

// Device is the driver-facing surface of the pipeline. Implementations are
// not safe for concurrent use; all calls happen on the thread owning the
// context.
type Device interface {
	Info() Info

	CompileProgram(src ProgramSource) (ProgramID, Bindings, error)
	DeleteProgram(p ProgramID)

	// UploadImage creates a float texture from img. Row 0 of img becomes
	// texture row 0 (the bottom of the render target convention).
	UploadImage(img *image.NRGBA64) (TextureID, error)
	CreateTexture(width, height int, format Format) (TextureID, error)
	DeleteTexture(t TextureID)

	CreateFramebuffer() (FramebufferID, error)
	AttachTexture(fb FramebufferID, t TextureID) error
	// FramebufferStatus returns nil when fb is complete.
	FramebufferStatus(fb FramebufferID) error
	DeleteFramebuffer(fb FramebufferID)

	Draw(call DrawCall) error
	SurfaceSize() (int, int)

	// ReadPixels returns RGBA8 bytes of fb with rows ordered bottom-up.
	ReadPixels(fb FramebufferID, width, height int) ([]byte, error)

	InsertFence() (FenceID, error)
	FenceSignaled(f FenceID) (bool, error)
	DeleteFence(f FenceID)
	Flush()

	// Release frees the device. Handles are invalid afterwards.
	Release()
}

// DeviceFactory creates a device. Managers call it on construction and on
// every reinitialization after context loss.
type DeviceFactory func() (Device, error)
