package graphics

// Context is a host GL context, either a window or a headless surface.
// It owns the thread-bound GL state. The Device that draws into it is
// created separately.
type Context interface {
	// MakeCurrent binds the context to the calling OS thread.
	MakeCurrent()
	Shutdown()
	ShouldClose() bool
	// EndFrame presents the default framebuffer.
	EndFrame()
	GetFramebufferSize() (int, int)
	Time() float64
	// IsGLES reports whether the context speaks OpenGL ES rather than
	// desktop core profile.
	IsGLES() bool
}
