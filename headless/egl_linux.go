//go:build linux

// Package headless creates an OpenGL ES 3.0 context on an EGL pbuffer
// surface, so exports can render without a display server.
package headless

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/logging"
)

/*
#cgo LDFLAGS: -lEGL -lGLESv2
#include <EGL/egl.h>
#include <EGL/eglext.h>

static PFNEGLQUERYDEVICESEXTPROC query_devices_fn = NULL;
static PFNEGLGETPLATFORMDISPLAYEXTPROC platform_display_fn = NULL;

static void load_device_extensions() {
    query_devices_fn = (PFNEGLQUERYDEVICESEXTPROC) eglGetProcAddress("eglQueryDevicesEXT");
    platform_display_fn = (PFNEGLGETPLATFORMDISPLAYEXTPROC) eglGetProcAddress("eglGetPlatformDisplayEXT");
}

static EGLBoolean query_devices(EGLint max, EGLDeviceEXT *devices, EGLint *count) {
    if (!query_devices_fn) {
        return EGL_FALSE;
    }
    return query_devices_fn(max, devices, count);
}

static EGLDisplay device_display(EGLDeviceEXT device) {
    if (!platform_display_fn) {
        return EGL_NO_DISPLAY;
    }
    return platform_display_fn(EGL_PLATFORM_DEVICE_EXT, device, NULL);
}
*/
import "C"

var (
	// ErrNoDisplay is returned when no EGL display can be opened.
	ErrNoDisplay = errors.New("headless: no EGL display")
	// ErrUnsupported is returned on platforms without EGL.
	ErrUnsupported = errors.New("headless: EGL rendering is not supported on this platform")
)

// Config describes the pbuffer context.
type Config struct {
	// Width and Height size the pbuffer. Exports render into their own
	// framebuffers, so a small surface is enough.
	Width, Height int
	// Device selects an EGL device by index. A negative value takes the
	// first device that yields a display.
	Device int
}

// Context is an EGL pbuffer context implementing graphics.Context.
type Context struct {
	display C.EGLDisplay
	context C.EGLContext
	surface C.EGLSurface
	width   int
	height  int
	start   time.Time
}

var _ graphics.Context = (*Context)(nil)

// eglError wraps the current EGL error code.
func eglError(op string) error {
	return fmt.Errorf("headless: %s failed (egl error 0x%04x)", op, int(C.eglGetError()))
}

// Devices returns the number of EGL devices, or zero when the device
// enumeration extension is missing.
func Devices() int {
	C.load_device_extensions()
	var n C.EGLint
	if C.query_devices(0, nil, &n) == C.EGL_FALSE {
		return 0
	}
	return int(n)
}

func openDisplay(index int) (C.EGLDisplay, error) {
	log := logging.Logger()
	n := Devices()
	if n == 0 {
		log.Warn("headless: device enumeration unavailable, using default display")
		d := C.eglGetDisplay(C.EGLNativeDisplayType(C.EGL_DEFAULT_DISPLAY))
		if d == C.EGLDisplay(C.EGL_NO_DISPLAY) {
			return d, ErrNoDisplay
		}
		return d, nil
	}
	if index >= n {
		return C.EGLDisplay(C.EGL_NO_DISPLAY), fmt.Errorf("%w: device %d of %d", ErrNoDisplay, index, n)
	}

	devices := make([]C.EGLDeviceEXT, n)
	count := C.EGLint(n)
	if C.query_devices(count, &devices[0], &count) == C.EGL_FALSE {
		return C.EGLDisplay(C.EGL_NO_DISPLAY), eglError("eglQueryDevicesEXT")
	}
	if index >= 0 {
		d := C.device_display(devices[index])
		if d == C.EGLDisplay(C.EGL_NO_DISPLAY) {
			return d, fmt.Errorf("%w: device %d", ErrNoDisplay, index)
		}
		return d, nil
	}
	for i := 0; i < int(count); i++ {
		d := C.device_display(devices[i])
		if d != C.EGLDisplay(C.EGL_NO_DISPLAY) {
			log.Debug("headless: using EGL device", "index", i, "devices", int(count))
			return d, nil
		}
	}
	return C.EGLDisplay(C.EGL_NO_DISPLAY), ErrNoDisplay
}

// New creates the pbuffer context and makes it current on the calling
// thread.
func New(cfg Config) (*Context, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 16, 16
	}
	c := &Context{
		display: C.EGLDisplay(C.EGL_NO_DISPLAY),
		context: C.EGLContext(C.EGL_NO_CONTEXT),
		surface: C.EGLSurface(C.EGL_NO_SURFACE),
		width:   cfg.Width,
		height:  cfg.Height,
		start:   time.Now(),
	}

	display, err := openDisplay(cfg.Device)
	if err != nil {
		return nil, err
	}
	c.display = display

	var major, minor C.EGLint
	if C.eglInitialize(c.display, &major, &minor) == C.EGL_FALSE {
		c.display = C.EGLDisplay(C.EGL_NO_DISPLAY)
		return nil, eglError("eglInitialize")
	}
	logging.Logger().Info("headless: EGL initialized", "version", fmt.Sprintf("%d.%d", int(major), int(minor)))

	attribs := []C.EGLint{
		C.EGL_SURFACE_TYPE, C.EGL_PBUFFER_BIT,
		C.EGL_RED_SIZE, 8,
		C.EGL_GREEN_SIZE, 8,
		C.EGL_BLUE_SIZE, 8,
		C.EGL_ALPHA_SIZE, 8,
		C.EGL_RENDERABLE_TYPE, C.EGL_OPENGL_ES3_BIT,
		C.EGL_NONE,
	}
	var config C.EGLConfig
	var matched C.EGLint
	if C.eglChooseConfig(c.display, &attribs[0], &config, 1, &matched) == C.EGL_FALSE || matched == 0 {
		err := eglError("eglChooseConfig")
		c.Shutdown()
		return nil, err
	}

	surface := []C.EGLint{C.EGL_WIDTH, C.EGLint(cfg.Width), C.EGL_HEIGHT, C.EGLint(cfg.Height), C.EGL_NONE}
	c.surface = C.eglCreatePbufferSurface(c.display, config, &surface[0])
	if c.surface == C.EGLSurface(C.EGL_NO_SURFACE) {
		err := eglError("eglCreatePbufferSurface")
		c.Shutdown()
		return nil, err
	}

	version := []C.EGLint{C.EGL_CONTEXT_CLIENT_VERSION, 3, C.EGL_NONE}
	c.context = C.eglCreateContext(c.display, config, C.EGLContext(C.EGL_NO_CONTEXT), &version[0])
	if c.context == C.EGLContext(C.EGL_NO_CONTEXT) {
		err := eglError("eglCreateContext")
		c.Shutdown()
		return nil, err
	}
	c.MakeCurrent()
	return c, nil
}

func (c *Context) MakeCurrent() {
	C.eglMakeCurrent(c.display, c.surface, c.surface, c.context)
}

// Shutdown releases the context, surface and display. It is safe to call
// more than once.
func (c *Context) Shutdown() {
	if c.display == C.EGLDisplay(C.EGL_NO_DISPLAY) {
		return
	}
	none := C.EGLSurface(C.EGL_NO_SURFACE)
	C.eglMakeCurrent(c.display, none, none, C.EGLContext(C.EGL_NO_CONTEXT))
	if c.context != C.EGLContext(C.EGL_NO_CONTEXT) {
		C.eglDestroyContext(c.display, c.context)
		c.context = C.EGLContext(C.EGL_NO_CONTEXT)
	}
	if c.surface != none {
		C.eglDestroySurface(c.display, c.surface)
		c.surface = none
	}
	C.eglTerminate(c.display)
	c.display = C.EGLDisplay(C.EGL_NO_DISPLAY)
}

func (c *Context) ShouldClose() bool { return false }

func (c *Context) EndFrame() {
	C.eglSwapBuffers(c.display, c.surface)
}

func (c *Context) GetFramebufferSize() (int, int) {
	return c.width, c.height
}

func (c *Context) Time() float64 {
	return time.Since(c.start).Seconds()
}

func (c *Context) IsGLES() bool { return true }
