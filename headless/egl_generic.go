//go:build !linux

package headless

import (
	"errors"

	"github.com/richinsley/darkroom/graphics"
)

var (
	ErrNoDisplay   = errors.New("headless: no EGL display")
	ErrUnsupported = errors.New("headless: EGL rendering is not supported on this platform")
)

type Config struct {
	Width, Height int
	Device        int
}

type Context struct{}

var _ graphics.Context = (*Context)(nil)

func Devices() int { return 0 }

func New(cfg Config) (*Context, error) {
	return nil, ErrUnsupported
}

func (c *Context) MakeCurrent()                   {}
func (c *Context) Shutdown()                      {}
func (c *Context) ShouldClose() bool              { return true }
func (c *Context) EndFrame()                      {}
func (c *Context) GetFramebufferSize() (int, int) { return 0, 0 }
func (c *Context) Time() float64                  { return 0 }
func (c *Context) IsGLES() bool                   { return true }
