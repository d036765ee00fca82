// Package graphicstest provides fault injection around a graphics.Device.
package graphicstest

import (
	"fmt"
	"image"

	"github.com/richinsley/darkroom/graphics"
)

// FaultyDevice wraps a Device and fails selected operations on demand.
// The zero value of every knob means "behave like the wrapped device".
type FaultyDevice struct {
	graphics.Device

	// FailCompile makes every CompileProgram call fail with ErrShader.
	FailCompile bool
	// FailCompileNamed fails compilation for the listed program names only.
	FailCompileNamed map[string]bool
	// FailDraw fails draws that use a program compiled under this name.
	FailDraw map[string]bool
	// FailTargets makes every FramebufferStatus call report incomplete.
	FailTargets bool
	// FailFloatTargets makes float attachments incomplete.
	FailFloatTargets bool
	// SignalAfter delays fences by this many FenceSignaled polls; negative
	// means never signal.
	SignalAfter int
	// FailReadback makes ReadPixels fail.
	FailReadback bool

	lost     bool
	names    map[graphics.ProgramID]string
	formats  map[graphics.TextureID]graphics.Format
	attached map[graphics.FramebufferID]graphics.TextureID
	polls    map[graphics.FenceID]int

	Compiles int
	Draws    int
}

var _ graphics.Device = (*FaultyDevice)(nil)

// Wrap returns a FaultyDevice around d with no faults armed.
func Wrap(d graphics.Device) *FaultyDevice {
	return &FaultyDevice{
		Device:   d,
		names:    make(map[graphics.ProgramID]string),
		formats:  make(map[graphics.TextureID]graphics.Format),
		attached: make(map[graphics.FramebufferID]graphics.TextureID),
		polls:    make(map[graphics.FenceID]int),
	}
}

// Lose puts the device into a lost state: every operation that can fail
// returns ErrContextLost until the device is replaced.
func (f *FaultyDevice) Lose() {
	f.lost = true
}

func (f *FaultyDevice) Info() graphics.Info {
	info := f.Device.Info()
	if f.FailFloatTargets {
		info.FloatTargets = false
	}
	return info
}

func (f *FaultyDevice) CompileProgram(src graphics.ProgramSource) (graphics.ProgramID, graphics.Bindings, error) {
	f.Compiles++
	if f.lost {
		return 0, graphics.Bindings{}, graphics.ErrContextLost
	}
	if f.FailCompile || f.FailCompileNamed[src.Name] {
		return 0, graphics.Bindings{}, fmt.Errorf("%w: injected compile failure for %q", graphics.ErrShader, src.Name)
	}
	id, b, err := f.Device.CompileProgram(src)
	if err == nil {
		f.names[id] = src.Name
	}
	return id, b, err
}

func (f *FaultyDevice) UploadImage(img *image.NRGBA64) (graphics.TextureID, error) {
	if f.lost {
		return 0, graphics.ErrContextLost
	}
	return f.Device.UploadImage(img)
}

func (f *FaultyDevice) CreateTexture(width, height int, format graphics.Format) (graphics.TextureID, error) {
	if f.lost {
		return 0, graphics.ErrContextLost
	}
	t, err := f.Device.CreateTexture(width, height, format)
	if err == nil {
		f.formats[t] = format
	}
	return t, err
}

func (f *FaultyDevice) CreateFramebuffer() (graphics.FramebufferID, error) {
	if f.lost {
		return 0, graphics.ErrContextLost
	}
	return f.Device.CreateFramebuffer()
}

func (f *FaultyDevice) AttachTexture(fb graphics.FramebufferID, t graphics.TextureID) error {
	if f.lost {
		return graphics.ErrContextLost
	}
	if err := f.Device.AttachTexture(fb, t); err != nil {
		return err
	}
	f.attached[fb] = t
	return nil
}

func (f *FaultyDevice) FramebufferStatus(fb graphics.FramebufferID) error {
	if f.lost {
		return graphics.ErrContextLost
	}
	if f.FailTargets {
		return fmt.Errorf("%w: injected", graphics.ErrIncompleteTarget)
	}
	if f.FailFloatTargets && f.formats[f.attached[fb]].IsFloat() {
		return fmt.Errorf("%w: injected float target failure", graphics.ErrIncompleteTarget)
	}
	return f.Device.FramebufferStatus(fb)
}

func (f *FaultyDevice) Draw(call graphics.DrawCall) error {
	f.Draws++
	if f.lost {
		return graphics.ErrContextLost
	}
	if name := f.names[call.Program]; f.FailDraw[name] {
		return fmt.Errorf("%w: injected draw failure for %q", graphics.ErrShader, name)
	}
	return f.Device.Draw(call)
}

func (f *FaultyDevice) ReadPixels(fb graphics.FramebufferID, width, height int) ([]byte, error) {
	if f.lost {
		return nil, graphics.ErrContextLost
	}
	if f.FailReadback {
		return nil, fmt.Errorf("graphicstest: injected read-back failure")
	}
	return f.Device.ReadPixels(fb, width, height)
}

func (f *FaultyDevice) InsertFence() (graphics.FenceID, error) {
	if f.lost {
		return 0, graphics.ErrContextLost
	}
	return f.Device.InsertFence()
}

func (f *FaultyDevice) FenceSignaled(id graphics.FenceID) (bool, error) {
	if f.lost {
		return false, graphics.ErrContextLost
	}
	if f.SignalAfter < 0 {
		return false, nil
	}
	f.polls[id]++
	if f.polls[id] <= f.SignalAfter {
		return false, nil
	}
	return f.Device.FenceSignaled(id)
}

func (f *FaultyDevice) DeleteFence(id graphics.FenceID) {
	delete(f.polls, id)
	f.Device.DeleteFence(id)
}

// Factory hands out devices from a sequence. Each call to the returned
// factory pops the next outcome: a nil error yields a fresh device built by
// next, a non-nil error fails creation. Once the sequence is exhausted every
// call succeeds.
type Factory struct {
	next     func() graphics.Device
	failures []error

	// Created records every device returned so far.
	Created []*FaultyDevice
	Calls   int
}

// NewFactory returns a Factory building devices with next.
func NewFactory(next func() graphics.Device, failures ...error) *Factory {
	return &Factory{next: next, failures: failures}
}

// FailNext queues creation failures.
func (f *Factory) FailNext(errs ...error) {
	f.failures = append(f.failures, errs...)
}

// Last returns the most recently created device, or nil.
func (f *Factory) Last() *FaultyDevice {
	if len(f.Created) == 0 {
		return nil
	}
	return f.Created[len(f.Created)-1]
}

// New implements graphics.DeviceFactory.
func (f *Factory) New() (graphics.Device, error) {
	f.Calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	d := Wrap(f.next())
	f.Created = append(f.Created, d)
	return d, nil
}
