package graphics

import "errors"

var (
	// ErrContextLost is returned by every device operation once the driver
	// has invalidated the context.
	ErrContextLost = errors.New("graphics: context lost")

	// ErrShader marks shader compile, link or validation failures.
	ErrShader = errors.New("graphics: shader failure")

	// ErrIncompleteTarget is returned when a framebuffer fails its
	// completeness check.
	ErrIncompleteTarget = errors.New("graphics: framebuffer incomplete")

	// ErrOutOfMemory is returned when the driver cannot allocate storage.
	ErrOutOfMemory = errors.New("graphics: out of memory")

	// ErrDeviceReleased is returned when a released device is used.
	ErrDeviceReleased = errors.New("graphics: device released")

	// ErrUnknownHandle is returned when a handle does not belong to the device.
	ErrUnknownHandle = errors.New("graphics: unknown handle")
)
