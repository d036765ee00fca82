package renderer

import "errors"

var (
	// ErrNotInitialized is returned when adjustments arrive before a source.
	ErrNotInitialized = errors.New("renderer: no source image loaded")
	// ErrMissingProgram fails a frame whose pass has no compiled program.
	ErrMissingProgram = errors.New("renderer: missing compiled program")
	// ErrDisposed is returned by operations on a disposed pipeline.
	ErrDisposed = errors.New("renderer: pipeline disposed")
	// ErrExportTimeout is returned when the export fence does not signal in time.
	ErrExportTimeout = errors.New("renderer: export timed out waiting for the GPU")
	// ErrReadback is returned when exported pixels cannot be read back.
	ErrReadback = errors.New("renderer: export read-back failed")
)
