package fallback

import (
	"errors"
	"fmt"
	"time"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/renderer"
	"github.com/richinsley/darkroom/resource"
)

// ErrNoUsablePath means neither the primary nor the fallback path works.
var ErrNoUsablePath = errors.New("fallback: no usable rendering path")

// Code classifies a failure.
type Code int

const (
	CodeNone Code = iota
	CodeInitFailed
	CodeContextLost
	CodeShaderFailure
	CodeResourceCreation
	CodeDrawFailed
	CodeExportTimeout
	CodeExportReadback
)

var codeNames = [...]string{
	CodeNone:             "none",
	CodeInitFailed:       "init_failed",
	CodeContextLost:      "context_lost",
	CodeShaderFailure:    "shader_failure",
	CodeResourceCreation: "resource_creation",
	CodeDrawFailed:       "draw_failed",
	CodeExportTimeout:    "export_timeout",
	CodeExportReadback:   "export_readback",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Severity tells the user how much a failure matters.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Classify maps an error to a Code. Unknown errors are draw failures.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrNoUsablePath):
		return CodeInitFailed
	case errors.Is(err, graphics.ErrContextLost):
		return CodeContextLost
	case errors.Is(err, graphics.ErrShader), errors.Is(err, renderer.ErrMissingProgram):
		return CodeShaderFailure
	case errors.Is(err, resource.ErrResourceCreation),
		errors.Is(err, graphics.ErrIncompleteTarget),
		errors.Is(err, graphics.ErrOutOfMemory):
		return CodeResourceCreation
	case errors.Is(err, renderer.ErrExportTimeout):
		return CodeExportTimeout
	case errors.Is(err, renderer.ErrReadback):
		return CodeExportReadback
	}
	return CodeDrawFailed
}

type classification struct {
	severity    Severity
	recoverable bool
	message     string
}

var classifications = map[Code]classification{
	CodeInitFailed: {SeverityError, true,
		"The graphics hardware could not be initialized. Editing continues with reduced performance."},
	CodeContextLost: {SeverityWarning, true,
		"The graphics driver was reset. Restoring the preview."},
	CodeShaderFailure: {SeverityError, true,
		"An adjustment could not be applied on this graphics hardware."},
	CodeResourceCreation: {SeverityWarning, true,
		"The graphics card ran out of memory for this frame."},
	CodeDrawFailed: {SeverityWarning, true,
		"The preview could not be updated. It will be retried with the next change."},
	CodeExportTimeout: {SeverityError, true,
		"Export took too long and was stopped. Try again or export a smaller image."},
	CodeExportReadback: {SeverityError, true,
		"The exported image could not be read from the graphics card."},
}

// ErrorEvent is a surfaced failure.
type ErrorEvent struct {
	ID          string
	Time        time.Time
	Code        Code
	Severity    Severity
	Message     string
	Recoverable bool
	Err         error
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("%s [%s/%s] %s", e.ID, e.Code, e.Severity, e.Message)
}
