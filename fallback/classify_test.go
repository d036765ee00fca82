package fallback

import (
	"errors"
	"fmt"
	"testing"

	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/renderer"
	"github.com/richinsley/darkroom/resource"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeNone},
		{fmt.Errorf("init: %w", ErrNoUsablePath), CodeInitFailed},
		{fmt.Errorf("pass tonal: %w", graphics.ErrContextLost), CodeContextLost},
		{fmt.Errorf("%w: 4x4 rgba16f: %w", resource.ErrResourceCreation, graphics.ErrContextLost), CodeContextLost},
		{fmt.Errorf("pass output: %w", graphics.ErrShader), CodeShaderFailure},
		{fmt.Errorf("%w: blur", renderer.ErrMissingProgram), CodeShaderFailure},
		{fmt.Errorf("%w: 4x4 rgba16f: %w", resource.ErrResourceCreation, graphics.ErrOutOfMemory), CodeResourceCreation},
		{graphics.ErrIncompleteTarget, CodeResourceCreation},
		{renderer.ErrExportTimeout, CodeExportTimeout},
		{fmt.Errorf("%w: short buffer", renderer.ErrReadback), CodeExportReadback},
		{errors.New("something else"), CodeDrawFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestEveryCodeHasAMessage(t *testing.T) {
	for c := CodeInitFailed; c <= CodeExportReadback; c++ {
		cl, ok := classifications[c]
		if assert.True(t, ok, c.String()) {
			assert.NotEmpty(t, cl.message)
		}
		assert.NotContains(t, c.String(), "code(")
	}
}
