// Package translator turns the GLSL ES 3.00 sources of the built-in programs
// into the dialect of the running context and reports how the translator
// renamed their uniforms.
package translator

import (
	"context"
	"fmt"
	"sync"

	gst "github.com/richinsley/goshadertranslator"
)

var (
	once       sync.Once
	translator *gst.ShaderTranslator
	initErr    error
)

// Get returns the process-wide translator, creating it on first use.
func Get() (*gst.ShaderTranslator, error) {
	once.Do(func() {
		translator, initErr = gst.NewShaderTranslator(context.Background())
		if initErr != nil {
			initErr = fmt.Errorf("failed to create shader translator: %w", initErr)
		}
	})
	return translator, initErr
}

// Shader is a translated shader.
type Shader struct {
	Code string
	// Names maps source identifiers of active uniforms and attributes to the
	// names the translator emitted.
	Names map[string]string
}

// Fragment translates a fragment shader for a desktop (GLSL 410) or ES
// (ESSL) context.
func Fragment(src string, gles bool) (*Shader, error) {
	return translate(src, "fragment", gles)
}

func translate(src, stage string, gles bool) (*Shader, error) {
	t, err := Get()
	if err != nil {
		return nil, err
	}
	outputFormat := gst.OutputFormatGLSL410
	if gles {
		outputFormat = gst.OutputFormatESSL
	}
	out, err := t.TranslateShader(src, stage, gst.ShaderSpecWebGL2, outputFormat)
	if err != nil {
		return nil, fmt.Errorf("%s shader translation failed: %w", stage, err)
	}
	names := make(map[string]string, len(out.Variables))
	for name, v := range out.Variables {
		names[name] = v.MappedName
	}
	return &Shader{Code: out.Code, Names: names}, nil
}
