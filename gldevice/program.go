package gldevice

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/shader"
	"github.com/richinsley/darkroom/translator"
)

type uniform struct {
	location int32
	xtype    uint32
}

type program struct {
	id       uint32
	name     string
	uniforms map[string]uniform
	// inputs holds the sampler location of u_input0, u_input1, ...
	inputs []int32
}

// vertexSource returns the quad vertex stage with its varying renamed to
// match the translated fragment stage.
func vertexSource(gles bool, names map[string]string) string {
	src := shader.GenerateVertexShader(gles)
	if mapped, ok := names["frag_uv"]; ok && mapped != "frag_uv" {
		src = strings.ReplaceAll(src, "frag_uv", mapped)
	}
	return src
}

func (d *Device) CompileProgram(src graphics.ProgramSource) (graphics.ProgramID, graphics.Bindings, error) {
	if err := d.usable(); err != nil {
		return 0, graphics.Bindings{}, err
	}
	fs, err := translator.Fragment(src.Fragment, d.gles)
	if err != nil {
		return 0, graphics.Bindings{}, fmt.Errorf("%w: %s: %w", graphics.ErrShader, src.Name, err)
	}
	vs := src.Vertex
	if vs == "" {
		vs = vertexSource(d.gles, fs.Names)
	}
	id, err := newProgram(vs, fs.Code)
	if err != nil {
		return 0, graphics.Bindings{}, fmt.Errorf("%w: %s: %w", graphics.ErrShader, src.Name, err)
	}

	p := &program{id: id, name: src.Name, uniforms: make(map[string]uniform)}
	source := make(map[string]string, len(fs.Names))
	for name, mapped := range fs.Names {
		source[mapped] = name
	}

	var b graphics.Bindings
	var count int32
	gl.GetProgramiv(id, gl.ACTIVE_UNIFORMS, &count)
	buf := make([]uint8, 256)
	for i := int32(0); i < count; i++ {
		var length, size int32
		var xtype uint32
		gl.GetActiveUniform(id, uint32(i), int32(len(buf)), &length, &size, &xtype, &buf[0])
		mapped := string(buf[:length])
		name, ok := source[mapped]
		if !ok {
			name = mapped
		}
		loc := gl.GetUniformLocation(id, gl.Str(mapped+"\x00"))
		p.uniforms[name] = uniform{location: loc, xtype: xtype}
		if xtype == gl.SAMPLER_2D {
			b.Samplers = append(b.Samplers, name)
		} else {
			b.Uniforms = append(b.Uniforms, name)
		}
	}
	for i := 0; ; i++ {
		u, ok := p.uniforms[fmt.Sprintf("u_input%d", i)]
		if !ok {
			break
		}
		p.inputs = append(p.inputs, u.location)
	}
	if err := d.check("compile " + src.Name); err != nil {
		gl.DeleteProgram(id)
		return 0, graphics.Bindings{}, err
	}

	pid := graphics.ProgramID(id)
	d.programs[pid] = p
	return pid, b, nil
}

func (d *Device) DeleteProgram(id graphics.ProgramID) {
	p, ok := d.programs[id]
	if !ok {
		return
	}
	delete(d.programs, id)
	if d.usable() == nil {
		gl.DeleteProgram(p.id)
	}
}

// setUniform uploads v according to the declared GLSL type. Integer and
// boolean uniforms receive the truncated float.
func setUniform(u uniform, v []float32) {
	if len(v) == 0 || u.location < 0 {
		return
	}
	at := func(i int) float32 {
		if i < len(v) {
			return v[i]
		}
		return 0
	}
	switch u.xtype {
	case gl.FLOAT:
		gl.Uniform1f(u.location, v[0])
	case gl.FLOAT_VEC2:
		gl.Uniform2f(u.location, at(0), at(1))
	case gl.FLOAT_VEC3:
		gl.Uniform3f(u.location, at(0), at(1), at(2))
	case gl.FLOAT_VEC4:
		gl.Uniform4f(u.location, at(0), at(1), at(2), at(3))
	case gl.INT, gl.BOOL:
		gl.Uniform1i(u.location, int32(v[0]))
	}
}

func newProgram(vertexShaderSource, fragmentShaderSource string) (uint32, error) {
	vertexShader, err := compileShader(vertexShaderSource, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	fragmentShader, err := compileShader(fragmentShaderSource, gl.FRAGMENT_SHADER)
	if err != nil {
		gl.DeleteShader(vertexShader)
		return 0, err
	}

	program := gl.CreateProgram()
	gl.AttachShader(program, vertexShader)
	gl.AttachShader(program, fragmentShader)
	gl.BindAttribLocation(program, 0, gl.Str("in_vert\x00"))
	gl.LinkProgram(program)
	gl.DeleteShader(vertexShader)
	gl.DeleteShader(fragmentShader)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("failed to link program: %v", strings.TrimRight(log, "\x00"))
	}
	return program, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		logText := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(logText))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("failed to compile shader: %v", strings.TrimRight(logText, "\x00"))
	}
	return shader, nil
}
