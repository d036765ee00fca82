package renderer

import (
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/shader"
)

// Step is one draw of a sub-pipeline. Inputs index the pass input (0) and
// the outputs of earlier steps (1..n).
type Step struct {
	Program  string
	Inputs   []int
	Uniforms uniformFunc
}

// Subpipeline is a fixed sequence of draws that together implement one
// pass. Every step but the last renders into a pooled temporary; the last
// renders into the pass target.
type Subpipeline struct {
	Steps []Step
	// Bypass, when set and true for a frame, replaces the whole sequence by
	// its last step fed with the pass input only.
	Bypass func(f *frameInfo) bool
}

func claritySubpipeline() *Subpipeline {
	return &Subpipeline{
		Steps: []Step{
			{Program: shader.ProgramBlur, Inputs: []int{0}, Uniforms: func(f *frameInfo, u graphics.Uniforms) {
				u.Set2f("u_direction", 1/float32(f.width), 0)
				u.Set1f("u_radius", f.state.Clarity.Radius)
			}},
			{Program: shader.ProgramBlur, Inputs: []int{1}, Uniforms: func(f *frameInfo, u graphics.Uniforms) {
				u.Set2f("u_direction", 0, 1/float32(f.height))
				u.Set1f("u_radius", f.state.Clarity.Radius)
			}},
			{Program: shader.ProgramClarity, Inputs: []int{0, 2}, Uniforms: func(f *frameInfo, u graphics.Uniforms) {
				u.Set1f("u_amount", f.state.Clarity.Amount)
			}},
		},
		Bypass: func(f *frameInfo) bool {
			return f.state.Clarity.Amount == 0 || f.state.Clarity.Radius <= 0
		},
	}
}

// run draws the sub-pipeline from input into target. Temporaries are
// released before returning.
func (s *Subpipeline) run(p *Pipeline, f *frameInfo, input graphics.TextureID, target graphics.FramebufferID) error {
	steps := s.Steps
	if s.Bypass != nil && s.Bypass(f) {
		last := steps[len(steps)-1]
		inputs := make([]graphics.TextureID, len(last.Inputs))
		for i := range inputs {
			inputs[i] = input
		}
		return p.draw(last.Program, last.Uniforms, f, inputs, target)
	}

	outputs := []graphics.TextureID{input}
	var temps []graphics.FramebufferID
	defer func() {
		for _, fb := range temps {
			p.pool.Release(fb)
		}
	}()
	for i, st := range steps {
		inputs := make([]graphics.TextureID, len(st.Inputs))
		for k, idx := range st.Inputs {
			inputs[k] = outputs[idx]
		}
		if i == len(steps)-1 {
			return p.draw(st.Program, st.Uniforms, f, inputs, target)
		}
		e, err := p.pool.Acquire(f.width, f.height, p.opts.Format)
		if err != nil {
			return err
		}
		temps = append(temps, e.Framebuffer)
		if err := p.draw(st.Program, st.Uniforms, f, inputs, e.Framebuffer); err != nil {
			return err
		}
		outputs = append(outputs, e.Texture)
	}
	return nil
}
