package renderer

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/richinsley/darkroom/adjust"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/resource"
	"github.com/richinsley/darkroom/shader"
)

// Kind selects how a pass executes.
type Kind int

const (
	// Regular passes run one program.
	Regular Kind = iota
	// Composite passes run a sub-pipeline of programs on pooled temporaries.
	Composite
)

// frameInfo is what uniform builders see of the frame being drawn.
type frameInfo struct {
	state   adjust.State
	width   int
	height  int
	toneMap int
}

type uniformFunc func(f *frameInfo, u graphics.Uniforms)

// Pass is one stage of the pipeline.
type Pass struct {
	Name  string
	Stage adjust.Stage
	Kind  Kind

	program  string
	uniforms uniformFunc
	sub      *Subpipeline

	dirty      bool
	output     *resource.Entry
	executions int
}

// Dirty reports whether the pass will run on the next frame.
func (p *Pass) Dirty() bool {
	return p.dirty
}

// Executions returns how many times the pass has drawn.
func (p *Pass) Executions() int {
	return p.executions
}

func newPasses() []*Pass {
	return []*Pass{
		{Name: "geometry", Stage: adjust.StageGeometry, program: shader.ProgramGeometry, uniforms: geometryUniforms},
		{Name: "tonal", Stage: adjust.StageTonal, program: shader.ProgramTonal, uniforms: tonalUniforms},
		{Name: "color", Stage: adjust.StageColor, program: shader.ProgramColor, uniforms: colorUniforms},
		{Name: "channel", Stage: adjust.StageChannel, program: shader.ProgramChannel, uniforms: channelUniforms},
		{Name: "clarity", Stage: adjust.StageClarity, Kind: Composite, sub: claritySubpipeline()},
		{Name: "detail", Stage: adjust.StageDetail, program: shader.ProgramDetail, uniforms: detailUniforms},
		{Name: "effects", Stage: adjust.StageEffects, program: shader.ProgramEffects, uniforms: effectsUniforms},
		{Name: "output", Stage: adjust.StageOutput, program: shader.ProgramOutput, uniforms: outputUniforms},
	}
}

func geometryUniforms(f *frameInfo, u graphics.Uniforms) {
	g := f.state.Geometry
	c := g.Crop
	// Crop is top-left based; textures are addressed bottom-up.
	u.Set4f("u_crop", c.X, 1-c.Y-c.H, c.W, c.H)
	u.Set1f("u_rotation", g.Rotation*math32.Pi/180)
	u.Set2f("u_flip", b2f(g.FlipH), b2f(g.FlipV))
	u.Set1f("u_aspect", float32(f.width)/float32(f.height))
}

func tonalUniforms(f *frameInfo, u graphics.Uniforms) {
	t := f.state.Tone
	u.Set1f("u_exposure", t.Exposure)
	u.Set1f("u_contrast", t.Contrast)
	u.Set1f("u_highlights", t.Highlights)
	u.Set1f("u_shadows", t.Shadows)
	u.Set1f("u_whites", t.Whites)
	u.Set1f("u_blacks", t.Blacks)
	u.Set4f("u_curve", t.Curve.Shadows, t.Curve.Darks, t.Curve.Lights, t.Curve.Highlights)
}

func colorUniforms(f *frameInfo, u graphics.Uniforms) {
	c := f.state.Color
	u.Set1f("u_temperature", c.Temperature)
	u.Set1f("u_tint", c.Tint)
	u.Set1f("u_vibrance", c.Vibrance)
	u.Set1f("u_saturation", c.Saturation)
}

var hslNames = func() [adjust.NumBands]string {
	var n [adjust.NumBands]string
	for i := range n {
		n[i] = fmt.Sprintf("u_hsl%d", i)
	}
	return n
}()

func channelUniforms(f *frameInfo, u graphics.Uniforms) {
	ch := f.state.Channels
	for i, b := range ch {
		u[hslNames[i]] = []float32{b.Hue, b.Saturation, b.Luminance}
	}
	u.Set1f("u_hsl_active", b2f(ch.Active()))
}

func detailUniforms(f *frameInfo, u graphics.Uniforms) {
	d := f.state.Detail
	u.Set2f("u_texel", 1/float32(f.width), 1/float32(f.height))
	u.Set1f("u_sharpness", d.Sharpness)
	u.Set1f("u_noise_reduction", d.NoiseReduction)
}

func effectsUniforms(f *frameInfo, u graphics.Uniforms) {
	v := f.state.Effects.Vignette
	g := f.state.Effects.Grain
	u.Set4f("u_vignette", v.Amount, v.Midpoint, v.Feather, v.Roundness)
	u["u_grain"] = []float32{g.Amount, g.Size, g.Seed}
	u.Set1f("u_aspect", float32(f.width)/float32(f.height))
}

func outputUniforms(f *frameInfo, u graphics.Uniforms) {
	u.Set1f("u_tonemap", float32(f.toneMap))
	u.Set1f("u_gamma", f.state.Output.Gamma)
}

func b2f(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
