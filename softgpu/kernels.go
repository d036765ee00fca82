package softgpu

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/richinsley/darkroom/graphics"
	"github.com/richinsley/darkroom/shader"
)

type kernelEntry struct {
	fn       Kernel
	bindings graphics.Bindings
}

var kernels = map[string]kernelEntry{
	shader.ProgramGeometry: {geometryKernel, uniforms("u_crop", "u_rotation", "u_flip", "u_aspect")},
	shader.ProgramTonal: {tonalKernel, uniforms("u_exposure", "u_contrast", "u_highlights",
		"u_shadows", "u_whites", "u_blacks", "u_curve")},
	shader.ProgramColor:   {colorKernel, uniforms("u_temperature", "u_tint", "u_vibrance", "u_saturation")},
	shader.ProgramChannel: {channelKernel, uniforms(hslUniforms()...)},
	shader.ProgramBlur:    {blurKernel, uniforms("u_direction", "u_radius")},
	shader.ProgramClarity: {clarityKernel, withSamplers(uniforms("u_amount"), "u_input1")},
	shader.ProgramDetail:  {detailKernel, uniforms("u_texel", "u_sharpness", "u_noise_reduction")},
	shader.ProgramEffects: {effectsKernel, uniforms("u_vignette", "u_grain", "u_aspect")},
	shader.ProgramOutput:  {outputKernel, uniforms("u_tonemap", "u_gamma")},
	shader.ProgramDither:  {ditherKernel, uniforms("u_strength")},
}

// RegisterKernel installs a kernel for a program name, replacing any
// built-in one. It must not be called while devices are compiling.
func RegisterKernel(name string, k Kernel, b graphics.Bindings) {
	kernels[name] = kernelEntry{fn: k, bindings: b}
}

func lookupKernel(name string) (kernelEntry, bool) {
	k, ok := kernels[name]
	return k, ok
}

func uniforms(names ...string) graphics.Bindings {
	return graphics.Bindings{
		Uniforms:   append([]string{"u_resolution"}, names...),
		Samplers:   []string{"u_input0"},
		Attributes: []string{"in_vert"},
	}
}

func withSamplers(b graphics.Bindings, samplers ...string) graphics.Bindings {
	b.Samplers = append(b.Samplers, samplers...)
	return b
}

func hslUniforms() []string {
	names := make([]string, 0, 9)
	for i := 0; i < 8; i++ {
		names = append(names, fmt.Sprintf("u_hsl%d", i))
	}
	return append(names, "u_hsl_active")
}

func srgbToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math32.Pow((c+0.055)/1.055, 2.4)
}

func linearToSRGB(l float32) float32 {
	l = math32.Max(l, 0)
	if l <= 0.0031308 {
		return l * 12.92
	}
	return 1.055*math32.Pow(l, 1/2.4) - 0.055
}

func luma(r, g, b float32) float32 {
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func clamp01(v float32) float32 {
	return math32.Min(math32.Max(v, 0), 1)
}

func smoothstep(e0, e1, x float32) float32 {
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}

func mix(a, b, t float32) float32 {
	return a + (b-a)*t
}

func geometryKernel(f *Frag) [4]float32 {
	crop := f.Uniforms.Vec("u_crop", 4, 0)
	if crop[2] == 0 || crop[3] == 0 {
		crop = []float32{0, 0, 1, 1}
	}
	flip := f.Uniforms.Vec("u_flip", 2, 0)
	rot := f.Uniforms.Float("u_rotation", 0)
	aspect := f.Uniforms.Float("u_aspect", 1)

	u, v := f.U, f.V
	u = mix(u, 1-u, flip[0])
	v = mix(v, 1-v, flip[1])
	if rot != 0 {
		px, py := (u-0.5)*aspect, v-0.5
		s, c := math32.Sin(-rot), math32.Cos(-rot)
		px, py = c*px-s*py, s*px+c*py
		u, v = px/aspect+0.5, py+0.5
	}
	su := crop[0] + u*crop[2]
	sv := crop[1] + v*crop[3]
	if su < 0 || sv < 0 || su > 1 || sv > 1 {
		return [4]float32{0, 0, 0, 1}
	}
	return f.Sample(0, su, sv)
}

func tonalBump(x, center float32) float32 {
	return 0.25 * math32.Max(0, 1-math32.Abs(x-center)*4)
}

func tonalKernel(f *Frag) [4]float32 {
	src := f.Input(0)
	u := f.Uniforms
	exposure := math32.Exp2(u.Float("u_exposure", 0))
	contrast := 1 + u.Float("u_contrast", 0)
	blacks := u.Float("u_blacks", 0) * 0.05
	whites := 1 + u.Float("u_whites", 0)*0.25
	shadows := u.Float("u_shadows", 0)
	highlights := u.Float("u_highlights", 0)
	curve := u.Vec("u_curve", 4, 0)
	curveActive := curve[0] != 0 || curve[1] != 0 || curve[2] != 0 || curve[3] != 0

	var c [3]float32
	for i := 0; i < 3; i++ {
		c[i] = (srgbToLinear(src[i])*exposure + blacks) * whites
	}
	l := luma(math32.Max(c[0], 0), math32.Max(c[1], 0), math32.Max(c[2], 0))
	ws := 1 - smoothstep(0, 0.5, l)
	wh := smoothstep(0.5, 1, l)
	gain := math32.Exp2(shadows*ws + highlights*wh)
	for i := 0; i < 3; i++ {
		v := c[i] * gain
		if contrast != 1 {
			v = 0.18 * math32.Pow(math32.Max(v, 0)/0.18, contrast)
		}
		if curveActive {
			e := linearToSRGB(v)
			e += curve[0]*tonalBump(e, 0.125) + curve[1]*tonalBump(e, 0.375) +
				curve[2]*tonalBump(e, 0.625) + curve[3]*tonalBump(e, 0.875)
			v = srgbToLinear(e)
		}
		c[i] = v
	}
	return [4]float32{c[0], c[1], c[2], src[3]}
}

func colorKernel(f *Frag) [4]float32 {
	src := f.Input(0)
	u := f.Uniforms
	temp := u.Float("u_temperature", 0)
	tint := u.Float("u_tint", 0)
	vib := u.Float("u_vibrance", 0)
	sat := u.Float("u_saturation", 0)

	r := src[0] * (1 + temp*0.2)
	g := src[1] * (1 - tint*0.2)
	b := src[2] * (1 - temp*0.2)
	l := luma(r, g, b)
	chroma := math32.Max(r, math32.Max(g, b)) - math32.Min(r, math32.Min(g, b))
	k := (1 + vib*(1-clamp01(chroma))) * (1 + sat)
	return [4]float32{l + (r-l)*k, l + (g-l)*k, l + (b-l)*k, src[3]}
}

var bandCenters = [8]float32{0, 30, 60, 120, 180, 240, 270, 300}

func channelKernel(f *Frag) [4]float32 {
	src := f.Input(0)
	if f.Uniforms.Float("u_hsl_active", 0) < 0.5 {
		return src
	}
	h, s, v := rgbToHSV(math32.Max(src[0], 0), math32.Max(src[1], 0), math32.Max(src[2], 0))
	hue := h * 360
	var dh, ds, dl float32
	for i, center := range bandCenters {
		band := f.Uniforms.Vec(fmt.Sprintf("u_hsl%d", i), 3, 0)
		d := math32.Abs(math32.Mod(hue-center+540, 360) - 180)
		w := math32.Max(0, 1-d/45)
		dh += band[0] * w
		ds += band[1] * w
		dl += band[2] * w
	}
	h = h + dh/360
	h -= math32.Floor(h)
	s = clamp01(s * (1 + ds))
	v = v * math32.Exp2(dl)
	r, g, b := hsvToRGB(h, s, v)
	return [4]float32{r, g, b, src[3]}
}

func rgbToHSV(r, g, b float32) (h, s, v float32) {
	mx := math32.Max(r, math32.Max(g, b))
	mn := math32.Min(r, math32.Min(g, b))
	d := mx - mn
	v = mx
	if mx > 0 {
		s = d / mx
	}
	if d == 0 {
		return 0, s, v
	}
	switch mx {
	case r:
		h = (g - b) / d
		if h < 0 {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h / 6, s, v
}

func hsvToRGB(h, s, v float32) (r, g, b float32) {
	h6 := h * 6
	i := int(math32.Floor(h6)) % 6
	fr := h6 - math32.Floor(h6)
	p := v * (1 - s)
	q := v * (1 - s*fr)
	t := v * (1 - s*(1-fr))
	switch i {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	}
	return v, p, q
}

const maxBlurTaps = 32

func blurKernel(f *Frag) [4]float32 {
	dir := f.Uniforms.Vec("u_direction", 2, 0)
	radius := f.Uniforms.Float("u_radius", 0)
	sigma := math32.Max(radius*0.5, 0.5)
	taps := min(int(math32.Ceil(radius)), maxBlurTaps)

	sum := f.Input(0)
	total := float32(1)
	for i := 1; i <= taps; i++ {
		w := math32.Exp(-float32(i*i) / (2 * sigma * sigma))
		fi := float32(i)
		a := f.Sample(0, f.U+dir[0]*fi, f.V+dir[1]*fi)
		b := f.Sample(0, f.U-dir[0]*fi, f.V-dir[1]*fi)
		for k := 0; k < 4; k++ {
			sum[k] += w * (a[k] + b[k])
		}
		total += 2 * w
	}
	for k := 0; k < 4; k++ {
		sum[k] /= total
	}
	return sum
}

func clarityKernel(f *Frag) [4]float32 {
	orig := f.Input(0)
	blurred := f.Input(1)
	amount := f.Uniforms.Float("u_amount", 0)
	if amount == 0 {
		return orig
	}
	l := clamp01(luma(orig[0], orig[1], orig[2]))
	mid := 4 * l * (1 - l)
	out := orig
	for k := 0; k < 3; k++ {
		out[k] = orig[k] + (orig[k]-blurred[k])*amount*mid
	}
	return out
}

func detailKernel(f *Frag) [4]float32 {
	c := f.Input(0)
	sharp := f.Uniforms.Float("u_sharpness", 0)
	nr := f.Uniforms.Float("u_noise_reduction", 0)
	if sharp == 0 && nr == 0 {
		return c
	}
	texel := f.Uniforms.Vec("u_texel", 2, 0)
	var mean [3]float32
	for y := -1; y <= 1; y++ {
		for x := -1; x <= 1; x++ {
			s := f.Sample(0, f.U+float32(x)*texel[0], f.V+float32(y)*texel[1])
			for k := 0; k < 3; k++ {
				mean[k] += s[k]
			}
		}
	}
	out := c
	for k := 0; k < 3; k++ {
		m := mean[k] / 9
		out[k] = mix(c[k]+(c[k]-m)*sharp, m, nr)
	}
	return out
}

func hash12(x, y float32) float32 {
	fract := func(v float32) float32 { return v - math32.Floor(v) }
	p0, p1, p2 := fract(x*0.1031), fract(y*0.1031), fract(x*0.1031)
	d := p0*(p1+33.33) + p1*(p2+33.33) + p2*(p0+33.33)
	p0, p1, p2 = p0+d, p1+d, p2+d
	return fract((p0 + p1) * p2)
}

func effectsKernel(f *Frag) [4]float32 {
	c := f.Input(0)
	vig := f.Uniforms.Vec("u_vignette", 4, 0)
	grain := f.Uniforms.Vec("u_grain", 3, 0)
	aspect := f.Uniforms.Float("u_aspect", 1)

	if vig[0] != 0 {
		px := (f.U - 0.5) * 2 * mix(aspect, 1, vig[3])
		py := (f.V - 0.5) * 2
		r := math32.Sqrt(px*px + py*py)
		fall := smoothstep(vig[1], vig[1]+math32.Max(vig[2], 1e-3), r)
		for k := 0; k < 3; k++ {
			c[k] *= 1 + vig[0]*fall
		}
	}
	if grain[0] != 0 {
		size := math32.Max(grain[1], 1)
		cx := math32.Floor((float32(f.X)+0.5)/size) + grain[2]
		cy := math32.Floor((float32(f.Y)+0.5)/size) + grain[2]
		n := hash12(cx, cy) - 0.5
		for k := 0; k < 3; k++ {
			c[k] += n * grain[0] * 0.1
		}
	}
	return c
}

const toneMapKnee = 0.8

func toneMap(v float32, mode int) float32 {
	if mode == shader.ToneMapFilmic && v > toneMapKnee {
		t := (v - toneMapKnee) / (1 - toneMapKnee)
		v = toneMapKnee + (1-toneMapKnee)*(t/(1+t))
	}
	return clamp01(v)
}

func outputKernel(f *Frag) [4]float32 {
	c := f.Input(0)
	mode := int(f.Uniforms.Float("u_tonemap", shader.ToneMapClip))
	gamma := math32.Max(f.Uniforms.Float("u_gamma", 1), 1e-3)
	for k := 0; k < 3; k++ {
		v := toneMap(c[k], mode)
		if gamma != 1 {
			v = math32.Pow(v, 1/gamma)
		}
		c[k] = clamp01(linearToSRGB(v))
	}
	return c
}

var bayer4 = [16]float32{0, 8, 2, 10, 12, 4, 14, 6, 3, 11, 1, 9, 15, 7, 13, 5}

func ditherKernel(f *Frag) [4]float32 {
	c := f.Input(0)
	strength := f.Uniforms.Float("u_strength", 0)
	if strength == 0 {
		return c
	}
	t := ((bayer4[(f.Y&3)*4+(f.X&3)]+0.5)/16 - 0.5) * strength / 255
	for k := 0; k < 3; k++ {
		c[k] = clamp01(c[k] + t)
	}
	return c
}
