package softgpu

import (
	"github.com/chewxy/math32"
	"github.com/richinsley/darkroom/graphics"
)

// Frag is the per-pixel invocation state handed to a Kernel, the CPU
// counterpart of a fragment shader invocation.
type Frag struct {
	// X, Y are integer pixel coordinates in the target, origin bottom-left.
	X, Y int
	// U, V are normalized coordinates of the pixel center.
	U, V float32
	// W, H is the viewport size.
	W, H     int
	Uniforms graphics.Uniforms

	inputs []*texture
}

// Kernel computes one output pixel.
type Kernel func(f *Frag) [4]float32

// InputSize returns the size of input i, or zero when unbound.
func (f *Frag) InputSize(i int) (int, int) {
	if i >= len(f.inputs) {
		return 0, 0
	}
	return f.inputs[i].w, f.inputs[i].h
}

// Sample reads input i at (u, v) with bilinear filtering and clamp-to-edge
// wrapping.
func (f *Frag) Sample(i int, u, v float32) [4]float32 {
	if i >= len(f.inputs) {
		return [4]float32{}
	}
	t := f.inputs[i]
	x := u*float32(t.w) - 0.5
	y := v*float32(t.h) - 0.5
	x0 := math32.Floor(x)
	y0 := math32.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)

	a := t.texel(ix, iy)
	b := t.texel(ix+1, iy)
	c := t.texel(ix, iy+1)
	d := t.texel(ix+1, iy+1)
	var out [4]float32
	for k := 0; k < 4; k++ {
		top := a[k] + (b[k]-a[k])*fx
		bot := c[k] + (d[k]-c[k])*fx
		out[k] = top + (bot-top)*fy
	}
	return out
}

// Input reads input i at the current pixel center.
func (f *Frag) Input(i int) [4]float32 {
	return f.Sample(i, f.U, f.V)
}

func (t *texture) texel(x, y int) [4]float32 {
	x = min(max(x, 0), t.w-1)
	y = min(max(y, 0), t.h-1)
	o := (y*t.w + x) * 4
	return [4]float32{t.pix[o], t.pix[o+1], t.pix[o+2], t.pix[o+3]}
}
