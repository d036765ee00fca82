// Package adjust holds the parametric, non-destructive adjustment state of an
// image and maps changes in it onto pipeline stages.
package adjust

import (
	"math"
	"reflect"
)

// Rect is a normalized rectangle with a top-left origin.
type Rect struct {
	X float32 `toml:"x"`
	Y float32 `toml:"y"`
	W float32 `toml:"w"`
	H float32 `toml:"h"`
}

// Full is the whole image.
var Full = Rect{0, 0, 1, 1}

type Geometry struct {
	Crop Rect `toml:"crop"`
	// Rotation is in degrees, counter-clockwise.
	Rotation float32 `toml:"rotation"`
	FlipH    bool    `toml:"flip_h"`
	FlipV    bool    `toml:"flip_v"`
}

// Curve offsets four tonal regions of the display-referred curve.
type Curve struct {
	Shadows    float32 `toml:"shadows"`
	Darks      float32 `toml:"darks"`
	Lights     float32 `toml:"lights"`
	Highlights float32 `toml:"highlights"`
}

type Tone struct {
	// Exposure is in stops.
	Exposure   float32 `toml:"exposure"`
	Contrast   float32 `toml:"contrast"`
	Highlights float32 `toml:"highlights"`
	Shadows    float32 `toml:"shadows"`
	Whites     float32 `toml:"whites"`
	Blacks     float32 `toml:"blacks"`
	Curve      Curve   `toml:"curve"`
}

type Color struct {
	Temperature float32 `toml:"temperature"`
	Tint        float32 `toml:"tint"`
	Vibrance    float32 `toml:"vibrance"`
	Saturation  float32 `toml:"saturation"`
}

// HSL shifts one hue band. Hue is in degrees, the others are relative.
type HSL struct {
	Hue        float32 `toml:"hue"`
	Saturation float32 `toml:"saturation"`
	Luminance  float32 `toml:"luminance"`
}

// Hue bands of Channels, in order.
const (
	Red = iota
	Orange
	Yellow
	Green
	Aqua
	Blue
	Purple
	Magenta
	NumBands
)

type Channels [NumBands]HSL

// Active reports whether any band is shifted.
func (c Channels) Active() bool {
	return c != Channels{}
}

type Clarity struct {
	Amount float32 `toml:"amount"`
	// Radius is in preview pixels.
	Radius float32 `toml:"radius"`
}

type Detail struct {
	Sharpness      float32 `toml:"sharpness"`
	NoiseReduction float32 `toml:"noise_reduction"`
}

type Vignette struct {
	Amount    float32 `toml:"amount"`
	Midpoint  float32 `toml:"midpoint"`
	Feather   float32 `toml:"feather"`
	Roundness float32 `toml:"roundness"`
}

type Grain struct {
	Amount float32 `toml:"amount"`
	Size   float32 `toml:"size"`
	Seed   float32 `toml:"seed"`
}

type Effects struct {
	Vignette Vignette `toml:"vignette"`
	Grain    Grain    `toml:"grain"`
}

type Output struct {
	Gamma float32 `toml:"gamma"`
}

// State is a complete set of adjustments. It is a value type; two states
// compare equal with == exactly when they render the same image.
type State struct {
	Geometry Geometry `toml:"geometry"`
	Tone     Tone     `toml:"tone"`
	Color    Color    `toml:"color"`
	Channels Channels `toml:"channels"`
	Clarity  Clarity  `toml:"clarity"`
	Detail   Detail   `toml:"detail"`
	Effects  Effects  `toml:"effects"`
	Output   Output   `toml:"output"`
}

// Default returns the identity adjustments.
func Default() State {
	return State{
		Geometry: Geometry{Crop: Full},
		Clarity:  Clarity{Radius: 8},
		Effects: Effects{
			Vignette: Vignette{Midpoint: 0.5, Feather: 0.5},
			Grain:    Grain{Size: 1},
		},
		Output: Output{Gamma: 1},
	}
}

func clamp(v, lo, hi float32) float32 {
	if v != v {
		return lo
	}
	return min(max(v, lo), hi)
}

// finite replaces every NaN or infinite float in v with the matching value
// of def. NaN never compares equal, so one left in a field group would mark
// its stage dirty on every submit.
func finite(v, def reflect.Value) {
	switch v.Kind() {
	case reflect.Float32:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			v.SetFloat(def.Float())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			finite(v.Field(i), def.Field(i))
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			finite(v.Index(i), def.Index(i))
		}
	}
}

// Normalize returns s with non-finite values reset to their defaults,
// out-of-range values pulled back into range and a degenerate crop replaced
// by the full frame.
func (s State) Normalize() State {
	finite(reflect.ValueOf(&s).Elem(), reflect.ValueOf(Default()))
	c := s.Geometry.Crop
	c.X, c.Y = clamp(c.X, 0, 1), clamp(c.Y, 0, 1)
	c.W, c.H = clamp(c.W, 0, 1-c.X), clamp(c.H, 0, 1-c.Y)
	if c.W == 0 || c.H == 0 {
		c = Full
	}
	s.Geometry.Crop = c
	s.Tone.Exposure = clamp(s.Tone.Exposure, -10, 10)
	s.Tone.Contrast = clamp(s.Tone.Contrast, -1, 1)
	s.Clarity.Radius = clamp(s.Clarity.Radius, 0, 32)
	s.Detail.NoiseReduction = clamp(s.Detail.NoiseReduction, 0, 1)
	s.Effects.Grain.Size = clamp(s.Effects.Grain.Size, 1, 64)
	if s.Output.Gamma <= 0 {
		s.Output.Gamma = 1
	}
	return s
}
