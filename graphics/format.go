package graphics

import "fmt"

// Format is the pixel format of a render target texture.
type Format int

const (
	// FormatRGBA8 is 8 bits per channel, normalized.
	FormatRGBA8 Format = iota
	// FormatRGBA16F is half-float per channel.
	FormatRGBA16F
	// FormatRGBA32F is float per channel.
	FormatRGBA32F
)

// IsFloat reports whether the format stores floating point channels.
func (f Format) IsFloat() bool {
	return f == FormatRGBA16F || f == FormatRGBA32F
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "rgba8"
	case FormatRGBA16F:
		return "rgba16f"
	case FormatRGBA32F:
		return "rgba32f"
	}
	return fmt.Sprintf("format(%d)", int(f))
}
