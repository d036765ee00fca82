// Package inputs prepares source images for upload and converts read-back
// pixels into images.
package inputs

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	// Register stdlib decoders.
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/gift"
	"github.com/richinsley/darkroom/logging"
	xdraw "golang.org/x/image/draw"

	// Register extended decoders.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for nil or zero-sized sources.
var ErrEmptyImage = errors.New("inputs: empty image")

// Source is an image ready for upload: 16-bit non-premultiplied RGBA with
// its first row at the bottom, the way GL textures are addressed.
type Source struct {
	Image *image.NRGBA64
	// Width and Height are the upload size.
	Width, Height int
	// OriginalWidth and OriginalHeight are the size before any downscale.
	OriginalWidth, OriginalHeight int
}

// Scaled reports whether the source was downscaled.
func (s *Source) Scaled() bool {
	return s.Width != s.OriginalWidth || s.Height != s.OriginalHeight
}

// FitSize returns w x h scaled so that the long edge is at most maxDim,
// keeping the aspect ratio. maxDim <= 0 leaves the size unchanged.
func FitSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, (h*maxDim+w/2)/w)
	}
	return max(1, (w*maxDim+h/2)/h), maxDim
}

// Prepare converts img to a Source no larger than maxDim on its long edge.
func Prepare(img image.Image, maxDim int) (*Source, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	// Convert source image to NRGBA64 for consistency.
	full := image.NewNRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(full, full.Bounds(), img, b.Min, xdraw.Src)

	w, h := FitSize(b.Dx(), b.Dy(), maxDim)
	filters := []gift.Filter{gift.FlipVertical()}
	if w != b.Dx() || h != b.Dy() {
		filters = append([]gift.Filter{gift.Resize(w, h, gift.LanczosResampling)}, filters...)
		logging.Logger().Debug("inputs: downscaling source",
			"from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
			"to", fmt.Sprintf("%dx%d", w, h),
		)
	}
	g := gift.New(filters...)
	dst := image.NewNRGBA64(g.Bounds(full.Bounds()))
	g.Draw(dst, full)

	return &Source{
		Image:          dst,
		Width:          dst.Bounds().Dx(),
		Height:         dst.Bounds().Dy(),
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
	}, nil
}

// vflip reverses the row order of a tightly packed RGBA8 buffer in place.
func vflip(pix []byte, width, height int) {
	rowSize := width * 4
	tmp := make([]byte, rowSize)
	for y := 0; y < height/2; y++ {
		top := pix[y*rowSize : (y+1)*rowSize]
		bottom := pix[(height-1-y)*rowSize : (height-y)*rowSize]
		copy(tmp, top)
		copy(top, bottom)
		copy(bottom, tmp)
	}
}

// FromReadback wraps bottom-up RGBA8 pixels from a device read-back as a
// top-down image. pix is modified in place and owned by the result.
func FromReadback(pix []byte, width, height int) (*image.NRGBA, error) {
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("inputs: read-back has %d bytes, want %d", len(pix), width*height*4)
	}
	vflip(pix, width, height)
	return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}, nil
}

// Decode reads any registered image format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logging.Logger().Debug("inputs: decoded image", "path", path, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return img, nil
}
