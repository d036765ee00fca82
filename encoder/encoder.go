// Package encoder writes exported images to disk through ffmpeg.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/richinsley/darkroom/logging"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Config selects the ffmpeg binary and output codec.
type Config struct {
	// FFmpegPath is the ffmpeg executable; empty searches PATH.
	FFmpegPath string
	// Codec is passed as c:v when set.
	Codec string
	// Quality is passed as q:v for lossy formats when positive.
	Quality int
}

// Frame is one RGBA8 image with rows top-down.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// FrameFromImage returns the pixels of img without copying when the image
// is tightly packed.
func FrameFromImage(img *image.NRGBA) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if img.Stride == w*4 && b.Min == (image.Point{}) {
		return Frame{Pixels: img.Pix[:w*h*4], Width: w, Height: h}
	}
	pix := make([]byte, 0, w*h*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		o := img.PixOffset(b.Min.X, y)
		pix = append(pix, img.Pix[o:o+w*4]...)
	}
	return Frame{Pixels: pix, Width: w, Height: h}
}

func lossy(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".webp", ".avif":
		return true
	}
	return false
}

func (c Config) args(path string, f Frame) (ffmpeg.KwArgs, ffmpeg.KwArgs) {
	inputArgs := ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", f.Width, f.Height),
	}
	outputArgs := ffmpeg.KwArgs{
		"frames:v": 1,
		"update":   1,
	}
	if c.Codec != "" {
		outputArgs["c:v"] = c.Codec
	}
	if c.Quality > 0 && lossy(path) {
		outputArgs["q:v"] = c.Quality
	}
	return inputArgs, outputArgs
}

func (c Config) stream(path string, f Frame) *ffmpeg.Stream {
	inputArgs, outputArgs := c.args(path, f)
	cmd := ffmpeg.Input("pipe:", inputArgs).
		Output(path, outputArgs).
		OverWriteOutput().
		WithInput(bytes.NewReader(f.Pixels))
	if c.FFmpegPath != "" {
		cmd = cmd.SetFfmpegPath(c.FFmpegPath)
	}
	return cmd
}

func (c Config) ffmpegAvailable() bool {
	name := c.FFmpegPath
	if name == "" {
		name = "ffmpeg"
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// Write encodes img to path. The container and codec follow the extension
// unless Codec is set. PNG is written in process when ffmpeg is missing.
func Write(ctx context.Context, img *image.NRGBA, path string, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f := FrameFromImage(img)
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("encoder: empty image")
	}
	if !cfg.ffmpegAvailable() {
		if strings.EqualFold(filepath.Ext(path), ".png") {
			logging.Logger().Warn("encoder: ffmpeg not found, writing png in process", "path", path)
			return writePNG(img, path)
		}
		return fmt.Errorf("encoder: ffmpeg not found for %s", path)
	}

	var stderr bytes.Buffer
	cmd := cfg.stream(path, f).WithErrorOutput(&stderr)
	logging.Logger().Debug("encoder: running ffmpeg", "args", strings.Join(cmd.GetArgs(), " "))

	errc := make(chan error, 1)
	go func() {
		errc <- cmd.Run()
	}()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	logging.Logger().Info("encoder: wrote image", "path", path, "width", f.Width, "height", f.Height)
	return nil
}

func writePNG(img *image.NRGBA, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
