package encoder

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	f := FrameFromImage(img)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 3, f.Height)
	assert.Len(t, f.Pixels, 48)

	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.NRGBA)
	sub.SetNRGBA(1, 1, color.NRGBA{R: 9, A: 255})
	f = FrameFromImage(sub)
	assert.Len(t, f.Pixels, 16)
	assert.Equal(t, byte(9), f.Pixels[0])
}

func TestArgs(t *testing.T) {
	cfg := Config{Quality: 3}
	in, out := cfg.args("out.jpg", Frame{Width: 640, Height: 480})
	assert.Equal(t, "rawvideo", in["f"])
	assert.Equal(t, "rgba", in["pix_fmt"])
	assert.Equal(t, "640x480", in["s"])
	assert.Equal(t, 3, out["q:v"])
	assert.NotContains(t, out, "c:v")

	cfg = Config{Codec: "libwebp", Quality: 3}
	_, out = cfg.args("out.png", Frame{Width: 1, Height: 1})
	assert.Equal(t, "libwebp", out["c:v"])
	assert.NotContains(t, out, "q:v")
}

func TestStreamArgs(t *testing.T) {
	args := Config{}.stream("out.tiff", Frame{Width: 2, Height: 2, Pixels: make([]byte, 16)}).GetArgs()
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i pipe:")
	assert.Contains(t, joined, "out.tiff")
	assert.Contains(t, joined, "-y")
}

func TestWritePNGWithoutFFmpeg(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 10, B: 20, A: 255})

	cfg := Config{FFmpegPath: filepath.Join(dir, "no-such-ffmpeg")}
	require.NoError(t, Write(context.Background(), img, path, cfg))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 200, G: 10, B: 20, A: 255}, color.NRGBAModel.Convert(got.At(1, 0)))

	err = Write(context.Background(), img, filepath.Join(dir, "out.jpg"), cfg)
	assert.ErrorContains(t, err, "ffmpeg not found")
}
