package gldevice

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/richinsley/darkroom/graphics"
)

type texture struct {
	id     uint32
	width  int
	height int
	format graphics.Format
}

func getWrapMode(wrap string) int32 {
	switch wrap {
	case "repeat":
		return gl.REPEAT
	case "mirror":
		return gl.MIRRORED_REPEAT
	default:
		return gl.CLAMP_TO_EDGE
	}
}

func getFilterMode(filter string) (minFilter, magFilter int32) {
	switch filter {
	case "nearest":
		return gl.NEAREST, gl.NEAREST
	default:
		return gl.LINEAR, gl.LINEAR
	}
}

// glFormat returns internal format, pixel format and pixel type for f.
func glFormat(f graphics.Format) (int32, uint32, uint32) {
	switch f {
	case graphics.FormatRGBA16F:
		return gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT
	case graphics.FormatRGBA32F:
		return gl.RGBA32F, gl.RGBA, gl.FLOAT
	default:
		return gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE
	}
}

func (d *Device) newTexture(width, height int, format graphics.Format, pixels []float32) (graphics.TextureID, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	if width <= 0 || height <= 0 || width > d.info.MaxTextureSize || height > d.info.MaxTextureSize {
		return 0, fmt.Errorf("%w: %dx%d exceeds %d", graphics.ErrOutOfMemory, width, height, d.info.MaxTextureSize)
	}
	internal, pixFormat, pixType := glFormat(format)
	filter := d.opts.Filter
	if format == graphics.FormatRGBA32F && d.gles {
		// 32-bit float textures are not filterable on ES without an extension
		filter = "nearest"
	}
	minFilter, magFilter := getFilterMode(filter)
	wrap := getWrapMode(d.opts.Wrap)

	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, minFilter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, magFilter)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, wrap)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, wrap)
	if pixels != nil {
		gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(width), int32(height), 0, gl.RGBA, gl.FLOAT, gl.Ptr(pixels))
	} else {
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(width), int32(height), 0, pixFormat, pixType, nil)
	}
	gl.BindTexture(gl.TEXTURE_2D, 0)
	if err := d.check("create texture"); err != nil {
		gl.DeleteTextures(1, &id)
		return 0, err
	}
	t := graphics.TextureID(id)
	d.textures[t] = &texture{id: id, width: width, height: height, format: format}
	return t, nil
}

// UploadImage converts img to float texels and uploads them as RGBA16F.
func (d *Device) UploadImage(img *image.NRGBA64) (graphics.TextureID, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pixels := make([]float32, 0, w*h*4)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*8]
		for i := 0; i < len(row); i += 2 {
			pixels = append(pixels, float32(binary.BigEndian.Uint16(row[i:]))/0xffff)
		}
	}
	return d.newTexture(w, h, graphics.FormatRGBA16F, pixels)
}

func (d *Device) CreateTexture(width, height int, format graphics.Format) (graphics.TextureID, error) {
	return d.newTexture(width, height, format, nil)
}

func (d *Device) DeleteTexture(t graphics.TextureID) {
	tex, ok := d.textures[t]
	if !ok {
		return
	}
	delete(d.textures, t)
	if d.usable() == nil {
		gl.DeleteTextures(1, &tex.id)
	}
}

func (d *Device) CreateFramebuffer() (graphics.FramebufferID, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	id := graphics.FramebufferID(fbo)
	d.framebuffers[id] = 0
	return id, nil
}

func (d *Device) AttachTexture(fb graphics.FramebufferID, t graphics.TextureID) error {
	if err := d.usable(); err != nil {
		return err
	}
	tex, ok := d.textures[t]
	if _, known := d.framebuffers[fb]; !known || !ok {
		return graphics.ErrUnknownHandle
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(fb))
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex.id, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	d.framebuffers[fb] = t
	return d.check("attach texture")
}

func (d *Device) FramebufferStatus(fb graphics.FramebufferID) error {
	if err := d.usable(); err != nil {
		return err
	}
	if _, ok := d.framebuffers[fb]; !ok {
		return graphics.ErrUnknownHandle
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(fb))
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("%w: status 0x%x", graphics.ErrIncompleteTarget, status)
	}
	return nil
}

func (d *Device) DeleteFramebuffer(fb graphics.FramebufferID) {
	if _, ok := d.framebuffers[fb]; !ok {
		return
	}
	delete(d.framebuffers, fb)
	if d.usable() == nil {
		id := uint32(fb)
		gl.DeleteFramebuffers(1, &id)
	}
}
