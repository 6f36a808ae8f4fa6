package camview

import (
	"image"
	"image/color"
)

// RGBFrame is a packed 8-bit RGB image, 3 bytes per pixel, row-major.
type RGBFrame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewRGBFrame allocates a zeroed frame.
func NewRGBFrame(width, height int) *RGBFrame {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &RGBFrame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

func (f *RGBFrame) ColorModel() color.Model {
	return color.RGBAModel
}

func (f *RGBFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f *RGBFrame) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return color.RGBA{}
	}
	i := (y*f.Width + x) * 3
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

// Clone returns a deep copy.
func (f *RGBFrame) Clone() *RGBFrame {
	c := &RGBFrame{Width: f.Width, Height: f.Height, Pix: make([]byte, len(f.Pix))}
	copy(c.Pix, f.Pix)
	return c
}

// NRGBA converts the frame to an opaque *image.NRGBA for encoding.
func (f *RGBFrame) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(f.Bounds())
	f.expandInto(img.Pix, img.Stride)
	return img
}

// drawInto writes the frame into the top-left corner of dst as opaque pixels.
func (f *RGBFrame) drawInto(dst *image.RGBA) {
	f.expandInto(dst.Pix[dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y):], dst.Stride)
}

func (f *RGBFrame) expandInto(pix []byte, stride int) {
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Width*3 : (y+1)*f.Width*3]
		dst := pix[y*stride : y*stride+f.Width*4]
		for si, di := 0, 0; si < len(src); si, di = si+3, di+4 {
			dst[di+0] = src[si+0]
			dst[di+1] = src[si+1]
			dst[di+2] = src[si+2]
			dst[di+3] = 0xff
		}
	}
}
