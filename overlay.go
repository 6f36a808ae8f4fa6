package camview

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Overlay is a translucent image composited over every displayed frame.
type Overlay struct {
	img     *image.NRGBA
	opacity uint8
}

// NewOverlay wraps img with the given opacity, clamped to 0..255.
func NewOverlay(img image.Image, opacity int) *Overlay {
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	return &Overlay{img: nrgba, opacity: clampOpacity(opacity)}
}

// LoadOverlay decodes an image file (PNG, JPEG, GIF, BMP, TIFF or WebP).
func LoadOverlay(path string, opacity int) (*Overlay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camview: overlay: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("camview: overlay %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("camview: overlay %s: empty image", path)
	}
	return NewOverlay(img, opacity), nil
}

func (o *Overlay) Width() int  { return o.img.Rect.Dx() }
func (o *Overlay) Height() int { return o.img.Rect.Dy() }
func (o *Overlay) Opacity() int {
	return int(o.opacity)
}

// blit stretches the overlay over r and blends it with its opacity.
func (o *Overlay) blit(dst draw.Image, r image.Rectangle, interp draw.Interpolator) {
	if o.opacity == 0 || r.Empty() {
		return
	}
	opts := &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: o.opacity})}
	interp.Scale(dst, r, o.img, o.img.Bounds(), draw.Over, opts)
}

func clampOpacity(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
