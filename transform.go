package camview

import (
	"image"

	"golang.org/x/image/draw"
)

// DisplaySurface is a transformed frame ready to paint. Frame is the part of
// Image covered by video; the remainder is zero.
type DisplaySurface struct {
	Image *image.RGBA
	Frame image.Rectangle
	Seq   uint64
}

func (s *DisplaySurface) Width() int  { return s.Image.Rect.Dx() }
func (s *DisplaySurface) Height() int { return s.Image.Rect.Dy() }

// Transformer applies flips, scaling and overlays to decoded frames. The
// flip scratch image is reused between calls, so a Transformer must not be
// shared between goroutines.
type Transformer struct {
	scratch *image.RGBA
}

// Transform builds a new surface of size viewport from frame. A zero
// viewport means the native frame size.
func (t *Transformer) Transform(frame *RGBFrame, viewport image.Point, cfg CameraConfig, overlays []*Overlay) *DisplaySurface {
	native := image.Pt(frame.Width, frame.Height)
	if viewport.X <= 0 || viewport.Y <= 0 {
		viewport = native
	}
	interp := cfg.Interpolation.interpolator()

	if viewport == native {
		// Direct path: decoded pixels land in the surface itself.
		dst := image.NewRGBA(image.Rectangle{Max: native})
		frame.drawInto(dst)
		flip(dst, cfg)
		for _, o := range overlays {
			o.blit(dst, dst.Rect, interp)
		}
		return &DisplaySurface{Image: dst, Frame: dst.Rect}
	}

	src := t.source(native)
	frame.drawInto(src)
	flip(src, cfg)

	dst := image.NewRGBA(image.Rectangle{Max: viewport})
	r := dst.Rect
	if cfg.KeepAspectRatio {
		r = fitRect(native, viewport)
	}
	if !r.Empty() && !src.Rect.Empty() {
		interp.Scale(dst, r, src, src.Rect, draw.Src, nil)
	}
	for _, o := range overlays {
		o.blit(dst, r, interp)
	}
	return &DisplaySurface{Image: dst, Frame: r}
}

func (t *Transformer) source(size image.Point) *image.RGBA {
	if t.scratch == nil || t.scratch.Rect.Max != size {
		t.scratch = image.NewRGBA(image.Rectangle{Max: size})
	}
	return t.scratch
}

// fitRect returns the largest rectangle with the aspect ratio of src that
// fits in viewport, centered.
func fitRect(src, viewport image.Point) image.Rectangle {
	if src.X <= 0 || src.Y <= 0 {
		return image.Rectangle{}
	}
	w, h := viewport.X, viewport.Y
	if viewport.X*src.Y > viewport.Y*src.X {
		w = src.X * viewport.Y / src.Y
	} else {
		h = src.Y * viewport.X / src.X
	}

	x := (viewport.X - w) / 2
	y := (viewport.Y - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

func flip(img *image.RGBA, cfg CameraConfig) {
	if cfg.HFlip {
		flipHorizontal(img)
	}
	if cfg.VFlip {
		flipVertical(img)
	}
}

func flipHorizontal(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for l, r := 0, (w-1)*4; l < r; l, r = l+4, r-4 {
			row[l], row[r] = row[r], row[l]
			row[l+1], row[r+1] = row[r+1], row[l+1]
			row[l+2], row[r+2] = row[r+2], row[l+2]
			row[l+3], row[r+3] = row[r+3], row[l+3]
		}
	}
}

func flipVertical(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tmp := make([]byte, w*4)
	for top, bottom := 0, h-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := img.Pix[top*img.Stride : top*img.Stride+w*4]
		b := img.Pix[bottom*img.Stride : bottom*img.Stride+w*4]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
