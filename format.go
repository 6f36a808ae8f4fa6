package camview

import "fmt"

// PixelFormat is a V4L2 FourCC pixel format code.
type PixelFormat uint32

const (
	PixelFormatRGB24 PixelFormat = 0x33424752 // 'RGB3'
	PixelFormatYUYV  PixelFormat = 0x56595559 // 'YUYV'
	PixelFormatNV12  PixelFormat = 0x3231564E // 'NV12'
	PixelFormatYUV24 PixelFormat = 0x33565559 // 'YUV3' (packed 4:4:4, 8 bits per component)
	PixelFormatMJPEG PixelFormat = 0x47504A4D // 'MJPG'
)

// FourCC returns the four character code, e.g. "YUYV".
func (p PixelFormat) FourCC() string {
	b := []byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)}
	return string(b)
}

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatYUYV:
		return "YUYV (YCbCr 4:2:2)"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatNV12:
		return "NV12 (YCbCr 4:2:0)"
	case PixelFormatYUV24:
		return "YUV24 (YCbCr 4:4:4)"
	case PixelFormatMJPEG:
		return "MJPEG"
	}
	return fmt.Sprintf("UNKNOWN (0x%08x)", uint32(p))
}

// BytesPerPixel returns the minimum number of bytes a single pixel occupies
// in the raw buffer, rounded up. Compressed formats report 0.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatYUYV:
		return 2
	case PixelFormatRGB24, PixelFormatYUV24:
		return 3
	case PixelFormatNV12:
		// 12 bits per pixel; one byte of luma is the floor.
		return 1
	}
	return 0
}

// Decodable reports whether Decode produces output for this format.
func (p PixelFormat) Decodable() bool {
	return p == PixelFormatYUYV
}

// CaptureFormat is the image geometry negotiated with the device. It is
// fixed for the lifetime of a DeviceSession.
type CaptureFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  PixelFormat
	BytesPerLine uint32
	ImageSize    uint32
}

// MinImageSize is Width*Height*BytesPerPixel.
func (f CaptureFormat) MinImageSize() uint32 {
	return f.Width * f.Height * uint32(f.PixelFormat.BytesPerPixel())
}

// normalize fills in a missing stride and raises ImageSize to the minimum
// the geometry requires.
func (f CaptureFormat) normalize() CaptureFormat {
	if f.BytesPerLine == 0 {
		f.BytesPerLine = f.Width * uint32(f.PixelFormat.BytesPerPixel())
	}
	if min := f.MinImageSize(); f.ImageSize < min {
		f.ImageSize = min
	}
	return f
}

func (f CaptureFormat) String() string {
	return fmt.Sprintf("%dx%d %s (%d bytes)", f.Width, f.Height, f.PixelFormat.FourCC(), f.ImageSize)
}
