package camview

// DefaultAmplification is the YUV to RGB gain used when none is configured.
const DefaultAmplification = 255

// Decode converts raw into rgb according to the capture pixel format and
// returns the number of RGB bytes written. Formats other than YUYV are not
// decoded and leave rgb untouched.
func Decode(format PixelFormat, raw, rgb []byte, amp int) int {
	switch format {
	case PixelFormatYUYV:
		return DecodeYUYV(rgb, raw, amp)
	}
	return 0
}

// DecodeYUYV expands packed Y0 U Y1 V groups into two RGB24 pixels each.
// Trailing bytes that do not form a full group are ignored, as is any group
// that does not fit in dst.
func DecodeYUYV(dst, src []byte, amp int) int {
	a := float64(amp)
	n := 0
	for si := 0; si+3 < len(src) && n+5 < len(dst); si += 4 {
		y0 := float64(src[si])
		u := float64(src[si+1])
		y1 := float64(src[si+2])
		v := float64(src[si+3])

		dst[n+0], dst[n+1], dst[n+2] = yuvToRGB(a, y0, u, v)
		dst[n+3], dst[n+4], dst[n+5] = yuvToRGB(a, y1, u, v)
		n += 6
	}
	return n
}

// yuvToRGB uses the camera's own matrix rather than BT.601; output must stay
// byte compatible with existing snapshots.
func yuvToRGB(amp, y, u, v float64) (r, g, b byte) {
	r = clampToByte(amp * (0.004565*y + 0.007935*u - 1.088))
	g = clampToByte(amp * (0.004565*y - 0.001542*u - 0.003183*v + 0.531))
	b = clampToByte(amp * (0.004565*y + 0.000001*u + 0.006250*v - 0.872))
	return r, g, b
}

func clampToByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
