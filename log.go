package camview

import "github.com/kataras/golog"

var camLog = golog.Child("[camview]")

// SetLogger replaces the package logger. A nil logger restores the default.
func SetLogger(l *golog.Logger) {
	if l == nil {
		l = golog.Child("[camview]")
	}
	camLog = l
}

// logSessionInfo prints a human-readable description of a freshly opened
// device session.
func logSessionInfo(s *DeviceSession) {
	f := s.format
	if f.Width == 0 || f.Height == 0 {
		return
	}

	info := s.info
	conversion := "YES (to RGB24)"
	if !f.PixelFormat.Decodable() {
		conversion = "NO (format not decoded, frames stay blank)"
	}

	camLog.Infof("[V4L2] %s (Capture) session=%s", s.path, s.id)
	if info.Card != "" || info.Driver != "" || info.Bus != "" {
		camLog.Infof("  Card:        %s", info.Card)
		camLog.Infof("  Driver:      %s", info.Driver)
		camLog.Infof("  Bus:         %s", info.Bus)
	}
	camLog.Infof("  Format:      %s", f.PixelFormat)
	camLog.Infof("  Resolution:  %d x %d", f.Width, f.Height)
	camLog.Infof("  Stride:      %d bytes", f.BytesPerLine)
	camLog.Infof("  Raw buffer:  %d bytes", f.ImageSize)
	camLog.Infof("  RGB buffer:  %d*3 (%d bytes)", f.Width*f.Height, len(s.rgb.Pix))
	camLog.Infof("  Conversion:  %s", conversion)
}
