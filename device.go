package camview

import (
	"runtime"

	"github.com/google/uuid"
)

// DefaultDevice is the capture device opened when none is configured.
var DefaultDevice = defaultDevicePath()

func defaultDevicePath() string {
	if runtime.GOOS == "linux" {
		return "/dev/video0"
	}
	return "video0"
}

// DeviceInfo is the identification reported by the driver.
type DeviceInfo struct {
	Driver       string
	Card         string
	Bus          string
	Version      uint32
	Capabilities uint32
}

// DeviceSession is an open capture device together with its negotiated
// format and frame buffers. It is not safe for concurrent use.
type DeviceSession struct {
	id     uuid.UUID
	path   string
	fd     int
	info   DeviceInfo
	format CaptureFormat
	raw    []byte
	rgb    *RGBFrame
	closed bool
}

func newDeviceSession(path string, fd int, info DeviceInfo, format CaptureFormat) *DeviceSession {
	format = format.normalize()
	return &DeviceSession{
		id:     uuid.New(),
		path:   path,
		fd:     fd,
		info:   info,
		format: format,
		raw:    make([]byte, format.ImageSize),
		rgb:    NewRGBFrame(int(format.Width), int(format.Height)),
	}
}

func (s *DeviceSession) ID() uuid.UUID         { return s.id }
func (s *DeviceSession) Path() string          { return s.path }
func (s *DeviceSession) Fd() int               { return s.fd }
func (s *DeviceSession) Info() DeviceInfo      { return s.info }
func (s *DeviceSession) Format() CaptureFormat { return s.format }

// Raw returns the raw frame buffer filled by ReadFrame.
func (s *DeviceSession) Raw() []byte { return s.raw }

// RGB returns the decoded frame buffer.
func (s *DeviceSession) RGB() *RGBFrame { return s.rgb }

// Closed reports whether Close has been called.
func (s *DeviceSession) Closed() bool { return s.closed }
