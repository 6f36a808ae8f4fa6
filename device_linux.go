//go:build linux
// +build linux

package camview

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// OpenDevice opens a V4L2 capture device, checks its capabilities, resets
// cropping and reads the current capture format. On error no descriptor is
// left open.
func OpenDevice(path string) (*DeviceSession, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &DeviceError{Path: path, Op: "open", Err: err}
	}

	fail := func(op string, err error) (*DeviceSession, error) {
		_ = unix.Close(fd)
		return nil, &DeviceError{Path: path, Op: op, Err: err}
	}

	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		return fail("VIDIOC_QUERYCAP", err)
	}

	capsToCheck := caps.Capabilities
	if capsToCheck&v4l2CapDeviceCaps != 0 {
		capsToCheck = caps.DeviceCaps
	}
	if capsToCheck&v4l2CapVideoCapture == 0 {
		return fail("open", ErrNotCaptureDevice)
	}
	if capsToCheck&(v4l2CapReadWrite|v4l2CapStreaming) == 0 {
		return fail("open", ErrUnsupportedIO)
	}
	if capsToCheck&v4l2CapReadWrite == 0 {
		camLog.Warnf("%s: read/write I/O not advertised, frames may not arrive", path)
	}

	resetCropping(fd, path)

	format := v4l2Format{Type: v4l2BufTypeVideoCapture}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&format)); err != nil {
		return fail("VIDIOC_G_FMT", fmt.Errorf("%w: %w", ErrFormatQuery, err))
	}
	if format.Type != v4l2BufTypeVideoCapture {
		return fail("VIDIOC_G_FMT", fmt.Errorf("%w: buffer type %d", ErrFormatQuery, format.Type))
	}
	pix := format.pix()
	if pix.Width == 0 || pix.Height == 0 {
		return fail("VIDIOC_G_FMT", fmt.Errorf("%w: invalid frame size %dx%d", ErrFormatQuery, pix.Width, pix.Height))
	}

	info := DeviceInfo{
		Driver:       v4l2CString(caps.Driver[:]),
		Card:         v4l2CString(caps.Card[:]),
		Bus:          v4l2CString(caps.BusInfo[:]),
		Version:      caps.Version,
		Capabilities: capsToCheck,
	}
	s := newDeviceSession(path, fd, info, CaptureFormat{
		Width:        pix.Width,
		Height:       pix.Height,
		PixelFormat:  PixelFormat(pix.Pixelformat),
		BytesPerLine: pix.Bytesperline,
		ImageSize:    pix.Sizeimage,
	})
	logSessionInfo(s)
	return s, nil
}

// resetCropping restores the default crop rectangle. Many devices do not
// support cropping, so failures only produce a warning.
func resetCropping(fd int, path string) {
	cropcap := v4l2Cropcap{Type: v4l2BufTypeVideoCapture}
	if err := ioctl(fd, vidiocCropcap, unsafe.Pointer(&cropcap)); err != nil {
		camLog.Debugf("%s: VIDIOC_CROPCAP: %v", path, err)
		return
	}
	crop := v4l2Crop{Type: v4l2BufTypeVideoCapture, C: cropcap.Defrect}
	if err := ioctl(fd, vidiocSCrop, unsafe.Pointer(&crop)); err != nil {
		if errors.Is(err, unix.EINVAL) {
			camLog.Warnf("%s: cropping not supported", path)
			return
		}
		camLog.Warnf("%s: VIDIOC_S_CROP: %v", path, err)
	}
}

// ReadFrame reads one frame into the raw buffer. ErrFrameNotReady means no
// data was available yet; any other error means the session is unusable.
func (s *DeviceSession) ReadFrame() (int, error) {
	if s.closed {
		return 0, &DeviceError{Path: s.path, Op: "read", Err: ErrClosed}
	}
	for {
		n, err := unix.Read(s.fd, s.raw)
		switch {
		case err == nil && n > 0:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrFrameNotReady
		case err == nil:
			return 0, &DeviceError{Path: s.path, Op: "read", Err: fmt.Errorf("%w: end of stream", ErrReadFailed)}
		}
		return 0, &DeviceError{Path: s.path, Op: "read", Err: fmt.Errorf("%w: %w", ErrReadFailed, err)}
	}
}

// Close releases the device. Calling it again is a no-op.
func (s *DeviceSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.raw = nil
	s.rgb = NewRGBFrame(0, 0)
	if err := unix.Close(s.fd); err != nil {
		return &DeviceError{Path: s.path, Op: "close", Err: err}
	}
	return nil
}
