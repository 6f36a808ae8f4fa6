package camview

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCaptureDevice is returned when the device lacks the video capture capability.
	ErrNotCaptureDevice = errors.New("camview: not a video capture device")

	// ErrUnsupportedIO is returned when the device supports neither read/write nor streaming I/O.
	ErrUnsupportedIO = errors.New("camview: no supported I/O mode")

	// ErrFormatQuery is returned when the device cannot report a video capture format.
	ErrFormatQuery = errors.New("camview: format query failed")

	// ErrFrameNotReady is the transient read condition (EAGAIN). The session
	// stays usable.
	ErrFrameNotReady = errors.New("camview: frame not ready")

	// ErrReadFailed means the device can no longer be read.
	ErrReadFailed = errors.New("camview: read failed")

	// ErrUnsupportedPlatform is returned by device and event loop
	// constructors on platforms without V4L2.
	ErrUnsupportedPlatform = errors.New("camview: unsupported platform")

	// ErrClosed is returned for operations on a closed session or loop.
	ErrClosed = errors.New("camview: closed")

	// ErrEncodeFailed matches every *EncodeError.
	ErrEncodeFailed = errors.New("camview: encode failed")

	// ErrPathExhausted is returned when every snapshot name for the current
	// second is taken.
	ErrPathExhausted = errors.New("camview: snapshot paths exhausted")

	// ErrNoFrame is returned when a snapshot is requested before the first frame.
	ErrNoFrame = errors.New("camview: no frame captured")
)

// DeviceError describes a failed device operation.
type DeviceError struct {
	Path string
	Op   string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camview: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a read condition worth retrying on the
// next readiness notification.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFrameNotReady)
}

// EncodeError is returned by Save when a snapshot cannot be written.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("camview: snapshot %s: %v", e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func (e *EncodeError) Is(target error) bool {
	return target == ErrEncodeFailed
}
