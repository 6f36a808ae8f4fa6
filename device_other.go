//go:build !linux
// +build !linux

package camview

// OpenDevice is only implemented on Linux.
func OpenDevice(path string) (*DeviceSession, error) {
	return nil, &DeviceError{Path: path, Op: "open", Err: ErrUnsupportedPlatform}
}

func (s *DeviceSession) ReadFrame() (int, error) {
	return 0, &DeviceError{Path: s.path, Op: "read", Err: ErrUnsupportedPlatform}
}

func (s *DeviceSession) Close() error {
	s.closed = true
	return nil
}
