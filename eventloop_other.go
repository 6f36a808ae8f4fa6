//go:build !linux
// +build !linux

package camview

import "context"

// EventLoop is only implemented on Linux.
type EventLoop struct{}

func NewEventLoop() (*EventLoop, error) {
	return nil, ErrUnsupportedPlatform
}

func (l *EventLoop) WatchReadable(fd int, fn func()) (Watch, error) {
	return nil, ErrUnsupportedPlatform
}

func (l *EventLoop) Post(fn func()) {}

func (l *EventLoop) Run(ctx context.Context) error {
	return ErrUnsupportedPlatform
}

func (l *EventLoop) Close() error {
	return nil
}
