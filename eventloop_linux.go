//go:build linux
// +build linux

package camview

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// EventLoop dispatches readiness callbacks and posted functions on the
// goroutine running Run. Registration and Post may be called from any
// goroutine; callbacks never run concurrently with each other.
type EventLoop struct {
	epfd   int
	wakefd int

	mu       sync.Mutex
	watches  map[int]*fdWatch
	tokens   int32
	posted   []func()
	closed   bool
	running  bool
	released bool
}

// fdWatch is one registration. token travels in the epoll event data so an
// event collected for a descriptor number that was closed and reused within
// the same wait is not delivered to the new registration.
type fdWatch struct {
	loop   *EventLoop
	fd     int
	token  int32
	fn     func()
	active bool
}

// NewEventLoop creates an epoll instance and its wakeup eventfd.
func NewEventLoop() (*EventLoop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("camview: epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("camview: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("camview: epoll_ctl wakeup: %w", err)
	}
	return &EventLoop{
		epfd:    epfd,
		wakefd:  wakefd,
		watches: make(map[int]*fdWatch),
	}, nil
}

// WatchReadable arranges for fn to run once, on the loop goroutine, when fd
// becomes readable. Only one watch per descriptor may be active.
func (l *EventLoop) WatchReadable(fd int, fn func()) (Watch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if _, ok := l.watches[fd]; ok {
		return nil, fmt.Errorf("camview: fd %d already watched", fd)
	}
	l.tokens++
	if l.tokens <= 0 {
		l.tokens = 1
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(fd), Pad: l.tokens}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("camview: epoll_ctl add fd %d: %w", fd, err)
	}
	w := &fdWatch{loop: l, fd: fd, token: l.tokens, fn: fn, active: true}
	l.watches[fd] = w
	return w, nil
}

// Cancel removes the registration. A cancelled watch never fires, even if
// its event was already collected by the current wait.
func (w *fdWatch) Cancel() {
	w.loop.mu.Lock()
	defer w.loop.mu.Unlock()
	w.loop.removeLocked(w)
}

func (l *EventLoop) removeLocked(w *fdWatch) {
	if !w.active {
		return
	}
	w.active = false
	if l.watches[w.fd] == w {
		delete(l.watches, w.fd)
	}
	if !l.closed {
		_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, w.fd, nil)
	}
}

// Post queues fn to run on the loop goroutine.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.posted = append(l.posted, fn)
	l.wakeLocked()
	l.mu.Unlock()
}

func (l *EventLoop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakeLocked()
}

func (l *EventLoop) wakeLocked() {
	if l.released {
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(l.wakefd, b[:])
}

// Run dispatches events until ctx is done or the loop is closed.
func (l *EventLoop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.running {
		l.mu.Unlock()
		return errors.New("camview: event loop already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.running = false
		if l.closed {
			_ = l.releaseLocked()
		}
	}()

	stop := context.AfterFunc(ctx, l.wake)
	defer stop()

	events := make([]unix.EpollEvent, 16)
	for {
		l.runPosted()
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.isClosed() {
			return nil
		}

		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("camview: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakefd {
				l.drainWake()
				continue
			}
			l.mu.Lock()
			w, ok := l.watches[fd]
			ok = ok && w.token == events[i].Pad
			if ok {
				l.removeLocked(w)
			}
			l.mu.Unlock()
			if ok {
				w.fn()
			}
		}
	}
}

func (l *EventLoop) runPosted() {
	for {
		l.mu.Lock()
		fns := l.posted
		l.posted = nil
		l.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}

func (l *EventLoop) drainWake() {
	var b [8]byte
	_, _ = unix.Read(l.wakefd, b[:])
}

func (l *EventLoop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close drops every registration and releases the epoll descriptors. Run
// returns after its current dispatch.
func (l *EventLoop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	for _, w := range l.watches {
		l.removeLocked(w)
	}
	l.closed = true
	l.posted = nil
	defer l.mu.Unlock()

	if l.running {
		// Run releases the descriptors once it observes closed.
		l.wakeLocked()
		return nil
	}
	return l.releaseLocked()
}

func (l *EventLoop) releaseLocked() error {
	if l.released {
		return nil
	}
	l.released = true
	err := unix.Close(l.epfd)
	if cerr := unix.Close(l.wakefd); err == nil {
		err = cerr
	}
	return err
}
