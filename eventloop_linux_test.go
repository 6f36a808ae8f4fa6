//go:build linux
// +build linux

package camview

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func runLoop(t *testing.T, ev *EventLoop, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- ev.Run(ctx) }()
	return done
}

func TestEventLoopReadable(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)
	defer ev.Close()

	r, w := newTestPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var fired int32
	_, err = ev.WatchReadable(r, func() {
		atomic.AddInt32(&fired, 1)
		cancel()
	})
	require.NoError(t, err)

	done := runLoop(t, ev, ctx)
	_, err = unix.Write(w, []byte{1})
	require.NoError(t, err)

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestEventLoopOneShot(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)
	defer ev.Close()

	r, w := newTestPipe(t)
	_, err = unix.Write(w, []byte{1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := 0
	_, err = ev.WatchReadable(r, func() {
		calls++
		// Data is still unread; a second dispatch would mean the watch re-fired.
		time.AfterFunc(50*time.Millisecond, func() { ev.Post(cancel) })
	})
	require.NoError(t, err)

	<-runLoop(t, ev, ctx)
	assert.Equal(t, 1, calls)

	// The descriptor can be watched again after firing.
	_, err = ev.WatchReadable(r, func() {})
	assert.NoError(t, err)
}

func TestEventLoopCancel(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)
	defer ev.Close()

	r, w := newTestPipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fired := false
	watch, err := ev.WatchReadable(r, func() { fired = true })
	require.NoError(t, err)
	watch.Cancel()
	watch.Cancel()

	_, err = unix.Write(w, []byte{1})
	require.NoError(t, err)

	done := runLoop(t, ev, ctx)
	time.AfterFunc(50*time.Millisecond, func() { ev.Post(cancel) })
	<-done
	assert.False(t, fired)
}

func TestEventLoopReusedDescriptorSkipsCollectedEvent(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)
	defer ev.Close()

	ra, wa := newTestPipe(t)
	rb, wb := newTestPipe(t)
	for _, w := range []int{wa, wb} {
		_, err = unix.Write(w, []byte{1})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Both descriptors are ready, so one wait collects both events. Whichever
	// callback runs first closes the other descriptor and installs an idle
	// pipe under the same number; the event already collected for the old
	// descriptor must not reach the new watch.
	idle, _ := newTestPipe(t)
	fds := [2]int{ra, rb}
	var watches [2]Watch
	fired := 0
	reused := 0
	for i := range fds {
		i := i
		watches[i], err = ev.WatchReadable(fds[i], func() {
			fired++
			other := 1 - i
			watches[other].Cancel()
			if err := unix.Close(fds[other]); err != nil {
				t.Errorf("close: %v", err)
				return
			}
			if err := unix.Dup3(idle, fds[other], unix.O_CLOEXEC); err != nil {
				t.Errorf("dup3: %v", err)
				return
			}
			if _, err := ev.WatchReadable(fds[other], func() { reused++ }); err != nil {
				t.Errorf("watch: %v", err)
			}
			time.AfterFunc(100*time.Millisecond, func() { ev.Post(cancel) })
		})
		require.NoError(t, err)
	}

	assert.ErrorIs(t, <-runLoop(t, ev, ctx), context.Canceled)
	assert.Equal(t, 1, fired)
	assert.Zero(t, reused, "the idle pipe never became readable")
}

func TestEventLoopDuplicateWatch(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)
	defer ev.Close()

	r, _ := newTestPipe(t)
	_, err = ev.WatchReadable(r, func() {})
	require.NoError(t, err)
	_, err = ev.WatchReadable(r, func() {})
	assert.Error(t, err)
}

func TestEventLoopPostOrder(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)
	defer ev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var order []int
	ev.Post(func() { order = append(order, 1) })
	ev.Post(func() { order = append(order, 2) })
	ev.Post(func() {
		order = append(order, 3)
		cancel()
	})

	assert.ErrorIs(t, <-runLoop(t, ev, ctx), context.Canceled)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEventLoopCloseWhileRunning(t *testing.T) {
	ev, err := NewEventLoop()
	require.NoError(t, err)

	done := runLoop(t, ev, context.Background())
	started := make(chan struct{})
	ev.Post(func() { close(started) })
	<-started

	require.NoError(t, ev.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	_, err = ev.WatchReadable(0, func() {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ev.Run(context.Background()), ErrClosed)
	assert.NoError(t, ev.Close())
}
