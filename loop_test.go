package camview

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatch struct {
	n        *fakeNotifier
	fd       int
	fn       func()
	canceled bool
}

func (w *fakeWatch) Cancel() {
	w.canceled = true
	if w.n.pending[w.fd] == w {
		delete(w.n.pending, w.fd)
	}
}

type fakeNotifier struct {
	pending map[int]*fakeWatch
	armed   int
	err     error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{pending: make(map[int]*fakeWatch)}
}

func (n *fakeNotifier) WatchReadable(fd int, fn func()) (Watch, error) {
	if n.err != nil {
		return nil, n.err
	}
	w := &fakeWatch{n: n, fd: fd, fn: fn}
	n.pending[fd] = w
	n.armed++
	return w, nil
}

// fire delivers readability for fd; it reports whether a watch was pending.
func (n *fakeNotifier) fire(fd int) bool {
	w, ok := n.pending[fd]
	if !ok {
		return false
	}
	delete(n.pending, fd)
	w.fn()
	return true
}

type readResult struct {
	n   int
	err error
}

type fakeSource struct {
	id     uuid.UUID
	info   DeviceInfo
	fd     int
	format CaptureFormat
	raw    []byte
	rgb    *RGBFrame
	reads  []readResult
	nread  int
	closed int
}

func newFakeSource(w, h int) *fakeSource {
	f := CaptureFormat{Width: uint32(w), Height: uint32(h), PixelFormat: PixelFormatYUYV}.normalize()
	raw := make([]byte, f.ImageSize)
	for i := 0; i+3 < len(raw); i += 4 {
		raw[i], raw[i+1], raw[i+2], raw[i+3] = 255, 128, 255, 128
	}
	return &fakeSource{
		id:     uuid.New(),
		info:   DeviceInfo{Driver: "uvcvideo", Card: "Integrated Camera", Bus: "usb-0000:00:14.0-8", Version: 0x060100, Capabilities: 0x84a00001},
		fd:     7,
		format: f,
		raw:    raw,
		rgb:    NewRGBFrame(w, h),
	}
}

func (s *fakeSource) ID() uuid.UUID         { return s.id }
func (s *fakeSource) Info() DeviceInfo      { return s.info }
func (s *fakeSource) Fd() int               { return s.fd }
func (s *fakeSource) Format() CaptureFormat { return s.format }
func (s *fakeSource) Raw() []byte           { return s.raw }
func (s *fakeSource) RGB() *RGBFrame        { return s.rgb }
func (s *fakeSource) Close() error          { s.closed++; return nil }

func (s *fakeSource) ReadFrame() (int, error) {
	s.nread++
	if len(s.reads) == 0 {
		return len(s.raw), nil
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	return r.n, r.err
}

type fakeRenderer struct {
	renders   []*DisplaySurface
	notices   []string
	available []bool
	onRender  func(s *DisplaySurface)
}

func (r *fakeRenderer) Render(s *DisplaySurface) {
	r.renders = append(r.renders, s)
	if r.onRender != nil {
		r.onRender(s)
	}
}
func (r *fakeRenderer) Notice(msg string)           { r.notices = append(r.notices, msg) }
func (r *fakeRenderer) SetCaptureAvailable(ok bool) { r.available = append(r.available, ok) }

type loopFixture struct {
	loop     *CaptureLoop
	notifier *fakeNotifier
	source   *fakeSource
	renderer *fakeRenderer
	opens    int
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	fx := &loopFixture{
		notifier: newFakeNotifier(),
		source:   newFakeSource(4, 2),
		renderer: &fakeRenderer{},
	}
	fx.loop = NewCaptureLoop(LoopOptions{
		Device: "/dev/video9",
		Open: func(path string) (FrameSource, error) {
			fx.opens++
			return fx.source, nil
		},
		Notifier:     fx.notifier,
		Renderer:     fx.renderer,
		Config:       DefaultCameraConfig(),
		SnapshotBase: t.TempDir(),
	})
	return fx
}

func TestCaptureLoopOpenFailure(t *testing.T) {
	fx := newLoopFixture(t)
	openErr := &DeviceError{Path: "/dev/video9", Op: "open", Err: os.ErrNotExist}
	fx.loop.opts.Open = func(string) (FrameSource, error) { return nil, openErr }

	err := fx.loop.Start()
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, StateFailed, fx.loop.State())
	assert.Equal(t, []bool{false}, fx.renderer.available)
	require.Len(t, fx.renderer.notices, 1)
	assert.Contains(t, fx.renderer.notices[0], "Could not open the video capture device")
	assert.Zero(t, fx.notifier.armed)

	fx.loop.opts.Open = func(string) (FrameSource, error) { return fx.source, nil }
	require.NoError(t, fx.loop.Start(), "a failed loop can be started again")
	assert.Equal(t, StateWaitingForData, fx.loop.State())
}

func TestCaptureLoopRendersFrames(t *testing.T) {
	fx := newLoopFixture(t)
	require.NoError(t, fx.loop.Start())
	assert.Equal(t, StateWaitingForData, fx.loop.State())
	assert.Equal(t, []bool{true}, fx.renderer.available)

	for i := 1; i <= 3; i++ {
		require.True(t, fx.notifier.fire(7))
		require.Len(t, fx.renderer.renders, i)
		assert.Equal(t, uint64(i), fx.renderer.renders[i-1].Seq)
		assert.Equal(t, StateWaitingForData, fx.loop.State())
	}

	s := fx.loop.Surface()
	require.NotNil(t, s)
	assert.Equal(t, 4, s.Width())
	assert.Equal(t, uint8(255), s.Image.RGBAAt(0, 0).R)
	assert.Equal(t, uint64(3), fx.loop.Frames())
}

func TestCaptureLoopTransientReadIsSilent(t *testing.T) {
	fx := newLoopFixture(t)
	fx.source.reads = []readResult{{err: ErrFrameNotReady}, {err: ErrFrameNotReady}}
	require.NoError(t, fx.loop.Start())

	require.True(t, fx.notifier.fire(7))
	require.True(t, fx.notifier.fire(7))
	assert.Empty(t, fx.renderer.renders)
	assert.Empty(t, fx.renderer.notices)
	assert.Equal(t, StateWaitingForData, fx.loop.State())

	require.True(t, fx.notifier.fire(7))
	assert.Len(t, fx.renderer.renders, 1)
}

func TestCaptureLoopHardReadFailure(t *testing.T) {
	fx := newLoopFixture(t)
	fx.source.reads = []readResult{{n: len(fx.source.raw)}, {err: errors.New("camview: read failed: input/output error")}}
	require.NoError(t, fx.loop.Start())

	require.True(t, fx.notifier.fire(7))
	require.True(t, fx.notifier.fire(7))

	assert.Equal(t, StateClosed, fx.loop.State())
	assert.Equal(t, 1, fx.source.closed)
	assert.Len(t, fx.renderer.notices, 1)
	assert.Equal(t, []bool{true, false}, fx.renderer.available)
	assert.Nil(t, fx.loop.Session())
	assert.Contains(t, fx.renderer.notices[0], "session "+fx.source.id.String())

	assert.False(t, fx.notifier.fire(7), "no read is armed after failure")
	assert.Equal(t, 2, fx.source.nread)

	fx.loop.Stop()
	assert.Equal(t, 1, fx.source.closed, "close happens once")
}

func TestCaptureLoopWatchFailure(t *testing.T) {
	fx := newLoopFixture(t)
	fx.notifier.err = errors.New("epoll_ctl: bad file descriptor")

	require.Error(t, fx.loop.Start())
	assert.Equal(t, StateClosed, fx.loop.State())
	assert.Equal(t, 1, fx.source.closed)
	assert.Len(t, fx.renderer.notices, 1)
}

func TestCaptureLoopStop(t *testing.T) {
	fx := newLoopFixture(t)
	require.NoError(t, fx.loop.Start())
	w := fx.notifier.pending[7]
	require.NotNil(t, w)

	fx.loop.Stop()
	assert.Equal(t, StateClosed, fx.loop.State())
	assert.True(t, w.canceled)
	assert.Equal(t, 1, fx.source.closed)

	// A callback that was already dispatched must not touch the stopped session.
	w.fn()
	assert.Zero(t, fx.source.nread)
	assert.Empty(t, fx.renderer.renders)

	fx.loop.Stop()
	assert.Equal(t, 1, fx.source.closed)
}

func TestCaptureLoopStopFromRenderer(t *testing.T) {
	fx := newLoopFixture(t)
	fx.renderer.onRender = func(*DisplaySurface) { fx.loop.Stop() }
	require.NoError(t, fx.loop.Start())

	require.True(t, fx.notifier.fire(7))
	assert.Equal(t, StateClosed, fx.loop.State())
	assert.Empty(t, fx.notifier.pending)
	assert.Equal(t, 1, fx.notifier.armed)
}

func TestCaptureLoopRestartAfterClose(t *testing.T) {
	fx := newLoopFixture(t)
	require.NoError(t, fx.loop.Start())
	require.Error(t, fx.loop.Start(), "already running")

	fx.loop.Stop()
	require.NoError(t, fx.loop.Start())
	assert.Equal(t, 2, fx.opens)
	require.True(t, fx.notifier.fire(7))
	assert.Len(t, fx.renderer.renders, 1)
}

func TestCaptureLoopAppliesConfigChanges(t *testing.T) {
	fx := newLoopFixture(t)
	require.NoError(t, fx.loop.Start())
	require.True(t, fx.notifier.fire(7))
	assert.Equal(t, 4, fx.loop.Surface().Width())

	fx.loop.SetViewport(image.Pt(8, 8))
	cfg := fx.loop.Config()
	cfg.KeepAspectRatio = false
	fx.loop.SetConfig(cfg)
	require.True(t, fx.notifier.fire(7))
	assert.Equal(t, image.Rect(0, 0, 8, 8), fx.loop.Surface().Frame)
}

func TestCaptureLoopSnapshot(t *testing.T) {
	fx := newLoopFixture(t)
	fx.loop.opts.Snapshots = &SnapshotWriter{Now: fixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))}

	_, err := fx.loop.Snapshot()
	assert.ErrorIs(t, err, ErrNoFrame)
	require.Len(t, fx.renderer.notices, 1)

	require.NoError(t, fx.loop.Start())
	_, err = fx.loop.Snapshot()
	assert.ErrorIs(t, err, ErrNoFrame, "no frame decoded yet")

	require.True(t, fx.notifier.fire(7))
	path, err := fx.loop.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.loop.opts.SnapshotBase, "DCIM", "20240501-120000-001.png"), path)
	assert.FileExists(t, path)

	path, err = fx.loop.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "20240501-120000-002.png", filepath.Base(path))
}

func TestCaptureLoopSnapshotFailureKeepsRunning(t *testing.T) {
	fx := newLoopFixture(t)
	// A regular file where the snapshot directory should go.
	base := filepath.Join(t.TempDir(), "home")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o644))
	fx.loop.opts.SnapshotBase = base

	require.NoError(t, fx.loop.Start())
	require.True(t, fx.notifier.fire(7))

	_, err := fx.loop.Snapshot()
	require.Error(t, err)
	assert.Equal(t, StateWaitingForData, fx.loop.State())
	require.Len(t, fx.renderer.notices, 1)
	assert.Contains(t, fx.renderer.notices[0], "Could not save snapshot")
	assert.Equal(t, []bool{true}, fx.renderer.available)
	assert.Zero(t, fx.source.closed)

	require.True(t, fx.notifier.fire(7))
	assert.Len(t, fx.renderer.renders, 2)
}

func TestCaptureLoopProperties(t *testing.T) {
	fx := newLoopFixture(t)
	_, err := fx.loop.Properties()
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, fx.loop.Start())
	require.Same(t, fx.source, fx.loop.Session())
	require.True(t, fx.notifier.fire(7))

	props, err := fx.loop.Properties()
	require.NoError(t, err)
	assert.Equal(t, Properties{
		Session:      fx.source.id.String(),
		Device:       "/dev/video9",
		Driver:       "uvcvideo",
		Card:         "Integrated Camera",
		Bus:          "usb-0000:00:14.0-8",
		Version:      "6.1.0",
		Capabilities: "0x84a00001",
		Format:       "YUYV",
		Width:        4,
		Height:       2,
		Frames:       1,
	}, props)

	fx.loop.Stop()
	_, err = fx.loop.Properties()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStateReady(t *testing.T) {
	assert.False(t, StateIdle.Ready())
	assert.False(t, StateFailed.Ready())
	assert.True(t, StateWaitingForData.Ready())
	assert.True(t, StateRendering.Ready())
	assert.False(t, StateClosed.Ready())
	assert.Equal(t, "waiting", StateWaitingForData.String())
}
