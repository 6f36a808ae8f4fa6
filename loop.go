package camview

import (
	"fmt"
	"image"

	"github.com/google/uuid"
)

// State is the CaptureLoop state.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateFailed
	StateWaitingForData
	StateReading
	StateDecoding
	StateRendering
	StateClosed
)

var stateNames = [...]string{
	"idle", "opening", "failed", "waiting", "reading", "decoding", "rendering", "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Ready reports whether a device is open and the loop is cycling.
func (s State) Ready() bool {
	return s >= StateWaitingForData && s <= StateRendering
}

// Watch is a pending readability registration.
type Watch interface {
	Cancel()
}

// Notifier delivers one-shot readability notifications. *EventLoop is the
// production implementation.
type Notifier interface {
	WatchReadable(fd int, fn func()) (Watch, error)
}

// Renderer is the collaborator that paints frames and shows status. The
// surface passed to Render belongs to the renderer only for the duration of
// the call; copy what must be kept.
type Renderer interface {
	Render(s *DisplaySurface)
	Notice(msg string)
	SetCaptureAvailable(ok bool)
}

// FrameSource is an open capture device. *DeviceSession implements it.
type FrameSource interface {
	ID() uuid.UUID
	Info() DeviceInfo
	Fd() int
	Format() CaptureFormat
	Raw() []byte
	RGB() *RGBFrame
	ReadFrame() (int, error)
	Close() error
}

// OpenFunc opens a frame source by path.
type OpenFunc func(path string) (FrameSource, error)

// OpenDeviceSource is the default OpenFunc.
func OpenDeviceSource(path string) (FrameSource, error) {
	s, err := OpenDevice(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LoopOptions configures a CaptureLoop.
type LoopOptions struct {
	Device   string
	Open     OpenFunc
	Notifier Notifier
	Renderer Renderer

	Config        CameraConfig
	Amplification int
	Viewport      image.Point
	Overlays      []*Overlay

	// Snapshots go to SnapshotBase/SnapshotSubdir, $HOME/DCIM by default.
	SnapshotBase   string
	SnapshotSubdir string
	Snapshots      *SnapshotWriter
}

// CaptureLoop drives a single device from open to close: it waits for
// readability, reads, decodes, transforms, renders and re-arms. All methods
// and callbacks must run on the Notifier's goroutine.
type CaptureLoop struct {
	opts        LoopOptions
	state       State
	src         FrameSource
	watch       Watch
	gen         uint64
	transformer Transformer
	surface     *DisplaySurface
	seq         uint64
	haveFrame   bool
}

// NewCaptureLoop returns an idle loop. Notifier and Renderer are required.
func NewCaptureLoop(opts LoopOptions) *CaptureLoop {
	if opts.Device == "" {
		opts.Device = DefaultDevice
	}
	if opts.Open == nil {
		opts.Open = OpenDeviceSource
	}
	if opts.Amplification == 0 {
		opts.Amplification = DefaultAmplification
	}
	if opts.SnapshotSubdir == "" {
		opts.SnapshotSubdir = SnapshotSubdir
	}
	if opts.Snapshots == nil {
		opts.Snapshots = &SnapshotWriter{}
	}
	return &CaptureLoop{opts: opts}
}

func (l *CaptureLoop) State() State { return l.state }

// Session returns the open frame source, or nil.
func (l *CaptureLoop) Session() FrameSource { return l.src }

// Properties describes the open device session.
type Properties struct {
	Session      string `json:"session"`
	Device       string `json:"device"`
	Driver       string `json:"driver"`
	Card         string `json:"card"`
	Bus          string `json:"bus"`
	Version      string `json:"version"`
	Capabilities string `json:"capabilities"`
	Format       string `json:"format"`
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	Frames       uint64 `json:"frames"`
}

// Properties reports the identification and format of the open session.
// It fails with ErrClosed when no device is open.
func (l *CaptureLoop) Properties() (Properties, error) {
	if !l.state.Ready() || l.src == nil {
		return Properties{}, ErrClosed
	}
	info := l.src.Info()
	f := l.src.Format()
	return Properties{
		Session:      l.src.ID().String(),
		Device:       l.opts.Device,
		Driver:       info.Driver,
		Card:         info.Card,
		Bus:          info.Bus,
		Version:      fmt.Sprintf("%d.%d.%d", info.Version>>16&0xff, info.Version>>8&0xff, info.Version&0xff),
		Capabilities: fmt.Sprintf("0x%08x", info.Capabilities),
		Format:       f.PixelFormat.FourCC(),
		Width:        f.Width,
		Height:       f.Height,
		Frames:       l.seq,
	}, nil
}

// Surface returns the most recently rendered surface, or nil.
func (l *CaptureLoop) Surface() *DisplaySurface { return l.surface }

// Frames returns the number of frames rendered since the loop was created.
func (l *CaptureLoop) Frames() uint64 { return l.seq }

func (l *CaptureLoop) Device() string { return l.opts.Device }

// SetDevice changes the path used by the next Start.
func (l *CaptureLoop) SetDevice(path string) { l.opts.Device = path }

func (l *CaptureLoop) Config() CameraConfig { return l.opts.Config }

// SetConfig replaces the view settings; the next frame uses them.
func (l *CaptureLoop) SetConfig(cfg CameraConfig) { l.opts.Config = cfg }

// SetViewport sets the display size. A zero size means the native size.
func (l *CaptureLoop) SetViewport(size image.Point) { l.opts.Viewport = size }

// AddOverlay appends an overlay; overlays are drawn in the order added.
func (l *CaptureLoop) AddOverlay(o *Overlay) {
	if o != nil {
		l.opts.Overlays = append(l.opts.Overlays, o)
	}
}

// Start opens the device and arms the first read. It is accepted from the
// idle, failed and closed states; on failure the loop is left failed and
// the caller decides whether to try again.
func (l *CaptureLoop) Start() error {
	switch l.state {
	case StateIdle, StateFailed, StateClosed:
	default:
		return fmt.Errorf("camview: capture loop is %s", l.state)
	}

	l.state = StateOpening
	src, err := l.opts.Open(l.opts.Device)
	if err != nil {
		l.state = StateFailed
		camLog.Errorf("%s: could not open the video capture device: %v", l.opts.Device, err)
		l.opts.Renderer.SetCaptureAvailable(false)
		l.opts.Renderer.Notice(fmt.Sprintf("%s: Could not open the video capture device: %v", l.opts.Device, err))
		return err
	}

	l.src = src
	l.haveFrame = false
	l.surface = nil
	camLog.Debugf("%s: session %s started", l.opts.Device, src.ID())
	l.opts.Renderer.SetCaptureAvailable(true)
	return l.arm()
}

// Stop cancels any pending wait, closes the device and releases buffers.
// No callback fires for the stopped session afterwards.
func (l *CaptureLoop) Stop() {
	if !l.state.Ready() && l.state != StateOpening {
		return
	}
	l.release()
	l.state = StateClosed
	l.opts.Renderer.SetCaptureAvailable(false)
	camLog.Infof("%s: capture stopped", l.opts.Device)
}

func (l *CaptureLoop) arm() error {
	l.state = StateWaitingForData
	gen := l.gen
	w, err := l.opts.Notifier.WatchReadable(l.src.Fd(), func() { l.onReadable(gen) })
	if err != nil {
		err = fmt.Errorf("camview: wait for %s: %w", l.opts.Device, err)
		l.fail(err)
		return err
	}
	l.watch = w
	return nil
}

func (l *CaptureLoop) onReadable(gen uint64) {
	if gen != l.gen || l.state != StateWaitingForData {
		return
	}
	l.watch = nil

	l.state = StateReading
	n, err := l.src.ReadFrame()
	if err != nil {
		if IsTransient(err) {
			camLog.Debugf("%s: %v", l.opts.Device, err)
			_ = l.arm()
			return
		}
		l.fail(err)
		return
	}

	l.state = StateDecoding
	rgb := l.src.RGB()
	Decode(l.src.Format().PixelFormat, l.src.Raw()[:n], rgb.Pix, l.opts.Amplification)
	l.haveFrame = true

	l.state = StateRendering
	s := l.transformer.Transform(rgb, l.opts.Viewport, l.opts.Config, l.opts.Overlays)
	l.seq++
	s.Seq = l.seq
	l.surface = s
	l.opts.Renderer.Render(s)

	// The renderer may have stopped the loop.
	if l.state != StateRendering || gen != l.gen {
		return
	}
	_ = l.arm()
}

// fail closes the session after a fatal error. It runs at most once per
// session because release bumps the generation and the state leaves Ready.
func (l *CaptureLoop) fail(err error) {
	if !l.state.Ready() {
		return
	}
	id := l.src.ID()
	l.release()
	l.state = StateClosed
	camLog.Errorf("%s: session %s: %v", l.opts.Device, id, err)
	l.opts.Renderer.SetCaptureAvailable(false)
	l.opts.Renderer.Notice(fmt.Sprintf("%s: session %s: %v", l.opts.Device, id, err))
}

func (l *CaptureLoop) release() {
	l.gen++
	if l.watch != nil {
		l.watch.Cancel()
		l.watch = nil
	}
	if l.src != nil {
		if err := l.src.Close(); err != nil {
			camLog.Warnf("%s: %v", l.opts.Device, err)
		}
		l.src = nil
	}
	l.haveFrame = false
}

// Snapshot saves the current frame under the snapshot directory and
// returns its path. By default the decoded frame is saved without flips,
// scaling or overlays; CameraConfig.SnapshotTransformed saves the displayed
// surface instead.
func (l *CaptureLoop) Snapshot() (string, error) {
	path, err := l.snapshot()
	if err != nil {
		l.opts.Renderer.Notice(fmt.Sprintf("Could not save snapshot: %v", err))
		return "", err
	}
	camLog.Infof("snapshot saved to %s", path)
	return path, nil
}

func (l *CaptureLoop) snapshot() (string, error) {
	if !l.state.Ready() || !l.haveFrame {
		return "", ErrNoFrame
	}

	var img image.Image = l.src.RGB()
	if l.opts.Config.SnapshotTransformed && l.surface != nil {
		img = l.surface.Image.SubImage(l.surface.Frame)
	}

	base := l.opts.SnapshotBase
	if base == "" {
		home, err := HomeDir()
		if err != nil {
			return "", err
		}
		base = home
	}

	cfg := l.opts.Config
	return l.opts.Snapshots.Write(img, base, l.opts.SnapshotSubdir, cfg.SnapshotFormat, cfg.SnapshotQuality)
}
