package camview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kataras/golog"
)

// probeRenderer forwards frames and records the first notice, which the
// loop only sends for open and read failures.
type probeRenderer struct {
	onFrame func(s *DisplaySurface)
	done    func()
	err     error
}

func (r *probeRenderer) Render(s *DisplaySurface) { r.onFrame(s) }
func (r *probeRenderer) SetCaptureAvailable(bool) {}
func (r *probeRenderer) Notice(msg string) {
	if r.err == nil {
		r.err = errors.New(msg)
	}
	r.done()
}

// runFrames opens opts.Device on a private event loop and calls onFrame for
// each rendered frame until onFrame returns false, the device fails or ctx
// is done. The notifier and renderer in opts are replaced.
func runFrames(ctx context.Context, opts LoopOptions, onFrame func(l *CaptureLoop, s *DisplaySurface) bool) error {
	ev, err := NewEventLoop()
	if err != nil {
		return err
	}
	defer ev.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &probeRenderer{done: cancel}
	opts.Notifier = ev
	opts.Renderer = r
	if opts.Config == (CameraConfig{}) {
		opts.Config = DefaultCameraConfig()
	}
	loop := NewCaptureLoop(opts)
	r.onFrame = func(s *DisplaySurface) {
		if !onFrame(loop, s) {
			loop.Stop()
			cancel()
		}
	}

	ev.Post(func() { _ = loop.Start() })
	runErr := ev.Run(ctx)
	loop.Stop()

	if r.err != nil {
		return r.err
	}
	return runErr
}

// Probe opens opts.Device, logs the size of the first n frames and closes
// it. Frames are decoded and transformed with the settings in opts.
func Probe(ctx context.Context, opts LoopOptions, n int, logger *golog.Logger) error {
	if logger == nil {
		logger = camLog
	}

	i := 0
	err := runFrames(ctx, opts, func(l *CaptureLoop, s *DisplaySurface) bool {
		i++
		logger.Infof("frame %d: %dx%d (%d bytes)", i, s.Width(), s.Height(), len(s.Image.Pix))
		return i < n
	})
	if i >= n {
		return nil
	}
	if err == nil {
		err = errors.New("camview: frame stream closed")
	}
	return fmt.Errorf("camview: probe %s: %w", opts.Device, err)
}

// CaptureSingleFrame opens opts.Device, waits for one frame decoded with
// opts.Amplification and returns a copy of it.
func CaptureSingleFrame(ctx context.Context, opts LoopOptions, timeout time.Duration) (*RGBFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var frame *RGBFrame
	err := runFrames(ctx, opts, func(l *CaptureLoop, s *DisplaySurface) bool {
		frame = l.Session().RGB().Clone()
		return false
	})
	if frame != nil {
		return frame, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.New("camview: capture timeout")
	}
	if err == nil {
		err = errors.New("camview: frame stream closed")
	}
	return nil, err
}
