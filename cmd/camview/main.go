package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kataras/golog"
	"github.com/svanichkin/camview"
	"github.com/svanichkin/camview/internal/config"
	"github.com/svanichkin/camview/internal/preview"
)

const (
	overlayFlagOpacity = 50
	snapshotTimeout    = 5 * time.Second
	shutdownTimeout    = 2 * time.Second
)

func main() {
	device := flag.String("d", "", "video capture device (default "+camview.DefaultDevice+")")
	overlayPath := flag.String("O", "", "overlay image drawn over the view at 50 opacity")
	configPath := flag.String("c", "", "config file (default <user config dir>/camview/camview.yml)")
	listen := flag.String("listen", "", "preview server address")
	retry := flag.Duration("retry", time.Second, "interval between attempts to open the device, 0 disables")
	probe := flag.Int("probe", 0, "log the first N frames and exit")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	snapshot := flag.Bool("snapshot", false, "save one snapshot after the first frame and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		golog.Fatalf("camview: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			cfg.Device = *device
		case "listen":
			cfg.Listen = *listen
		case "retry":
			cfg.Retry = *retry
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		golog.Fatalf("camview: %v", err)
	}
	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		golog.Info("signal received, stopping capture")
		cancel()
	}()

	switch {
	case *probe > 0:
		err = camview.Probe(ctx, loopOptions(cfg, nil), *probe, nil)
	case *snapshot:
		err = takeSnapshot(ctx, cfg)
	default:
		err = run(ctx, cfg, *overlayPath)
	}
	if err != nil {
		golog.Fatalf("camview: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			golog.Warnf("%v, using defaults", err)
			return config.Default(), nil
		}
		path = p
	}
	return config.Load(path)
}

func setLogLevel(level string) {
	golog.SetLevel(level)
	golog.Child("[camview]").SetLevel(level)
	golog.Child("[preview]").SetLevel(level)
	if golog.ParseLevel(level) != golog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

func loadOverlays(cfg *config.Config, extra string) ([]*camview.Overlay, error) {
	var overlays []*camview.Overlay
	for _, o := range cfg.Overlays {
		ov, err := camview.LoadOverlay(o.Path, o.Opacity)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, ov)
	}
	if extra != "" {
		ov, err := camview.LoadOverlay(extra, overlayFlagOpacity)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, ov)
	}
	return overlays, nil
}

// loopOptions maps the settings file onto the capture loop. Run, probe and
// snapshot modes share it so they decode and transform frames alike.
func loopOptions(cfg *config.Config, overlays []*camview.Overlay) camview.LoopOptions {
	return camview.LoopOptions{
		Device:        cfg.Device,
		Config:        cfg.CameraConfig,
		Amplification: cfg.Amplification,
		Viewport:      cfg.Viewport.Point(),
		Overlays:      overlays,
	}
}

func run(ctx context.Context, cfg *config.Config, overlayPath string) error {
	overlays, err := loadOverlays(cfg, overlayPath)
	if err != nil {
		return err
	}

	ev, err := camview.NewEventLoop()
	if err != nil {
		return err
	}
	defer ev.Close()

	var loop *camview.CaptureLoop
	srv := preview.New(preview.Options{
		Snapshot: func(rctx context.Context) (string, error) {
			return postSnapshot(rctx, ev, loop)
		},
		Gallery: func() error {
			home, err := camview.HomeDir()
			if err != nil {
				return err
			}
			return camview.OpenGallery(home, camview.SnapshotSubdir)
		},
		Properties: func(rctx context.Context) (camview.Properties, error) {
			return postProperties(rctx, ev, loop)
		},
	})

	r := &retryRenderer{Renderer: srv, ctx: ctx, ev: ev, interval: cfg.Retry}
	opts := loopOptions(cfg, overlays)
	opts.Notifier = ev
	opts.Renderer = r
	loop = camview.NewCaptureLoop(opts)
	r.loop = loop

	if err := srv.Start(cfg.Listen); err != nil {
		return err
	}

	ev.Post(func() { _ = loop.Start() })
	runErr := ev.Run(ctx)
	loop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		golog.Warnf("preview shutdown: %v", err)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// postSnapshot runs loop.Snapshot on the event loop goroutine and waits for
// the result.
func postSnapshot(ctx context.Context, ev *camview.EventLoop, loop *camview.CaptureLoop) (string, error) {
	type result struct {
		path string
		err  error
	}
	ch := make(chan result, 1)
	ev.Post(func() {
		path, err := loop.Snapshot()
		ch <- result{path, err}
	})
	select {
	case res := <-ch:
		return res.path, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// postProperties reads the session properties on the event loop goroutine.
func postProperties(ctx context.Context, ev *camview.EventLoop, loop *camview.CaptureLoop) (camview.Properties, error) {
	type result struct {
		props camview.Properties
		err   error
	}
	ch := make(chan result, 1)
	ev.Post(func() {
		props, err := loop.Properties()
		ch <- result{props, err}
	})
	select {
	case res := <-ch:
		return res.props, res.err
	case <-ctx.Done():
		return camview.Properties{}, ctx.Err()
	}
}

func takeSnapshot(ctx context.Context, cfg *config.Config) error {
	frame, err := camview.CaptureSingleFrame(ctx, loopOptions(cfg, nil), snapshotTimeout)
	if err != nil {
		return err
	}
	home, err := camview.HomeDir()
	if err != nil {
		return err
	}
	var w camview.SnapshotWriter
	path, err := w.Write(frame, home, camview.SnapshotSubdir, cfg.SnapshotFormat, cfg.SnapshotQuality)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	golog.Infof("snapshot saved to %s", path)
	return nil
}

// retryRenderer reopens the device after it becomes unavailable. All of its
// methods run on the event loop goroutine.
type retryRenderer struct {
	camview.Renderer

	ctx      context.Context
	ev       *camview.EventLoop
	loop     *camview.CaptureLoop
	interval time.Duration
	pending  bool
}

func (r *retryRenderer) SetCaptureAvailable(ok bool) {
	r.Renderer.SetCaptureAvailable(ok)
	if ok || r.interval <= 0 || r.pending || r.ctx.Err() != nil {
		return
	}
	r.pending = true
	time.AfterFunc(r.interval, func() {
		r.ev.Post(r.retry)
	})
}

func (r *retryRenderer) retry() {
	r.pending = false
	if r.ctx.Err() != nil {
		return
	}
	switch r.loop.State() {
	case camview.StateFailed, camview.StateClosed:
		golog.Debugf("retrying %s", r.loop.Device())
		_ = r.loop.Start()
	}
}
