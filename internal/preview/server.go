// Package preview serves the live view over HTTP. It implements the
// camview.Renderer collaborator: frames are exposed as JPEG stills and an
// MJPEG stream, notices and capture availability are pushed over WebSocket.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kataras/golog"
	"github.com/svanichkin/camview"
)

var logger = golog.Child("[preview]")

const defaultJPEGQuality = 80

// Options configures a Server.
type Options struct {
	// Snapshot takes a snapshot and returns the saved path.
	Snapshot func(ctx context.Context) (string, error)
	// Gallery opens the snapshot gallery.
	Gallery func() error
	// Properties describes the open device session.
	Properties func(ctx context.Context) (camview.Properties, error)

	JPEGQuality int
}

// Server is the HTTP preview. Render, Notice and SetCaptureAvailable may be
// called from the capture goroutine; they never block on clients.
type Server struct {
	opts     Options
	engine   *gin.Engine
	hub      *hub
	upgrader websocket.Upgrader

	mu        sync.Mutex
	frame     *image.RGBA
	seq       uint64
	frameCh   chan struct{}
	available bool
	notice    string

	srvMu sync.Mutex
	srv   *http.Server

	// done ends MJPEG streams on Shutdown; http.Server.Shutdown does not
	// cancel the contexts of running handlers.
	done      chan struct{}
	closeOnce sync.Once
}

var _ camview.Renderer = (*Server)(nil)

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	s := &Server{
		opts:    opts,
		hub:     newHub(),
		frameCh: make(chan struct{}),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", s.handleIndex)
	r.GET("/frame.jpg", s.handleFrame)
	r.GET("/stream.mjpeg", s.handleStream)
	r.GET("/status", s.handleStatus)
	r.POST("/snapshot", s.handleSnapshot)
	r.POST("/gallery", s.handleGallery)
	r.GET("/properties", s.handleProperties)
	r.GET("/ws", s.handleWebSocket)
	s.engine = r
	return s
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Render copies the surface and wakes stream clients.
func (s *Server) Render(surface *camview.DisplaySurface) {
	img := image.NewRGBA(surface.Image.Rect)
	copy(img.Pix, surface.Image.Pix)

	s.mu.Lock()
	s.frame = img
	s.seq = surface.Seq
	close(s.frameCh)
	s.frameCh = make(chan struct{})
	s.mu.Unlock()
}

// Notice records msg as the current status line and pushes it to clients.
func (s *Server) Notice(msg string) {
	s.mu.Lock()
	s.notice = msg
	available := s.available
	s.mu.Unlock()

	logger.Debugf("notice: %s", msg)
	s.hub.broadcast(Event{Type: "notice", Message: msg, Available: available, Time: time.Now().Unix()})
}

// SetCaptureAvailable enables or disables the snapshot and gallery actions.
func (s *Server) SetCaptureAvailable(ok bool) {
	s.mu.Lock()
	changed := s.available != ok
	s.available = ok
	if ok {
		s.notice = ""
	}
	s.mu.Unlock()

	if changed {
		s.hub.broadcast(Event{Type: "available", Available: ok, Time: time.Now().Unix()})
	}
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.srv != nil {
		return errors.New("preview: server already running")
	}
	srv := &http.Server{Addr: addr, Handler: s.engine}
	s.srv = srv
	go func() {
		logger.Infof("listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server and disconnects WebSocket and MJPEG
// clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	s.hub.closeAll()
	s.srvMu.Lock()
	srv := s.srv
	s.srv = nil
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) current() (*image.RGBA, uint64, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq, s.frameCh
}

func (s *Server) isAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *Server) encode(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.opts.JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleFrame(c *gin.Context) {
	img, _, _ := s.current()
	if img == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
		return
	}
	data, err := s.encode(img)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) handleStream(c *gin.Context) {
	const boundary = "frame"
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	var last uint64
	for {
		img, seq, next := s.current()
		if img == nil || seq == last {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-next:
				continue
			}
		}
		last = seq

		data, err := s.encode(img)
		if err != nil {
			logger.Debugf("mjpeg encode: %v", err)
			return
		}
		if _, err := fmt.Fprintf(c.Writer, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(data)); err != nil {
			return
		}
		if _, err := c.Writer.Write(data); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	status := gin.H{
		"available": s.available,
		"notice":    s.notice,
		"seq":       s.seq,
	}
	if s.frame != nil {
		status["width"] = s.frame.Rect.Dx()
		status["height"] = s.frame.Rect.Dy()
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	if s.opts.Snapshot == nil || !s.isAvailable() {
		c.JSON(http.StatusConflict, gin.H{"error": "capture unavailable"})
		return
	}
	path, err := s.opts.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) handleGallery(c *gin.Context) {
	if s.opts.Gallery == nil || !s.isAvailable() {
		c.JSON(http.StatusConflict, gin.H{"error": "capture unavailable"})
		return
	}
	if err := s.opts.Gallery(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleProperties(c *gin.Context) {
	if s.opts.Properties == nil || !s.isAvailable() {
		c.JSON(http.StatusConflict, gin.H{"error": "capture unavailable"})
		return
	}
	props, err := s.opts.Properties(c.Request.Context())
	if errors.Is(err, camview.ErrClosed) {
		c.JSON(http.StatusConflict, gin.H{"error": "capture unavailable"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, props)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debugf("websocket upgrade from %s: %v", c.Request.RemoteAddr, err)
		return
	}
	logger.Debugf("websocket connection from %s", c.Request.RemoteAddr)

	s.mu.Lock()
	initial := Event{Type: "available", Available: s.available, Message: s.notice, Time: time.Now().Unix()}
	s.mu.Unlock()

	cl := s.hub.add(conn, initial)
	cl.readLoop(s.hub)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Camera</title></head>
<body>
<img id="view" src="/stream.mjpeg" alt="camera">
<p id="notice"></p>
<button id="snapshot" disabled>Take snapshot</button>
<button id="gallery" disabled>Gallery</button>
<button id="properties" disabled>Properties</button>
<pre id="props"></pre>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  document.getElementById("snapshot").disabled = !ev.available;
  document.getElementById("gallery").disabled = !ev.available;
  document.getElementById("properties").disabled = !ev.available;
  if (ev.type === "notice" || ev.message) document.getElementById("notice").textContent = ev.message || "";
  if (ev.type === "available" && ev.available) document.getElementById("view").src = "/stream.mjpeg?" + ev.time;
};
document.getElementById("snapshot").onclick = () => fetch("/snapshot", {method: "POST"});
document.getElementById("gallery").onclick = () => fetch("/gallery", {method: "POST"});
document.getElementById("properties").onclick = () => fetch("/properties").then((r) => r.json()).then((p) => {
  document.getElementById("props").textContent = JSON.stringify(p, null, 2);
});
</script>
</body>
</html>
`
