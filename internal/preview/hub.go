package preview

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	clientBuffer = 16
)

// Event is pushed to every WebSocket client.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Available bool   `json:"available"`
	Time      int64  `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// hub fans events out to WebSocket clients. Broadcast never blocks: a client
// whose buffer is full misses the event.
type hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) add(conn *websocket.Conn, initial Event) *client {
	c := &client{conn: conn, send: make(chan Event, clientBuffer)}
	c.send <- initial
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	go c.writeLoop()
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			logger.Debugf("websocket client %s lagging, event %s dropped", c.conn.RemoteAddr(), ev.Type)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			logger.Debugf("websocket write to %s: %v", c.conn.RemoteAddr(), err)
			return
		}
	}
}

// readLoop discards client messages until the connection fails.
func (c *client) readLoop(h *hub) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
