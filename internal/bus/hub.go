package bus

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fablehaus/tandem/internal/logger"
)

// sendBuffer is the per-connection outbound queue. A subscriber that falls
// this far behind is disconnected rather than allowed to stall the channel.
const sendBuffer = 64

// Hub is a websocket relay implementing the broadcast channel semantics
// across processes: every frame received on a connection is forwarded to all
// other connections subscribed to the same channel name, never back to the
// sender.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu       sync.Mutex
	channels map[string]map[*hubConn]struct{}
}

type hubConn struct {
	conn    *websocket.Conn
	channel string
	send    chan map[string]any
}

// NewHub creates an empty relay.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Get()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   log,
		channels: make(map[string]map[*hubConn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket subscription on the channel
// named by the "channel" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("channel")
	if name == "" {
		http.Error(w, "missing channel parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade relay connection", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	c := &hubConn{
		conn:    conn,
		channel: name,
		send:    make(chan map[string]any, sendBuffer),
	}
	h.attach(c)

	h.logger.Debug("Relay subscriber connected", map[string]interface{}{
		"channel": name,
		"remote":  conn.RemoteAddr().String(),
	})

	go c.writePump()
	h.readPump(c)
}

func (h *Hub) attach(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[c.channel]
	if !ok {
		subs = make(map[*hubConn]struct{})
		h.channels[c.channel] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) detach(c *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[c.channel]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.channels, c.channel)
	}
	close(c.send)
}

// readPump forwards every inbound frame to the sender's channel peers.
func (h *Hub) readPump(c *hubConn) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()

	for {
		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		h.fanOut(c, msg)
	}
}

// fanOut queues msg on every other subscriber of the sender's channel.
// Subscribers with a full queue are dropped from the channel; a stalled
// pop-out must not block the main player.
func (h *Hub) fanOut(sender *hubConn, msg map[string]any) {
	h.mu.Lock()
	var stalled []*hubConn
	for c := range h.channels[sender.channel] {
		if c == sender {
			continue
		}
		select {
		case c.send <- msg:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		h.logger.Warn("Dropping stalled relay subscriber", map[string]interface{}{
			"channel": c.channel,
			"remote":  c.conn.RemoteAddr().String(),
		})
		h.detach(c)
		c.conn.Close()
	}
}

func (c *hubConn) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
