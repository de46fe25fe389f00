// Package progress broadcasts enrichment run events to WebSocket listeners.
// The hub is optional; a nil *Hub accepts every emit call and does nothing,
// so callers never guard their event sites.
package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fabworks/kicad-lcsc/internal/logging"
)

// Event types.
const (
	EventRunStart = "run_start"
	EventFetch    = "fetch"
	EventSite     = "site"
	EventComplete = "complete"
	EventError    = "error"
)

// Counts summarizes one rewrite.
type Counts struct {
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Unresolved int `json:"unresolved"`
}

// Event is one progress update sent to listeners.
type Event struct {
	Type      string  `json:"type"`
	RunID     string  `json:"run_id,omitempty"`
	Target    string  `json:"target,omitempty"`
	Code      string  `json:"code,omitempty"`
	Index     int     `json:"index,omitempty"`
	Total     int     `json:"total,omitempty"`
	Action    string  `json:"action,omitempty"`
	Offset    int     `json:"offset,omitempty"`
	OK        bool    `json:"ok,omitempty"`
	Message   string  `json:"message,omitempty"`
	Counts    *Counts `json:"counts,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// Client is one WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to the connected clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub returns an idle hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run handles registration and fan-out until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logging.WebSocketEvent("client_connected", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.WebSocketEvent("client_disconnected", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow reader; drop it rather than stall the run.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			// Closing done unblocks register and unregister senders.
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every client. Stamps the event time when the
// caller left it empty.
func (h *Hub) Broadcast(ev Event) {
	if h == nil {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("failed to marshal progress event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		logging.Warn("progress broadcast channel full, dropping event")
	}
}

// RunStarted announces a new enrichment run.
func (h *Hub) RunStarted(runID, target string, total int) {
	h.Broadcast(Event{Type: EventRunStart, RunID: runID, Target: target, Total: total})
}

// Fetch reports one catalog lookup.
func (h *Hub) Fetch(index, total int, code string, ok bool) {
	h.Broadcast(Event{Type: EventFetch, Index: index, Total: total, Code: code, OK: ok})
}

// Site reports the action taken at one record site.
func (h *Hub) Site(code, action string, offset int) {
	h.Broadcast(Event{Type: EventSite, Code: code, Action: action, Offset: offset})
}

// Completed announces the end of a run with its counters.
func (h *Hub) Completed(runID, target string, counts Counts) {
	h.Broadcast(Event{Type: EventComplete, RunID: runID, Target: target, Counts: &counts})
}

// Failure reports a run-level error.
func (h *Hub) Failure(message string) {
	h.Broadcast(Event{Type: EventError, Message: message})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is a local progress feed; any origin may read it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the connection and registers the client with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// NewServer returns an HTTP server exposing the hub at /ws.
func NewServer(addr string, hub *Hub) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	return &http.Server{
		Addr:              addr,
		Handler:           logging.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// readPump drains the connection and keeps the pong deadline fresh.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("websocket closed unexpectedly", "error", err)
			}
			break
		}
	}
}

// writePump delivers queued events and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush anything that queued behind this event.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
