package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mosiko1234/cfa/console/internal/logger"
)

// Message is a push update sent to WebSocket clients
type Message struct {
	Type      string      `json:"type"` // "state", "enrollment"
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// wsClient is one connected WebSocket client
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *Message
	id   string
}

// Hub fans state updates out to WebSocket clients
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan *Message
	register   chan *wsClient
	unregister chan *wsClient
	stopChan   chan struct{}
	stopOnce   sync.Once
	running    bool
	mu         sync.RWMutex
	logger     *logger.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard only listens on loopback by default
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// NewHub creates a stopped hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan *Message, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stopChan:   make(chan struct{}),
		logger:     logger.NewComponentLogger("WebSocketHub"),
	}
}

// Run is the hub loop; it returns after Stop. A stopped hub cannot be run again.
func (h *Hub) Run() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	select {
	case <-h.stopChan:
		h.mu.Unlock()
		return
	default:
	}
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client %s registered (total: %d)", client.id, count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client %s unregistered (total: %d)", client.id, count)

		case message := <-h.broadcast:
			message.Timestamp = time.Now().Format(time.RFC3339)

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client %s removed due to full buffer", client.id)
				}
			}
			h.mu.Unlock()

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[*wsClient]bool)
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends the hub loop and disconnects all clients. It is safe to call more than
// once and before Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Broadcast queues a message for all clients; it drops the message when the queue is full
func (h *Hub) Broadcast(message *Message) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Debug("Broadcast queue full, dropping %s update", message.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// serveWS upgrades the request and attaches the connection to the hub. initial, when
// not nil, is sent before any broadcast.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, initial *Message) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error: %v", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan *Message, 16),
		id:   r.RemoteAddr,
	}
	if initial != nil {
		initial.Timestamp = time.Now().Format(time.RFC3339)
		client.send <- initial
	}

	select {
	case h.register <- client:
	case <-h.stopChan:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection; clients are not expected to send anything
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopChan:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Unexpected close from %s: %v", c.id, err)
			}
			return
		}
	}
}

// writePump writes queued messages and keepalive pings
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if err := json.NewEncoder(w).Encode(message); err != nil {
				c.hub.logger.Warn("Error encoding message: %v", err)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
