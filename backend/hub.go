package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/puyokura/vibechat/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the client is a terminal program, not a browser
	},
}

// client is a middleman between one websocket connection and the hub.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

type delivery struct {
	userID string
	data   []byte
}

type kickRequest struct {
	userID string
	reply  chan int
}

// Hub tracks the live push connections and fans events out to them.
// Every connect and disconnect broadcasts a presence snapshot to everyone.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	deliver    chan delivery
	kick       chan kickRequest
	done       chan struct{}
	mu         sync.Mutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan delivery),
		kick:       make(chan kickRequest),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// Run owns the client set until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("user connected", "user_id", c.userID)
			h.broadcastPresence()

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c]
			if ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			if ok {
				h.logger.Info("user disconnected", "user_id", c.userID)
				h.broadcastPresence()
			}

		case d := <-h.deliver:
			h.mu.Lock()
			for c := range h.clients {
				if c.userID == d.userID {
					h.trySendLocked(c, d.data)
				}
			}
			h.mu.Unlock()

		case req := <-h.kick:
			n := 0
			h.mu.Lock()
			for c := range h.clients {
				if c.userID == req.userID {
					delete(h.clients, c)
					close(c.send)
					n++
				}
			}
			h.mu.Unlock()
			req.reply <- n
			if n > 0 {
				h.broadcastPresence()
			}
		}
	}
}

// trySendLocked queues data for c, dropping c when its buffer is full.
func (h *Hub) trySendLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping slow client", "user_id", c.userID)
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) broadcastPresence() {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := encodeEvent(model.EventPresenceSnapshot, h.onlineLocked())
	if err != nil {
		h.logger.Error("encoding presence snapshot", "error", err)
		return
	}
	for c := range h.clients {
		h.trySendLocked(c, data)
	}
}

func (h *Hub) onlineLocked() []string {
	seen := make(map[string]bool, len(h.clients))
	ids := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if !seen[c.userID] {
			seen[c.userID] = true
			ids = append(ids, c.userID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Online returns the ids of users with at least one live connection.
func (h *Hub) Online() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlineLocked()
}

// Deliver pushes msg to every live connection of its receiver.
func (h *Hub) Deliver(msg model.Message) {
	data, err := encodeEvent(model.EventNewMessage, msg)
	if err != nil {
		h.logger.Error("encoding message event", "error", err)
		return
	}
	select {
	case h.deliver <- delivery{userID: msg.ReceiverID, data: data}:
	case <-h.done:
	}
}

// KickUser closes every connection of userID and reports how many there were.
func (h *Hub) KickUser(userID string) int {
	req := kickRequest{userID: userID, reply: make(chan int, 1)}
	select {
	case h.kick <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// ServeWS upgrades the request and attaches the connection to userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func encodeEvent(t model.EventType, payload any) ([]byte, error) {
	ev, err := model.NewEvent(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ev)
}

// readPump only services control frames; clients send nothing over the socket.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read", "user_id", c.userID, "error", err)
			}
			return
		}
	}
}

// writePump sends one event per frame and pings on pingPeriod.
func (c *client) writePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
