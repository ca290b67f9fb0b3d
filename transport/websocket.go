package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/puyokura/vibechat/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1 << 20
)

// Conn is one push connection for one identity.
type Conn interface {
	Source
	Open(ctx context.Context) error
	Close() error
	Connected() bool
}

// Dialer creates an unopened connection for an identity id.
type Dialer func(identityID string) Conn

// WebSocketDialer returns a Dialer producing WebSocket connections to pushURL.
// jar supplies the session cookie; it is normally the api client's jar.
func WebSocketDialer(pushURL string, jar http.CookieJar, logger *slog.Logger) Dialer {
	return func(identityID string) Conn {
		return NewWebSocket(pushURL, identityID, jar, logger)
	}
}

// WebSocket is a Conn backed by a gorilla websocket. Events are read on one
// goroutine and dispatched in arrival order.
type WebSocket struct {
	*Bus

	pushURL    string
	identityID string
	dialer     websocket.Dialer
	logger     *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	connected atomic.Bool
}

func NewWebSocket(pushURL, identityID string, jar http.CookieJar, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport", "user_id", identityID)
	return &WebSocket{
		Bus:        NewBus(logger),
		pushURL:    pushURL,
		identityID: identityID,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		},
		logger: logger,
	}
}

// URL returns the endpoint dialed by Open, carrying the identity id as userId.
func (w *WebSocket) URL() (string, error) {
	u, err := url.Parse(w.pushURL)
	if err != nil {
		return "", fmt.Errorf("parsing push url: %w", err)
	}
	q := u.Query()
	q.Set("userId", w.identityID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the server and starts reading events.
func (w *WebSocket) Open(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		return errors.New("already open")
	}

	target, err := w.URL()
	if err != nil {
		return err
	}

	w.logger.Debug("connecting", "url", target)
	conn, _, err := w.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dialing push transport: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	w.conn = conn
	w.done = make(chan struct{})
	w.connected.Store(true)
	go w.readPump(conn, w.done)
	return nil
}

// Connected reports whether the read loop is still alive.
func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}

// Close tears the connection down and waits for the read loop to exit.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn, done := w.conn, w.done
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	w.connected.Store(false)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	err := conn.Close()
	<-done
	return err
}

func (w *WebSocket) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		w.connected.Store(false)
		close(done)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("push transport lost", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			w.logger.Warn("invalid event", "error", err)
			continue
		}
		if err := w.Dispatch(ev); err != nil {
			w.logger.Warn("dropping event", "type", ev.Type, "error", err)
		}
	}
}
