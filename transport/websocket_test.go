package transport

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/vibechat/model"
)

// pushServer accepts one websocket and hands it to the test.
func pushServer(t *testing.T) (string, <-chan *websocket.Conn, <-chan *http.Request) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	reqs := make(chan *http.Request, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reqs <- r
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", conns, reqs
}

func TestWebSocket_URL(t *testing.T) {
	ws := NewWebSocket("ws://localhost:8999/ws", "u 1", nil, nil)
	u, err := ws.URL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8999/ws?userId=u+1", u)
}

func TestWebSocket_DeliversEvents(t *testing.T) {
	pushURL, conns, reqs := pushServer(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	httpURL, _ := url.Parse(strings.Replace(pushURL, "ws://", "http://", 1))
	jar.SetCookies(httpURL, []*http.Cookie{{Name: "jwt", Value: "tok"}})

	ws := WebSocketDialer(pushURL, jar, nil)("u1")
	presence := make(chan []string, 1)
	messages := make(chan model.Message, 1)
	ws.OnPresence(func(online []string) { presence <- online })
	ws.OnNewMessage(func(m model.Message) { messages <- m })

	require.NoError(t, ws.Open(context.Background()))
	assert.True(t, ws.Connected())

	req := <-reqs
	assert.Equal(t, "u1", req.URL.Query().Get("userId"))
	cookie, err := req.Cookie("jwt")
	require.NoError(t, err)
	assert.Equal(t, "tok", cookie.Value)

	server := <-conns
	defer server.Close()

	ev := mustEvent(t, model.EventPresenceSnapshot, []string{"u1", "u2"})
	require.NoError(t, server.WriteJSON(ev))
	ev = mustEvent(t, model.EventNewMessage, model.Message{ID: "m1", SenderID: "u2", Text: "yo", CreatedAt: time.Now()})
	require.NoError(t, server.WriteJSON(ev))

	select {
	case online := <-presence:
		assert.Equal(t, []string{"u1", "u2"}, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
	}
	select {
	case m := <-messages:
		assert.Equal(t, "m1", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message event")
	}

	require.NoError(t, ws.Close())
	assert.False(t, ws.Connected())
	assert.NoError(t, ws.Close())
}

func TestWebSocket_ServerDropMarksDisconnected(t *testing.T) {
	pushURL, conns, _ := pushServer(t)

	ws := NewWebSocket(pushURL, "u1", nil, nil)
	require.NoError(t, ws.Open(context.Background()))

	server := <-conns
	require.NoError(t, server.Close())

	assert.Eventually(t, func() bool { return !ws.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, ws.Close())
}

func TestWebSocket_OpenFailure(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/ws", "u1", nil, nil)
	err := ws.Open(context.Background())
	assert.Error(t, err)
	assert.False(t, ws.Connected())
}
