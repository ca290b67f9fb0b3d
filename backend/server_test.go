package backend_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/vibechat/api"
	"github.com/puyokura/vibechat/backend"
	"github.com/puyokura/vibechat/chat"
	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/media"
	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/notify"
	"github.com/puyokura/vibechat/session"
	"github.com/puyokura/vibechat/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type testServer struct {
	url   string
	hub   *backend.Hub
	store *backend.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := backend.NewStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens := backend.NewTokens([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	hub := backend.NewHub(nil)

	srv := httptest.NewServer(backend.NewServer(store, tokens, hub, backend.Options{}).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return &testServer{url: srv.URL, hub: hub, store: store}
}

func (s *testServer) pushURL() string {
	return "ws" + strings.TrimPrefix(s.url, "http") + "/ws"
}

// peer is one logged-in client: the same wiring the TUI uses.
type peer struct {
	api      *api.Client
	session  *session.Manager
	chat     *chat.Store
	selector *chat.Selector
	notes    *notify.Queue
}

func newPeer(t *testing.T, s *testServer) *peer {
	t.Helper()
	client, err := api.New(s.url + "/api")
	require.NoError(t, err)

	notes := notify.NewQueue(16)
	store := chat.NewStore(client, notes, nil)
	selector := chat.NewSelector(store, chat.NewRouter(store, nil))
	mgr := session.NewManager(session.Deps{
		Auth:     client,
		Dial:     transport.WebSocketDialer(s.pushURL(), client.Jar(), nil),
		Media:    media.New(config.Default().Client.Media),
		Notifier: notes,
	})
	mgr.Bind(selector)
	t.Cleanup(mgr.Disconnect)

	return &peer{api: client, session: mgr, chat: store, selector: selector, notes: notes}
}

func (p *peer) signup(t *testing.T, name, email string) model.Identity {
	t.Helper()
	req := model.SignupRequest{FullName: name, Email: email, Password: "secret1", Gender: model.GenderOther}
	require.NoError(t, p.session.Signup(context.Background(), req))
	return *p.session.Identity()
}

func (p *peer) open(t *testing.T, contactID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.chat.ListContacts(ctx))
	for _, c := range p.chat.Snapshot().Contacts {
		if c.ID == contactID {
			p.selector.Select(&c)
			require.NoError(t, p.chat.LoadHistory(ctx, c.ID))
			return
		}
	}
	t.Fatalf("contact %s not listed", contactID)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEndToEnd_Conversation(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := newPeer(t, srv)
	bob := newPeer(t, srv)
	aliceID := alice.signup(t, "Alice", "alice@example.com")
	bobID := bob.signup(t, "Bob", "bob@example.com")

	require.Eventually(t, func() bool {
		return alice.session.Presence().Snapshot().Contains(bobID.ID) &&
			bob.session.Presence().Snapshot().Contains(aliceID.ID)
	}, waitFor, tick)
	assert.Equal(t, 1, alice.session.Presence().Snapshot().OthersOnline(aliceID.ID))

	alice.open(t, bobID.ID)
	bob.open(t, aliceID.ID)
	assert.Empty(t, bob.chat.Snapshot().Messages)

	sent, err := alice.chat.Send(ctx, "", model.OutgoingMessage{Text: "  hello bob "})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", sent.Text)
	assert.Len(t, alice.chat.Snapshot().Messages, 1)

	require.Eventually(t, func() bool {
		return len(bob.chat.Snapshot().Messages) == 1
	}, waitFor, tick)
	got := bob.chat.Snapshot().Messages[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, aliceID.ID, got.SenderID)

	img := &model.Attachment{Filename: "dot.png", ContentType: "image/png", Data: pngBytes(t)}
	withImage, err := bob.chat.Send(ctx, "", model.OutgoingMessage{Image: img})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(withImage.Image, "/media/"), withImage.Image)

	resp, err := http.Get(srv.url + withImage.Image)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, img.Data, body)

	require.Eventually(t, func() bool {
		return len(alice.chat.Snapshot().Messages) == 2
	}, waitFor, tick)

	require.NoError(t, alice.chat.LoadHistory(ctx, bobID.ID))
	history := alice.chat.Snapshot().Messages
	require.Len(t, history, 2)
	assert.Equal(t, sent.ID, history[0].ID)
	assert.Equal(t, withImage.ID, history[1].ID)
}

func TestEndToEnd_MessagesForOtherConversationsAreIgnored(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := newPeer(t, srv)
	bob := newPeer(t, srv)
	carol := newPeer(t, srv)
	aliceID := alice.signup(t, "Alice", "alice@example.com")
	bobID := bob.signup(t, "Bob", "bob@example.com")
	carol.signup(t, "Carol", "carol@example.com")

	carol.open(t, aliceID.ID)
	bob.open(t, aliceID.ID)
	alice.open(t, bobID.ID)

	_, err := carol.chat.Send(ctx, "", model.OutgoingMessage{Text: "psst"})
	require.NoError(t, err)
	_, err = bob.chat.Send(ctx, "", model.OutgoingMessage{Text: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(alice.chat.Snapshot().Messages) == 1
	}, waitFor, tick)
	assert.Equal(t, "hi", alice.chat.Snapshot().Messages[0].Text)
}

func TestEndToEnd_AuthFlows(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	p := newPeer(t, srv)
	require.Error(t, p.session.CheckAuth(ctx))
	assert.Nil(t, p.session.Identity())
	assert.False(t, p.session.Flags().CheckingAuth)

	id := p.signup(t, "Neo", "neo@zion.io")
	assert.True(t, p.session.Connected())

	dup := newPeer(t, srv)
	req := model.SignupRequest{FullName: "Neo", Email: "NEO@zion.io", Password: "secret1", Gender: model.GenderMale}
	require.Error(t, dup.session.Signup(ctx, req))
	notes := dup.notes.Drain()
	require.NotEmpty(t, notes)
	assert.Equal(t, "Email already exists", notes[len(notes)-1].Text)

	require.NoError(t, p.session.UpdateProfile(ctx, "me.png", "image/png", pngBytes(t)))
	assert.True(t, strings.HasPrefix(p.session.Identity().ProfilePic, "/media/"))

	require.NoError(t, p.session.Logout(ctx))
	assert.False(t, p.session.Connected())
	require.Error(t, p.session.CheckAuth(ctx), "cookie is cleared on logout")
	p.notes.Drain()

	require.Error(t, p.session.Login(ctx, model.LoginRequest{Email: "neo@zion.io", Password: "nope"}))
	assert.Equal(t, "Invalid credentials", p.notes.Drain()[0].Text)

	require.NoError(t, p.session.Login(ctx, model.LoginRequest{Email: "neo@zion.io", Password: "secret1"}))
	assert.Equal(t, id.ID, p.session.Identity().ID)
	assert.NotEmpty(t, p.session.Identity().ProfilePic)
	assert.True(t, p.session.Connected())
}

func TestEndToEnd_KickAndBan(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := newPeer(t, srv)
	bob := newPeer(t, srv)
	aliceID := alice.signup(t, "Alice", "alice@example.com")
	bobID := bob.signup(t, "Bob", "bob@example.com")

	require.Eventually(t, func() bool {
		return alice.session.Presence().Snapshot().Contains(bobID.ID)
	}, waitFor, tick)
	assert.ElementsMatch(t, []string{aliceID.ID, bobID.ID}, srv.hub.Online())

	assert.Equal(t, 1, srv.hub.KickUser(bobID.ID))
	assert.Zero(t, srv.hub.KickUser("nobody"))

	require.Eventually(t, func() bool {
		return !bob.session.Connected() && !alice.session.Presence().Snapshot().Contains(bobID.ID)
	}, waitFor, tick)

	require.NoError(t, srv.store.SetActive(ctx, bobID.ID, false))
	require.Error(t, bob.session.CheckAuth(ctx))

	relog := newPeer(t, srv)
	_, err := relog.api.Login(ctx, model.LoginRequest{Email: "bob@example.com", Password: "secret1"})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Account is disabled", apiErr.Message)
}

func TestPushRequiresMatchingSession(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	anon, err := api.New(srv.url + "/api")
	require.NoError(t, err)
	ws := transport.NewWebSocket(srv.pushURL(), "someone", anon.Jar(), nil)
	assert.Error(t, ws.Open(ctx))

	p := newPeer(t, srv)
	p.signup(t, "Alice", "alice@example.com")
	spoof := transport.NewWebSocket(srv.pushURL(), "someone-else", p.api.Jar(), nil)
	assert.Error(t, spoof.Open(ctx))
	assert.False(t, spoof.Connected())
}
