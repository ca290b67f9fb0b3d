// Package session owns the authenticated identity and its push connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puyokura/vibechat/media"
	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/notify"
	"github.com/puyokura/vibechat/presence"
	"github.com/puyokura/vibechat/transport"
)

var (
	// ErrNotAuthenticated is returned by operations that need an identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAlreadyAuthenticated is returned by Login and Signup while an
	// identity is held; the push connection belongs to that identity.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
)

// AuthBackend is the authentication side of the remote collaborator.
// *api.Client satisfies it.
type AuthBackend interface {
	CheckAuth(ctx context.Context) (*model.Identity, error)
	Signup(ctx context.Context, req model.SignupRequest) (*model.Identity, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.Identity, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, avatar model.Attachment) (string, error)
}

// Binder is attached to every connection the manager opens and detached
// before it is closed.
type Binder interface {
	Attach(src transport.Source)
	Detach()
}

// Flags are the in-flight indicators of the authentication operations.
type Flags struct {
	CheckingAuth    bool
	SigningUp       bool
	LoggingIn       bool
	UpdatingProfile bool
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Auth     AuthBackend
	Dial     transport.Dialer
	Presence *presence.Tracker
	Media    *media.Pipeline
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Manager holds the identity and the single push connection opened for it.
type Manager struct {
	auth     AuthBackend
	dial     transport.Dialer
	presence *presence.Tracker
	media    *media.Pipeline
	notifier notify.Notifier
	logger   *slog.Logger

	// connMu serializes Connect and Disconnect; at most one conn exists.
	connMu      sync.Mutex
	conn        transport.Conn
	presenceSub *transport.Subscription
	binders     []Binder

	mu       sync.Mutex
	identity *model.Identity
	flags    Flags
	changed  chan struct{}
}

func NewManager(d Deps) *Manager {
	if d.Notifier == nil {
		d.Notifier = notify.Discard
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Presence == nil {
		d.Presence = presence.NewTracker()
	}
	return &Manager{
		auth:     d.Auth,
		dial:     d.Dial,
		presence: d.Presence,
		media:    d.Media,
		notifier: d.Notifier,
		logger:   d.Logger.With("component", "session"),
		flags:    Flags{CheckingAuth: true},
		changed:  make(chan struct{}, 1),
	}
}

// Bind registers b to be attached to every future connection, and to the
// current one if there is one.
func (m *Manager) Bind(b Binder) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.binders = append(m.binders, b)
	if m.conn != nil {
		b.Attach(m.conn)
	}
}

// Connect opens the push connection for id. It does nothing when id is nil
// or a connection is already live. Transport failures are logged and leave
// the manager disconnected.
func (m *Manager) Connect(ctx context.Context, id *model.Identity) {
	if id == nil {
		return
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn != nil {
		if m.conn.Connected() {
			return
		}
		m.teardownLocked()
	}

	conn := m.dial(id.ID)
	m.presenceSub = conn.OnPresence(m.presence.Replace)
	for _, b := range m.binders {
		b.Attach(conn)
	}
	m.conn = conn

	if err := conn.Open(ctx); err != nil {
		m.logger.Warn("push connection failed", "user_id", id.ID, "error", err)
		m.teardownLocked()
		return
	}
	m.logger.Info("push connection open", "user_id", id.ID)
}

// Disconnect closes the push connection and clears presence. It is a no-op
// when nothing is connected.
func (m *Manager) Disconnect() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil {
		return
	}
	m.teardownLocked()
	m.presence.Clear()
	m.logger.Info("push connection closed")
}

func (m *Manager) teardownLocked() {
	m.presenceSub.Unsubscribe()
	m.presenceSub = nil
	for _, b := range m.binders {
		b.Detach()
	}
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("closing push connection", "error", err)
	}
	m.conn = nil
}

// Connected reports whether a live push connection exists.
func (m *Manager) Connected() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conn != nil && m.conn.Connected()
}

// Identity returns a copy of the current identity, or nil when logged out.
func (m *Manager) Identity() *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	cp := *m.identity
	return &cp
}

func (m *Manager) Flags() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

func (m *Manager) Presence() *presence.Tracker {
	return m.presence
}

// Updates signals after identity or flag changes. Signals coalesce.
func (m *Manager) Updates() <-chan struct{} {
	return m.changed
}

// CheckAuth restores the identity from the current session cookie and
// connects. A failed check leaves the manager logged out without notifying.
func (m *Manager) CheckAuth(ctx context.Context) error {
	m.setFlag(func(f *Flags) { f.CheckingAuth = true })
	defer m.setFlag(func(f *Flags) { f.CheckingAuth = false })

	id, err := m.auth.CheckAuth(ctx)
	if err != nil {
		m.logger.Debug("no valid session", "error", err)
		m.setIdentity(nil)
		return fmt.Errorf("checking session: %w", err)
	}
	m.setIdentity(id)
	m.Connect(ctx, id)
	return nil
}

// Signup creates an account and logs into it. It fails with
// ErrAlreadyAuthenticated while someone is logged in.
func (m *Manager) Signup(ctx context.Context, req model.SignupRequest) error {
	if err := m.requireLoggedOut(); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		notify.Error(m.notifier, err.Error())
		return err
	}

	m.setFlag(func(f *Flags) { f.SigningUp = true })
	defer m.setFlag(func(f *Flags) { f.SigningUp = false })

	id, err := m.auth.Signup(ctx, req)
	if err != nil {
		notify.Error(m.notifier, notify.ErrorText(err, "Signup failed"))
		return fmt.Errorf("signing up: %w", err)
	}
	m.setIdentity(id)
	notify.Success(m.notifier, "Signup Successful")
	m.Connect(ctx, id)
	return nil
}

// Login fails with ErrAlreadyAuthenticated while someone is logged in.
func (m *Manager) Login(ctx context.Context, req model.LoginRequest) error {
	if err := m.requireLoggedOut(); err != nil {
		return err
	}
	m.setFlag(func(f *Flags) { f.LoggingIn = true })
	defer m.setFlag(func(f *Flags) { f.LoggingIn = false })

	id, err := m.auth.Login(ctx, req)
	if err != nil {
		notify.Error(m.notifier, notify.ErrorText(err, "Login failed"))
		return fmt.Errorf("logging in: %w", err)
	}
	m.setIdentity(id)
	notify.Success(m.notifier, "Login Successful")
	m.Connect(ctx, id)
	return nil
}

// Logout ends the session. On failure the identity and connection are kept.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.auth.Logout(ctx); err != nil {
		notify.Error(m.notifier, "Failed to logout")
		return fmt.Errorf("logging out: %w", err)
	}
	m.setIdentity(nil)
	m.Disconnect()
	notify.Success(m.notifier, "Logged out successfully")
	return nil
}

// UpdateProfile prepares data as an avatar, uploads it and replaces the
// identity's avatar reference with the one returned by the server.
func (m *Manager) UpdateProfile(ctx context.Context, filename, contentType string, data []byte) error {
	if m.Identity() == nil {
		return ErrNotAuthenticated
	}

	m.setFlag(func(f *Flags) { f.UpdatingProfile = true })
	defer m.setFlag(func(f *Flags) { f.UpdatingProfile = false })

	avatar := model.Attachment{Filename: filename, ContentType: contentType, Data: data}
	if m.media != nil {
		res, err := m.media.Prepare(filename, contentType, data)
		if err != nil {
			notify.Error(m.notifier, err.Error())
			return fmt.Errorf("preparing avatar: %w", err)
		}
		avatar = res.Attachment
	}

	pic, err := m.auth.UpdateProfile(ctx, avatar)
	if err != nil {
		notify.Error(m.notifier, notify.ErrorText(err, "Failed to update profile"))
		return fmt.Errorf("updating profile: %w", err)
	}

	m.mu.Lock()
	if m.identity != nil {
		updated := *m.identity
		updated.ProfilePic = pic
		m.identity = &updated
	}
	m.mu.Unlock()
	m.signal()

	notify.Success(m.notifier, "Profile updated successfully")
	return nil
}

func (m *Manager) requireLoggedOut() error {
	if id := m.Identity(); id != nil {
		notify.Error(m.notifier, "Already logged in as "+id.FullName+". Log out first.")
		return ErrAlreadyAuthenticated
	}
	return nil
}

func (m *Manager) setIdentity(id *model.Identity) {
	m.mu.Lock()
	if id != nil {
		cp := *id
		id = &cp
	}
	m.identity = id
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) setFlag(fn func(*Flags)) {
	m.mu.Lock()
	fn(&m.flags)
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}
