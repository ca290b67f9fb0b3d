package chat

import (
	"log/slog"
	"sync"

	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/transport"
)

// Router binds new-message push events to the store. Only messages sent by
// the selected contact are appended; everything else is dropped.
type Router struct {
	store  *Store
	logger *slog.Logger
}

func NewRouter(store *Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, logger: logger.With("component", "router")}
}

// Subscribe binds one handler to src. The caller must Unsubscribe the
// returned handle before subscribing again.
func (r *Router) Subscribe(src transport.Source) *transport.Subscription {
	return src.OnNewMessage(func(msg model.Message) {
		if !r.store.deliver(msg) {
			r.logger.Debug("dropped message", "message_id", msg.ID, "sender_id", msg.SenderID)
		}
	})
}

// Selector changes the selected conversation and keeps exactly one router
// subscription bound to it, unbinding the old handler before binding the new.
type Selector struct {
	store  *Store
	router *Router

	mu  sync.Mutex
	src transport.Source
	sub *transport.Subscription
}

func NewSelector(store *Store, router *Router) *Selector {
	return &Selector{store: store, router: router}
}

// Select makes c the selected conversation and rebinds the subscription.
// It returns false when c was already selected; the caller loads history
// only when it returns true and c is not nil.
func (s *Selector) Select(c *model.Contact) bool {
	if !s.store.SelectContact(c) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Unsubscribe()
	s.sub = nil
	if c != nil && s.src != nil {
		s.sub = s.router.Subscribe(s.src)
	}
	return true
}

// Attach binds to a new push source, e.g. after the session connects.
func (s *Selector) Attach(src transport.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Unsubscribe()
	s.sub = nil
	s.src = src
	if s.store.Selected() != nil {
		s.sub = s.router.Subscribe(src)
	}
}

// Detach unbinds from the current source.
func (s *Selector) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Unsubscribe()
	s.sub = nil
	s.src = nil
}
