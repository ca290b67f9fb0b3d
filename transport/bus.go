// Package transport delivers push events from the server to typed handlers.
package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/puyokura/vibechat/model"
)

// Source is anything that push-event handlers can be bound to.
type Source interface {
	OnPresence(fn func(online []string)) *Subscription
	OnNewMessage(fn func(msg model.Message)) *Subscription
}

// Subscription is the handle returned when a handler is bound. Unsubscribe is
// safe to call more than once.
type Subscription struct {
	id     string
	once   sync.Once
	cancel func()
}

// NewSubscription returns a handle that runs cancel on its first Unsubscribe.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{id: uuid.NewString(), cancel: cancel}
}

func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe unbinds the handler. A nil subscription is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type presenceHandler struct {
	id string
	fn func([]string)
}

type messageHandler struct {
	id string
	fn func(model.Message)
}

// Bus fans decoded events out to the handlers bound for their type.
// Handlers run in registration order, one event at a time.
type Bus struct {
	mu       sync.Mutex
	presence []presenceHandler
	messages []messageHandler
	dispatch sync.Mutex
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

func (b *Bus) OnPresence(fn func(online []string)) *Subscription {
	id := uuid.NewString()
	b.mu.Lock()
	b.presence = append(b.presence, presenceHandler{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{id: id, cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.presence {
			if h.id == id {
				b.presence = append(b.presence[:i:i], b.presence[i+1:]...)
				return
			}
		}
	}}
}

func (b *Bus) OnNewMessage(fn func(msg model.Message)) *Subscription {
	id := uuid.NewString()
	b.mu.Lock()
	b.messages = append(b.messages, messageHandler{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{id: id, cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.messages {
			if h.id == id {
				b.messages = append(b.messages[:i:i], b.messages[i+1:]...)
				return
			}
		}
	}}
}

// Count returns the number of bound presence and message handlers.
func (b *Bus) Count() (presence, messages int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.presence), len(b.messages)
}

// Dispatch decodes ev and runs every handler bound for its type. Each call
// completes before the next one starts.
func (b *Bus) Dispatch(ev model.Event) error {
	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	switch ev.Type {
	case model.EventPresenceSnapshot:
		var online []string
		if err := json.Unmarshal(ev.Payload, &online); err != nil {
			return fmt.Errorf("decoding %s payload: %w", ev.Type, err)
		}
		if online == nil {
			online = []string{}
		}
		b.mu.Lock()
		handlers := append([]presenceHandler(nil), b.presence...)
		b.mu.Unlock()
		for _, h := range handlers {
			h.fn(online)
		}

	case model.EventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return fmt.Errorf("decoding %s payload: %w", ev.Type, err)
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("invalid %s payload: %w", ev.Type, err)
		}
		b.mu.Lock()
		handlers := append([]messageHandler(nil), b.messages...)
		b.mu.Unlock()
		for _, h := range handlers {
			h.fn(msg)
		}

	default:
		b.logger.Debug("ignoring unknown event", "type", ev.Type)
	}
	return nil
}
