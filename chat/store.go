// Package chat holds the conversation state of the logged-in user: the
// contact list, the selected conversation and its message sequence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/notify"
)

var (
	ErrNoConversation    = errors.New("no conversation selected")
	ErrEmptyMessage      = model.ErrEmptyMessage
	ErrRecipientMismatch = errors.New("recipient is not the selected conversation")
	ErrNotSelected       = errors.New("contact is not the selected conversation")
)

// Backend is the remote collaborator the store fetches from and posts to.
// *api.Client satisfies it.
type Backend interface {
	ListContacts(ctx context.Context) ([]model.Contact, error)
	History(ctx context.Context, contactID string) ([]model.Message, error)
	Send(ctx context.Context, contactID string, out model.OutgoingMessage) (model.Message, error)
}

// State is a copy of the store contents at one point in time.
type State struct {
	Contacts        []model.Contact
	Selected        *model.Contact
	Messages        []model.Message
	ContactsLoading bool
	MessagesLoading bool
}

// Store owns the contact list, the selection and the message sequence of the
// selected conversation. The sequence is history in ascending order followed by
// send echoes and push deliveries in arrival order.
type Store struct {
	backend  Backend
	notifier notify.Notifier
	logger   *slog.Logger

	mu              sync.Mutex
	contacts        []model.Contact
	selected        *model.Contact
	messages        []model.Message
	seen            map[string]struct{}
	contactsLoading bool
	messagesLoading bool

	// gen changes on every selection change; fetch completions compare it
	// to discard results for a conversation that is no longer shown.
	gen         uint64
	contactsReq uint64
	historyReq  uint64

	changed chan struct{}
}

func NewStore(backend Backend, notifier notify.Notifier, logger *slog.Logger) *Store {
	if notifier == nil {
		notifier = notify.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		notifier: notifier,
		logger:   logger.With("component", "chat"),
		contacts: []model.Contact{},
		seen:     make(map[string]struct{}),
		changed:  make(chan struct{}, 1),
	}
}

// ListContacts replaces the contact list with the server's. On failure the
// previous list is kept and the user is notified.
func (s *Store) ListContacts(ctx context.Context) error {
	s.mu.Lock()
	s.contactsReq++
	req := s.contactsReq
	s.contactsLoading = true
	s.mu.Unlock()
	s.signal()

	contacts, err := s.backend.ListContacts(ctx)

	s.mu.Lock()
	if req == s.contactsReq {
		s.contactsLoading = false
		if err == nil {
			s.contacts = contacts
		}
	}
	s.mu.Unlock()
	s.signal()

	if err != nil {
		s.logger.Warn("listing contacts failed", "error", err)
		notify.Error(s.notifier, notify.ErrorText(err, "Failed to fetch users"))
		return fmt.Errorf("listing contacts: %w", err)
	}
	s.logger.Debug("contacts loaded", "count", len(contacts))
	return nil
}

// LoadHistory replaces the message sequence with the history of contactID,
// which must be the selected conversation. Messages delivered while the
// fetch was in flight and missing from the history stay at the tail; they
// are deduped by message id, so one the history already holds is not kept
// twice. Nothing else survives the replacement. A result arriving after
// the selection changed is discarded.
func (s *Store) LoadHistory(ctx context.Context, contactID string) error {
	s.mu.Lock()
	if s.selected == nil || s.selected.ID != contactID {
		s.mu.Unlock()
		return ErrNotSelected
	}
	gen := s.gen
	s.historyReq++
	req := s.historyReq
	start := len(s.messages)
	s.messagesLoading = true
	s.mu.Unlock()
	s.signal()

	history, err := s.backend.History(ctx, contactID)

	s.mu.Lock()
	if gen != s.gen || req != s.historyReq {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history", "contact_id", contactID)
		return nil
	}
	s.messagesLoading = false
	if err == nil {
		arrived := s.messages[min(start, len(s.messages)):]
		s.messages = make([]model.Message, 0, len(history)+len(arrived))
		s.seen = make(map[string]struct{}, len(history)+len(arrived))
		for _, m := range history {
			s.appendLocked(m)
		}
		for _, m := range arrived {
			s.appendLocked(m)
		}
	}
	s.mu.Unlock()
	s.signal()

	if err != nil {
		s.logger.Warn("loading history failed", "contact_id", contactID, "error", err)
		notify.Error(s.notifier, notify.ErrorText(err, "Failed to fetch messages"))
		return fmt.Errorf("loading history: %w", err)
	}
	return nil
}

// SelectContact makes c the selected conversation. Selecting the contact that
// is already selected does nothing and returns false. A change resets the
// message sequence; it does not fetch.
func (s *Store) SelectContact(c *model.Contact) bool {
	s.mu.Lock()
	switch {
	case c == nil && s.selected == nil:
		s.mu.Unlock()
		return false
	case c != nil && s.selected != nil && c.ID == s.selected.ID:
		s.mu.Unlock()
		return false
	}

	if c != nil {
		cp := *c
		s.selected = &cp
	} else {
		s.selected = nil
	}
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.messagesLoading = false
	s.gen++
	s.mu.Unlock()
	s.signal()
	return true
}

// Send posts out to recipientID and appends the server's copy. An empty
// recipientID means the selected conversation. Validation failures return
// before any network call.
func (s *Store) Send(ctx context.Context, recipientID string, out model.OutgoingMessage) (model.Message, error) {
	s.mu.Lock()
	selected := s.selected
	gen := s.gen
	s.mu.Unlock()

	if selected == nil {
		notify.Error(s.notifier, "No user selected")
		return model.Message{}, ErrNoConversation
	}
	if out.Empty() {
		return model.Message{}, ErrEmptyMessage
	}
	if recipientID == "" {
		recipientID = selected.ID
	}
	if recipientID != selected.ID {
		return model.Message{}, ErrRecipientMismatch
	}

	msg, err := s.backend.Send(ctx, recipientID, out)
	if err != nil {
		s.logger.Warn("sending message failed", "contact_id", recipientID, "error", err)
		notify.Error(s.notifier, notify.ErrorText(err, "Failed to send message"))
		return model.Message{}, fmt.Errorf("sending message: %w", err)
	}

	s.mu.Lock()
	appended := gen == s.gen && s.appendLocked(msg)
	s.mu.Unlock()
	if appended {
		s.signal()
	}
	return msg, nil
}

// deliver appends a pushed message when it comes from the selected contact.
func (s *Store) deliver(msg model.Message) bool {
	s.mu.Lock()
	ok := s.selected != nil && msg.SenderID == s.selected.ID && s.appendLocked(msg)
	s.mu.Unlock()
	if ok {
		s.signal()
	}
	return ok
}

// appendLocked adds msg to the tail unless its id is already present.
func (s *Store) appendLocked(msg model.Message) bool {
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

// Reset drops all state, e.g. after logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.contacts = []model.Contact{}
	s.selected = nil
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.contactsLoading = false
	s.messagesLoading = false
	s.gen++
	s.contactsReq++
	s.mu.Unlock()
	s.signal()
}

// Selected returns a copy of the selected contact, or nil.
func (s *Store) Selected() *model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	cp := *s.selected
	return &cp
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Contacts:        append([]model.Contact(nil), s.contacts...),
		Messages:        append([]model.Message(nil), s.messages...),
		ContactsLoading: s.contactsLoading,
		MessagesLoading: s.messagesLoading,
	}
	if s.selected != nil {
		cp := *s.selected
		st.Selected = &cp
	}
	return st
}

// Updates signals after every state change. Signals coalesce.
func (s *Store) Updates() <-chan struct{} {
	return s.changed
}

func (s *Store) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
