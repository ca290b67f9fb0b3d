// Package notify carries user-visible notifications from the store layer to whatever UI is attached.
package notify

import (
	"errors"
	"sync"
	"time"
)

type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is one message shown to the user.
type Notification struct {
	Level Level
	Text  string
	At    time.Time
}

// Notifier receives user-visible notifications.
type Notifier interface {
	Notify(level Level, text string)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Level, string) {}

func Error(n Notifier, text string)   { n.Notify(LevelError, text) }
func Success(n Notifier, text string) { n.Notify(LevelSuccess, text) }

// userMessager is implemented by errors that carry a server-provided, human readable message.
type userMessager interface {
	UserMessage() string
}

// ErrorText returns the server-provided message carried by err when there is one,
// and fallback otherwise.
func ErrorText(err error, fallback string) string {
	var um userMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return fallback
}

// Queue keeps the most recent notifications for a UI to drain.
type Queue struct {
	mu      sync.Mutex
	items   []Notification
	max     int
	now     func() time.Time
	changed chan struct{}
}

// NewQueue creates a queue holding at most max pending notifications; older ones are dropped.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 16
	}
	return &Queue{
		max:     max,
		now:     time.Now,
		changed: make(chan struct{}, 1),
	}
}

func (q *Queue) Notify(level Level, text string) {
	q.mu.Lock()
	q.items = append(q.items, Notification{Level: level, Text: text, At: q.now()})
	if len(q.items) > q.max {
		q.items = q.items[len(q.items)-q.max:]
	}
	q.mu.Unlock()

	select {
	case q.changed <- struct{}{}:
	default:
	}
}

// Drain returns and removes every pending notification.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Updates signals whenever a notification is queued. Signals coalesce.
func (q *Queue) Updates() <-chan struct{} {
	return q.changed
}
