package transcript

import (
	"time"

	"github.com/puyokura/vibechat/model"
)

type EntryKind int

const (
	EntryMessage EntryKind = iota
	EntrySeparator
)

// Entry is one row of the grouped transcript: a message or the date
// separator that opens a run of same-day messages.
type Entry struct {
	Kind    EntryKind
	Date    time.Time // local midnight of the run, separators only
	Index   int       // position in the message sequence, messages only
	Message model.Message
}

// Group inserts a separator before every run of messages sharing a local
// calendar date. Sequence order is kept; nothing is sorted.
func Group(msgs []model.Message, loc *time.Location) []Entry {
	if loc == nil {
		loc = time.Local
	}

	entries := make([]Entry, 0, len(msgs)+1)
	var current time.Time
	for i, m := range msgs {
		day := localDate(m.CreatedAt, loc)
		if i == 0 || !day.Equal(current) {
			entries = append(entries, Entry{Kind: EntrySeparator, Date: day, Index: -1})
			current = day
		}
		entries = append(entries, Entry{Kind: EntryMessage, Index: i, Message: m})
	}
	return entries
}

func localDate(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}

// DateLabel formats a separator date, e.g. "Monday, January 2, 2006".
func DateLabel(day time.Time) string {
	return day.Format("Monday, January 2, 2006")
}

// TimeLabel formats a message time relative to now: "3:04 PM" today,
// "Yesterday 3:04 PM", otherwise "Jan 2, 3:04 PM".
func TimeLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	day := localDate(t, loc)
	today := localDate(now, loc)

	switch {
	case day.Equal(today):
		return t.Format("3:04 PM")
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday " + t.Format("3:04 PM")
	default:
		return t.Format("Jan 2, 3:04 PM")
	}
}
