package chat

import (
	"strings"

	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/presence"
)

// Filter returns the contacts whose full name contains query, ignoring case.
// With onlineOnly set, contacts missing from online are skipped. Order is kept.
func Filter(contacts []model.Contact, online *presence.Set, query string, onlineOnly bool) []model.Contact {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if onlineOnly && !online.Contains(c.ID) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(c.FullName), query) {
			continue
		}
		out = append(out, c)
	}
	return out
}
