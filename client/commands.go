package main

import (
	"strconv"
	"strings"

	"github.com/puyokura/vibechat/model"
)

// command is one parsed slash command line.
type command struct {
	name string
	args []string
	// rest is everything after the name with inner spacing kept.
	rest string
}

func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || len(line) == 1 {
		return command{}, false
	}
	fields := strings.Fields(line[1:])
	name := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line[1:], fields[0]))
	return command{name: name, args: fields[1:], rest: rest}, true
}

var usage = map[string]string{
	"login":  "/login <email> <password>",
	"signup": "/signup <email> <password> <male|female|other> <full name>",
	"open":   "/open <name or number>",
	"image":  "/image <path>",
	"avatar": "/avatar <path>",
}

var helpLines = []string{
	"/login <email> <password>          log in",
	"/signup <email> <pw> <gender> <name> create an account",
	"/logout                            log out",
	"/contacts                          reload the contact list",
	"/open <name or number>             open a conversation",
	"/close                             close the conversation",
	"/search [text]                     filter contacts by name",
	"/online                            toggle online-only contacts",
	"/image <path>                      attach an image",
	"/unimage                           remove the attached image",
	"/avatar <path>                     change your profile picture",
	"/latest                            jump to the newest message",
	"/help                              toggle this help",
	"/quit                              exit",
	"",
	"ctrl+n / ctrl+p  next / previous contact",
	"pgup pgdown up down  scroll   end  jump to latest",
}

// signupRequest builds the signup form from /signup arguments.
func signupRequest(args []string) (model.SignupRequest, bool) {
	if len(args) < 4 {
		return model.SignupRequest{}, false
	}
	return model.SignupRequest{
		Email:    args[0],
		Password: args[1],
		Gender:   model.Gender(strings.ToLower(args[2])),
		FullName: strings.Join(args[3:], " "),
	}, true
}

// findContact resolves a 1-based position in contacts or a case-insensitive
// name. An exact name wins over a prefix match.
func findContact(contacts []model.Contact, query string) (model.Contact, bool) {
	query = strings.TrimSpace(query)
	if n, err := strconv.Atoi(query); err == nil {
		if n >= 1 && n <= len(contacts) {
			return contacts[n-1], true
		}
		return model.Contact{}, false
	}

	q := strings.ToLower(query)
	if q == "" {
		return model.Contact{}, false
	}
	for _, c := range contacts {
		if strings.ToLower(c.FullName) == q {
			return c, true
		}
	}
	for _, c := range contacts {
		if strings.HasPrefix(strings.ToLower(c.FullName), q) {
			return c, true
		}
	}
	return model.Contact{}, false
}

// step returns the contact dir places away from selectedID, wrapping around.
func step(contacts []model.Contact, selectedID string, dir int) (model.Contact, bool) {
	if len(contacts) == 0 {
		return model.Contact{}, false
	}
	idx := -1
	for i, c := range contacts {
		if c.ID == selectedID {
			idx = i
			break
		}
	}
	switch {
	case idx == -1 && dir > 0:
		idx = 0
	case idx == -1:
		idx = len(contacts) - 1
	default:
		idx = ((idx+dir)%len(contacts) + len(contacts)) % len(contacts)
	}
	return contacts[idx], true
}
