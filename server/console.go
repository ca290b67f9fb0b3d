package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/puyokura/vibechat/backend"
)

// console is the operator prompt read from stdin while the server runs.
type console struct {
	hub   *backend.Hub
	store *backend.Store
	out   io.Writer
}

const consoleHelp = "Available commands: online, users, kick <userId>, ban <userId>, unban <userId>, stop"

// run reads commands until "stop" (returns true) or end of input (returns false).
func (c *console) run(ctx context.Context, in io.Reader) bool {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(c.out, "Server console ready. Type 'help' for commands.")
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		if c.exec(ctx, parts[0], parts[1:]) {
			return true
		}
	}
	return false
}

func (c *console) exec(ctx context.Context, cmd string, args []string) (stop bool) {
	switch cmd {
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "stop":
		fmt.Fprintln(c.out, "Stopping server...")
		return true
	case "online":
		online := c.hub.Online()
		fmt.Fprintf(c.out, "%d online\n", len(online))
		for _, id := range online {
			fmt.Fprintln(c.out, "  "+id)
		}
	case "users":
		users, err := c.store.ListContacts(ctx, "")
		if err != nil {
			c.fail("Error listing users:", err)
			return false
		}
		for _, u := range users {
			state := color.GreenString("active")
			if !u.IsActive {
				state = color.RedString("banned")
			}
			fmt.Fprintf(c.out, "  %s  %-20s %-28s %s\n", u.ID, u.FullName, u.Email, state)
		}
	case "kick":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "Usage: kick <userId>")
			return false
		}
		if c.hub.KickUser(args[0]) > 0 {
			fmt.Fprintln(c.out, "User kicked.")
		} else {
			fmt.Fprintln(c.out, "User not found.")
		}
	case "ban":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "Usage: ban <userId>")
			return false
		}
		if err := c.store.SetActive(ctx, args[0], false); err != nil {
			c.fail("Error banning:", err)
			return false
		}
		c.hub.KickUser(args[0])
		fmt.Fprintln(c.out, "User banned.")
	case "unban":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "Usage: unban <userId>")
			return false
		}
		if err := c.store.SetActive(ctx, args[0], true); err != nil {
			c.fail("Error unbanning:", err)
			return false
		}
		fmt.Fprintln(c.out, "User unbanned.")
	default:
		fmt.Fprintln(c.out, "Unknown command.")
	}
	return false
}

func (c *console) fail(prefix string, err error) {
	fmt.Fprintln(c.out, color.RedString(prefix), err)
}
