package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/presence"
)

type sidebarView struct {
	contacts   []model.Contact
	online     *presence.Set
	selectedID string
	others     int
	query      string
	onlineOnly bool
	loading    bool
	width      int
	height     int
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	onlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")).Bold(true)
)

func renderSidebar(v sidebarView) string {
	inner := v.width - 2
	if inner < 8 {
		inner = 8
	}

	lines := []string{
		titleStyle.Render("Contacts"),
		onlineStyle.Render(fmt.Sprintf("%d online", v.others)),
	}
	var filters []string
	if v.query != "" {
		filters = append(filters, fmt.Sprintf("search %q", v.query))
	}
	if v.onlineOnly {
		filters = append(filters, "online only")
	}
	if len(filters) > 0 {
		lines = append(lines, mutedStyle.Render(truncate(strings.Join(filters, ", "), inner)))
	}
	lines = append(lines, "")

	switch {
	case v.loading && len(v.contacts) == 0:
		lines = append(lines, mutedStyle.Render("Loading contacts..."))
	case len(v.contacts) == 0 && v.query != "":
		lines = append(lines, mutedStyle.Render("No contacts found"))
	case len(v.contacts) == 0 && v.onlineOnly:
		lines = append(lines, mutedStyle.Render("No one is online"))
	case len(v.contacts) == 0:
		lines = append(lines, mutedStyle.Render("No contacts yet"))
	}

	for i, c := range v.contacts {
		dot := mutedStyle.Render("○")
		if v.online.Contains(c.ID) {
			dot = onlineStyle.Render("●")
		}
		name := truncate(fmt.Sprintf("%d %s", i+1, c.FullName), inner-4)
		if c.ID == v.selectedID {
			lines = append(lines, selectedStyle.Render("› ")+dot+" "+selectedStyle.Render(name))
		} else {
			lines = append(lines, "  "+dot+" "+name)
		}
	}

	if v.height > 0 && len(lines) > v.height {
		lines = lines[:v.height]
	}
	return lipgloss.NewStyle().Width(v.width).Height(v.height).PaddingLeft(1).Render(strings.Join(lines, "\n"))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
