package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/puyokura/vibechat/model"
)

const (
	timeColumn   = 18 // "Yesterday 12:04 PM"
	senderColumn = 15
	minWidth     = 50
)

type Styles struct {
	Border    lipgloss.Style
	Separator lipgloss.Style
	Time      lipgloss.Style
	Self      lipgloss.Style
	Other     lipgloss.Style
	Image     lipgloss.Style
	Empty     lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Border:    lipgloss.NewStyle().Foreground(lipgloss.Color("#505050")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A")).Bold(true),
		Time:      lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")),
		Self:      lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")).Bold(true),
		Other:     lipgloss.NewStyle().Foreground(lipgloss.Color("#87D787")).Bold(true),
		Image:     lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF5F")).Italic(true),
		Empty:     lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A")),
	}
}

// View is everything Render needs to draw one conversation.
type View struct {
	Messages    []model.Message
	SelfID      string
	ContactName string
	Loading     bool
	Now         time.Time
	Location    *time.Location
	Width       int
}

// Rendered is the drawn transcript.
type Rendered struct {
	Content string
	Lines   int
	// Offsets holds the first line of each message, by sequence index.
	Offsets []int
}

// Render draws the grouped transcript.
func Render(v View, st Styles) Rendered {
	width := v.Width
	if width < minWidth {
		width = minWidth
	}

	if len(v.Messages) == 0 {
		var text string
		if v.Loading {
			text = "Loading messages..."
		} else {
			text = "No messages yet\nStart the conversation with " + v.ContactName
		}
		content := lipgloss.PlaceHorizontal(width, lipgloss.Center, st.Empty.Render(text))
		return Rendered{Content: content, Lines: lipgloss.Height(content)}
	}

	now := v.Now
	if now.IsZero() {
		now = time.Now()
	}

	var lines []string
	offsets := make([]int, len(v.Messages))
	for _, e := range Group(v.Messages, v.Location) {
		switch e.Kind {
		case EntrySeparator:
			if len(lines) > 0 {
				lines = append(lines, "")
			}
			label := st.Separator.Render("── " + DateLabel(e.Date) + " ──")
			lines = append(lines, lipgloss.PlaceHorizontal(width, lipgloss.Center, label))
		case EntryMessage:
			offsets[e.Index] = len(lines)
			lines = append(lines, formatMessage(e.Message, v, now, width, st)...)
		}
	}

	return Rendered{
		Content: strings.Join(lines, "\n"),
		Lines:   len(lines),
		Offsets: offsets,
	}
}

// formatMessage lays a message out as
//
//	│ time │ sender │ text
//
// wrapping the body under its own column.
func formatMessage(msg model.Message, v View, now time.Time, width int, st Styles) []string {
	vLine := st.Border.Render("│")

	timeStr := TimeLabel(msg.CreatedAt, now, v.Location)
	timeCell := st.Time.Render(fmt.Sprintf("%-*s", timeColumn, timeStr))

	sender, style := v.ContactName, st.Other
	if msg.SenderID == v.SelfID {
		sender, style = "You", st.Self
	}
	if sender == "" {
		sender = "Unknown"
	}
	if runes := []rune(sender); len(runes) > senderColumn {
		sender = string(runes[:senderColumn-1]) + "…"
	}
	senderCell := style.Render(sender + strings.Repeat(" ", max(0, senderColumn-lipgloss.Width(sender))))

	prefix := fmt.Sprintf("%s %s %s %s %s ", vLine, timeCell, vLine, senderCell, vLine)
	emptyPrefix := fmt.Sprintf("%s %s %s %s %s ", vLine, strings.Repeat(" ", timeColumn),
		vLine, strings.Repeat(" ", senderColumn), vLine)

	bodyWidth := max(10, width-lipgloss.Width(prefix))

	var body []string
	if msg.Text != "" {
		wrapped := lipgloss.NewStyle().Width(bodyWidth).Render(msg.Text)
		body = append(body, strings.Split(wrapped, "\n")...)
	}
	if msg.Image != "" {
		wrapped := lipgloss.NewStyle().Width(bodyWidth).Render(st.Image.Render("[image] " + msg.Image))
		body = append(body, strings.Split(wrapped, "\n")...)
	}

	out := make([]string, len(body))
	for i, line := range body {
		if i == 0 {
			out[i] = prefix + line
		} else {
			out[i] = emptyPrefix + line
		}
	}
	return out
}
