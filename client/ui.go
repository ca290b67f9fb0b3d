package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/puyokura/vibechat/chat"
	"github.com/puyokura/vibechat/media"
	"github.com/puyokura/vibechat/model"
	"github.com/puyokura/vibechat/notify"
	"github.com/puyokura/vibechat/transcript"
)

const (
	sidebarWidth = 30
	headerHeight = 1
	footerHeight = 4
)

// listenMsg is produced when one of the component update channels fires.
type listenMsg struct{ ch <-chan struct{} }

// opDoneMsg reports the end of a blocking operation run off the UI loop.
type opDoneMsg struct {
	op   string
	err  error
	text string
}

func listen(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return listenMsg{ch: ch}
	}
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3A3A3A")).Padding(0, 1)
	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#505050"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	jumpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#D7AF5F")).Padding(0, 1)
)

type uiModel struct {
	app        *app
	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	controller *transcript.Controller
	styles     transcript.Styles

	query      string
	onlineOnly bool
	showHelp   bool
	selectedID string
	rendered   transcript.Rendered
	notice     *notify.Notification

	width  int
	height int
	ready  bool
}

func initialModel(a *app) uiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 20

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return uiModel{
		app:        a,
		input:      ti,
		spinner:    sp,
		controller: transcript.New(a.cfg.AnchorThreshold),
		styles:     transcript.DefaultStyles(),
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		listen(m.app.chat.Updates()),
		listen(m.app.session.Updates()),
		listen(m.app.presence.Updates()),
		listen(m.app.notes.Updates()),
		m.op("check", m.app.session.CheckAuth),
	)
}

// op runs fn off the UI loop and reports back with an opDoneMsg.
func (m uiModel) op(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: name, err: fn(context.Background())}
	}
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case listenMsg:
		m.refresh()
		return m, listen(msg.ch)

	case opDoneMsg:
		cmd := m.afterOp(msg)
		m.refresh()
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *uiModel) resize(w, h int) {
	m.width, m.height = w, h
	vw := w - sidebarWidth - 1
	if vw < 20 {
		vw = 20
	}
	vh := h - headerHeight - footerHeight
	if vh < 3 {
		vh = 3
	}
	if !m.ready {
		m.viewport = viewport.New(vw, vh)
		m.ready = true
	} else {
		m.viewport.Width = vw
		m.viewport.Height = vh
	}
	m.input.Width = w - 3
}

func (m uiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.app.close()
		return m, tea.Quit
	case "enter":
		return m.submit()
	case "ctrl+n":
		cmd := m.cycle(1)
		return m, cmd
	case "ctrl+p":
		cmd := m.cycle(-1)
		return m, cmd
	case "end":
		m.jumpToLatest()
		return m, nil
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.controller.OnScroll(m.distanceFromBottom())
		return m, cmd
	case "esc":
		m.showHelp = false
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m uiModel) distanceFromBottom() int {
	d := m.viewport.TotalLineCount() - m.viewport.YOffset - m.viewport.Height
	if d < 0 {
		return 0
	}
	return d
}

func (m *uiModel) jumpToLatest() {
	m.controller.JumpToLatest()
	m.scrollToTarget()
}

func (m *uiModel) scrollToTarget() {
	if !m.controller.ShouldScroll() {
		return
	}
	t := m.controller.Target()
	offsets := m.rendered.Offsets
	if t >= 0 && t < len(offsets)-1 {
		m.viewport.SetYOffset(offsets[t])
		return
	}
	m.viewport.GotoBottom()
}

// refresh pulls the latest component state into the view.
func (m *uiModel) refresh() {
	st := m.app.chat.Snapshot()

	id := ""
	if st.Selected != nil {
		id = st.Selected.ID
	}
	if id != m.selectedID {
		m.selectedID = id
		m.controller.ConversationChanged(len(st.Messages))
	} else {
		m.controller.OnSequence(len(st.Messages))
	}

	switch {
	case st.Selected == nil:
		m.rendered = transcript.Rendered{Content: m.placeholder()}
	default:
		view := transcript.View{
			Messages:    st.Messages,
			ContactName: st.Selected.FullName,
			Loading:     st.MessagesLoading,
			Now:         m.app.now(),
			Location:    m.app.cfg.Location(),
			Width:       m.viewport.Width,
		}
		if self := m.app.session.Identity(); self != nil {
			view.SelfID = self.ID
		}
		m.rendered = transcript.Render(view, m.styles)
	}
	m.viewport.SetContent(m.rendered.Content)
	m.scrollToTarget()

	for _, n := range m.app.notes.Drain() {
		n := n
		m.notice = &n
	}
}

func (m uiModel) placeholder() string {
	style := lipgloss.NewStyle().Width(m.viewport.Width).Align(lipgloss.Center).Foreground(lipgloss.Color("#8A8A8A"))
	if m.app.session.Identity() == nil {
		if m.app.session.Flags().CheckingAuth {
			return style.Render("\n\nChecking session...")
		}
		return style.Render("\n\nWelcome to vibechat\n\n" +
			"Log in with " + usage["login"] + "\n" +
			"or create an account with\n" + usage["signup"])
	}
	return style.Render("\n\nWelcome to Chat\n\nSelect a conversation to start messaging\n(/open <name> or ctrl+n)")
}

func (m uiModel) visibleContacts() []model.Contact {
	st := m.app.chat.Snapshot()
	return chat.Filter(st.Contacts, m.app.presence.Snapshot(), m.query, m.onlineOnly)
}

func (m *uiModel) cycle(dir int) tea.Cmd {
	c, ok := step(m.visibleContacts(), m.selectedID, dir)
	if !ok {
		return nil
	}
	return m.open(c)
}

func (m *uiModel) open(c model.Contact) tea.Cmd {
	if !m.app.selector.Select(&c) {
		return nil
	}
	m.showHelp = false
	m.refresh()
	store, id := m.app.chat, c.ID
	return m.op("history", func(ctx context.Context) error {
		err := store.LoadHistory(ctx, id)
		if errors.Is(err, chat.ErrNotSelected) {
			return nil
		}
		return err
	})
}

func (m uiModel) submit() (tea.Model, tea.Cmd) {
	value := m.input.Value()
	if c, ok := parseCommand(value); ok {
		m.input.SetValue("")
		cmd := m.runCommand(c)
		m.refresh()
		return m, cmd
	}

	m.app.draft.SetText(value)
	text, recipient := value, m.selectedID
	m.input.SetValue("")
	return m, func() tea.Msg {
		_, err := m.app.draft.Submit(context.Background(), m.app.chat, recipient)
		return opDoneMsg{op: "send", err: err, text: text}
	}
}

func (m *uiModel) usageError(name string) tea.Cmd {
	notify.Error(m.app.notes, "Usage: "+usage[name])
	return nil
}

func (m *uiModel) runCommand(c command) tea.Cmd {
	a := m.app
	switch c.name {
	case "help":
		m.showHelp = !m.showHelp
	case "quit", "exit":
		a.close()
		return tea.Quit
	case "login":
		if len(c.args) != 2 {
			return m.usageError("login")
		}
		req := model.LoginRequest{Email: c.args[0], Password: c.args[1]}
		return m.op("login", func(ctx context.Context) error { return a.session.Login(ctx, req) })
	case "signup":
		req, ok := signupRequest(c.args)
		if !ok {
			return m.usageError("signup")
		}
		return m.op("signup", func(ctx context.Context) error { return a.session.Signup(ctx, req) })
	case "logout":
		return m.op("logout", a.session.Logout)
	case "contacts":
		return m.op("contacts", a.chat.ListContacts)
	case "open":
		contact, ok := findContact(m.visibleContacts(), c.rest)
		if !ok {
			if c.rest == "" {
				return m.usageError("open")
			}
			notify.Error(a.notes, fmt.Sprintf("No contact matches %q", c.rest))
			return nil
		}
		return m.open(contact)
	case "close":
		a.selector.Select(nil)
		m.refresh()
	case "search":
		m.query = c.rest
	case "online":
		m.onlineOnly = !m.onlineOnly
	case "latest":
		m.jumpToLatest()
	case "image":
		if c.rest == "" {
			return m.usageError("image")
		}
		path := c.rest
		return m.op("image", func(context.Context) error { return a.draft.AttachFile(path) })
	case "unimage":
		if err := a.draft.RemoveImage(); err != nil {
			a.logger.Debug("releasing preview", "error", err)
		}
	case "avatar":
		if c.rest == "" {
			return m.usageError("avatar")
		}
		path := c.rest
		return m.op("avatar", func(ctx context.Context) error {
			data, err := os.ReadFile(path)
			if err != nil {
				notify.Error(a.notes, "Failed to process image. Please try again.")
				return err
			}
			return a.session.UpdateProfile(ctx, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data)
		})
	default:
		notify.Error(a.notes, "Unknown command: /"+c.name)
	}
	return nil
}

// afterOp chains the follow-up work of a finished operation.
func (m *uiModel) afterOp(msg opDoneMsg) tea.Cmd {
	if msg.err != nil {
		m.app.logger.Debug("operation failed", "op", msg.op, "error", msg.err)
	}
	switch msg.op {
	case "check", "login", "signup":
		if msg.err == nil {
			return m.op("contacts", m.app.chat.ListContacts)
		}
	case "logout":
		if msg.err == nil {
			m.app.selector.Select(nil)
			m.app.chat.Reset()
			if err := m.app.draft.Reset(); err != nil {
				m.app.logger.Debug("releasing preview", "error", err)
			}
		}
	case "send":
		if msg.err != nil && m.input.Value() == "" {
			m.input.SetValue(msg.text)
		}
	}
	return nil
}

func (m uiModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	main := m.viewport.View()
	if m.showHelp {
		main = lipgloss.NewStyle().Width(m.viewport.Width).Height(m.viewport.Height).Render(strings.Join(helpLines, "\n"))
	}

	st := m.app.chat.Snapshot()
	set := m.app.presence.Snapshot()
	others := 0
	if self := m.app.session.Identity(); self != nil {
		others = set.OthersOnline(self.ID)
	}
	side := renderSidebar(sidebarView{
		contacts:   chat.Filter(st.Contacts, set, m.query, m.onlineOnly),
		online:     set,
		selectedID: m.selectedID,
		others:     others,
		query:      m.query,
		onlineOnly: m.onlineOnly,
		loading:    st.ContactsLoading,
		width:      sidebarWidth,
		height:     m.viewport.Height,
	})
	divider := dividerStyle.Render(strings.TrimRight(strings.Repeat("│\n", m.viewport.Height), "\n"))
	body := lipgloss.JoinHorizontal(lipgloss.Top, side, divider, main)

	return strings.Join([]string{
		m.header(st),
		body,
		m.status(),
		dividerStyle.Render(strings.Repeat("─", m.width)),
		m.input.View(),
		m.noticeLine(),
	}, "\n")
}

func (m uiModel) busy(st chat.State) bool {
	f := m.app.session.Flags()
	return f.CheckingAuth || f.SigningUp || f.LoggingIn || f.UpdatingProfile || st.ContactsLoading || st.MessagesLoading
}

func (m uiModel) header(st chat.State) string {
	title := "vibechat"
	if self := m.app.session.Identity(); self != nil {
		title += " · " + self.FullName
		if !m.app.session.Connected() {
			title += " (offline)"
		}
	}
	if st.Selected != nil {
		state := "Offline"
		if m.app.presence.Snapshot().Contains(st.Selected.ID) {
			state = "Online"
		}
		title += "  →  " + st.Selected.FullName + " (" + state + ")"
	}
	if m.busy(st) {
		title += "  " + m.spinner.View()
	}
	return headerStyle.Width(m.width).Render(title)
}

// status shows the jump-to-latest affordance and the attached image.
func (m uiModel) status() string {
	var parts []string
	if m.controller.State() == transcript.Free {
		label := "↓ latest (end)"
		if n := m.controller.NewMessages(); n > 0 {
			label = fmt.Sprintf("↓ %d new message(s) (end)", n)
		}
		parts = append(parts, jumpStyle.Render(label))
	}
	if att, preview := m.app.draft.Image(); att != nil {
		parts = append(parts, fmt.Sprintf("[image] %s (%s) preview: %s", att.Filename, media.FormatSize(int64(len(att.Data))), preview))
	}
	return strings.Join(parts, "  ")
}

func (m uiModel) noticeLine() string {
	if m.notice == nil {
		return ""
	}
	switch m.notice.Level {
	case notify.LevelError:
		return errorStyle.Render(m.notice.Text)
	case notify.LevelSuccess:
		return successStyle.Render(m.notice.Text)
	default:
		return m.notice.Text
	}
}
