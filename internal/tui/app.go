// Package tui renders a session in the terminal: conversation titles on the
// left, the selected conversation's feed on the right, the input underneath.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/comigor/sastagpt-go/internal/history"
	"github.com/comigor/sastagpt-go/internal/logger"
	"github.com/comigor/sastagpt-go/internal/session"
)

const appName = "SastaGPT"

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

// sessionChangedMsg is sent when the session changed outside of Update,
// for instance a turn appended by another front end.
type sessionChangedMsg struct{}

// turnSettledMsg reports the end of a submission started from the UI.
type turnSettledMsg struct {
	err error
}

// Renderer turns message content into terminal output.
type Renderer func(content string) string

// MarkdownRenderer renders content as markdown with glamour's dark style,
// falling back to the raw text.
func MarkdownRenderer(content string) string {
	out, err := glamour.Render(content, "dark")
	if err != nil {
		logger.L.Debug("markdown render failed", "error", err)
		return content
	}
	return strings.Trim(out, "\n")
}

// PlainRenderer leaves content untouched.
func PlainRenderer(content string) string { return content }

type Model struct {
	ctx     context.Context
	session *session.Session
	state   session.State
	render  Renderer

	input   textinput.Model
	spinner spinner.Model
	feed    viewport.Model

	focus   focus
	cursor  int // 0 is "+ New Chat", i+1 is state.Titles[i]
	pending bool
	width   int
	height  int
}

// NewModel builds the UI model. A nil render uses MarkdownRenderer.
func NewModel(ctx context.Context, s *session.Session, render Renderer) Model {
	if render == nil {
		render = MarkdownRenderer
	}

	ti := textinput.New()
	ti.Placeholder = "Send a message..."
	ti.Prompt = "> "
	ti.CharLimit = 0
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))

	m := Model{
		ctx:     ctx,
		session: s,
		state:   s.State(),
		render:  render,
		input:   ti,
		spinner: sp,
		feed:    viewport.New(80, 20),
		width:   120,
		height:  30,
	}
	m.layout()
	return m
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, s *session.Session, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(NewModel(ctx, s, nil), append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)...)

	// Subscribers run inside Dispatch, which may be called from Update; Send
	// must not block the event loop.
	cancel := s.Subscribe(func(session.State) { go p.Send(sessionChangedMsg{}) })
	defer cancel()

	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case sessionChangedMsg:
		m.setState(m.session.State())
		return m, nil

	case turnSettledMsg:
		m.pending = false
		m.setState(m.session.State())
		if msg.err == nil {
			m.input.SetValue(m.state.Input)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}

	var inputCmd, feedCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.feed, feedCmd = m.feed.Update(msg)
	return m, tea.Batch(inputCmd, feedCmd)
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "ctrl+n":
		m.dispatch(session.NewChat{})
		m.input.Reset()
		m.cursor = 0
		return m, nil

	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		return m, cmd
	}

	if m.focus == focusSidebar {
		return m.updateSidebar(msg)
	}
	return m.updateInput(msg)
}

func (m Model) updateSidebar(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.state.Titles) {
			m.cursor++
		}
	case "enter":
		if m.cursor == 0 {
			m.dispatch(session.NewChat{})
		} else {
			m.dispatch(session.SelectConversation{Title: m.state.Titles[m.cursor-1]})
		}
		m.input.Reset()
		m.focus = focusInput
		m.input.Focus()
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		if m.busy() || strings.TrimSpace(m.input.Value()) == "" {
			return m, nil
		}
		m.dispatch(session.SetInput{Text: m.input.Value()})
		m.pending = true
		return m, tea.Batch(m.submitCmd(), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitCmd() tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		return turnSettledMsg{err: s.Dispatch(ctx, session.Submit{})}
	}
}

func (m *Model) dispatch(a session.Action) {
	if err := m.session.Dispatch(m.ctx, a); err != nil {
		logger.L.Warn("dispatch failed", "action", fmt.Sprintf("%T", a), "error", err)
	}
	m.setState(m.session.State())
}

func (m *Model) setState(st session.State) {
	m.state = st
	if m.cursor > len(st.Titles) {
		m.cursor = len(st.Titles)
	}
	m.refreshFeed()
}

func (m Model) busy() bool {
	return m.pending || m.state.Busy
}

func (m *Model) layout() {
	feedWidth := m.width - sidebarWidth - 3
	if feedWidth < 20 {
		feedWidth = 20
	}
	// header, input, status and help lines
	feedHeight := m.height - 4
	if feedHeight < 3 {
		feedHeight = 3
	}
	m.feed.Width = feedWidth
	m.feed.Height = feedHeight
	m.input.Width = feedWidth - 4
	m.refreshFeed()
}

func (m *Model) refreshFeed() {
	m.feed.SetContent(m.renderFeed())
	m.feed.GotoBottom()
}

func (m Model) renderFeed() string {
	if len(m.state.Conversation) == 0 {
		return dimStyle.Render("Ask anything to start a new conversation.")
	}

	var b strings.Builder
	for i, msg := range m.state.Conversation {
		if i > 0 {
			b.WriteString("\n\n")
		}
		tag := userRoleStyle.Render("you")
		content := msg.Content
		if msg.Role != history.RoleUser {
			tag = assistantRoleStyle.Render(string(msg.Role))
			content = m.render(content)
		}
		b.WriteString(tag + " " + dimStyle.Render(msg.Timestamp) + "\n")
		b.WriteString(lipgloss.NewStyle().Width(m.feed.Width).Render(content))
	}
	return b.String()
}

func (m Model) View() string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), m.renderMain())
}

func (m Model) renderSidebar() string {
	var b strings.Builder

	newChat := "+ New Chat"
	if m.cursor == 0 && m.focus == focusSidebar {
		b.WriteString(selectedStyle.Render(newChat))
	} else {
		b.WriteString(newChatStyle.Render(newChat))
	}
	b.WriteString("\n\n")

	for i, title := range m.state.Titles {
		label := truncate(title, sidebarWidth-2)
		switch {
		case m.focus == focusSidebar && m.cursor == i+1:
			label = selectedStyle.Render(label)
		case title == m.state.Title:
			label = activeTitleStyle.Render(label)
		default:
			label = normalStyle.Render(label)
		}
		b.WriteString(label + "\n")
	}

	style := sidebarStyle
	if m.focus == focusSidebar {
		style = sidebarFocusedStyle
	}
	return style.Height(m.height - 1).Render(b.String())
}

func (m Model) renderMain() string {
	var b strings.Builder

	header := appName
	if m.state.Title != "" {
		header = truncate(m.state.Title, m.feed.Width-2)
	}
	b.WriteString(titleStyle.Render(header) + "\n")
	b.WriteString(m.feed.View() + "\n")

	line := m.input.View()
	if m.busy() {
		line += " " + m.spinner.View()
	}
	b.WriteString(line + "\n")

	if m.state.Err != nil {
		b.WriteString(errorStyle.Render(truncate("Error: "+m.state.Err.Error(), m.feed.Width)) + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter: send/open  tab: switch pane  ctrl+n: new chat  esc: quit"))

	return lipgloss.NewStyle().PaddingLeft(1).Render(b.String())
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if width <= 2 || len(runes) <= width {
		return s
	}
	return string(runes[:width-2]) + ".."
}
