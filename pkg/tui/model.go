// Package tui renders the orchestrator's state in the terminal. It is pure
// presentation: every mutation goes through the orchestrator, and the model
// repaints whenever the orchestrator reports a change.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/blockgpt/blockchat/pkg/orchestrator"
)

const requestTimeout = 30 * time.Second

// RefreshMsg asks the model to repaint from orchestrator state. The
// orchestrator's OnChange hook sends it through the running program.
type RefreshMsg struct{}

type signedInMsg struct{ err error }

type actionDoneMsg struct{ err error }

// Options configures the chat model.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	// Credential is handed to the orchestrator on startup.
	Credential string
}

// Model is the bubbletea chat UI.
type Model struct {
	orch       *orchestrator.Orchestrator
	credential string

	input    textinput.Model
	vp       viewport.Model
	renderer *glamour.TermRenderer

	width, height int
	ready         bool
	busy          bool
	status        string
	err           error
}

func New(opts Options) Model {
	input := textinput.New()
	input.Placeholder = "Type your message..."
	input.Focus()
	input.CharLimit = 0
	return Model{
		orch:       opts.Orchestrator,
		credential: opts.Credential,
		input:      input,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.signInCmd())
}

func (m Model) signInCmd() tea.Cmd {
	orch, credential := m.orch, m.credential
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := orch.SignIn(ctx, credential)
		return signedInMsg{err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.ready = true
		m.refresh()
		return m, nil

	case RefreshMsg:
		m.refresh()
		return m, nil

	case signedInMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = "signed in"
		}
		m.refresh()
		return m, nil

	case actionDoneMsg:
		m.busy = false
		m.err = msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.orch.SignOut()
		return m, tea.Quit

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.busy {
			return m, nil
		}
		m.input.Reset()
		m.busy = true
		m.status = "waiting for response..."
		return m, m.action(func(ctx context.Context) error {
			_, err := m.orch.Submit(ctx, text)
			return err
		})

	case "ctrl+n":
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "creating session..."
		return m, m.action(func(ctx context.Context) error {
			_, err := m.orch.NewSession(ctx)
			return err
		})

	case "ctrl+x":
		selected := m.orch.Selected()
		if selected == "" || m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "deleting session..."
		return m, m.action(func(ctx context.Context) error {
			return m.orch.DeleteSession(ctx, selected)
		})

	case "tab", "shift+tab":
		next := cycleSession(m.orch.Sessions(), m.orch.Selected(), msg.String() == "tab")
		if next == "" {
			return m, nil
		}
		return m, m.action(func(ctx context.Context) error {
			return m.orch.SelectSession(ctx, next)
		})

	case "ctrl+y":
		if text := lastResponse(m.orch); text != "" {
			if err := clipboard.WriteAll(text); err != nil {
				log.Warn().Err(err).Str("component", "tui").Msg("clipboard write failed")
				m.err = err
			} else {
				m.status = "copied last response"
			}
		}
		return m, nil

	case "ctrl+r":
		return m, m.action(func(ctx context.Context) error {
			return m.orch.RefreshSessions(ctx)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// action runs an orchestrator call off the UI loop.
func (m Model) action(f func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionDoneMsg{err: f(ctx)}
	}
}

func (m *Model) layout() {
	mainWidth := m.width - sidebarWidth - 4
	if mainWidth < 20 {
		mainWidth = 20
	}
	vpHeight := m.height - 7
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.vp = viewport.New(mainWidth, vpHeight)
	} else {
		m.vp.Width = mainWidth
		m.vp.Height = vpHeight
	}
	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(mainWidth-2)); err == nil {
		m.renderer = r
	} else {
		log.Warn().Err(err).Str("component", "tui").Msg("markdown renderer unavailable; using plain text")
	}
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(renderConversation(m.orch, m.renderer))
	m.vp.GotoBottom()
}
