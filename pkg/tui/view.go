package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/blockgpt/blockchat/pkg/orchestrator"
)

const sidebarWidth = 28

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	botStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62"))
	sessionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AFAFAF"))
	sidebarStyle  = lipgloss.NewStyle().
			Width(sidebarWidth).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := m.viewHeader()
	sidebar := sidebarStyle.Height(m.vp.Height).Render(m.viewSessions())
	main := m.vp.View()
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main)

	lines := []string{header, body, m.input.View(), m.viewStatus(),
		helpStyle.Render("enter send · ctrl+n new · tab switch · ctrl+x delete · ctrl+y copy · ctrl+r refresh · ctrl+c quit")}
	return strings.Join(lines, "\n")
}

func (m Model) viewHeader() string {
	who := "signed out"
	if ident, ok := m.orch.Identity(); ok {
		who = ident.Name
		if who == "" {
			who = ident.Email
		}
	}
	channel := m.orch.ChannelState().String()
	return titleStyle.Render("blockchat") + statusStyle.Render(fmt.Sprintf("  %s · channel %s", who, channel))
}

func (m Model) viewSessions() string {
	sessions := m.orch.Sessions()
	selected := m.orch.Selected()
	if len(sessions) == 0 && selected == "" {
		return sessionStyle.Render("no sessions yet")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sessions") + "\n")
	// A freshly created session may not have been echoed into the list yet.
	if selected != "" && !contains(sessions, selected) {
		b.WriteString(selectedStyle.Render("• "+shortID(selected)+" (new)") + "\n")
	}
	for i, id := range sessions {
		label := fmt.Sprintf("%d. %s", i+1, shortID(id))
		if id == selected {
			b.WriteString(selectedStyle.Render("• "+label) + "\n")
		} else {
			b.WriteString(sessionStyle.Render("  "+label) + "\n")
		}
	}
	return b.String()
}

func (m Model) viewStatus() string {
	if m.err != nil {
		return errorStyle.Render("error: " + m.err.Error())
	}
	return statusStyle.Render(m.status)
}

// renderConversation formats the displayed history plus the in-flight reveal.
func renderConversation(orch *orchestrator.Orchestrator, renderer *glamour.TermRenderer) string {
	var b strings.Builder
	for _, ex := range orch.History() {
		b.WriteString(userStyle.Render("You: ") + ex.UserMessage + "\n")
		b.WriteString(botStyle.Render("Bot: ") + renderMarkdown(renderer, ex.Response) + "\n")
	}
	if orch.Revealing() {
		b.WriteString(botStyle.Render("Bot: ") + orch.RevealText() + "▌\n")
	}
	if b.Len() == 0 {
		return statusStyle.Render("start chatting, or press ctrl+n for a new session")
	}
	return b.String()
}

func renderMarkdown(renderer *glamour.TermRenderer, text string) string {
	if renderer == nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// cycleSession returns the session after (or before) the selected one,
// wrapping around; "" when there is nothing to switch to.
func cycleSession(sessions []string, selected string, forward bool) string {
	if len(sessions) == 0 {
		return ""
	}
	idx := -1
	for i, id := range sessions {
		if id == selected {
			idx = i
			break
		}
	}
	if idx == -1 {
		return sessions[0]
	}
	if forward {
		return sessions[(idx+1)%len(sessions)]
	}
	return sessions[(idx+len(sessions)-1)%len(sessions)]
}

// lastResponse returns the most recent assistant response, if any.
func lastResponse(orch *orchestrator.Orchestrator) string {
	h := orch.History()
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].Response
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
