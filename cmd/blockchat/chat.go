package main

import (
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
	"github.com/blockgpt/blockchat/pkg/identity"
	"github.com/blockgpt/blockchat/pkg/orchestrator"
	"github.com/blockgpt/blockchat/pkg/push"
	"github.com/blockgpt/blockchat/pkg/tui"
)

// programSink forwards orchestrator change notifications to the bubbletea
// program once it exists. The orchestrator is built before the program, so
// early notifications are dropped.
type programSink struct {
	mu sync.Mutex
	p  *tea.Program
}

func (s *programSink) set(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

func (s *programSink) notify() {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(tui.RefreshMsg{})
	}
}

func newChatCommand() *cobra.Command {
	var (
		serverURL  string
		wsURL      string
		credential string
		email      string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal chat UI against a BlockGPT server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if credential == "" {
				credential = os.Getenv("BLOCKCHAT_CREDENTIAL")
			}
			if credential == "" && email != "" {
				credential = identity.MintDevCredential(identity.Identity{Email: email, Name: email})
			}
			if credential == "" {
				return errors.New("no credential: pass --credential, set BLOCKCHAT_CREDENTIAL, or use --email for a dev identity")
			}
			if wsURL == "" {
				wsURL = deriveWSURL(serverURL)
			}

			api, err := chatapi.NewClient(chatapi.Config{BaseURL: serverURL})
			if err != nil {
				return err
			}
			bus := chatevents.NewBus(log.Logger)
			defer func() { _ = bus.Close() }()

			channel, err := push.New(push.Config{URL: wsURL, Publisher: bus})
			if err != nil {
				return err
			}

			sink := &programSink{}
			orch, err := orchestrator.New(orchestrator.Config{
				API:        api,
				Channel:    channel,
				Subscriber: bus,
				OnChange:   sink.notify,
			})
			if err != nil {
				return err
			}
			defer orch.SignOut()

			model := tui.New(tui.Options{Orchestrator: orch, Credential: credential})
			p := tea.NewProgram(model, tea.WithAltScreen())
			sink.set(p)

			log.Info().Str("component", "chat").Str("server", serverURL).Str("ws", wsURL).Msg("starting chat UI")
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "chat server base URL")
	cmd.Flags().StringVar(&wsURL, "ws-url", "", "push channel URL (default: derived from --server)")
	cmd.Flags().StringVar(&credential, "credential", "", "signed identity credential (default: $BLOCKCHAT_CREDENTIAL)")
	cmd.Flags().StringVar(&email, "email", "", "mint an unsigned dev credential for this email")
	return cmd
}

func deriveWSURL(serverURL string) string {
	ws := serverURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}
