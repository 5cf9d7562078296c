// Package push binds the client to the chat service's real-time channel. One
// websocket connection is owned per signed-in identity; every (re)connection
// starts with an explicit join frame, because the server associates the
// channel with an identity only on join, not on transport connect. Inbound
// history snapshots are published on the in-process bus.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
)

// ErrChannel reports a push channel that cannot be joined. Transient
// connection loss is not an error; the reconnect loop absorbs it.
var ErrChannel = errors.New("push: channel unjoinable")

// State is the channel lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// frame is the wire format in both directions.
type frame struct {
	Type         string             `json:"type"`
	Email        string             `json:"email,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	Conversation []chatapi.Exchange `json:"conversation,omitempty"`
	Rev          uint64             `json:"rev,omitempty"`
}

// Config configures a Binding.
type Config struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:9000/ws".
	URL string
	// Publisher receives decoded history updates.
	Publisher message.Publisher
	// Dialer is optional; websocket.DefaultDialer when nil.
	Dialer *websocket.Dialer
	// OnState is an optional state-transition hook.
	OnState func(State)
}

// Binding owns the channel connection and its reconnect loop. Join and Leave
// are paired one-to-one with the identity binding's sign-in and sign-out.
type Binding struct {
	url     string
	dialer  *websocket.Dialer
	pub     message.Publisher
	onState func(State)

	mu     sync.Mutex
	state  State
	email  string
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) (*Binding, error) {
	if cfg.URL == "" {
		return nil, errors.New("push: channel URL is empty")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("push: publisher is nil")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Binding{url: cfg.URL, dialer: dialer, pub: cfg.Publisher, onState: cfg.OnState}, nil
}

// Join starts the connect/rejoin loop for the identity key. Joining while
// already joined for the same key is a no-op; joining for a different key
// leaves the previous one first.
func (b *Binding) Join(email string) error {
	if email == "" {
		return errors.Wrap(ErrChannel, "identity key is empty")
	}
	b.mu.Lock()
	if b.cancel != nil && b.email == email {
		b.mu.Unlock()
		return nil
	}
	prevCancel, prevDone := b.cancel, b.done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel, b.done, b.email = cancel, done, email
	b.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	log.Info().Str("component", "push").Str("email", email).Msg("joining push channel")
	go b.loop(ctx, email, done)
	return nil
}

// Leave stops the loop and closes the connection. Required on sign-out so a
// signed-out view can never receive another identity's updates.
func (b *Binding) Leave() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done, b.email = nil, nil, ""
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Str("component", "push").Msg("left push channel")
}

// State returns the current channel state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Binding) setState(s State) {
	b.mu.Lock()
	changed := b.state != s
	b.state = s
	b.mu.Unlock()
	if changed && b.onState != nil {
		b.onState(s)
	}
}

func (b *Binding) loop(ctx context.Context, email string, done chan struct{}) {
	defer close(done)
	defer b.setState(StateDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	for {
		b.setState(StateConnecting)
		conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("component", "push").Str("url", b.url).Msg("channel dial failed")
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		// Re-join on every connection, not just the first.
		if err := conn.WriteJSON(frame{Type: "join", Email: email}); err != nil {
			log.Warn().Err(err).Str("component", "push").Msg("join frame failed")
			_ = conn.Close()
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		b.setState(StateJoined)
		bo.Reset()
		log.Debug().Str("component", "push").Str("email", email).Msg("joined channel")

		// Unblock the blocking read when ctx is cancelled.
		watch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-watch:
			}
		}()
		b.readLoop(conn)
		close(watch)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		b.setState(StateDisconnected)
		log.Info().Str("component", "push").Msg("channel connection lost; reconnecting")
	}
}

func (b *Binding) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Debug().Err(err).Str("component", "push").Msg("channel read ended")
			return
		}
		switch f.Type {
		case chatevents.TopicHistoryUpdate:
			upd := chatevents.HistoryUpdate{SessionID: f.SessionID, Conversation: f.Conversation, Rev: f.Rev}
			if err := chatevents.PublishHistoryUpdate(b.pub, upd); err != nil {
				log.Warn().Err(err).Str("component", "push").Str("session_id", f.SessionID).Msg("failed to publish history update")
			}
		default:
			log.Debug().Str("component", "push").Str("type", f.Type).Msg("ignoring unknown channel frame")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
