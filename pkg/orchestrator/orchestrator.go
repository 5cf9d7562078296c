// Package orchestrator drives the client's session state: identity
// transitions gate everything, the registry owns the session list and
// selection, the synchronizer owns the selected session's history, the push
// binding feeds live snapshots in through the bus, and the streamer reveals
// responses. All cross-component ordering rules live here.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
	"github.com/blockgpt/blockchat/pkg/history"
	"github.com/blockgpt/blockchat/pkg/identity"
	"github.com/blockgpt/blockchat/pkg/push"
	"github.com/blockgpt/blockchat/pkg/registry"
	"github.com/blockgpt/blockchat/pkg/reveal"
)

// ChatAPI is the full chat service surface the orchestrator consumes.
type ChatAPI interface {
	registry.API
	history.Fetcher
	Submit(ctx context.Context, req chatapi.SubmitRequest) (chatapi.SubmitResponse, error)
}

// Channel is the push-channel lifecycle the orchestrator drives.
type Channel interface {
	Join(email string) error
	Leave()
	State() push.State
}

// Config configures an Orchestrator.
type Config struct {
	API ChatAPI
	// Channel is the push binding; its publisher must feed Subscriber's bus.
	Channel Channel
	// Subscriber delivers the push binding's history updates.
	Subscriber message.Subscriber
	// RevealInterval is optional; reveal.DefaultInterval when zero.
	RevealInterval time.Duration
	// OnChange is an optional hook invoked after any observable state change.
	OnChange func()
}

// Orchestrator owns one user's chat client state.
type Orchestrator struct {
	api      ChatAPI
	channel  Channel
	sub      message.Subscriber
	onChange func()

	ident    *identity.Binding
	reg      *registry.Registry
	hist     *history.Synchronizer
	streamer *reveal.Streamer

	mu          sync.Mutex
	stopConsume context.CancelFunc
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.API == nil {
		return nil, errors.New("orchestrator: chat API is nil")
	}
	if cfg.Channel == nil {
		return nil, errors.New("orchestrator: push channel is nil")
	}
	if cfg.Subscriber == nil {
		return nil, errors.New("orchestrator: bus subscriber is nil")
	}
	o := &Orchestrator{
		api:      cfg.API,
		channel:  cfg.Channel,
		sub:      cfg.Subscriber,
		onChange: cfg.OnChange,
		ident:    identity.NewBinding(),
		reg:      registry.New(cfg.API),
		hist:     history.New(cfg.API),
	}
	o.streamer = reveal.New(cfg.RevealInterval, func(string, bool) { o.notify() })
	return o, nil
}

// SignIn decodes the credential and runs the signed-in transition: bind the
// registry and synchronizer to the identity key, subscribe to push updates,
// join the channel, and load the session list. A failed list load is logged
// and left for the user to retry; the sign-in itself still succeeds.
func (o *Orchestrator) SignIn(ctx context.Context, credential string) (identity.Identity, error) {
	if o.ident.SignedIn() {
		o.SignOut()
	}
	ident, err := o.ident.SignIn(credential)
	if err != nil {
		return identity.Identity{}, err
	}
	o.reg.Bind(ident.Email)
	o.hist.Bind(ident.Email)

	// Subscribe before joining so no push echo can slip past the consumer.
	consumeCtx, cancel := context.WithCancel(context.Background())
	msgs, err := o.sub.Subscribe(consumeCtx, chatevents.TopicHistoryUpdate)
	if err != nil {
		cancel()
		o.ident.SignOut()
		o.reg.Reset()
		o.hist.Clear()
		return identity.Identity{}, errors.Wrap(err, "subscribe to push updates")
	}
	o.mu.Lock()
	o.stopConsume = cancel
	o.mu.Unlock()
	go o.consume(msgs)

	if err := o.channel.Join(ident.Email); err != nil {
		log.Warn().Err(err).Str("component", "orchestrator").Msg("push channel join failed; continuing without live updates")
	}

	if err := o.reg.Load(ctx); err != nil {
		log.Warn().Err(err).Str("component", "orchestrator").Msg("initial session list load failed")
	} else if sel := o.reg.Selected(); sel != "" {
		if err := o.hist.Fetch(ctx, sel); err != nil {
			log.Warn().Err(err).Str("component", "orchestrator").Str("session_id", sel).Msg("initial history fetch failed")
		}
	}
	o.notify()
	return ident, nil
}

// SignOut runs the signed-out transition: cancel the reveal, stop consuming
// push updates, leave the channel, and drop all per-identity state. Each
// teardown is the explicit pair of a sign-in side effect.
func (o *Orchestrator) SignOut() {
	o.streamer.Cancel()
	o.mu.Lock()
	cancel := o.stopConsume
	o.stopConsume = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.channel.Leave()
	o.ident.SignOut()
	o.reg.Reset()
	o.hist.Clear()
	o.notify()
}

// Submit sends a message under the selected session, provisioning a fresh
// session first when nothing is selected. The session id and pending flag are
// captured at submission time, so a selection change while the request is in
// flight cannot re-associate the exchange; the response is appended to the
// displayed history and revealed only if that session is still selected.
func (o *Orchestrator) Submit(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("orchestrator: message is empty")
	}
	ident, ok := o.ident.Current()
	if !ok {
		return "", errors.New("orchestrator: not signed in")
	}
	if o.reg.Selected() == "" {
		if _, err := o.createSession(ctx); err != nil {
			return "", err
		}
	}
	sessionID := o.reg.Selected()
	pending := o.reg.ConsumePending()

	resp, err := o.api.Submit(ctx, chatapi.SubmitRequest{
		Message:    text,
		Email:      ident.Email,
		Name:       ident.Name,
		Picture:    ident.Picture,
		SessionID:  sessionID,
		NewSession: pending,
	})
	if err != nil {
		return "", err
	}
	confirmed := resp.SessionID
	if confirmed == "" {
		confirmed = sessionID
	}
	if o.hist.AppendLocal(confirmed, text, resp.Message) {
		o.streamer.Start(resp.Message)
	} else {
		log.Debug().Str("component", "orchestrator").Str("session_id", confirmed).Msg("submission completed for a no-longer-selected session")
	}
	o.notify()
	return resp.Message, nil
}

// NewSession provisions a fresh session and selects it.
func (o *Orchestrator) NewSession(ctx context.Context) (string, error) {
	id, err := o.createSession(ctx)
	if err != nil {
		return "", err
	}
	o.notify()
	return id, nil
}

func (o *Orchestrator) createSession(ctx context.Context) (string, error) {
	id, err := o.reg.Create(ctx)
	if err != nil {
		return "", err
	}
	o.streamer.Cancel()
	// Fresh session, fresh history; never show the previous session's
	// entries underneath it.
	o.hist.Reset(id)
	if err := o.reg.Load(ctx); err != nil {
		log.Warn().Err(err).Str("component", "orchestrator").Msg("session list refresh after create failed")
	}
	return id, nil
}

// SelectSession switches selection and fetches that session's history.
func (o *Orchestrator) SelectSession(ctx context.Context, id string) error {
	if !o.reg.Select(id) {
		return errors.Errorf("orchestrator: unknown session %q", id)
	}
	o.streamer.Cancel()
	err := o.hist.Fetch(ctx, id)
	o.notify()
	return err
}

// DeleteSession deletes a session's history. Deleting the selected session
// clears the selection and the held history; no replacement is auto-selected.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	wasSelected := o.reg.Selected() == id
	if err := o.reg.Delete(ctx, id); err != nil {
		return err
	}
	if wasSelected {
		o.streamer.Cancel()
		o.hist.Reset("")
	}
	o.notify()
	return nil
}

// RefreshSessions re-fetches the session list on demand.
func (o *Orchestrator) RefreshSessions(ctx context.Context) error {
	err := o.reg.Load(ctx)
	o.notify()
	return err
}

func (o *Orchestrator) consume(msgs <-chan *message.Message) {
	for msg := range msgs {
		upd, err := chatevents.DecodeHistoryUpdate(msg)
		msg.Ack()
		if err != nil {
			log.Warn().Err(err).Str("component", "orchestrator").Msg("undecodable push update")
			continue
		}
		if o.hist.ApplyPushUpdate(upd) {
			log.Debug().Str("component", "orchestrator").Str("session_id", upd.SessionID).Msg("applied push update")
			o.notify()
		}
	}
}

func (o *Orchestrator) notify() {
	if o.onChange != nil {
		o.onChange()
	}
}

// Identity returns the signed-in identity, if any.
func (o *Orchestrator) Identity() (identity.Identity, bool) {
	return o.ident.Current()
}

// Sessions returns the session list in server order.
func (o *Orchestrator) Sessions() []string {
	return o.reg.Sessions()
}

// Selected returns the selected session id, or "".
func (o *Orchestrator) Selected() string {
	return o.reg.Selected()
}

// Pending reports whether the selected session is still awaiting its echo.
func (o *Orchestrator) Pending() bool {
	return o.reg.Pending()
}

// History returns the selected session's history.
func (o *Orchestrator) History() []chatapi.Exchange {
	return o.hist.Snapshot()
}

// RevealText returns the currently revealed response prefix.
func (o *Orchestrator) RevealText() string {
	return o.streamer.Current()
}

// Revealing reports whether a reveal is in flight.
func (o *Orchestrator) Revealing() bool {
	return o.streamer.Active()
}

// ChannelState reports the push channel's state.
func (o *Orchestrator) ChannelState() push.State {
	return o.channel.State()
}
