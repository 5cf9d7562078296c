// Package registry owns the ordered list of a user's chat sessions, the
// current selection, and the pending-session flag for sessions whose creation
// the server has acknowledged but not yet echoed back into the list.
package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// API is the slice of the chat service the registry needs.
type API interface {
	ListSessions(ctx context.Context, email string) ([]string, error)
	CreateSession(ctx context.Context, email string) (string, error)
	DeleteHistory(ctx context.Context, email, sessionID string) error
}

// Registry holds session identifiers in server order plus the selection.
// Selection may reference a session absent from the list only while the
// pending flag is set, between CreateSession returning and the next Load or
// push echo confirming the new id.
type Registry struct {
	mu       sync.Mutex
	api      API
	email    string
	sessions []string
	selected string
	pending  bool
}

func New(api API) *Registry {
	return &Registry{api: api}
}

// Bind scopes the registry to an identity key. Any state from a previous
// identity is dropped.
func (r *Registry) Bind(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.email = email
	r.sessions = nil
	r.selected = ""
	r.pending = false
}

// Reset clears everything, including the identity binding. Used on sign-out.
func (r *Registry) Reset() {
	r.Bind("")
}

// Load replaces the session list with the server's. If nothing is selected
// and the list is non-empty, the first entry becomes selected. On failure the
// previous state is kept untouched.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	email := r.email
	r.mu.Unlock()
	if email == "" {
		return errors.New("registry: no identity bound")
	}

	sessions, err := r.api.ListSessions(ctx, email)
	if err != nil {
		log.Warn().Err(err).Str("component", "registry").Msg("session list load failed; keeping previous state")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.email != email {
		// Identity changed while the request was in flight.
		log.Debug().Str("component", "registry").Str("email", email).Msg("dropping stale session list")
		return nil
	}
	r.sessions = sessions
	if r.selected == "" && len(r.sessions) > 0 {
		r.selected = r.sessions[0]
		log.Debug().Str("component", "registry").Str("session_id", r.selected).Msg("defaulted selection to first session")
	}
	return nil
}

// Create asks the server for a new session. On success the new id becomes the
// selection and the pending flag is set; the list itself is not touched — a
// later Load or push echo carries the id into it. On failure the selection is
// unchanged.
func (r *Registry) Create(ctx context.Context) (string, error) {
	r.mu.Lock()
	email := r.email
	r.mu.Unlock()
	if email == "" {
		return "", errors.New("registry: no identity bound")
	}

	id, err := r.api.CreateSession(ctx, email)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.email != email {
		return "", errors.New("registry: identity changed during session creation")
	}
	r.selected = id
	r.pending = true
	log.Info().Str("component", "registry").Str("session_id", id).Msg("created session")
	return id, nil
}

// Select makes id the selection if it is present in the list, clearing the
// pending flag. Selecting an unknown id is a no-op and returns false.
func (r *Registry) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.sessions, id) {
		log.Debug().Str("component", "registry").Str("session_id", id).Msg("ignoring selection of unknown session")
		return false
	}
	r.selected = id
	r.pending = false
	return true
}

// Delete removes the session's history on the server and, on success, the id
// from the list. Selection is cleared only if the deleted session was
// selected; no replacement is auto-selected.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	email := r.email
	r.mu.Unlock()
	if email == "" {
		return errors.New("registry: no identity bound")
	}

	if err := r.api.DeleteHistory(ctx, email, id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = slices.DeleteFunc(r.sessions, func(s string) bool { return s == id })
	if r.selected == id {
		r.selected = ""
		r.pending = false
	}
	log.Info().Str("component", "registry").Str("session_id", id).Msg("deleted session")
	return nil
}

// Sessions returns a copy of the list in server order.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sessions)
}

// Selected returns the selected session id, or "" when nothing is selected.
func (r *Registry) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Pending reports the pending-session flag.
func (r *Registry) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// ConsumePending returns the pending flag and clears it. Called once per
// submission so only the first message into a fresh session announces it.
func (r *Registry) ConsumePending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending
	r.pending = false
	return p
}
