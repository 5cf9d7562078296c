// Package history holds the message history of the currently selected
// session and reconciles it across the two channels that can change it:
// request/response fetches and push-channel snapshots.
package history

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
)

// Fetcher is the slice of the chat service the synchronizer needs.
type Fetcher interface {
	FetchHistory(ctx context.Context, email, sessionID string) ([]chatapi.Exchange, error)
}

// Synchronizer owns the history of exactly one session at a time. Switching
// target drops the held entries and bumps a generation counter; a fetch that
// resolves under an older generation is discarded, so a slow response for
// session A can never overwrite what is shown for session B.
type Synchronizer struct {
	mu      sync.Mutex
	fetcher Fetcher
	email   string
	target  string
	gen     uint64
	entries []chatapi.Exchange
	// Last applied push revision per session. Revision zero on the wire means
	// the server does not version snapshots; those apply last-write-wins.
	revs map[string]uint64
}

func New(fetcher Fetcher) *Synchronizer {
	return &Synchronizer{fetcher: fetcher, revs: map[string]uint64{}}
}

// Bind scopes the synchronizer to an identity key, dropping all held state.
func (s *Synchronizer) Bind(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
	s.target = ""
	s.entries = nil
	s.revs = map[string]uint64{}
	s.gen++
}

// Clear drops everything, including the identity binding. Used on sign-out.
func (s *Synchronizer) Clear() {
	s.Bind("")
}

// Reset retargets the synchronizer to sessionID with an empty history,
// without fetching. Used right after session creation so no stale entries
// show under the fresh session.
func (s *Synchronizer) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retargetLocked(sessionID)
}

func (s *Synchronizer) retargetLocked(sessionID string) {
	if s.target == sessionID {
		return
	}
	s.target = sessionID
	s.entries = nil
	s.gen++
}

// Fetch retargets to sessionID and replaces the held history with the
// server's. The result is tagged with the generation captured at issue time;
// if the target moved while the request was in flight the result is dropped.
func (s *Synchronizer) Fetch(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.retargetLocked(sessionID)
	email := s.email
	gen := s.gen
	s.mu.Unlock()
	if email == "" {
		return errors.New("history: no identity bound")
	}

	conv, err := s.fetcher.FetchHistory(ctx, email, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		log.Debug().Str("component", "history").Str("session_id", sessionID).Msg("discarding stale history fetch")
		return nil
	}
	if err != nil {
		return err
	}
	s.entries = conv
	return nil
}

// ApplyPushUpdate replaces the held history with the snapshot iff it is for
// the current target session; snapshots for other sessions are dropped, since
// reselecting a session always refetches. A versioned snapshot older than the
// last applied one for the same session is dropped too. Reports whether the
// held history changed.
func (s *Synchronizer) ApplyPushUpdate(upd chatevents.HistoryUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.SessionID == "" || upd.SessionID != s.target {
		log.Debug().Str("component", "history").Str("session_id", upd.SessionID).Str("target", s.target).Msg("dropping push update for non-selected session")
		return false
	}
	if upd.Rev > 0 {
		if last := s.revs[upd.SessionID]; upd.Rev < last {
			log.Debug().Str("component", "history").Str("session_id", upd.SessionID).Uint64("rev", upd.Rev).Uint64("last", last).Msg("dropping out-of-order push snapshot")
			return false
		}
		s.revs[upd.SessionID] = upd.Rev
	}
	s.entries = slices.Clone(upd.Conversation)
	return true
}

// AppendLocal appends one completed exchange iff sessionID is still the
// target; it reflects a just-finished submission without waiting for the push
// echo. Reports whether the entry was appended.
func (s *Synchronizer) AppendLocal(sessionID, userMessage, response string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID == "" || sessionID != s.target {
		log.Debug().Str("component", "history").Str("session_id", sessionID).Str("target", s.target).Msg("dropping local append for non-selected session")
		return false
	}
	s.entries = append(s.entries, chatapi.Exchange{UserMessage: userMessage, Response: response})
	return true
}

// Target returns the session the held history belongs to.
func (s *Synchronizer) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Snapshot returns a copy of the held history.
func (s *Synchronizer) Snapshot() []chatapi.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}
