package devserver

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/blockgpt/blockchat/pkg/chatapi"
)

// Store is the in-memory session store behind the dev server: per-identity
// session lists in creation order, per-session histories, and a monotonic
// revision per session so clients can order push snapshots.
type Store struct {
	mu sync.Mutex
	// sessions maps email -> session ids; histories and revs map
	// email -> session id -> history / revision.
	sessions  map[string][]string
	histories map[string]map[string][]chatapi.Exchange
	revs      map[string]map[string]uint64
}

func NewStore() *Store {
	return &Store{
		sessions:  map[string][]string{},
		histories: map[string]map[string][]chatapi.Exchange{},
		revs:      map[string]map[string]uint64{},
	}
}

// Sessions returns the identity's session ids in creation order.
func (s *Store) Sessions(email string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sessions[email])
}

// CreateSession mints a new session id and appends it to the identity's list.
func (s *Store) CreateSession(email string) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[email] = append(s.sessions[email], id)
	return id
}

// EnsureSession appends the id to the identity's list if it is not there yet.
// Covers submissions that carry a pending session the list has not echoed.
func (s *Store) EnsureSession(email, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.sessions[email], id) {
		s.sessions[email] = append(s.sessions[email], id)
	}
}

// History returns a copy of the session's history.
func (s *Store) History(email, id string) []chatapi.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.histories[email][id])
}

// DeleteHistory removes the session and its history.
func (s *Store) DeleteHistory(email, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[email] = slices.DeleteFunc(s.sessions[email], func(sid string) bool { return sid == id })
	if h := s.histories[email]; h != nil {
		delete(h, id)
	}
	if r := s.revs[email]; r != nil {
		delete(r, id)
	}
}

// AppendExchange records one exchange and returns the full conversation and
// its new revision.
func (s *Store) AppendExchange(email, id string, ex chatapi.Exchange) ([]chatapi.Exchange, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.histories[email] == nil {
		s.histories[email] = map[string][]chatapi.Exchange{}
	}
	if s.revs[email] == nil {
		s.revs[email] = map[string]uint64{}
	}
	s.histories[email][id] = append(s.histories[email][id], ex)
	s.revs[email][id]++
	return slices.Clone(s.histories[email][id]), s.revs[email][id]
}
