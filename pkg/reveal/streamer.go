// Package reveal produces the progressive-display effect for assistant
// responses: the full text is already in hand when reveal begins, and a
// ticker grows the displayed prefix one rune at a time. The revealed prefix
// is ephemeral display state; history always records the complete text.
package reveal

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the per-rune reveal pace.
const DefaultInterval = 50 * time.Millisecond

// ProgressFunc receives the revealed prefix after each tick. done is true on
// the final tick, when the prefix equals the full text.
type ProgressFunc func(prefix string, done bool)

// Streamer reveals one response at a time. Starting a new reveal cancels any
// live one before its ticker can touch the display again; at most one ticker
// goroutine is live.
type Streamer struct {
	mu         sync.Mutex
	interval   time.Duration
	onProgress ProgressFunc

	// stop is the cancellation handle of the live reveal, nil when idle.
	stop   chan struct{}
	text   []rune
	cursor int
	prefix string
}

func New(interval time.Duration, onProgress ProgressFunc) *Streamer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Streamer{interval: interval, onProgress: onProgress}
}

// Start begins revealing text, cancelling any reveal still in flight and
// resetting the displayed prefix to empty.
func (s *Streamer) Start(text string) {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	stop := make(chan struct{})
	s.stop = stop
	s.text = []rune(text)
	s.cursor = 0
	s.prefix = ""
	s.mu.Unlock()

	log.Debug().Str("component", "reveal").Int("runes", len([]rune(text))).Msg("starting reveal")
	go s.run(stop)
}

func (s *Streamer) run(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			prefix, done, ok := s.advance(stop)
			if !ok {
				return
			}
			if s.onProgress != nil {
				s.onProgress(prefix, done)
			}
			if done {
				return
			}
		}
	}
}

// advance moves the cursor one rune. ok is false when this run has been
// superseded and must not touch shared state again.
func (s *Streamer) advance(stop chan struct{}) (prefix string, done, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != stop {
		return "", false, false
	}
	if s.cursor < len(s.text) {
		s.cursor++
	}
	s.prefix = string(s.text[:s.cursor])
	done = s.cursor >= len(s.text)
	if done {
		s.stop = nil
	}
	return s.prefix, done, true
}

// Cancel stops any in-flight reveal and clears the displayed prefix. Safe to
// call when idle.
func (s *Streamer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.text = nil
	s.cursor = 0
	s.prefix = ""
}

// Current returns the revealed prefix so far.
func (s *Streamer) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefix
}

// Active reports whether a reveal is in flight.
func (s *Streamer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}
