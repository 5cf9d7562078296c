package devserver

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
)

// wsFrame mirrors the push-channel wire format.
type wsFrame struct {
	Type         string             `json:"type"`
	Email        string             `json:"email,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	Conversation []chatapi.Exchange `json:"conversation,omitempty"`
	Rev          uint64             `json:"rev,omitempty"`
}

// Hub tracks joined websocket connections by identity key and broadcasts
// history updates to every connection joined for that identity. A connection
// is only addressable after its join frame; writes that fail drop the
// connection.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]string
}

func NewHub() *Hub {
	return &Hub{conns: map[*websocket.Conn]string{}}
}

// Join registers the connection under the identity key.
func (h *Hub) Join(conn *websocket.Conn, email string) {
	h.mu.Lock()
	h.conns[conn] = email
	h.mu.Unlock()
	log.Debug().Str("component", "devserver").Str("email", email).Msg("channel join")
}

// Remove drops the connection.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// Joined counts connections currently joined for the identity key.
func (h *Hub) Joined(email string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.conns {
		if e == email {
			n++
		}
	}
	return n
}

// BroadcastHistoryUpdate pushes a snapshot to every connection joined for the
// identity key.
func (h *Hub) BroadcastHistoryUpdate(email string, upd chatevents.HistoryUpdate) {
	f := wsFrame{
		Type:         chatevents.TopicHistoryUpdate,
		SessionID:    upd.SessionID,
		Conversation: upd.Conversation,
		Rev:          upd.Rev,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, e := range h.conns {
		if e != email {
			continue
		}
		if err := conn.WriteJSON(f); err != nil {
			log.Warn().Err(err).Str("component", "devserver").Str("email", email).Msg("push write failed, dropping connection")
			delete(h.conns, conn)
			_ = conn.Close()
		}
	}
}
