package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blockgpt/blockchat/pkg/chatapi"
	"github.com/blockgpt/blockchat/pkg/chatevents"
)

// channelServer is a minimal push-channel endpoint: it records join frames
// and lets tests emit history updates or drop connections.
type channelServer struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	joins []string
	conns []*websocket.Conn
}

func (s *channelServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	var join frame
	if err := conn.ReadJSON(&join); err != nil || join.Type != "join" {
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.joins = append(s.joins, join.Email)
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *channelServer) joinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins)
}

func (s *channelServer) send(upd chatevents.HistoryUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.WriteJSON(frame{
			Type:         chatevents.TopicHistoryUpdate,
			SessionID:    upd.SessionID,
			Conversation: upd.Conversation,
			Rev:          upd.Rev,
		})
	}
}

func (s *channelServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func newChannelFixture(t *testing.T) (*channelServer, *Binding, <-chan chatevents.HistoryUpdate) {
	t.Helper()
	cs := &channelServer{}
	srv := httptest.NewServer(http.HandlerFunc(cs.handler))
	t.Cleanup(srv.Close)

	bus := chatevents.NewBus(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := bus.Subscribe(ctx, chatevents.TopicHistoryUpdate)
	require.NoError(t, err)

	updates := make(chan chatevents.HistoryUpdate, 16)
	go func() {
		for msg := range msgs {
			upd, err := chatevents.DecodeHistoryUpdate(msg)
			msg.Ack()
			if err == nil {
				updates <- upd
			}
		}
	}()

	b, err := New(Config{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Publisher: bus,
	})
	require.NoError(t, err)
	t.Cleanup(b.Leave)
	return cs, b, updates
}

func TestNew_Validation(t *testing.T) {
	bus := chatevents.NewBus(zerolog.Nop())
	defer func() { _ = bus.Close() }()

	_, err := New(Config{Publisher: bus})
	require.Error(t, err)
	_, err = New(Config{URL: "ws://x/ws"})
	require.Error(t, err)

	b, err := New(Config{URL: "ws://x/ws", Publisher: bus})
	require.NoError(t, err)
	require.ErrorIs(t, b.Join(""), ErrChannel)
}

func TestJoin_SendsJoinFrameAndReachesJoined(t *testing.T) {
	cs, b, _ := newChannelFixture(t)
	require.NoError(t, b.Join("a@x.com"))

	require.Eventually(t, func() bool { return b.State() == StateJoined }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, cs.joinCount())

	// Joining again for the same identity is a no-op.
	require.NoError(t, b.Join("a@x.com"))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, cs.joinCount())
}

func TestInboundUpdate_IsPublishedOnBus(t *testing.T) {
	cs, b, updates := newChannelFixture(t)
	require.NoError(t, b.Join("a@x.com"))
	require.Eventually(t, func() bool { return b.State() == StateJoined }, 2*time.Second, 10*time.Millisecond)

	want := chatevents.HistoryUpdate{
		SessionID:    "s1",
		Conversation: []chatapi.Exchange{{UserMessage: "hi", Response: "yo"}},
		Rev:          1,
	}
	cs.send(want)

	select {
	case got := <-updates:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("update never reached the bus")
	}
}

func TestConnectionLoss_TriggersRejoin(t *testing.T) {
	cs, b, updates := newChannelFixture(t)
	require.NoError(t, b.Join("a@x.com"))
	require.Eventually(t, func() bool { return cs.joinCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cs.dropAll()

	// The reconnect loop must send a fresh join, not rely on the transport.
	require.Eventually(t, func() bool { return cs.joinCount() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return b.State() == StateJoined }, 5*time.Second, 10*time.Millisecond)

	cs.send(chatevents.HistoryUpdate{SessionID: "s1"})
	select {
	case got := <-updates:
		require.Equal(t, "s1", got.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("update after rejoin never arrived")
	}
}

func TestLeave_StopsTheLoop(t *testing.T) {
	cs, b, _ := newChannelFixture(t)
	require.NoError(t, b.Join("a@x.com"))
	require.Eventually(t, func() bool { return b.State() == StateJoined }, 2*time.Second, 10*time.Millisecond)

	b.Leave()
	require.Equal(t, StateDisconnected, b.State())

	// No reconnect after leave.
	cs.dropAll()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, cs.joinCount())
	require.Equal(t, StateDisconnected, b.State())
}

func TestJoin_DifferentIdentityRejoins(t *testing.T) {
	cs, b, _ := newChannelFixture(t)
	require.NoError(t, b.Join("a@x.com"))
	require.Eventually(t, func() bool { return cs.joinCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Join("b@x.com"))
	require.Eventually(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return len(cs.joins) >= 2 && cs.joins[len(cs.joins)-1] == "b@x.com"
	}, 2*time.Second, 10*time.Millisecond)
}
