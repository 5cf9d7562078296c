package chatevents

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/blockgpt/blockchat/pkg/chatapi"
)

func newGarbageMessage() *message.Message {
	return message.NewMessage(watermill.NewUUID(), []byte("{not json"))
}

func TestPublishHistoryUpdate_RoundTripsOverBus(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicHistoryUpdate)
	require.NoError(t, err)

	want := HistoryUpdate{
		SessionID:    "s1",
		Conversation: []chatapi.Exchange{{UserMessage: "hi", Response: "yo"}},
		Rev:          3,
	}
	require.NoError(t, PublishHistoryUpdate(bus, want))

	select {
	case msg := <-msgs:
		got, err := DecodeHistoryUpdate(msg)
		require.NoError(t, err)
		require.Equal(t, want, got)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("no history update received on bus")
	}
}

func TestDecodeHistoryUpdate_RejectsGarbage(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	defer func() { _ = bus.Close() }()

	_, err := DecodeHistoryUpdate(newGarbageMessage())
	require.Error(t, err)
}
