// Package chatevents carries the push-channel event types and the in-process
// watermill bus that routes them from the channel binding to consumers.
package chatevents

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/blockgpt/blockchat/pkg/chatapi"
)

// TopicHistoryUpdate is the bus topic push-channel history snapshots are
// published on.
const TopicHistoryUpdate = "chat_history_update"

// HistoryUpdate is a full-conversation snapshot for one session. Rev is a
// server-assigned monotonic revision per session; zero means the server does
// not version its snapshots and arrival order is all there is.
type HistoryUpdate struct {
	SessionID    string             `json:"session_id"`
	Conversation []chatapi.Exchange `json:"conversation"`
	Rev          uint64             `json:"rev,omitempty"`
}

// NewBus builds the in-process pub/sub channel used between the push binding
// and the orchestrator.
func NewBus(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, NewWatermillLogger(logger))
}

// PublishHistoryUpdate marshals the update and publishes it on the bus.
func PublishHistoryUpdate(pub message.Publisher, upd HistoryUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return errors.Wrap(err, "marshal history update")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrap(pub.Publish(TopicHistoryUpdate, msg), "publish history update")
}

// DecodeHistoryUpdate unmarshals a bus message back into a HistoryUpdate.
func DecodeHistoryUpdate(msg *message.Message) (HistoryUpdate, error) {
	var upd HistoryUpdate
	if err := json.Unmarshal(msg.Payload, &upd); err != nil {
		return HistoryUpdate{}, errors.Wrap(err, "decode history update")
	}
	return upd, nil
}
