package eventbus

import (
	"context"

	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/protocol"
)

// Messenger hands outbound chat messages to the transport adapter through the bus,
// keyed by chat so a partitioned transport keeps per-chat ordering.
type Messenger struct {
	publisher EventPublisher
}

func NewMessenger(publisher EventPublisher) *Messenger {
	return &Messenger{publisher: publisher}
}

func (m *Messenger) Send(ctx context.Context, message protocol.OutboundMessage) error {
	event := events.MessageOutbound{
		BaseEvent:   events.NewBaseEvent(events.MessageOutboundEvent, message.ProjectID, message.WorkflowID),
		ExecutionID: message.ExecutionID,
		NodeID:      message.NodeID,
		ChatID:      message.ChatID,
		UserID:      message.UserID,
		Text:        message.Text,
		Buttons:     message.Buttons,
	}

	for k, v := range message.Metadata {
		event.Metadata[k] = v
	}

	key := message.ChatID
	if key == "" {
		key = message.UserID
	}

	return m.publisher.Publish(ctx, key, event)
}
