// Package eventbus carries inbound trigger events from the API to the workers and
// run lifecycle and outbound chat messages from the workers to their consumers.
package eventbus

import (
	"context"

	"github.com/dukex/chatflow/pkg/events"
)

// Event is anything published on the bus. The type selects the handler on delivery.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events. Events sharing a key are delivered in order on
// partitioned transports; chatflow keys by session or chat.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler receives the decoded event as a pointer to its concrete type. Returning
// an error asks the transport to redeliver.
type EventHandler func(ctx context.Context, event any) error

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber

	Close() error
}
