// Package events defines event types and structures for chat workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every chatflow event; consumers dispatch on EventTypeMetadataKey.
const Topic = "chatflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound events handed over by transport adapters.
	TriggerReceivedEvent EventType = "trigger.received"

	// Run lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionSuspendedEvent EventType = "execution.suspended"

	// Outbound chat messages for the transport adapter.
	MessageOutboundEvent EventType = "message.outbound"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ProjectID  string         `json:"project_id"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, projectID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		ProjectID:  projectID,
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// TriggerReceived wraps an inbound chat or webhook event.
type TriggerReceived struct {
	BaseEvent

	Trigger models.TriggerEvent `json:"trigger"`
}

func (t TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	NodeID      string `json:"node_id"`
	Resumed     bool   `json:"resumed,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Steps       int           `json:"steps"`
	Path        []string      `json:"path,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string        `json:"execution_id"`
	FailedNodeID string        `json:"failed_node_id,omitempty"`
	Error        string        `json:"error"`
	Steps        int           `json:"steps"`
	Duration     time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionSuspended struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	Steps       int    `json:"steps"`
}

func (e ExecutionSuspended) GetType() EventType {
	return ExecutionSuspendedEvent
}

// MessageOutbound is a rendered chat message waiting for delivery.
type MessageOutbound struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"user_id,omitempty"`
	Text        string            `json:"text"`
	Buttons     [][]models.Button `json:"buttons,omitempty"`
}

func (m MessageOutbound) GetType() EventType {
	return MessageOutboundEvent
}

// New returns an empty event value for eventType, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case TriggerReceivedEvent:
		return &TriggerReceived{}, true
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionSuspendedEvent:
		return &ExecutionSuspended{}, true
	case MessageOutboundEvent:
		return &MessageOutbound{}, true
	default:
		return nil, false
	}
}
