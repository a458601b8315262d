// Package web provides HTTP request and response types for the chatflow API.
package web

import (
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/validation"
)

// GraphRequest carries nodes and connections in any persisted shape: a list, a map
// keyed by node id, or the JSON text of either.
type GraphRequest struct {
	Nodes       any `json:"nodes"       validate:"required"`
	Connections any `json:"connections"`
}

// SaveWorkflowRequest is the body of PUT /projects/:projectId/workflows/:id.
type SaveWorkflowRequest struct {
	GraphRequest

	Name        string `json:"name"        validate:"required,min=1"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// TriggerEventRequest is the body of POST /projects/:projectId/events.
type TriggerEventRequest struct {
	WorkflowID   string             `json:"workflow_id,omitempty"`
	Kind         models.TriggerKind `json:"kind"                    validate:"required,oneof=start message callback webhook"`
	ChatID       string             `json:"chat_id,omitempty"`
	UserID       string             `json:"user_id,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	Text         string             `json:"text,omitempty"`
	CallbackData string             `json:"callback_data,omitempty"`
	Batch        bool               `json:"batch,omitempty"`
	Payload      map[string]any     `json:"payload,omitempty"`
}

// TriggerEvent converts the request into the engine's inbound event for projectID.
func (r TriggerEventRequest) TriggerEvent(projectID string, receivedAt time.Time) models.TriggerEvent {
	return models.TriggerEvent{
		ProjectID:    projectID,
		WorkflowID:   r.WorkflowID,
		Kind:         r.Kind,
		ChatID:       r.ChatID,
		UserID:       r.UserID,
		SessionID:    r.SessionID,
		Text:         r.Text,
		CallbackData: r.CallbackData,
		Batch:        r.Batch,
		Payload:      r.Payload,
		ReceivedAt:   receivedAt,
	}
}

// EventAcceptedResponse acknowledges an ingested trigger event.
type EventAcceptedResponse struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
}

// ValidationResponse combines graph-level issues with per-node configuration errors.
type ValidationResponse struct {
	IsValid      bool                `json:"is_valid"`
	Issues       []validation.Issue  `json:"issues"`
	InvalidNodes map[string][]string `json:"invalid_nodes,omitempty"`
}

// ReferencesResponse lists the goto references that would dangle if the node were removed.
type ReferencesResponse struct {
	NodeID     string                 `json:"node_id"`
	References []models.GotoReference `json:"references"`
}
