package models

import "time"

// TriggerKind is the kind of inbound event that can start or resume a run.
type TriggerKind string

const (
	TriggerKindStart    TriggerKind = "start"
	TriggerKindMessage  TriggerKind = "message"
	TriggerKindCallback TriggerKind = "callback"
	TriggerKindWebhook  TriggerKind = "webhook"
)

// TriggerEvent is an inbound event handed over by a transport adapter.
type TriggerEvent struct {
	ProjectID    string         `json:"project_id"              validate:"required"`
	WorkflowID   string         `json:"workflow_id,omitempty"`
	Kind         TriggerKind    `json:"kind"                    validate:"required,oneof=start message callback webhook"`
	ChatID       string         `json:"chat_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Text         string         `json:"text,omitempty"`
	CallbackData string         `json:"callback_data,omitempty"`
	Batch        bool           `json:"batch,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// Session returns the session identifier, falling back to the chat and then the user.
func (e TriggerEvent) Session() string {
	switch {
	case e.SessionID != "":
		return e.SessionID
	case e.ChatID != "":
		return e.ChatID
	default:
		return e.UserID
	}
}

// ExecutionStatus is a state of the run state machine.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSuspended ExecutionStatus = "suspended"
)

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ExecutionState is what a suspended run persists to resume on the next inbound event.
type ExecutionState struct {
	ExecutionID   string    `json:"execution_id"`
	ProjectID     string    `json:"project_id"`
	WorkflowID    string    `json:"workflow_id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id,omitempty"`
	ChatID        string    `json:"chat_id,omitempty"`
	CurrentNodeID string    `json:"current_node_id"`
	Steps         int       `json:"steps"`
	Path          []string  `json:"path,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	SuspendedAt   time.Time `json:"suspended_at"`
}

// ExecutionLog is the persisted outcome of one run (or one run segment after a resume).
type ExecutionLog struct {
	ExecutionID  string          `json:"execution_id"`
	ProjectID    string          `json:"project_id"`
	WorkflowID   string          `json:"workflow_id"`
	Status       ExecutionStatus `json:"status"`
	Path         []string        `json:"path"`
	LastNodeID   string          `json:"last_node_id,omitempty"`
	FailedNodeID string          `json:"failed_node_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	Steps        int             `json:"steps"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Duration returns the wall-clock time of the run segment.
func (l *ExecutionLog) Duration() time.Duration {
	return l.FinishedAt.Sub(l.StartedAt)
}
