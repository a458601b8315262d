package models

import "time"

// Workflow is an authored automation as stored by the persistence layer.
type Workflow struct {
	ID          string         `json:"id"                   validate:"required"`
	ProjectID   string         `json:"project_id"           validate:"required"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Graph       *WorkflowGraph `json:"graph"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NodeCount returns the number of nodes in the workflow graph.
func (w *Workflow) NodeCount() int {
	if w.Graph == nil {
		return 0
	}

	return len(w.Graph.Nodes)
}
