// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"log/slog"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/memory"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/variables"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:     uuid.New().String(),
		Type:   models.NodeTypeMessage,
		Label:  "Test Node",
		Config: map[string]any{models.NodeTypeMessage: map[string]any{"text": "test"}},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithTriggerNode configures the node as a /start trigger.
func WithTriggerNode() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = models.NodeTypeTriggerStart
		n.Config = map[string]any{}
	}
}

// WithTypedConfig sets the node type and its configuration under the type tag.
func WithTypedConfig(nodeType string, config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
		n.Config = map[string]any{nodeType: config}
	}
}

// WithLabel sets the node label.
func WithLabel(label string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Label = label
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// CreateTestWorkflow creates an active workflow from nodes and connections.
func CreateTestWorkflow(projectID string, nodes []*models.WorkflowNode, connections ...*models.Connection) *models.Workflow {
	graph := &models.WorkflowGraph{
		Nodes:       make(map[string]*models.WorkflowNode, len(nodes)),
		Connections: connections,
	}

	for _, node := range nodes {
		graph.Nodes[node.ID] = node
	}

	return &models.Workflow{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      "Test Workflow",
		Active:    true,
		Graph:     graph,
	}
}

// CreateTestConnection creates a default connection between two nodes.
func CreateTestConnection(sourceNodeID, targetNodeID string) *models.Connection {
	return &models.Connection{
		ID:     uuid.New().String(),
		Source: sourceNodeID,
		Target: targetNodeID,
		Type:   models.ConnectionTypeDefault,
	}
}

// CreateLabeledConnection creates a predicate connection labeled "true" or "false".
func CreateLabeledConnection(sourceNodeID, targetNodeID, label string) *models.Connection {
	conn := CreateTestConnection(sourceNodeID, targetNodeID)
	conn.Type = models.ConnectionTypeConditional
	conn.Label = label

	return conn
}

// NewExecutionContext builds a run context for project "p1", session "s1" and user "u1"
// backed by store; a nil store uses a fresh in-memory store.
func NewExecutionContext(store persistence.VariableStore) *protocol.ExecutionContext {
	if store == nil {
		store = memory.NewPersistence()
	}

	owner := variables.Owner{ProjectID: "p1", SessionID: "s1", UserID: "u1"}

	return &protocol.ExecutionContext{
		ProjectID:   owner.ProjectID,
		WorkflowID:  "w1",
		ExecutionID: uuid.New().String(),
		UserID:      owner.UserID,
		SessionID:   owner.SessionID,
		ChatID:      "c1",
		Variables:   variables.NewManager(store, owner, slog.Default()),
		Logger:      slog.Default(),
	}
}
