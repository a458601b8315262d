package models

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Validation_MissingFields(t *testing.T) {
	testCases := []struct {
		name       string
		connection *Connection
		fieldName  string
	}{
		{
			name:       "missing source",
			connection: &Connection{ID: "c1", Target: "n2"},
			fieldName:  "Source",
		},
		{
			name:       "missing target",
			connection: &Connection{ID: "c1", Source: "n1"},
			fieldName:  "Target",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			validate := validator.New(validator.WithRequiredStructEnabled())
			err := validate.Struct(tc.connection)
			require.Error(t, err)

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))
			assert.Equal(t, tc.fieldName, validationErrors[0].Field())
		})
	}
}

func TestConnection_IsDefault(t *testing.T) {
	assert.True(t, (&Connection{}).IsDefault())
	assert.True(t, (&Connection{Label: ConnectionTypeDefault}).IsDefault())
	assert.False(t, (&Connection{Label: "true"}).IsDefault())
}

func TestWorkflowNode_TypedConfig(t *testing.T) {
	node := &WorkflowNode{
		ID:   "n1",
		Type: NodeTypeMessage,
		Config: map[string]any{
			NodeTypeMessage: map[string]any{"text": "hello"},
			NodeTypeJump:    map[string]any{"targetNodeId": "n2"},
		},
	}

	assert.Equal(t, map[string]any{"text": "hello"}, node.TypedConfig())

	node.Type = NodeTypeSetVariable
	assert.Empty(t, node.TypedConfig())

	assert.Empty(t, (&WorkflowNode{Type: NodeTypeMessage}).TypedConfig())
}

func TestWorkflowNode_Category(t *testing.T) {
	testCases := []struct {
		nodeType string
		category string
		trigger  bool
	}{
		{NodeTypeTriggerCommand, NodeCategoryTrigger, true},
		{NodeTypeCondition, NodeCategoryFlow, false},
		{NodeTypeAPIRequest, NodeCategoryAction, false},
		{NodeTypeMessage, NodeCategoryMessage, false},
		{NodeTypeKeyboardInline, NodeCategoryMessage, false},
	}

	for _, tc := range testCases {
		t.Run(tc.nodeType, func(t *testing.T) {
			node := &WorkflowNode{ID: "n", Type: tc.nodeType}
			assert.Equal(t, tc.category, node.Category())
			assert.Equal(t, tc.trigger, node.IsTrigger())
		})
	}
}

func TestWorkflowGraph_Queries(t *testing.T) {
	graph := &WorkflowGraph{
		Nodes: map[string]*WorkflowNode{
			"b":     {ID: "b", Type: NodeTypeMessage},
			"a":     {ID: "a", Type: NodeTypeMessage},
			"start": {ID: "start", Type: NodeTypeTriggerStart},
		},
		Connections: []*Connection{
			{Source: "start", Target: "a"},
			{Source: "a", Target: "b", Label: "true"},
			{Source: "a", Target: "start", Label: "false"},
		},
	}

	assert.Equal(t, []string{"a", "b", "start"}, graph.NodeIDs())
	assert.Len(t, graph.NodesOfType(NodeTypeMessage), 2)
	require.Len(t, graph.Triggers(), 1)
	assert.Equal(t, "start", graph.Triggers()[0].ID)

	outgoing := graph.Outgoing("a")
	require.Len(t, outgoing, 2)
	assert.Equal(t, "b", outgoing[0].Target)
	assert.Equal(t, "start", outgoing[1].Target)

	assert.True(t, graph.HasNode("a"))
	assert.False(t, graph.HasNode("missing"))

	var empty *WorkflowGraph
	assert.True(t, empty.IsEmpty())
	assert.Nil(t, empty.Outgoing("a"))
}

func TestTriggerEvent_Session(t *testing.T) {
	assert.Equal(t, "s", TriggerEvent{SessionID: "s", ChatID: "c", UserID: "u"}.Session())
	assert.Equal(t, "c", TriggerEvent{ChatID: "c", UserID: "u"}.Session())
	assert.Equal(t, "u", TriggerEvent{UserID: "u"}.Session())
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	assert.True(t, ExecutionStatusCompleted.IsTerminal())
	assert.True(t, ExecutionStatusFailed.IsTerminal())
	assert.False(t, ExecutionStatusSuspended.IsTerminal())
	assert.False(t, ExecutionStatusRunning.IsTerminal())
}

func TestVariable_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	assert.False(t, (&Variable{}).Expired(now))
	assert.True(t, (&Variable{ExpiresAt: &past}).Expired(now))
	assert.True(t, (&Variable{ExpiresAt: &now}).Expired(now))
	assert.False(t, (&Variable{ExpiresAt: &future}).Expired(now))
}

func TestParseScope(t *testing.T) {
	assert.Equal(t, ScopeUser, ParseScope("user"))
	assert.Equal(t, ScopeGlobal, ParseScope("global"))
	assert.Equal(t, ScopeSession, ParseScope(""))
	assert.Equal(t, ScopeSession, ParseScope("tenant"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "1.25", Stringify(1.25))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
