package models_test

import (
	"encoding/json"
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNodes_MalformedInputsYieldEmptyMap(t *testing.T) {
	inputs := map[string]any{
		"nil":               nil,
		"integer":           42,
		"boolean":           true,
		"empty string":      "",
		"whitespace":        "   ",
		"invalid json":      "{nodes: [",
		"json string root":  `"just a string"`,
		"json number root":  `12`,
		"json null":         `null`,
		"bytes invalid":     []byte("not json"),
		"raw message empty": json.RawMessage(""),
		"list of garbage":   []any{1, "two", nil, []any{}},
		"list without ids":  []any{map[string]any{"type": "message"}},
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var result map[string]*models.WorkflowNode

			assert.NotPanics(t, func() {
				result = models.NormalizeNodes(input)
			})
			assert.NotNil(t, result)
			assert.Empty(t, result)
		})
	}
}

func TestNormalizeNodes_ListForm(t *testing.T) {
	raw := []any{
		map[string]any{"id": "start", "type": "trigger.command", "label": "Start"},
		map[string]any{"type": "message"},
		"garbage",
		map[string]any{"id": "msg", "type": "message", "config": map[string]any{
			"message": map[string]any{"text": "hi"},
		}},
	}

	nodes := models.NormalizeNodes(raw)

	require.Len(t, nodes, 2)
	assert.Equal(t, "trigger.command", nodes["start"].Type)
	assert.Equal(t, "Start", nodes["start"].Label)
	assert.Equal(t, "hi", nodes["msg"].TypedConfig()["text"])
}

func TestNormalizeNodes_MapFormFallsBackToKey(t *testing.T) {
	raw := map[string]any{
		"a":   map[string]any{"type": "trigger.start"},
		"b":   map[string]any{"id": "b", "type": "message"},
		"bad": 7,
	}

	nodes := models.NormalizeNodes(raw)

	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes["a"].ID)
	assert.Equal(t, "message", nodes["b"].Type)
}

func TestNormalizeNodes_TextForms(t *testing.T) {
	list := `[{"id":"n1","type":"trigger.start"},{"id":"n2","type":"message"}]`
	object := `{"n1":{"type":"trigger.start"},"n2":{"id":"n2","type":"message"}}`

	fromList := models.NormalizeNodes(list)
	fromObject := models.NormalizeNodes([]byte(object))

	assert.Len(t, fromList, 2)
	assert.Equal(t, fromList, fromObject)
}

func TestNormalizeNodes_RoundTrip(t *testing.T) {
	cases := []string{
		`[]`,
		`[{"id":"only","type":"trigger.start"}]`,
		`[
			{"id":"t","type":"trigger.command","label":"Start","config":{"trigger.command":{"command":"/start"}}},
			{"id":"c","type":"flow.condition","config":{"flow.condition":{"leftOperand":"{{user.status}}","operator":"equals","rightOperand":"active"}}},
			{"id":"m","type":"message.keyboard.inline","config":{"message.keyboard.inline":{"buttons":[[{"text":"Go","goto_node":"t"}]]},"message":{"text":"stale"}}},
			{"id":"e","type":"message","config":{}},
			{"id":"z","type":"message","config":null}
		]`,
		`{"x":{"type":"message"},"y":{"id":"y","type":"trigger.start","label":"Y"}}`,
	}

	for _, input := range cases {
		first := models.NormalizeNodes(input)

		// structural round trip
		second := models.NormalizeNodes(models.SerializeNodes(first))
		assert.Equal(t, first, second)

		// serialized round trip
		data, err := models.MarshalNodes(first)
		require.NoError(t, err)

		third := models.NormalizeNodes(data)
		assert.Equal(t, first, third)
	}
}

func TestSerializeNodes_SortedByID(t *testing.T) {
	nodes := models.NormalizeNodes(`[{"id":"b","type":"message"},{"id":"a","type":"trigger.start"}]`)

	list := models.SerializeNodes(nodes)

	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestNormalizeConnections(t *testing.T) {
	raw := `[
		{"id":"c1","source":"a","target":"b"},
		{"id":"c2","source":"a"},
		{"id":"c3","source":"b","target":"c","label":"true","type":"conditional"},
		42
	]`

	conns := models.NormalizeConnections(raw)

	require.Len(t, conns, 2)
	assert.Equal(t, "c1", conns[0].ID)
	assert.True(t, conns[0].IsDefault())
	assert.Equal(t, "true", conns[1].Label)
	assert.False(t, conns[1].IsDefault())

	assert.Empty(t, models.NormalizeConnections("{broken"))
}

func TestWorkflowGraph_Lookups(t *testing.T) {
	graph := models.NewGraph(
		`[{"id":"t1","type":"trigger.start"},{"id":"m1","type":"message"},{"id":"m2","type":"message"}]`,
		`[{"id":"c1","source":"t1","target":"m1"},{"id":"c2","source":"m1","target":"m2"}]`,
	)

	node, ok := graph.Node("m1")
	require.True(t, ok)
	assert.Equal(t, "message", node.Type)

	_, ok = graph.Node("missing")
	assert.False(t, ok)

	assert.Len(t, graph.NodesOfType("message"), 2)
	assert.Len(t, graph.Triggers(), 1)
	assert.Len(t, graph.Outgoing("m1"), 1)
	assert.Equal(t, []string{"m1", "m2", "t1"}, graph.NodeIDs())
}
