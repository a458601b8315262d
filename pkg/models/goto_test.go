package models_test

import (
	"math/big"
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowNode_GotoReferences(t *testing.T) {
	graph := models.NewGraph(`[
		{"id":"kb","type":"message.keyboard.inline","label":"Menu","config":{"message.keyboard.inline":{
			"buttons":[
				[{"text":"Profile","goto_node":"profile"},{"text":"Help","callback_data":"goto:help"}],
				[{"text":"Site","url":"https://example.com"}]
			]
		}}},
		{"id":"j","type":"flow.jump","config":{"flow.jump":{"targetNodeId":"kb"}}},
		{"id":"s","type":"flow.switch","config":{"flow.switch":{
			"value":"{{choice}}",
			"cases":[{"value":"a","gotoNode":"profile"},{"value":1,"gotoNode":"help"}],
			"defaultGotoNode":"kb"
		}}},
		{"id":"ignored","type":"message","config":{"flow.jump":{"targetNodeId":"nowhere"}}}
	]`, nil)

	refs := graph.GotoReferences()

	require.Len(t, refs, 6)

	assert.Equal(t, models.GotoReference{
		SourceNodeID: "j", TargetNodeID: "kb", Kind: models.GotoKindJump,
	}, refs[0])
	assert.Equal(t, models.GotoReference{
		SourceNodeID: "kb", SourceLabel: "Menu", ButtonText: "Profile", TargetNodeID: "profile", Kind: models.GotoKindButtonNode,
	}, refs[1])
	assert.Equal(t, models.GotoReference{
		SourceNodeID: "kb", SourceLabel: "Menu", ButtonText: "Help", TargetNodeID: "help", Kind: models.GotoKindButtonCallback,
	}, refs[2])
	assert.Equal(t, "s", refs[3].SourceNodeID)
	assert.Equal(t, "help", refs[4].TargetNodeID)
	assert.Equal(t, "kb", refs[5].TargetNodeID)
}

func TestWorkflowNode_GotoReferences_ButtonNamingTargetTwice(t *testing.T) {
	graph := models.NewGraph(`[
		{"id":"kb","type":"message.keyboard.inline","config":{"message.keyboard.inline":{
			"buttons":[
				{"text":"Same","goto_node":"help","callback_data":"goto:help"},
				{"text":"Split","goto_node":"help","callback_data":"goto:profile"}
			]
		}}}
	]`, nil)

	refs := graph.GotoReferences()

	require.Len(t, refs, 3)
	assert.Equal(t, "Same", refs[0].ButtonText)
	assert.Equal(t, models.GotoKindButtonNode, refs[0].Kind)
	assert.Equal(t, "help", refs[1].TargetNodeID)
	assert.Equal(t, "profile", refs[2].TargetNodeID)
	assert.Equal(t, models.GotoKindButtonCallback, refs[2].Kind)
}

func TestGotoTarget(t *testing.T) {
	assert.Equal(t, "node-1", models.GotoTarget("goto:node-1"))
	assert.Equal(t, "", models.GotoTarget("buy:42"))
	assert.Equal(t, "", models.GotoTarget("goto:"))
}

func TestNormalizeValue(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	assert.Equal(t, "123456789012345678901234567890", models.NormalizeValue(huge))
	assert.Equal(t, "9007199254740993", models.NormalizeValue(int64(9007199254740993)))
	assert.Equal(t, int64(42), models.NormalizeValue(int64(42)))
	assert.Equal(t, "active", models.NormalizeValue("active"))
}

func TestToFloat(t *testing.T) {
	f, ok := models.ToFloat("12.5")
	assert.True(t, ok)
	assert.InDelta(t, 12.5, f, 0.0001)

	_, ok = models.ToFloat("abc")
	assert.False(t, ok)

	f, ok = models.ToFloat(3)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, f, 0.0001)
}
