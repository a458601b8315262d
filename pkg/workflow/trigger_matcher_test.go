package workflow_test

import (
	"log/slog"
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
)

func TestTriggerMatcher_Match(t *testing.T) {
	f := newFixture(t)
	matcher := workflow.NewTriggerMatcher(f.registry, slog.Default())

	wf := testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			testutil.CreateTestNode(testutil.WithID("a_help"), testutil.WithTypedConfig(models.NodeTypeTriggerCommand, map[string]any{"command": "help"})),
			testutil.CreateTestNode(testutil.WithID("b_start"), testutil.WithTriggerNode()),
			textNode("profile", "Profile"),
		},
	)

	testCases := []struct {
		name    string
		event   models.TriggerEvent
		want    string
		viaGoto bool
		matched bool
	}{
		{name: "start", event: startEvent(), want: "b_start", matched: true},
		{name: "command", event: models.TriggerEvent{Kind: models.TriggerKindMessage, Text: "/help me"}, want: "a_help", matched: true},
		{name: "goto callback", event: callbackEvent("goto:profile"), want: "profile", viaGoto: true, matched: true},
		{name: "goto to missing node", event: callbackEvent("goto:ghost")},
		{name: "plain text", event: models.TriggerEvent{Kind: models.TriggerKindMessage, Text: "hello"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entry, ok := matcher.Match(wf, tc.event)

			assert.Equal(t, tc.matched, ok)
			assert.Equal(t, tc.want, entry.NodeID)
			assert.Equal(t, tc.viaGoto, entry.ViaGoto)
		})
	}
}

func TestIsCommand(t *testing.T) {
	assert.True(t, workflow.IsCommand(models.TriggerEvent{Kind: models.TriggerKindMessage, Text: " /start"}))
	assert.False(t, workflow.IsCommand(models.TriggerEvent{Kind: models.TriggerKindMessage, Text: "start"}))
	assert.False(t, workflow.IsCommand(models.TriggerEvent{Kind: models.TriggerKindCallback, CallbackData: "/start"}))
}
