package switchnode

import (
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func switchNode(config map[string]any) *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID("sw"), testutil.WithTypedConfig(models.NodeTypeSwitch, config))
}

func TestHandler_Execute(t *testing.T) {
	config := map[string]any{
		"value": "{{choice}}",
		"cases": []any{
			map[string]any{"value": "profile", "gotoNode": "profile_node"},
			map[string]any{"value": 2, "gotoNode": "two_node"},
		},
		"defaultGotoNode": "menu",
	}

	testCases := []struct {
		name   string
		choice any
		want   string
	}{
		{name: "string case", choice: "profile", want: "profile_node"},
		{name: "numeric case", choice: 2.0, want: "two_node"},
		{name: "numeric text matches numeric case", choice: "2", want: "two_node"},
		{name: "no match uses default", choice: "other", want: "menu"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			execCtx := testutil.NewExecutionContext(nil)
			execCtx.Variables.UpdateCache("choice", tc.choice, models.ScopeSession)

			directive, err := New().Execute(t.Context(), switchNode(config), execCtx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, directive)
		})
	}
}

func TestHandler_Execute_NoDefaultFollowsConnection(t *testing.T) {
	node := switchNode(map[string]any{
		"value": "x",
		"cases": []any{map[string]any{"value": "y", "gotoNode": "n"}},
	})

	directive, err := New().Execute(t.Context(), node, testutil.NewExecutionContext(nil))
	require.NoError(t, err)
	assert.Equal(t, protocol.DirectiveNext, directive)
}

func TestHandler_Execute_MissingValue(t *testing.T) {
	_, err := New().Execute(t.Context(), switchNode(map[string]any{}), testutil.NewExecutionContext(nil))
	assert.Error(t, err)
}

func TestHandler_Validate(t *testing.T) {
	result := New().Validate(switchNode(map[string]any{
		"value": "{{x}}",
		"cases": []any{map[string]any{"value": "a"}},
	}))

	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "gotoNode")
}
