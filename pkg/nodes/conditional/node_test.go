package conditional

import (
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conditionNode(config map[string]any) *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID("cond"), testutil.WithTypedConfig(models.NodeTypeCondition, config))
}

func TestHandler_Execute_UserStatus(t *testing.T) {
	testCases := []struct {
		name      string
		status    string
		directive string
	}{
		{name: "active user", status: "active", directive: protocol.DirectiveTrue},
		{name: "inactive user", status: "inactive", directive: protocol.DirectiveFalse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			execCtx := testutil.NewExecutionContext(nil)
			execCtx.Variables.UpdateCache("user.status", tc.status, models.ScopeSession)

			node := conditionNode(map[string]any{
				"leftOperand":  "{{user.status}}",
				"operator":     "equals",
				"rightOperand": "active",
			})

			directive, err := New().Execute(t.Context(), node, execCtx)
			require.NoError(t, err)
			assert.Equal(t, tc.directive, directive)
		})
	}
}

func TestHandler_Execute_NonNumericComparisonIsFalse(t *testing.T) {
	execCtx := testutil.NewExecutionContext(nil)
	execCtx.Variables.UpdateCache("balance", "lots", models.ScopeUser)

	node := conditionNode(map[string]any{
		"leftOperand":  "{{user:balance}}",
		"operator":     "greater_than",
		"rightOperand": 10,
	})

	directive, err := New().Execute(t.Context(), node, execCtx)
	require.NoError(t, err)
	assert.Equal(t, protocol.DirectiveFalse, directive)
}

func TestHandler_Execute_MissingFields(t *testing.T) {
	execCtx := testutil.NewExecutionContext(nil)

	_, err := New().Execute(t.Context(), conditionNode(map[string]any{"operator": "equals"}), execCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leftOperand")

	_, err = New().Execute(t.Context(), conditionNode(map[string]any{"leftOperand": "a"}), execCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator")
}

func TestHandler_Execute_UnknownOperator(t *testing.T) {
	_, err := New().Execute(t.Context(), conditionNode(map[string]any{
		"leftOperand": "a",
		"operator":    "matches",
	}), testutil.NewExecutionContext(nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestEvaluate(t *testing.T) {
	testCases := []struct {
		name     string
		operator Operator
		left     string
		right    string
		want     bool
		wantErr  bool
	}{
		{name: "equal strings", operator: Equals, left: "a", right: "a", want: true},
		{name: "different strings", operator: Equals, left: "a", right: "b", want: false},
		{name: "numeric equality", operator: Equals, left: "10", right: "10.0", want: true},
		{name: "not equals", operator: NotEquals, left: "a", right: "b", want: true},
		{name: "greater than", operator: GreaterThan, left: "150", right: "100", want: true},
		{name: "not greater than", operator: GreaterThan, left: "50", right: "100", want: false},
		{name: "less than", operator: LessThan, left: "5", right: "7.5", want: true},
		{name: "contains", operator: Contains, left: "hello world", right: "world", want: true},
		{name: "does not contain", operator: Contains, left: "hello", right: "bye", want: false},
		{name: "greater than on text", operator: GreaterThan, left: "abc", right: "1", wantErr: true},
		{name: "unknown operator", operator: "between", left: "1", right: "2", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.operator, tc.left, tc.right)
			if tc.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHandler_Validate(t *testing.T) {
	h := New()

	valid := h.Validate(conditionNode(map[string]any{"leftOperand": "{{x}}", "operator": "contains", "rightOperand": "y"}))
	assert.True(t, valid.IsValid)

	invalid := h.Validate(conditionNode(map[string]any{"operator": "between"}))
	assert.False(t, invalid.IsValid)
	assert.Len(t, invalid.Errors, 2)
}
