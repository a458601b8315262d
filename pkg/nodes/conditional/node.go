// Package conditional provides the flow.condition predicate handler.
package conditional

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// Operator compares two rendered operands.
type Operator string

const (
	Equals      Operator = "equals"
	NotEquals   Operator = "not_equals"
	GreaterThan Operator = "greater_than"
	LessThan    Operator = "less_than"
	Contains    Operator = "contains"
)

// Operators lists every recognized operator.
var Operators = []Operator{Equals, NotEquals, GreaterThan, LessThan, Contains}

var errNotNumeric = errors.New("operand is not numeric")

// Handler evaluates leftOperand <operator> rightOperand and returns "true" or "false".
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Types() []string {
	return []string{models.NodeTypeCondition}
}

func (h *Handler) CanHandle(nodeType string) bool {
	return nodeType == models.NodeTypeCondition
}

func (h *Handler) Execute(_ context.Context, node *models.WorkflowNode, execCtx *protocol.ExecutionContext) (string, error) {
	cfg := node.TypedConfig()

	left, ok := cfg["leftOperand"]
	if !ok || left == nil {
		return "", fmt.Errorf("condition %q: missing required field 'leftOperand'", node.ID)
	}

	operator, _ := cfg["operator"].(string)
	if operator == "" {
		return "", fmt.Errorf("condition %q: missing required field 'operator'", node.ID)
	}

	leftValue := execCtx.Render(models.Stringify(left))
	rightValue := execCtx.Render(models.Stringify(cfg["rightOperand"]))

	result, err := Evaluate(Operator(operator), leftValue, rightValue)
	if errors.Is(err, errNotNumeric) {
		execCtx.NodeLogger(node).Warn("Numeric comparison on non-numeric operand evaluates to false",
			"left", leftValue, "right", rightValue, "operator", operator)

		return protocol.DirectiveFalse, nil
	}

	if err != nil {
		return "", fmt.Errorf("condition %q: %w", node.ID, err)
	}

	execCtx.NodeLogger(node).Debug("Condition evaluated", "left", leftValue, "operator", operator, "right", rightValue, "result", result)

	return strconv.FormatBool(result), nil
}

func (h *Handler) Validate(node *models.WorkflowNode) models.NodeValidation {
	cfg := node.TypedConfig()

	var errs []string

	if models.Stringify(cfg["leftOperand"]) == "" {
		errs = append(errs, "leftOperand is required")
	}

	operator, _ := cfg["operator"].(string)
	if !slices.Contains(Operators, Operator(operator)) {
		errs = append(errs, fmt.Sprintf("operator %q is not one of equals, not_equals, greater_than, less_than, contains", operator))
	}

	return models.NewNodeValidation(errs...)
}

func (h *Handler) Schema(string) map[string]any {
	operators := make([]any, 0, len(Operators))
	for _, op := range Operators {
		operators = append(operators, string(op))
	}

	return map[string]any{
		"type":     "object",
		"required": []any{"leftOperand", "operator"},
		"properties": map[string]any{
			"leftOperand":  map[string]any{"type": []any{"string", "number", "boolean"}},
			"operator":     map[string]any{"type": "string", "enum": operators},
			"rightOperand": map[string]any{"type": []any{"string", "number", "boolean", "null"}},
		},
	}
}

// Evaluate applies operator to two rendered operands. Equality compares numerically
// when both sides are numbers and textually otherwise.
func Evaluate(operator Operator, left, right string) (bool, error) {
	switch operator {
	case Equals:
		return equal(left, right), nil
	case NotEquals:
		return !equal(left, right), nil
	case GreaterThan, LessThan:
		l, lok := number(left)
		r, rok := number(right)

		if !lok || !rok {
			return false, errNotNumeric
		}

		if operator == GreaterThan {
			return l > r, nil
		}

		return l < r, nil
	case Contains:
		return strings.Contains(left, right), nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func equal(left, right string) bool {
	l, lok := number(left)
	r, rok := number(right)

	if lok && rok {
		return l == r
	}

	return left == right
}

func number(s string) (float64, bool) {
	return models.ToFloat(strings.TrimSpace(s))
}
