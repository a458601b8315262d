// Package validation performs static checks over workflow graphs before they are executed.
package validation

import (
	"fmt"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// reservedNodeIDs collide with handler directives, so a goto to such a node would be
// read as the directive instead.
var reservedNodeIDs = map[string]bool{
	protocol.DirectiveNext:    true,
	protocol.DirectiveTrue:    true,
	protocol.DirectiveFalse:   true,
	protocol.DirectiveSuspend: true,
	protocol.DirectiveEnd:     true,
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of the validator.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
}

// Result is the outcome of validating a graph. Warnings never make a graph invalid.
type Result struct {
	IsValid bool    `json:"is_valid"`
	Issues  []Issue `json:"issues"`
}

// Errors returns the error-severity issues.
func (r Result) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns the warning-severity issues.
func (r Result) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r Result) filter(severity Severity) []Issue {
	var issues []Issue

	for _, issue := range r.Issues {
		if issue.Severity == severity {
			issues = append(issues, issue)
		}
	}

	return issues
}

// Error renders the error-severity issues as a single error, or nil when the graph is valid.
func (r Result) Error() error {
	if r.IsValid {
		return nil
	}

	errs := r.Errors()
	if len(errs) == 1 {
		return fmt.Errorf("invalid workflow graph: %s", errs[0].Message)
	}

	return fmt.Errorf("invalid workflow graph: %s (and %d more errors)", errs[0].Message, len(errs)-1)
}

type validator struct {
	graph  *models.WorkflowGraph
	issues []Issue
}

func (v *validator) errorf(nodeID, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityError, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warnf(nodeID, format string, args ...any) {
	v.issues = append(v.issues, Issue{Severity: SeverityWarning, NodeID: nodeID, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a graph for structural errors and warnings.
//
// Checks run in priority order: empty graph (which stops validation), missing
// trigger, reserved node ids, dangling connection endpoints, cycles over connections, reachability
// from triggers, and unresolved goto references.
func Validate(graph *models.WorkflowGraph) Result {
	v := &validator{graph: graph}

	if graph.IsEmpty() {
		v.errorf("", "workflow graph is empty: add at least one trigger node")

		return v.result()
	}

	v.checkTriggers()
	v.checkNodeIDs()
	v.checkConnections()
	v.checkCycles()
	v.checkReachability()
	v.checkGotoReferences()

	return v.result()
}

func (v *validator) result() Result {
	result := Result{IsValid: true, Issues: v.issues}
	if result.Issues == nil {
		result.Issues = []Issue{}
	}

	for _, issue := range v.issues {
		if issue.Severity == SeverityError {
			result.IsValid = false

			break
		}
	}

	return result
}

func (v *validator) checkTriggers() {
	if len(v.graph.Triggers()) == 0 {
		v.errorf("", "workflow has no trigger node: add a trigger.* node as entry point")
	}
}

func (v *validator) checkNodeIDs() {
	for _, id := range v.graph.NodeIDs() {
		if reservedNodeIDs[id] {
			v.errorf(id, "node id %q is reserved: rename the node", id)
		}
	}
}

func (v *validator) checkConnections() {
	for _, conn := range v.graph.Connections {
		if !v.graph.HasNode(conn.Source) {
			v.errorf(conn.Source, "connection %q references missing source node %q", conn.ID, conn.Source)
		}

		if !v.graph.HasNode(conn.Target) {
			v.errorf(conn.Target, "connection %q references missing target node %q", conn.ID, conn.Target)
		}
	}
}

// adjacency returns the connection edges whose endpoints both exist.
func (v *validator) adjacency() map[string][]string {
	adj := make(map[string][]string)

	for _, conn := range v.graph.Connections {
		if v.graph.HasNode(conn.Source) && v.graph.HasNode(conn.Target) {
			adj[conn.Source] = append(adj[conn.Source], conn.Target)
		}
	}

	return adj
}

type visitState int

const (
	unvisited visitState = iota
	onStack
	done
)

func (v *validator) checkCycles() {
	adj := v.adjacency()
	state := make(map[string]visitState, len(v.graph.Nodes))
	reported := make(map[string]bool)

	var visit func(id string)

	visit = func(id string) {
		state[id] = onStack

		for _, next := range adj[id] {
			switch state[next] {
			case onStack:
				if !reported[next] {
					reported[next] = true
					v.errorf(next, "cycle detected: node %q is re-entered through connections", v.label(next))
				}
			case unvisited:
				visit(next)
			case done:
			}
		}

		state[id] = done
	}

	for _, id := range v.graph.NodeIDs() {
		if state[id] == unvisited {
			visit(id)
		}
	}
}

// checkReachability walks connections and goto references breadth-first from every trigger.
func (v *validator) checkReachability() {
	triggers := v.graph.Triggers()
	if len(triggers) == 0 {
		return
	}

	adj := v.adjacency()
	for _, ref := range v.graph.GotoReferences() {
		if v.graph.HasNode(ref.TargetNodeID) {
			adj[ref.SourceNodeID] = append(adj[ref.SourceNodeID], ref.TargetNodeID)
		}
	}

	reached := make(map[string]bool, len(v.graph.Nodes))
	queue := make([]string, 0, len(triggers))

	for _, trigger := range triggers {
		reached[trigger.ID] = true
		queue = append(queue, trigger.ID)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range adj[current] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, id := range v.graph.NodeIDs() {
		if !reached[id] {
			v.warnf(id, "node %q is not reachable from any trigger", v.label(id))
		}
	}
}

func (v *validator) checkGotoReferences() {
	for _, ref := range v.graph.GotoReferences() {
		if v.graph.HasNode(ref.TargetNodeID) {
			continue
		}

		source := ref.SourceLabel
		if source == "" {
			source = ref.SourceNodeID
		}

		if ref.ButtonText != "" {
			v.errorf(ref.SourceNodeID, "goto target %q does not exist (%s on button %q in node %q)",
				ref.TargetNodeID, ref.Kind, ref.ButtonText, source)

			continue
		}

		v.errorf(ref.SourceNodeID, "goto target %q does not exist (%s in node %q)", ref.TargetNodeID, ref.Kind, source)
	}
}

func (v *validator) label(id string) string {
	node, ok := v.graph.Node(id)
	if !ok {
		return id
	}

	return node.DisplayName()
}
