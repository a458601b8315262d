package workflow

import (
	"log/slog"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/registry"
)

// EntryPoint is where a new run of a workflow starts for an inbound event.
type EntryPoint struct {
	Workflow *models.Workflow
	NodeID   string
	ViaGoto  bool
}

// TriggerMatcher selects the trigger node of each workflow that an inbound event starts.
type TriggerMatcher struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewTriggerMatcher(reg *registry.Registry, logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		registry: reg,
		logger:   logger.With("module", "trigger_matcher"),
	}
}

// Match returns the first matching trigger node of the workflow in node id order.
// A callback that matches no trigger but carries a goto to an existing node starts there.
func (m *TriggerMatcher) Match(workflow *models.Workflow, event models.TriggerEvent) (EntryPoint, bool) {
	if workflow == nil || workflow.Graph.IsEmpty() {
		return EntryPoint{}, false
	}

	for _, node := range workflow.Graph.Triggers() {
		handler, err := m.registry.HandlerFor(node.Type)
		if err != nil {
			m.logger.Warn("No handler for trigger node", "workflow_id", workflow.ID, "node_id", node.ID, "node_type", node.Type)

			continue
		}

		matcher, ok := handler.(protocol.TriggerMatcher)
		if !ok {
			continue
		}

		if matcher.Matches(node, event) {
			return EntryPoint{Workflow: workflow, NodeID: node.ID}, true
		}
	}

	if event.Kind == models.TriggerKindCallback {
		if target := models.GotoTarget(event.CallbackData); target != "" && workflow.Graph.HasNode(target) {
			return EntryPoint{Workflow: workflow, NodeID: target, ViaGoto: true}, true
		}
	}

	return EntryPoint{}, false
}

// MatchAll returns one entry point per workflow the event starts.
func (m *TriggerMatcher) MatchAll(workflows []*models.Workflow, event models.TriggerEvent) []EntryPoint {
	entries := make([]EntryPoint, 0)

	for _, workflow := range workflows {
		if entry, ok := m.Match(workflow, event); ok {
			entries = append(entries, entry)
		}
	}

	return entries
}

// IsCommand reports whether the event is a slash command typed by the user.
func IsCommand(event models.TriggerEvent) bool {
	if event.Kind != models.TriggerKindMessage && event.Kind != models.TriggerKindStart {
		return false
	}

	return strings.HasPrefix(strings.TrimSpace(event.Text), "/")
}
