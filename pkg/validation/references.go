package validation

import "github.com/dukex/chatflow/pkg/models"

// ReferencesTo returns every goto reference that targets nodeID. The authoring layer
// uses it to warn before a node is deleted.
func ReferencesTo(nodeID string, graph *models.WorkflowGraph) []models.GotoReference {
	var refs []models.GotoReference

	for _, ref := range graph.GotoReferences() {
		if ref.TargetNodeID == nodeID {
			refs = append(refs, ref)
		}
	}

	return refs
}

// GotoReferencesByTarget groups all goto references of a graph by their target node id.
func GotoReferencesByTarget(graph *models.WorkflowGraph) map[string][]models.GotoReference {
	grouped := make(map[string][]models.GotoReference)

	for _, ref := range graph.GotoReferences() {
		grouped[ref.TargetNodeID] = append(grouped[ref.TargetNodeID], ref)
	}

	return grouped
}
