package models

import "strings"

// GotoCallbackPrefix marks callback data that jumps to a node.
const GotoCallbackPrefix = "goto:"

// GotoKind identifies which authored form a goto reference was written in.
type GotoKind string

const (
	GotoKindButtonNode     GotoKind = "button.goto_node"
	GotoKindButtonCallback GotoKind = "button.callback_data"
	GotoKindJump           GotoKind = "flow.jump"
	GotoKindSwitchCase     GotoKind = "flow.switch"
)

// GotoReference is a dynamic edge expressed inside node configuration.
type GotoReference struct {
	SourceNodeID string   `json:"source_node_id"`
	SourceLabel  string   `json:"source_label,omitempty"`
	ButtonText   string   `json:"button_text,omitempty"`
	TargetNodeID string   `json:"target_node_id"`
	Kind         GotoKind `json:"kind"`
}

// Button is an inline keyboard button as authored in node configuration.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	GotoNode     string `json:"goto_node,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Target returns the node a button jumps to, preferring goto_node over goto: callback data.
func (b Button) Target() string {
	if b.GotoNode != "" {
		return b.GotoNode
	}

	return GotoTarget(b.CallbackData)
}

// GotoTarget extracts the node id from "goto:<nodeId>" callback data.
func GotoTarget(callbackData string) string {
	target, ok := strings.CutPrefix(callbackData, GotoCallbackPrefix)
	if !ok {
		return ""
	}

	return strings.TrimSpace(target)
}

// Buttons returns the buttons declared in a node's typed configuration.
// Both a flat list and rows of lists are accepted; malformed entries are skipped.
func (n *WorkflowNode) Buttons() []Button {
	var buttons []Button

	for _, row := range n.ButtonRows() {
		buttons = append(buttons, row...)
	}

	return buttons
}

// ButtonRows returns the keyboard layout. A flat list yields one button per row.
func (n *WorkflowNode) ButtonRows() [][]Button {
	raw, ok := n.TypedConfig()["buttons"].([]any)
	if !ok {
		return nil
	}

	var rows [][]Button

	for _, entry := range raw {
		switch value := entry.(type) {
		case map[string]any:
			rows = append(rows, []Button{buttonFromMap(value)})
		case []any:
			var row []Button

			for _, cell := range value {
				if object, ok := cell.(map[string]any); ok {
					row = append(row, buttonFromMap(object))
				}
			}

			if len(row) > 0 {
				rows = append(rows, row)
			}
		}
	}

	return rows
}

func buttonFromMap(object map[string]any) Button {
	var button Button

	button.Text, _ = object["text"].(string)
	button.CallbackData, _ = object["callback_data"].(string)
	button.GotoNode, _ = object["goto_node"].(string)
	button.URL, _ = object["url"].(string)

	return button
}

// GotoReferences returns every goto reference in the graph, ordered by source node id.
func (g *WorkflowGraph) GotoReferences() []GotoReference {
	var refs []GotoReference

	for _, id := range g.NodeIDs() {
		refs = append(refs, g.Nodes[id].GotoReferences()...)
	}

	return refs
}

// GotoReferences returns the goto references declared by a single node.
func (n *WorkflowNode) GotoReferences() []GotoReference {
	var refs []GotoReference

	add := func(target, buttonText string, kind GotoKind) {
		if target == "" {
			return
		}

		refs = append(refs, GotoReference{
			SourceNodeID: n.ID,
			SourceLabel:  n.Label,
			ButtonText:   buttonText,
			TargetNodeID: target,
			Kind:         kind,
		})
	}

	for _, button := range n.Buttons() {
		add(button.GotoNode, button.Text, GotoKindButtonNode)

		// A button whose callback repeats its goto_node is one reference, not two.
		if target := GotoTarget(button.CallbackData); target != button.GotoNode {
			add(target, button.Text, GotoKindButtonCallback)
		}
	}

	cfg := n.TypedConfig()

	switch n.Type {
	case NodeTypeJump:
		target, _ := cfg["targetNodeId"].(string)
		add(target, "", GotoKindJump)
	case NodeTypeSwitch:
		for _, c := range SwitchCases(cfg) {
			add(c.GotoNode, "", GotoKindSwitchCase)
		}

		defaultTarget, _ := cfg["defaultGotoNode"].(string)
		add(defaultTarget, "", GotoKindSwitchCase)
	}

	return refs
}

// SwitchCase is one branch of a flow.switch node.
type SwitchCase struct {
	Value    string `json:"value"`
	GotoNode string `json:"gotoNode"`
}

// SwitchCases parses the cases list of a flow.switch configuration.
func SwitchCases(cfg map[string]any) []SwitchCase {
	raw, ok := cfg["cases"].([]any)
	if !ok {
		return nil
	}

	cases := make([]SwitchCase, 0, len(raw))

	for _, entry := range raw {
		object, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		var c SwitchCase

		c.GotoNode, _ = object["gotoNode"].(string)

		switch value := object["value"].(type) {
		case string:
			c.Value = value
		case nil:
		default:
			c.Value = stringify(value)
		}

		cases = append(cases, c)
	}

	return cases
}
