// Package models defines the core domain models for chat workflow graphs and their execution.
package models

import (
	"sort"
	"strings"
)

// Node type taxonomy prefixes.
const (
	NodeCategoryTrigger = "trigger"
	NodeCategoryFlow    = "flow"
	NodeCategoryAction  = "action"
	NodeCategoryMessage = "message"
)

// Built-in node types.
const (
	NodeTypeTriggerStart    = "trigger.start"
	NodeTypeTriggerCommand  = "trigger.command"
	NodeTypeTriggerMessage  = "trigger.message"
	NodeTypeTriggerCallback = "trigger.callback"
	NodeTypeTriggerWebhook  = "trigger.webhook"

	NodeTypeCondition = "flow.condition"
	NodeTypeJump      = "flow.jump"
	NodeTypeSwitch    = "flow.switch"

	NodeTypeAPIRequest      = "action.api_request"
	NodeTypeSetVariable     = "action.set_variable"
	NodeTypeCheckUserLinked = "action.check_user_linked"
	NodeTypeGetBalance      = "action.get_balance"
	NodeTypeLog             = "action.log"

	NodeTypeMessage        = "message"
	NodeTypeMessageText    = "message.text"
	NodeTypeKeyboardInline = "message.keyboard.inline"
	NodeTypeMessageInput   = "message.input"
)

// Connection types.
const (
	ConnectionTypeDefault     = "default"
	ConnectionTypeConditional = "conditional"
)

// WorkflowNode is one step of a workflow graph.
type WorkflowNode struct {
	ID     string         `json:"id"               validate:"required"`
	Type   string         `json:"type"             validate:"required"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config"`
}

// Category returns the first segment of the dotted type tag.
func (n *WorkflowNode) Category() string {
	category, _, _ := strings.Cut(n.Type, ".")

	return category
}

// IsTrigger reports whether the node is an entry point.
func (n *WorkflowNode) IsTrigger() bool {
	return n.Category() == NodeCategoryTrigger
}

// DisplayName returns the human label, falling back to the id.
func (n *WorkflowNode) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}

	return n.ID
}

// TypedConfig returns the configuration stored under the node's own type tag.
// Configuration stored under other tags is ignored.
func (n *WorkflowNode) TypedConfig() map[string]any {
	if n.Config == nil {
		return map[string]any{}
	}

	if cfg, ok := n.Config[n.Type].(map[string]any); ok {
		return cfg
	}

	return map[string]any{}
}

// Connection is a static, authored edge between two nodes.
type Connection struct {
	ID     string `json:"id"`
	Source string `json:"source"          validate:"required"`
	Target string `json:"target"          validate:"required"`
	Type   string `json:"type,omitempty"`
	Label  string `json:"label,omitempty"`
}

// IsDefault reports whether the edge is an unlabeled default edge.
func (c *Connection) IsDefault() bool {
	return c.Label == "" || c.Label == ConnectionTypeDefault
}

// WorkflowGraph is the canonical, immutable-during-execution form of an automation.
type WorkflowGraph struct {
	Nodes       map[string]*WorkflowNode `json:"nodes"`
	Connections []*Connection            `json:"connections"`
}

// NewGraph builds a graph from persisted node and connection data in any supported shape.
func NewGraph(rawNodes, rawConnections any) *WorkflowGraph {
	return &WorkflowGraph{
		Nodes:       NormalizeNodes(rawNodes),
		Connections: NormalizeConnections(rawConnections),
	}
}

// Node returns the node with the given id.
func (g *WorkflowGraph) Node(id string) (*WorkflowNode, bool) {
	if g == nil {
		return nil, false
	}

	node, ok := g.Nodes[id]

	return node, ok
}

// HasNode reports whether id names a node of the graph.
func (g *WorkflowGraph) HasNode(id string) bool {
	_, ok := g.Node(id)

	return ok
}

// NodeIDs returns all node ids in lexical order.
func (g *WorkflowGraph) NodeIDs() []string {
	if g == nil {
		return nil
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// NodesOfType returns the nodes whose type equals nodeType, ordered by id.
func (g *WorkflowGraph) NodesOfType(nodeType string) []*WorkflowNode {
	var nodes []*WorkflowNode

	for _, id := range g.NodeIDs() {
		if g.Nodes[id].Type == nodeType {
			nodes = append(nodes, g.Nodes[id])
		}
	}

	return nodes
}

// Triggers returns every trigger-category node ordered by id.
func (g *WorkflowGraph) Triggers() []*WorkflowNode {
	var nodes []*WorkflowNode

	for _, id := range g.NodeIDs() {
		if g.Nodes[id].IsTrigger() {
			nodes = append(nodes, g.Nodes[id])
		}
	}

	return nodes
}

// Outgoing returns the connections leaving nodeID in authored order.
func (g *WorkflowGraph) Outgoing(nodeID string) []*Connection {
	if g == nil {
		return nil
	}

	var out []*Connection

	for _, conn := range g.Connections {
		if conn.Source == nodeID {
			out = append(out, conn)
		}
	}

	return out
}

// IsEmpty reports whether the graph has no nodes.
func (g *WorkflowGraph) IsEmpty() bool {
	return g == nil || len(g.Nodes) == 0
}
