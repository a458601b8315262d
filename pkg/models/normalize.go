package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// NormalizeNodes converts persisted node data into the canonical map keyed by node id.
//
// Accepted shapes are a list of node objects, a map of id to node object, and the
// serialized JSON text of either. Entries that are not objects, or list entries
// without an id, are dropped. Unparsable input yields an empty map.
func NormalizeNodes(raw any) map[string]*WorkflowNode {
	nodes := make(map[string]*WorkflowNode)

	switch value := decodeText(raw).(type) {
	case []any:
		for _, entry := range value {
			node, ok := nodeFromAny(entry, "")
			if ok {
				nodes[node.ID] = node
			}
		}
	case []map[string]any:
		for _, entry := range value {
			node, ok := nodeFromAny(entry, "")
			if ok {
				nodes[node.ID] = node
			}
		}
	case []*WorkflowNode:
		for _, node := range value {
			if node != nil && node.ID != "" {
				nodes[node.ID] = cloneNode(node)
			}
		}
	case map[string]*WorkflowNode:
		for key, node := range value {
			if node == nil {
				continue
			}

			clone := cloneNode(node)
			if clone.ID == "" {
				clone.ID = key
			}

			nodes[clone.ID] = clone
		}
	case map[string]any:
		for key, entry := range value {
			node, ok := nodeFromAny(entry, key)
			if ok {
				nodes[node.ID] = node
			}
		}
	}

	return nodes
}

// SerializeNodes is the inverse of NormalizeNodes: it returns the nodes as a list ordered by id.
func SerializeNodes(nodes map[string]*WorkflowNode) []*WorkflowNode {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	list := make([]*WorkflowNode, 0, len(ids))
	for _, id := range ids {
		list = append(list, cloneNode(nodes[id]))
	}

	return list
}

// MarshalNodes serializes nodes into their JSON list form.
func MarshalNodes(nodes map[string]*WorkflowNode) ([]byte, error) {
	return json.Marshal(SerializeNodes(nodes))
}

// NormalizeConnections converts persisted connection data into an ordered list.
// Entries without source or target are dropped.
func NormalizeConnections(raw any) []*Connection {
	connections := make([]*Connection, 0)

	switch value := decodeText(raw).(type) {
	case []*Connection:
		for _, conn := range value {
			if conn != nil && conn.Source != "" && conn.Target != "" {
				c := *conn
				connections = append(connections, &c)
			}
		}
	case []any:
		for _, entry := range value {
			conn, ok := connectionFromAny(entry)
			if ok {
				connections = append(connections, conn)
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			conn, ok := connectionFromAny(value[key])
			if ok {
				if conn.ID == "" {
					conn.ID = key
				}

				connections = append(connections, conn)
			}
		}
	}

	return connections
}

// decodeText parses serialized forms and passes structured values through.
func decodeText(raw any) any {
	var data []byte

	switch value := raw.(type) {
	case string:
		data = []byte(value)
	case []byte:
		data = value
	case json.RawMessage:
		data = value
	default:
		return raw
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var decoded any

	err := json.Unmarshal(data, &decoded)
	if err != nil {
		return nil
	}

	return decoded
}

func nodeFromAny(entry any, fallbackID string) (*WorkflowNode, bool) {
	var object map[string]any

	switch value := entry.(type) {
	case map[string]any:
		object = value
	case *WorkflowNode:
		if value == nil {
			return nil, false
		}

		node := cloneNode(value)
		if node.ID == "" {
			node.ID = fallbackID
		}

		return node, node.ID != ""
	default:
		return nil, false
	}

	id, _ := object["id"].(string)
	if id == "" {
		id = fallbackID
	}

	if id == "" {
		return nil, false
	}

	node := &WorkflowNode{ID: id}
	node.Type, _ = object["type"].(string)
	node.Label, _ = object["label"].(string)

	if config, ok := object["config"].(map[string]any); ok {
		node.Config = config
	}

	return node, true
}

func connectionFromAny(entry any) (*Connection, bool) {
	object, ok := entry.(map[string]any)
	if !ok {
		return nil, false
	}

	conn := &Connection{}
	conn.ID, _ = object["id"].(string)
	conn.Source, _ = object["source"].(string)
	conn.Target, _ = object["target"].(string)
	conn.Type, _ = object["type"].(string)
	conn.Label, _ = object["label"].(string)

	if conn.Source == "" || conn.Target == "" {
		return nil, false
	}

	return conn, true
}

func cloneNode(node *WorkflowNode) *WorkflowNode {
	clone := *node

	if node.Config != nil {
		clone.Config = make(map[string]any, len(node.Config))
		for k, v := range node.Config {
			clone.Config[k] = v
		}
	}

	return &clone
}
