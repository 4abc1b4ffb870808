package schema

import "sort"

// Migrate upgrades a raw workflow document to the current shape.
//
// It is pure (the input is never mutated), total (it never panics or
// returns an error; anything that fails shape checks passes through
// unchanged, deferring malformed-structure detection to validation) and
// idempotent. It runs on the generic decoded JSON value, before the
// document is bound to the Workflow type.
//
// Upgrades applied to pre-v2 documents:
//   - "edges" renamed to "connections"
//   - flat connection endpoints {fromNode, fromPort, toNode, toPort}
//     nested into {from: {node, port}, to: {node, port}}
//   - nodes given as an object keyed by id flattened into an array
//     with the key injected as "id"
func Migrate(doc any) any {
	root, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	if version(root) >= CurrentSchemaVersion {
		return doc
	}

	out := cloneMap(root)

	if edges, ok := out["edges"]; ok {
		if _, taken := out["connections"]; !taken {
			out["connections"] = edges
		}
		delete(out, "edges")
	}

	if nodes, ok := out["nodes"].(map[string]any); ok {
		out["nodes"] = flattenNodes(nodes)
	}

	if conns, ok := out["connections"].([]any); ok {
		for i, c := range conns {
			conns[i] = migrateConnection(c)
		}
	}

	out["schemaVersion"] = float64(CurrentSchemaVersion)
	return out
}

func version(doc map[string]any) int {
	switch v := doc["schemaVersion"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// flattenNodes converts a node map keyed by id into an array, injecting
// the key as the node id. Entries that are not objects are kept as-is.
func flattenNodes(nodes map[string]any) []any {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]any, 0, len(nodes))
	for _, id := range ids {
		node, ok := nodes[id].(map[string]any)
		if !ok {
			out = append(out, nodes[id])
			continue
		}
		n := cloneMap(node)
		if _, has := n["id"]; !has {
			n["id"] = id
		}
		out = append(out, n)
	}
	return out
}

// migrateConnection nests flat v1 endpoint fields. Connections already
// carrying "from"/"to" objects, and anything that is not an object,
// pass through unchanged.
func migrateConnection(c any) any {
	conn, ok := c.(map[string]any)
	if !ok {
		return c
	}
	if _, has := conn["from"]; has {
		return c
	}
	fromNode, ok := conn["fromNode"].(string)
	if !ok {
		return c
	}
	toNode, ok := conn["toNode"].(string)
	if !ok {
		return c
	}

	from := map[string]any{"node": fromNode}
	if port, ok := conn["fromPort"].(string); ok && port != "" {
		from["port"] = port
	}
	to := map[string]any{"node": toNode}
	if port, ok := conn["toPort"].(string); ok && port != "" {
		to["port"] = port
	}
	return map[string]any{"from": from, "to": to}
}

// cloneMap deep-copies a generic JSON object so migration never mutates
// its input.
func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
