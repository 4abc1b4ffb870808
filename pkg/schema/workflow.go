package schema

import "encoding/json"

// CurrentSchemaVersion is the document shape the bridge reads and writes.
// Older shapes are upgraded by Migrate before any consumer sees them.
const CurrentSchemaVersion = 2

// Workflow is the node/connection graph document under edit.
// The bridge round-trips documents without interpreting node semantics;
// validation of the graph itself lives in internal/validation.
type Workflow struct {
	SchemaVersion int            `json:"schemaVersion,omitempty"`
	Name          string         `json:"name,omitempty"`
	Description   string         `json:"description,omitempty"`
	Nodes         []Node         `json:"nodes"`
	Connections   []Connection   `json:"connections"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Node is a single typed node in the graph, keyed by a stable ID.
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Name     string          `json:"name,omitempty"`
	Position *Position       `json:"position,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"` // node-type specific, opaque to the bridge
}

// Position is a node's location on the editor canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Connection is a directed edge between two node ports.
type Connection struct {
	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`
}

// Endpoint identifies one side of a connection.
type Endpoint struct {
	Node string `json:"node"`
	Port string `json:"port,omitempty"`
}

// HasNode reports whether a node with the given ID exists.
func (w *Workflow) HasNode(id string) bool {
	for _, n := range w.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// DecodeWorkflow parses a workflow document from JSON, running migration
// on the raw document first so every consumer sees the current shape.
func DecodeWorkflow(data []byte) (*Workflow, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(ErrCodeInvalidWorkflowFile, "workflow document is not valid JSON").WithCause(err)
	}

	migrated := Migrate(raw)

	normalized, err := json.Marshal(migrated)
	if err != nil {
		return nil, NewError(ErrCodeInvalidWorkflowFile, "workflow document could not be normalized").WithCause(err)
	}

	var wf Workflow
	if err := json.Unmarshal(normalized, &wf); err != nil {
		return nil, NewError(ErrCodeInvalidWorkflowFile, "workflow document does not match the expected shape").WithCause(err)
	}
	return &wf, nil
}

// EncodeWorkflow serializes a workflow with the stable on-disk formatting:
// pretty-printed, 2-space indent, trailing newline.
func EncodeWorkflow(wf *Workflow) ([]byte, error) {
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ToMap round-trips a workflow through JSON into a generic map,
// the form expected by the query and validation layers.
func (w *Workflow) ToMap() (map[string]any, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
