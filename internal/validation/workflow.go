package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowcanvas/bridge/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for the workflow document.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowcanvas.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes", "connections"],
  "properties": {
    "schemaVersion": { "type": "integer", "minimum": 1 },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "connections": {
      "type": "array",
      "items": { "$ref": "#/$defs/connection" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "position": {
          "type": "object",
          "required": ["x", "y"],
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        },
        "config": {}
      },
      "additionalProperties": false
    },
    "connection": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "from": { "$ref": "#/$defs/endpoint" },
        "to": { "$ref": "#/$defs/endpoint" }
      },
      "additionalProperties": false
    },
    "endpoint": {
      "type": "object",
      "required": ["node"],
      "properties": {
        "node": { "type": "string", "minLength": 1 },
        "port": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// Issue is one validation finding, located by a JSON-pointer-ish path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// WorkflowValidator validates workflow documents against the embedded
// JSON Schema plus the referential checks the schema cannot express.
// Safe for concurrent use.
type WorkflowValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewWorkflowValidator compiles the embedded workflow schema.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://flowcanvas.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://flowcanvas.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &WorkflowValidator{workflowSchema: compiled}, nil
}

// Validate returns all findings for the given document. An empty slice
// means the document is valid.
func (v *WorkflowValidator) Validate(wf *schema.Workflow) ([]Issue, error) {
	if wf == nil {
		return []Issue{{Path: "/", Message: "workflow is nil"}}, nil
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}

	var issues []Issue
	if err := v.workflowSchema.Validate(doc); err != nil {
		issues = append(issues, collectIssues(err)...)
	}
	issues = append(issues, referenceIssues(wf)...)
	return issues, nil
}

// referenceIssues checks the invariants JSON Schema cannot express:
// unique node ids and connection endpoints that reference existing nodes.
func referenceIssues(wf *schema.Workflow) []Issue {
	var issues []Issue

	seen := make(map[string]struct{}, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if _, dup := seen[n.ID]; dup {
			issues = append(issues, Issue{
				Path:    fmt.Sprintf("/nodes/%d/id", i),
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
			})
		}
		seen[n.ID] = struct{}{}
	}

	for i, c := range wf.Connections {
		if _, ok := seen[c.From.Node]; !ok {
			issues = append(issues, Issue{
				Path:    fmt.Sprintf("/connections/%d/from/node", i),
				Message: fmt.Sprintf("connection references unknown node %q", c.From.Node),
			})
		}
		if _, ok := seen[c.To.Node]; !ok {
			issues = append(issues, Issue{
				Path:    fmt.Sprintf("/connections/%d/to/node", i),
				Message: fmt.Sprintf("connection references unknown node %q", c.To.Node),
			})
		}
	}
	return issues
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// numeric values become json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectIssues walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectIssues(err error) []Issue {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Path: "/", Message: err.Error()}}
	}
	return collectLeaves(verr)
}

func collectLeaves(verr *jsonschema.ValidationError) []Issue {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []Issue{{Path: loc, Message: verr.Error()}}
	}
	var issues []Issue
	for _, cause := range verr.Causes {
		issues = append(issues, collectLeaves(cause)...)
	}
	return issues
}
