package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcanvas/bridge/pkg/schema"
)

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator()
	require.NoError(t, err)
	return v
}

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		SchemaVersion: schema.CurrentSchemaVersion,
		Name:          "ok",
		Nodes: []schema.Node{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "action"},
		},
		Connections: []schema.Connection{
			{From: schema.Endpoint{Node: "a", Port: "out"}, To: schema.Endpoint{Node: "b"}},
		},
	}
}

func TestValidateAcceptsValidWorkflow(t *testing.T) {
	v := newValidator(t)

	issues, err := v.Validate(validWorkflow())
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidateNilWorkflow(t *testing.T) {
	v := newValidator(t)

	issues, err := v.Validate(nil)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "/", issues[0].Path)
}

func TestValidateUnknownConnectionTarget(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Connections = append(wf.Connections, schema.Connection{
		From: schema.Endpoint{Node: "a"},
		To:   schema.Endpoint{Node: "ghost"},
	})

	issues, err := v.Validate(wf)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, `unknown node "ghost"`)
	assert.Equal(t, "/connections/1/to/node", issues[0].Path)
}

func TestValidateDuplicateNodeID(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "a", Type: "action"})

	issues, err := v.Validate(wf)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, `duplicate node id "a"`)
}

func TestValidateSchemaViolation(t *testing.T) {
	v := newValidator(t)
	wf := validWorkflow()
	wf.Nodes[0].Type = "" // type is required and non-empty

	issues, err := v.Validate(wf)
	require.NoError(t, err)
	assert.NotEmpty(t, issues)
}
