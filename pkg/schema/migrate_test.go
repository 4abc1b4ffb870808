package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestMigrateUpgradesLegacyEdges(t *testing.T) {
	doc := decode(t, `{
		"name": "legacy",
		"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "end"}],
		"edges": [{"fromNode": "a", "fromPort": "out", "toNode": "b", "toPort": "in"}]
	}`)

	migrated, ok := Migrate(doc).(map[string]any)
	require.True(t, ok)

	assert.NotContains(t, migrated, "edges")
	assert.Equal(t, float64(CurrentSchemaVersion), migrated["schemaVersion"])

	conns, ok := migrated["connections"].([]any)
	require.True(t, ok)
	require.Len(t, conns, 1)
	conn := conns[0].(map[string]any)
	assert.Equal(t, map[string]any{"node": "a", "port": "out"}, conn["from"])
	assert.Equal(t, map[string]any{"node": "b", "port": "in"}, conn["to"])
}

func TestMigrateFlattensNodeMap(t *testing.T) {
	doc := decode(t, `{
		"nodes": {
			"b": {"type": "end"},
			"a": {"type": "start"}
		},
		"connections": []
	}`)

	migrated := Migrate(doc).(map[string]any)
	nodes, ok := migrated["nodes"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 2)

	// Deterministic order: keys sorted.
	assert.Equal(t, "a", nodes[0].(map[string]any)["id"])
	assert.Equal(t, "b", nodes[1].(map[string]any)["id"])
}

func TestMigrateCurrentDocumentIsNoOp(t *testing.T) {
	doc := decode(t, `{
		"schemaVersion": 2,
		"nodes": [{"id": "a", "type": "start"}],
		"connections": [{"from": {"node": "a"}, "to": {"node": "a"}}]
	}`)

	migrated := Migrate(doc)
	assert.Equal(t, doc, migrated)
}

func TestMigrateIdempotent(t *testing.T) {
	docs := []string{
		`{"nodes": [], "connections": []}`,
		`{"nodes": {"a": {"type": "x"}}, "edges": [{"fromNode": "a", "toNode": "a"}]}`,
		`{"schemaVersion": 2, "nodes": [], "connections": []}`,
		`{"edges": [{"fromNode": "a", "toNode": "b"}]}`,
		`{"nodes": "garbage", "edges": 42}`,
	}
	for _, raw := range docs {
		doc := decode(t, raw)
		once := Migrate(doc)
		twice := Migrate(once)
		assert.Equal(t, once, twice, "migrate must be idempotent for %s", raw)
	}
}

func TestMigrateTotalOnMalformedShapes(t *testing.T) {
	// Anything that fails shape checks passes through unchanged; malformed
	// structure detection is validation's job.
	cases := []any{
		nil,
		"not an object",
		float64(42),
		[]any{"a", "b"},
		map[string]any{"nodes": "not a collection"},
		map[string]any{"edges": map[string]any{"oops": true}},
		map[string]any{"connections": []any{"not-an-object", float64(3)}},
	}
	for _, doc := range cases {
		assert.NotPanics(t, func() {
			out := Migrate(doc)
			// Idempotence holds on malformed input too.
			assert.Equal(t, out, Migrate(out))
		})
	}
}

func TestMigrateDoesNotMutateInput(t *testing.T) {
	doc := decode(t, `{"nodes": {"a": {"type": "x"}}, "edges": []}`)
	original := decode(t, `{"nodes": {"a": {"type": "x"}}, "edges": []}`)

	_ = Migrate(doc)
	assert.Equal(t, original, doc)
}

func TestMigratePreservesUnknownFields(t *testing.T) {
	doc := decode(t, `{"nodes": [], "edges": [], "metadata": {"owner": "me"}, "custom": true}`)

	migrated := Migrate(doc).(map[string]any)
	assert.Equal(t, true, migrated["custom"])
	assert.Equal(t, map[string]any{"owner": "me"}, migrated["metadata"])
}

func TestDecodeWorkflowRunsMigration(t *testing.T) {
	raw := []byte(`{
		"nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "end"}],
		"edges": [{"fromNode": "a", "toNode": "b"}]
	}`)

	wf, err := DecodeWorkflow(raw)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, wf.SchemaVersion)
	require.Len(t, wf.Connections, 1)
	assert.Equal(t, "a", wf.Connections[0].From.Node)
	assert.Equal(t, "b", wf.Connections[0].To.Node)
	assert.True(t, wf.HasNode("a"))
	assert.Nil(t, wf.NodeByID("missing"))
}

func TestDecodeWorkflowRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeWorkflow([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidWorkflowFile))
}

func TestEncodeWorkflowStableFormatting(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: CurrentSchemaVersion,
		Nodes:         []Node{{ID: "a", Type: "start"}},
		Connections:   []Connection{},
	}

	data, err := EncodeWorkflow(wf)
	require.NoError(t, err)

	// Pretty-printed, 2-space indent, trailing newline.
	assert.Contains(t, string(data), "\n  \"nodes\": [")
	assert.Equal(t, byte('\n'), data[len(data)-1])

	back, err := DecodeWorkflow(data)
	require.NoError(t, err)
	assert.Equal(t, wf, back)
}
