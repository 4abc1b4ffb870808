package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcanvas/bridge/pkg/schema"
)

func newFileProvider(t *testing.T) (*FileProvider, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".vscode", "workflows", "workflow.json")
	return NewFileProvider(path, nil, nil), path
}

func sampleWorkflow() *schema.Workflow {
	return &schema.Workflow{
		SchemaVersion: schema.CurrentSchemaVersion,
		Name:          "deploy",
		Nodes: []schema.Node{
			{ID: "start", Type: "trigger"},
			{ID: "ship", Type: "action"},
		},
		Connections: []schema.Connection{
			{From: schema.Endpoint{Node: "start"}, To: schema.Endpoint{Node: "ship"}},
		},
	}
}

func TestFileProviderAbsentFile(t *testing.T) {
	p, _ := newFileProvider(t)

	snap, err := p.GetCurrentWorkflow(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Workflow)
	assert.False(t, snap.IsStale)
}

func TestFileProviderRoundTrip(t *testing.T) {
	p, path := newFileProvider(t)
	wf := sampleWorkflow()

	applied, err := p.ApplyWorkflow(context.Background(), wf, "init")
	require.NoError(t, err)
	assert.True(t, applied)

	// Pretty-printed, 2-space indented JSON on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "  \"nodes\": ["), "expected 2-space indent, got:\n%s", data)
	assert.True(t, strings.HasSuffix(string(data), "\n"))

	snap, err := p.GetCurrentWorkflow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Workflow)
	assert.False(t, snap.IsStale, "a file-backed provider is never stale")
	assert.Equal(t, wf, snap.Workflow)
}

func TestFileProviderOverwritesWholeFile(t *testing.T) {
	p, path := newFileProvider(t)

	_, err := p.ApplyWorkflow(context.Background(), sampleWorkflow(), "first")
	require.NoError(t, err)

	smaller := &schema.Workflow{
		SchemaVersion: schema.CurrentSchemaVersion,
		Nodes:         []schema.Node{{ID: "only", Type: "noop"}},
		Connections:   []schema.Connection{},
	}
	_, err = p.ApplyWorkflow(context.Background(), smaller, "second")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ship", "write must replace the whole file")
}

func TestFileProviderInvalidJSON(t *testing.T) {
	p, path := newFileProvider(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := p.GetCurrentWorkflow(context.Background())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidWorkflowFile))
}

func TestFileProviderMigratesLegacyDocument(t *testing.T) {
	p, path := newFileProvider(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	legacy := `{
	  "nodes": [{"id": "a", "type": "start"}, {"id": "b", "type": "end"}],
	  "edges": [{"fromNode": "a", "toNode": "b"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	snap, err := p.GetCurrentWorkflow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Workflow)
	assert.Equal(t, schema.CurrentSchemaVersion, snap.Workflow.SchemaVersion)
	require.Len(t, snap.Workflow.Connections, 1)
	assert.Equal(t, "a", snap.Workflow.Connections[0].From.Node)
}

type failingFS struct {
	FileSystem
}

func (failingFS) ReadFile(path string) ([]byte, error) {
	return nil, os.ErrPermission
}

func TestFileProviderReadFailure(t *testing.T) {
	p := NewFileProvider("/denied/workflow.json", failingFS{}, nil)

	_, err := p.GetCurrentWorkflow(context.Background())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeIO))
}
