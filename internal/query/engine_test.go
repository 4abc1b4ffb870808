package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcanvas/bridge/pkg/schema"
)

func doc() map[string]any {
	return map[string]any{
		"name": "deploy",
		"nodes": []any{
			map[string]any{"id": "a", "type": "trigger"},
			map[string]any{"id": "b", "type": "action"},
			map[string]any{"id": "c", "type": "action"},
		},
		"connections": []any{},
	}
}

func TestEvaluateSingleOutput(t *testing.T) {
	e := NewEngine()

	out, err := e.Evaluate(context.Background(), ".nodes | length", doc())
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestEvaluateMultipleOutputsCollected(t *testing.T) {
	e := NewEngine()

	out, err := e.Evaluate(context.Background(), ".nodes[].id", doc())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, out)
}

func TestEvaluateZeroOutputs(t *testing.T) {
	e := NewEngine()

	out, err := e.Evaluate(context.Background(), `.nodes[] | select(.type == "missing")`, doc())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEvaluateEmptyExpression(t *testing.T) {
	e := NewEngine()

	_, err := e.Evaluate(context.Background(), "", doc())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestEvaluateParseError(t *testing.T) {
	e := NewEngine()

	_, err := e.Evaluate(context.Background(), ".nodes[", doc())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestEvaluateEnvBlocked(t *testing.T) {
	e := NewEngine()

	out, err := e.Evaluate(context.Background(), "$ENV | length", doc())
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestCompiledExpressionCached(t *testing.T) {
	e := NewEngine()

	_, err := e.Evaluate(context.Background(), ".name", doc())
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), ".name", doc())
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
