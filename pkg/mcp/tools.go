package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowcanvas/bridge/internal/logging"
	"github.com/flowcanvas/bridge/internal/validation"
	"github.com/flowcanvas/bridge/pkg/schema"
)

// handleGetCurrentWorkflow reads the current document through the
// active provider.
func (s *BridgeServer) handleGetCurrentWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "get-current-workflow")

	p := s.source.Provider()
	snap, err := p.GetCurrentWorkflow(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "tool.get_failed", "error", err.Error())
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.recordSnapshot(snap)
	return marshalResult(snap)
}

// handleApplyWorkflow commits a full replacement document. Calls are
// serialized: a second apply arriving while one is awaiting its live
// round trip queues behind it, never races it.
func (s *BridgeServer) handleApplyWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "apply-workflow")

	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	description := req.GetString("description", "")

	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}
	wf, err := schema.DecodeWorkflow(data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Capture the provider before queueing so a swap mid-wait cannot
	// redirect this call.
	p := s.source.Provider()

	s.applyMu.Lock()
	applied, err := p.ApplyWorkflow(ctx, wf, description)
	s.applyMu.Unlock()

	if err != nil {
		var be *schema.BridgeError
		if errors.As(err, &be) && be.Code == schema.ErrCodeConflict {
			// Structured, non-fatal: the agent re-fetches and retries.
			s.logger.InfoContext(ctx, "tool.apply_conflict", "message", be.Message)
			return marshalResult(map[string]any{
				"applied":  false,
				"conflict": true,
				"message":  be.Message,
			})
		}
		s.logger.WarnContext(ctx, "tool.apply_failed", "error", err.Error())
		return mcp.NewToolResultError(err.Error()), nil
	}

	if applied {
		s.recordSnapshot(&schema.Snapshot{Workflow: wf, IsStale: false})
	}
	return marshalResult(map[string]any{
		"applied":  applied,
		"conflict": false,
	})
}

// handleValidateWorkflow validates the given or current document.
func (s *BridgeServer) handleValidateWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "validate-workflow")

	var wf *schema.Workflow
	if raw := mcp.ParseStringMap(req, "workflow", nil); raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
		}
		decoded, err := schema.DecodeWorkflow(data)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wf = decoded
	} else {
		p := s.source.Provider()
		snap, err := p.GetCurrentWorkflow(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if snap.Workflow == nil {
			return mcp.NewToolResultError("no workflow exists yet"), nil
		}
		wf = snap.Workflow
	}

	issues, err := s.validator.Validate(wf)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if issues == nil {
		issues = []validation.Issue{}
	}
	return marshalResult(map[string]any{
		"valid":  len(issues) == 0,
		"issues": issues,
	})
}

// handleQueryWorkflow evaluates a jq expression over the current document.
func (s *BridgeServer) handleQueryWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "query-workflow")

	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}

	p := s.source.Provider()
	snap, err := p.GetCurrentWorkflow(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if snap.Workflow == nil {
		return mcp.NewToolResultError("no workflow exists yet"), nil
	}

	doc, err := snap.Workflow.ToMap()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to convert workflow: %v", err)), nil
	}

	result, err := s.query.Evaluate(ctx, expression, doc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(map[string]any{
		"result":  result,
		"isStale": snap.IsStale,
	})
}

// marshalResult converts a value to a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
