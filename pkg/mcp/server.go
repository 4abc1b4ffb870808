package mcp

import (
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowcanvas/bridge/internal/logging"
	"github.com/flowcanvas/bridge/internal/provider"
	"github.com/flowcanvas/bridge/internal/query"
	"github.com/flowcanvas/bridge/internal/validation"
	"github.com/flowcanvas/bridge/pkg/schema"
)

// ProviderSource yields the active workflow provider. Handlers capture
// the reference once at invocation start, so a provider swap never
// redirects an in-flight call.
type ProviderSource interface {
	Provider() provider.Provider
}

// BridgeServerDeps holds the dependencies for creating a BridgeServer.
type BridgeServerDeps struct {
	Source    ProviderSource
	Validator *validation.WorkflowValidator
	Query     *query.Engine
	Logger    *slog.Logger
}

// BridgeServer wraps an MCP server with the workflow bridge tool
// handlers. It serializes apply-workflow calls and caches the
// last-known snapshot in memory.
type BridgeServer struct {
	source    ProviderSource
	validator *validation.WorkflowValidator
	query     *query.Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer

	// applyMu enforces the at-most-one-concurrent-apply invariant:
	// a second apply queues behind the first, never races it.
	applyMu sync.Mutex

	lastMu sync.RWMutex
	last   *schema.Snapshot
}

// NewBridgeServer creates a BridgeServer with all 4 tools registered.
func NewBridgeServer(deps BridgeServerDeps) (*BridgeServer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	validator := deps.Validator
	if validator == nil {
		v, err := validation.NewWorkflowValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}
	qe := deps.Query
	if qe == nil {
		qe = query.NewEngine()
	}

	s := &BridgeServer{
		source:    deps.Source,
		validator: validator,
		query:     qe,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"workflow-bridge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("The workflow bridge exposes the workflow document a human may be editing live. Use get-current-workflow to read the document, apply-workflow to commit a full replacement (re-fetch and retry on conflict), validate-workflow to check a document before applying it, and query-workflow to run a jq expression over the current document."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s, nil
}

// MCPServer returns the underlying MCPServer for transports and tests.
func (s *BridgeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// LastKnown returns the last snapshot seen by any tool call, or nil.
func (s *BridgeServer) LastKnown() *schema.Snapshot {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// MarkStale flags the last-known snapshot as possibly out of date.
// Called when the editor reports a workflow-changed notification.
func (s *BridgeServer) MarkStale() {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.last != nil {
		s.last = &schema.Snapshot{Workflow: s.last.Workflow, IsStale: true}
	}
}

func (s *BridgeServer) recordSnapshot(snap *schema.Snapshot) {
	s.lastMu.Lock()
	s.last = snap
	s.lastMu.Unlock()
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *BridgeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: getCurrentWorkflowTool(), Handler: s.handleGetCurrentWorkflow},
		{Tool: applyWorkflowTool(), Handler: s.handleApplyWorkflow},
		{Tool: validateWorkflowTool(), Handler: s.handleValidateWorkflow},
		{Tool: queryWorkflowTool(), Handler: s.handleQueryWorkflow},
	}
}

// --- Tool definitions ---

func getCurrentWorkflowTool() mcp.Tool {
	return mcp.NewTool("get-current-workflow",
		mcp.WithDescription("Read the current workflow document and its staleness flag"),
	)
}

func applyWorkflowTool() mcp.Tool {
	return mcp.NewTool("apply-workflow",
		mcp.WithDescription("Commit a full replacement of the workflow document. On conflict, re-fetch the current document and retry"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("The complete workflow document to commit")),
		mcp.WithString("description", mcp.Description("Human-readable summary of the edit")),
	)
}

func validateWorkflowTool() mcp.Tool {
	return mcp.NewTool("validate-workflow",
		mcp.WithDescription("Validate a workflow document against the document schema and node reference rules"),
		mcp.WithObject("workflow", mcp.Description("Document to validate (default: the current workflow)")),
	)
}

func queryWorkflowTool() mcp.Tool {
	return mcp.NewTool("query-workflow",
		mcp.WithDescription("Evaluate a jq expression against the current workflow document"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("jq expression, e.g. '.nodes | length'")),
	)
}
