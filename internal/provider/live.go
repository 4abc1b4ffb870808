package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flowcanvas/bridge/internal/logging"
	"github.com/flowcanvas/bridge/internal/transport"
	"github.com/flowcanvas/bridge/pkg/schema"
)

// DefaultRequestTimeout bounds every live editor round trip.
const DefaultRequestTimeout = 8 * time.Second

// getWorkflowResponse is the payload of a get-workflow-response envelope.
// The editor computes isStale against its own in-memory authoritative
// copy; the provider relays it verbatim.
type getWorkflowResponse struct {
	Workflow json.RawMessage `json:"workflow"`
	IsStale  bool            `json:"isStale"`
}

// applyWorkflowRequest is the payload of an apply-workflow-request envelope.
type applyWorkflowRequest struct {
	Workflow    *schema.Workflow `json:"workflow"`
	Description string           `json:"description,omitempty"`
}

// applyWorkflowResponse is the payload of an apply-workflow-response
// envelope. success=false with conflict=false is an editor-side
// rejection (e.g. the open document has unsaved changes elsewhere);
// conflict=true means the caller's base was stale.
type applyWorkflowResponse struct {
	Success  bool   `json:"success"`
	Conflict bool   `json:"conflict,omitempty"`
	Message  string `json:"message,omitempty"`
}

// LiveProvider reads and commits the workflow through the live editor
// session attached to the transport. Every operation is one correlated
// request/response round trip with a bounded deadline.
type LiveProvider struct {
	tr      *transport.Transport
	timeout time.Duration
	logger  *slog.Logger
}

// NewLiveProvider creates a live-session provider over tr. A zero
// timeout selects DefaultRequestTimeout.
func NewLiveProvider(tr *transport.Transport, timeout time.Duration, logger *slog.Logger) *LiveProvider {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &LiveProvider{tr: tr, timeout: timeout, logger: logger}
}

func (p *LiveProvider) GetCurrentWorkflow(ctx context.Context) (*schema.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.tr.Request(ctx, transport.Envelope{Type: transport.TypeGetWorkflowRequest})
	if err != nil {
		return nil, err
	}

	var payload getWorkflowResponse
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return nil, schema.NewError(schema.ErrCodeInvalidWorkflowFile, "editor sent a malformed get-workflow response").WithCause(err)
		}
	}

	snap := &schema.Snapshot{IsStale: payload.IsStale}
	if len(payload.Workflow) > 0 && string(payload.Workflow) != "null" {
		wf, err := schema.DecodeWorkflow(payload.Workflow)
		if err != nil {
			return nil, err
		}
		snap.Workflow = wf
	}
	return snap, nil
}

func (p *LiveProvider) ApplyWorkflow(ctx context.Context, wf *schema.Workflow, description string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqPayload, err := json.Marshal(applyWorkflowRequest{Workflow: wf, Description: description})
	if err != nil {
		return false, schema.NewError(schema.ErrCodeIO, "failed to serialize workflow").WithCause(err)
	}

	resp, err := p.tr.Request(ctx, transport.Envelope{
		Type:    transport.TypeApplyWorkflowRequest,
		Payload: reqPayload,
	})
	if err != nil {
		return false, err
	}

	var payload applyWorkflowResponse
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		return false, schema.NewError(schema.ErrCodeIO, "editor sent a malformed apply-workflow response").WithCause(err)
	}

	if payload.Conflict {
		msg := payload.Message
		if msg == "" {
			msg = "editor detected a stale base document"
		}
		return false, schema.NewError(schema.ErrCodeConflict, msg)
	}
	if !payload.Success {
		p.logger.InfoContext(ctx, "provider.apply_rejected", "message", payload.Message)
	}
	return payload.Success, nil
}

var _ Provider = (*LiveProvider)(nil)
