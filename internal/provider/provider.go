// Package provider abstracts where the current workflow lives and how
// edits land. Two backends implement the contract: a headless file on
// disk and a live editor session reached over the transport. Exactly
// one provider is active per bridge; switching is a full replace.
package provider

import (
	"context"

	"github.com/flowcanvas/bridge/pkg/schema"
)

// Provider supplies and commits the current workflow document.
type Provider interface {
	// GetCurrentWorkflow returns the current document and staleness flag.
	// An absent workflow is not an error: the snapshot carries a nil
	// Workflow. Errors are limited to genuine read failures
	// (IO_ERROR, INVALID_WORKFLOW_FILE) and live round-trip failures
	// (PROVIDER_TIMEOUT, NO_PEER_CONNECTED, PEER_REPLACED).
	GetCurrentWorkflow(ctx context.Context) (*schema.Snapshot, error)

	// ApplyWorkflow commits wf as the new current state and reports
	// whether the backend accepted it. A false return without error is
	// an editor-side rejection the agent should surface, not retry.
	// A CONFLICT error means the caller's view was stale; the agent
	// should re-fetch and retry.
	ApplyWorkflow(ctx context.Context, wf *schema.Workflow, description string) (bool, error)
}
