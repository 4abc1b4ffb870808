package schema

// Snapshot is the result of asking a provider for the current workflow.
//
// Workflow is nil when no workflow exists yet (for a file backend, the
// file has not been created). IsStale means the snapshot may not reflect
// the live editor's latest in-memory state; the flag is computed by the
// editor and relayed verbatim, never inferred by the bridge.
type Snapshot struct {
	Workflow *Workflow `json:"workflow"`
	IsStale  bool      `json:"isStale"`
}
