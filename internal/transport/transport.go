package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/flowcanvas/bridge/internal/logging"
	"github.com/flowcanvas/bridge/pkg/schema"
)

// Envelope is the typed message unit exchanged with the live editor.
// RequestID, when present, correlates a response to exactly one
// outstanding request; absence marks a fire-and-forget notification.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Envelope types of the editor protocol.
const (
	TypeGetWorkflowRequest    = "get-workflow-request"
	TypeGetWorkflowResponse   = "get-workflow-response"
	TypeApplyWorkflowRequest  = "apply-workflow-request"
	TypeApplyWorkflowResponse = "apply-workflow-response"
	TypeWorkflowChanged       = "workflow-changed"
)

// Peer is one live editor connection. Implementations carry the actual
// channel technology; the transport never depends on it.
type Peer interface {
	// Send delivers one envelope to the editor.
	Send(env Envelope) error
	// Addr describes the remote end for diagnostics.
	Addr() string
	// Close tears the connection down.
	Close() error
}

// Handler receives inbound envelopes that are not correlated responses
// (notifications and unsolicited requests), in arrival order.
type Handler func(env Envelope)

// PeerObserver is notified after the attached peer changes.
type PeerObserver func(attached bool)

type pendingResult struct {
	env Envelope
	err error
}

// Transport is the duplex channel between the bridge and at most one
// live editor peer. It owns the pending-request table: every correlated
// request registers an entry keyed by a generated request ID, and
// responses are matched strictly by that ID, never by arrival order.
type Transport struct {
	mu       sync.Mutex
	peer     Peer
	handler  Handler
	observer PeerObserver
	pending  map[string]chan pendingResult
	logger   *slog.Logger
}

// New creates a Transport with no attached peer.
func New(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Transport{
		pending: make(map[string]chan pendingResult),
		logger:  logger,
	}
}

// SetPeer attaches, replaces or (with nil) detaches the live peer.
// All requests pending against the previous peer are rejected: a
// replaced peer can never fulfill a promise made to the prior session.
func (t *Transport) SetPeer(peer Peer) {
	t.mu.Lock()
	old := t.peer
	t.peer = peer

	var rejection *schema.BridgeError
	if peer != nil {
		rejection = schema.NewError(schema.ErrCodePeerReplaced, "editor connection was replaced")
	} else {
		rejection = schema.NewError(schema.ErrCodeNoPeer, "editor connection was closed")
	}
	t.rejectPendingLocked(rejection)
	observer := t.observer
	t.mu.Unlock()

	if old != nil && old != peer {
		_ = old.Close()
	}
	if peer != nil {
		t.logger.Info("transport.peer_attached", "peer_addr", peer.Addr())
	} else if old != nil {
		t.logger.Info("transport.peer_detached", "peer_addr", old.Addr())
	}
	if observer != nil {
		observer(peer != nil)
	}
}

// PeerClosed detaches the given peer if it is still the active one.
// Called by channel implementations when their read loop ends; a stale
// call for an already-replaced peer is a no-op.
func (t *Transport) PeerClosed(peer Peer) {
	t.mu.Lock()
	current := t.peer == peer
	t.mu.Unlock()
	if current {
		t.SetPeer(nil)
	}
}

// HasPeer reports whether a live editor is currently attached.
func (t *Transport) HasPeer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer != nil
}

// OnMessage registers the single handler invoked for every inbound
// envelope that is not a correlated response.
func (t *Transport) OnMessage(handler Handler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// OnPeerChange registers the observer invoked after SetPeer/Shutdown.
func (t *Transport) OnPeerChange(observer PeerObserver) {
	t.mu.Lock()
	t.observer = observer
	t.mu.Unlock()
}

// Send delivers a fire-and-forget envelope to the attached peer.
// With no peer attached it fails with NO_PEER_CONNECTED; callers must
// treat that as "no live editor is open", not a transient fault.
func (t *Transport) Send(env Envelope) error {
	t.mu.Lock()
	peer := t.peer
	t.mu.Unlock()
	if peer == nil {
		return schema.NewError(schema.ErrCodeNoPeer, "no live editor is connected")
	}
	return peer.Send(env)
}

// Request sends a correlated envelope and suspends until the matching
// response arrives, the context deadline elapses (PROVIDER_TIMEOUT), or
// the peer is replaced or detached. The envelope's RequestID is
// assigned here when empty.
//
// The wait never blocks dispatch of other envelopes: the pending table
// lock is released before suspending.
func (t *Transport) Request(ctx context.Context, env Envelope) (Envelope, error) {
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	ctx = logging.WithRequestID(ctx, env.RequestID)

	t.mu.Lock()
	peer := t.peer
	if peer == nil {
		t.mu.Unlock()
		return Envelope{}, schema.NewError(schema.ErrCodeNoPeer, "no live editor is connected")
	}
	ch := make(chan pendingResult, 1)
	t.pending[env.RequestID] = ch
	t.mu.Unlock()

	if err := peer.Send(env); err != nil {
		t.remove(env.RequestID)
		return Envelope{}, schema.NewError(schema.ErrCodeIO, "failed to send request to editor").WithCause(err)
	}
	t.logger.DebugContext(ctx, "transport.request_sent", "type", env.Type)

	select {
	case res := <-ch:
		if res.err != nil {
			return Envelope{}, res.err
		}
		t.logger.DebugContext(ctx, "transport.response_received", "type", res.env.Type)
		return res.env, nil
	case <-ctx.Done():
		t.remove(env.RequestID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Envelope{}, schema.NewErrorf(schema.ErrCodeTimeout,
				"editor did not respond to %s before the deadline", env.Type)
		}
		return Envelope{}, ctx.Err()
	}
}

// DispatchIncoming is invoked by the channel implementation for every
// envelope the peer sends, in arrival order. Envelopes whose RequestID
// matches a pending request resolve that request; everything else goes
// to the OnMessage handler. A response arriving after its request timed
// out is dropped, never mis-delivered.
func (t *Transport) DispatchIncoming(env Envelope) {
	if env.RequestID != "" {
		t.mu.Lock()
		ch, ok := t.pending[env.RequestID]
		if ok {
			delete(t.pending, env.RequestID)
		}
		t.mu.Unlock()
		if ok {
			ch <- pendingResult{env: env}
			return
		}
		t.logger.Warn("transport.late_response_dropped", "type", env.Type, "request_id", env.RequestID)
		return
	}

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}

// Shutdown detaches the peer and rejects all pending requests with
// SERVER_STOPPED. Used by the bridge's stop path.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	old := t.peer
	t.peer = nil
	t.rejectPendingLocked(schema.NewError(schema.ErrCodeServerStopped, "bridge server stopped"))
	observer := t.observer
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if observer != nil && old != nil {
		observer(false)
	}
}

func (t *Transport) remove(requestID string) {
	t.mu.Lock()
	delete(t.pending, requestID)
	t.mu.Unlock()
}

// rejectPendingLocked fails every pending request and clears the table.
// Caller holds t.mu.
func (t *Transport) rejectPendingLocked(err *schema.BridgeError) {
	for id, ch := range t.pending {
		ch <- pendingResult{err: err}
		delete(t.pending, id)
	}
}
