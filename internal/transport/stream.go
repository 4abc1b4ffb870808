package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/flowcanvas/bridge/internal/logging"
)

const maxEnvelopeSize = 10 * 1024 * 1024

// StreamPeer carries envelopes as newline-delimited JSON over any
// duplex byte stream (a TCP connection in production, net.Pipe in
// tests).
type StreamPeer struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	writer *bufio.Writer
	addr   string
}

// NewStreamPeer wraps the given stream. addr is used for diagnostics only.
func NewStreamPeer(conn io.ReadWriteCloser, addr string) *StreamPeer {
	return &StreamPeer{
		conn:   conn,
		writer: bufio.NewWriter(conn),
		addr:   addr,
	}
}

// Send writes one envelope as a single JSON line.
func (p *StreamPeer) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return p.writer.Flush()
}

func (p *StreamPeer) Addr() string {
	return p.addr
}

func (p *StreamPeer) Close() error {
	return p.conn.Close()
}

// ReadLoop decodes inbound lines and dispatches them to the transport
// until the stream ends. Malformed lines are logged and skipped; the
// peer is detached from the transport when the loop exits.
func (p *StreamPeer) ReadLoop(t *Transport, logger *slog.Logger) {
	if logger == nil {
		logger = logging.Nop()
	}
	reader := bufio.NewReader(p.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("transport.read_failed", "peer_addr", p.addr, "error", err.Error())
			}
			break
		}
		if len(line) <= 1 {
			continue
		}
		if len(line) > maxEnvelopeSize {
			logger.Warn("transport.envelope_too_large", "peer_addr", p.addr, "bytes", len(line))
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			logger.Warn("transport.invalid_envelope", "peer_addr", p.addr, "error", err.Error())
			continue
		}
		t.DispatchIncoming(env)
	}
	t.PeerClosed(p)
}

// Listener accepts editor connections on a local TCP port. Each new
// connection becomes the transport's peer, replacing the previous one:
// a workflow can only be live-edited in one place at a time.
type Listener struct {
	ln     net.Listener
	tr     *Transport
	logger *slog.Logger
}

// Listen binds addr (use 127.0.0.1:0 for an ephemeral port) and starts
// the accept loop in a goroutine.
func Listen(addr string, tr *Transport, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{ln: ln, tr: tr, logger: logger}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting connections. The active peer, if any, stays
// attached; the bridge's stop path detaches it via the transport.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error("transport.accept_failed", "error", err.Error())
			}
			return
		}
		peer := NewStreamPeer(conn, conn.RemoteAddr().String())
		l.tr.SetPeer(peer)
		go peer.ReadLoop(l.tr, l.logger)
	}
}
