package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPeerSendWritesJSONLines(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	peer := NewStreamPeer(server, "pipe")
	go func() {
		require.NoError(t, peer.Send(Envelope{Type: TypeGetWorkflowRequest, RequestID: "r1"}))
	}()

	line, err := bufio.NewReader(client).ReadBytes('\n')
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(line, &env))
	assert.Equal(t, TypeGetWorkflowRequest, env.Type)
	assert.Equal(t, "r1", env.RequestID)
}

func TestStreamPeerReadLoopDispatches(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := New(nil)
	var mu sync.Mutex
	var types []string
	tr.OnMessage(func(env Envelope) {
		mu.Lock()
		types = append(types, env.Type)
		mu.Unlock()
	})

	peer := NewStreamPeer(server, "pipe")
	tr.SetPeer(peer)
	go peer.ReadLoop(tr, nil)

	// One valid notification, one malformed line (skipped), another valid.
	_, err := client.Write([]byte(`{"type":"workflow-changed"}` + "\n"))
	require.NoError(t, err)
	_, err = client.Write([]byte("{broken\n"))
	require.NoError(t, err)
	_, err = client.Write([]byte(`{"type":"workflow-changed"}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Closing the stream detaches the peer.
	client.Close()
	require.Eventually(t, func() bool {
		return !tr.HasPeer()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestListenerReplacesPeerOnNewConnection(t *testing.T) {
	tr := New(nil)
	l, err := Listen("127.0.0.1:0", tr, nil)
	require.NoError(t, err)
	defer l.Close()

	first, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, tr.HasPeer, 2*time.Second, 5*time.Millisecond)

	// A pending request against the first connection is rejected when a
	// second editor connects.
	errCh := make(chan error, 1)
	go func() {
		_, reqErr := tr.Request(context.Background(), Envelope{Type: TypeGetWorkflowRequest})
		errCh <- reqErr
	}()

	// Wait for the request line to reach the first connection.
	readerDone := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(first).ReadBytes('\n')
		close(readerDone)
	}()
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the first connection")
	}

	second, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	select {
	case reqErr := <-errCh:
		require.Error(t, reqErr)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected on peer replacement")
	}
}
