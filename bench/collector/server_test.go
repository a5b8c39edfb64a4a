package collector

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/internal/testutil"
	"github.com/loadbench/loadbench/bench/wire"
)

func dial(t *testing.T, srv *httptest.Server, path string) *wire.Conn {
	t.Helper()
	conn, err := wire.Dial(context.Background(), testutil.Addr(srv), path, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func call(t *testing.T, conn *wire.Conn, env wire.Envelope) (wire.Envelope, error) {
	t.Helper()
	require.NoError(t, conn.Send(env))
	return conn.Receive()
}

func TestServer_ClientSessionEndToEnd(t *testing.T) {
	// GIVEN a collector behind websocket listeners
	done := make(chan *Report, 1)
	c := New(Options{OnReport: func(r *Report) { done <- r }})
	s := NewServer(c, 5*time.Second)
	clients := httptest.NewServer(s.ClientHandler())
	defer clients.Close()
	nodes := httptest.NewServer(s.NodeHandler())
	defer nodes.Close()

	client := dial(t, clients, wire.PathClient)
	node := dial(t, nodes, wire.PathNode)

	// WHEN a node reports and a client runs a full session
	batch := bench.ReportBatch{NodeID: "node-1", Samples: []bench.StatusSample{
		bench.NewStatusSample("node-1", 30, 0, time.Now()),
	}}
	ack, err := call(t, node, wire.Envelope{Kind: wire.KindStatus, Report: &batch})
	require.NoError(t, err)
	assert.Equal(t, "Report from server node-1 received", ack.Message)

	ack, err = call(t, client, wire.Envelope{Kind: wire.KindStart, ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, wire.KindAck, ack.Kind)
	assert.Equal(t, "Report from c1 with type 'start' received", ack.Message)

	req := bench.NewRequest("c1", 0, 10, 5)
	_, err = call(t, client, wire.Envelope{Kind: wire.KindTrace, ClientID: "c1", Request: req})
	require.NoError(t, err)
	_, err = call(t, client, wire.Envelope{Kind: wire.KindFinish, ClientID: "c1"})
	require.NoError(t, err)

	// THEN the report is produced and includes the node
	select {
	case r := <-done:
		require.Len(t, r.Nodes, 1)
		assert.Equal(t, "node-1", r.Nodes[0].NodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("no report produced")
	}
}

func TestServer_UnknownReportType_AbortsOnlyThatConnection(t *testing.T) {
	// GIVEN two client connections
	c := New(Options{})
	s := NewServer(c, 5*time.Second)
	srv := httptest.NewServer(s.ClientHandler())
	defer srv.Close()
	bad := dial(t, srv, wire.PathClient)
	good := dial(t, srv, wire.PathClient)

	// WHEN one sends an unsupported report type
	require.NoError(t, bad.Send(wire.Envelope{Kind: "bogus", ClientID: "x"}))

	// THEN that connection is closed without an ack
	_, err := bad.Receive()
	assert.Error(t, err)

	// AND the other connection keeps working
	ack, err := call(t, good, wire.Envelope{Kind: wire.KindStart, ClientID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, wire.KindAck, ack.Kind)
	assert.Equal(t, 1, c.Active())
}

func TestServer_MalformedTrace_ClosesConnection(t *testing.T) {
	// GIVEN a client with an open session
	c := New(Options{})
	s := NewServer(c, 5*time.Second)
	srv := httptest.NewServer(s.ClientHandler())
	defer srv.Close()
	conn := dial(t, srv, wire.PathClient)
	_, err := call(t, conn, wire.Envelope{Kind: wire.KindStart, ClientID: "c1"})
	require.NoError(t, err)

	// WHEN it traces a request whose reply precedes its dispatch
	req := bench.NewRequest("c1", 0, 10, 5)
	req.SentUs, req.ReceivedUs, req.DispatchedUs, req.ReplySentUs = 10, 20, 30, 25
	require.NoError(t, conn.Send(wire.Envelope{Kind: wire.KindTrace, ClientID: "c1", Request: req}))

	// THEN the connection is closed without an ack
	_, err = conn.Receive()
	assert.Error(t, err)
	assert.Equal(t, 1, c.Active())
}

func TestServer_NodeChannelRejectsClientReports(t *testing.T) {
	c := New(Options{})
	s := NewServer(c, 5*time.Second)
	srv := httptest.NewServer(s.NodeHandler())
	defer srv.Close()
	conn := dial(t, srv, wire.PathNode)

	require.NoError(t, conn.Send(wire.Envelope{Kind: wire.KindStart, ClientID: "c1"}))
	_, err := conn.Receive()

	assert.Error(t, err)
	assert.Equal(t, 0, c.Active())
}

func TestHandleClient_UnknownKind(t *testing.T) {
	c := New(Options{})
	_, err := c.HandleClient(wire.Envelope{Kind: wire.KindStatus})
	assert.ErrorIs(t, err, ErrUnknownReportType)
}
