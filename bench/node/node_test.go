package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/internal/testutil"
	"github.com/loadbench/loadbench/bench/wire"
)

type memoryStore struct {
	mu     sync.Mutex
	latest map[string]bench.ReportBatch
}

func (m *memoryStore) Save(_ context.Context, batch bench.ReportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[batch.NodeID] = batch
	return nil
}

func (m *memoryStore) Load(_ context.Context, nodeID string) (bench.ReportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest[nodeID], nil
}

func startNode(t *testing.T, opts Options) (*Node, string) {
	t.Helper()
	ln := testutil.Listen(t)
	n := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return n, ln.Addr().String()
}

func TestNode_ProcessesRequestAndStampsTimestamps(t *testing.T) {
	// GIVEN a running node
	_, addr := startNode(t, Options{ID: "node-1", IdleTimeout: 5 * time.Second})
	conn, err := wire.Dial(context.Background(), addr, wire.PathRequest, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// WHEN a request is sent
	req := bench.NewRequest("c1", 0, 30, 20)
	req.SentUs = time.Now().UnixMicro()
	require.NoError(t, conn.Send(wire.Envelope{Kind: wire.KindRequest, Request: req}))

	// THEN it comes back processed by node-1 with ordered timestamps
	reply, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.KindRequest, reply.Kind)
	got := reply.Request
	got.ReplyReceivedUs = time.Now().UnixMicro()
	assert.Equal(t, "node-1", got.HandledBy)
	assert.NoError(t, got.Validate())
	assert.GreaterOrEqual(t, got.ReplySentUs-got.DispatchedUs, int64(20_000))
}

func TestNode_RepliesOnOriginatingConnection(t *testing.T) {
	// GIVEN two clients on the same node
	_, addr := startNode(t, Options{ID: "node-1", IdleTimeout: 5 * time.Second})
	a, err := wire.Dial(context.Background(), addr, wire.PathRequest, 5*time.Second)
	require.NoError(t, err)
	defer a.Close()
	b, err := wire.Dial(context.Background(), addr, wire.PathRequest, 5*time.Second)
	require.NoError(t, err)
	defer b.Close()

	// WHEN each sends one request
	require.NoError(t, a.Send(wire.Envelope{Kind: wire.KindRequest, Request: bench.NewRequest("a", 0, 10, 5)}))
	require.NoError(t, b.Send(wire.Envelope{Kind: wire.KindRequest, Request: bench.NewRequest("b", 0, 10, 5)}))

	// THEN each gets its own reply
	ra, err := a.Receive()
	require.NoError(t, err)
	rb, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, "a", ra.Request.ClientID)
	assert.Equal(t, "b", rb.Request.ClientID)
}

func TestNode_SamplerPersistsStatus(t *testing.T) {
	// GIVEN a node with a status store and a short sample period
	store := &memoryStore{latest: make(map[string]bench.ReportBatch)}
	startNode(t, Options{ID: "node-1", SamplePeriod: 5 * time.Millisecond, BatchSize: 2, IdleTimeout: time.Second, Store: store})

	// THEN full batches reach the store
	assert.Eventually(t, func() bool {
		b, _ := store.Load(context.Background(), "node-1")
		return len(b.Samples) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNode_RejectsNegativeCost(t *testing.T) {
	// GIVEN a node with capacity 100
	n, addr := startNode(t, Options{ID: "node-1", Capacity: 100, IdleTimeout: 5 * time.Second})
	bad, err := wire.Dial(context.Background(), addr, wire.PathRequest, 5*time.Second)
	require.NoError(t, err)
	defer bad.Close()

	// WHEN a request with a negative cost arrives
	require.NoError(t, bad.Send(wire.Envelope{Kind: wire.KindRequest, Request: bench.NewRequest("c1", 0, -50, 300)}))

	// THEN the connection is closed and nothing is admitted
	_, err = bad.Receive()
	assert.Error(t, err)
	assert.Equal(t, 0.0, n.Scheduler().Load())
	assert.Equal(t, 0, n.Scheduler().InFlight())

	// AND later requests still respect the budget
	good, err := wire.Dial(context.Background(), addr, wire.PathRequest, 5*time.Second)
	require.NoError(t, err)
	defer good.Close()
	require.NoError(t, good.Send(wire.Envelope{Kind: wire.KindRequest, Request: bench.NewRequest("c2", 0, 100, 300)}))
	require.NoError(t, good.Send(wire.Envelope{Kind: wire.KindRequest, Request: bench.NewRequest("c2", 1, 50, 10)}))
	require.Eventually(t, func() bool { return n.Scheduler().Load() == 100 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return n.Scheduler().Load() > 100 || n.Scheduler().InFlight() > 1 }, 150*time.Millisecond, 5*time.Millisecond)
}
