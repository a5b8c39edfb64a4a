package bench

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct{ cpu float64 }

func (f fixedSource) Status(now time.Time) StatusSample {
	return NewStatusSample("node-1", f.cpu, 0, now)
}

type captureStore struct {
	mu      sync.Mutex
	batches []ReportBatch
	err     error
}

func (c *captureStore) Save(_ context.Context, batch ReportBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)
	return c.err
}

func (c *captureStore) Load(_ context.Context, nodeID string) (ReportBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return ReportBatch{}, errors.New("empty")
	}
	return c.batches[len(c.batches)-1], nil
}

type chanSender struct{ got chan ReportBatch }

func (c chanSender) SendBatch(_ context.Context, batch ReportBatch) error {
	c.got <- batch
	return nil
}

// TestStatusSampler_FlushesFullBatches verifies batching and hand-off.
func TestStatusSampler_FlushesFullBatches(t *testing.T) {
	// GIVEN a sampler with batch size 3 and no sender
	store := &captureStore{}
	s := NewStatusSampler("node-1", fixedSource{cpu: 25}, time.Millisecond, 3, nil, store)
	ctx := context.Background()
	base := time.UnixMicro(1_000)

	// WHEN ticked 7 times
	for i := 0; i < 7; i++ {
		s.tick(ctx, base.Add(time.Duration(i)*time.Millisecond))
	}

	// THEN two full batches were persisted in order, one sample remains pending
	require.Len(t, store.batches, 2)
	assert.Len(t, store.batches[0].Samples, 3)
	assert.Equal(t, int64(1_000), store.batches[0].Samples[0].TimestampUs)
	assert.Equal(t, int64(4_000), store.batches[1].Samples[0].TimestampUs)
	assert.Len(t, s.batch, 1)
}

func TestStatusSampler_PersistFailureIsNonFatal(t *testing.T) {
	store := &captureStore{err: errors.New("disk full")}
	s := NewStatusSampler("node-1", fixedSource{}, time.Millisecond, 1, nil, store)

	s.tick(context.Background(), time.Now())
	s.tick(context.Background(), time.Now())

	assert.Len(t, store.batches, 2)
}

func TestStatusSampler_SendsCopies(t *testing.T) {
	// GIVEN a sampler with a sender
	sender := chanSender{got: make(chan ReportBatch, 4)}
	s := NewStatusSampler("node-1", fixedSource{cpu: 10}, 2*time.Millisecond, 1, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WHEN it runs
	go s.Run(ctx)

	// THEN batches arrive at the sender
	select {
	case b := <-sender.got:
		assert.Equal(t, "node-1", b.NodeID)
		require.Len(t, b.Samples, 1)
		assert.Equal(t, 10.0, b.Samples[0].CPUUsage)
	case <-time.After(time.Second):
		t.Fatal("no batch sent")
	}
}

func TestStatusSampler_FullSendBufferDrops(t *testing.T) {
	// GIVEN a sampler whose send loop is not running
	s := NewStatusSampler("node-1", fixedSource{}, time.Millisecond, 1, chanSender{got: make(chan ReportBatch)}, nil)

	// WHEN more batches than the buffer holds are produced
	for i := 0; i < defaultSendBuffer+5; i++ {
		s.tick(context.Background(), time.Now())
	}

	// THEN ticking never blocks and the buffer is capped
	assert.Len(t, s.sends, defaultSendBuffer)
}

func TestReportBatch_CloneIsIndependent(t *testing.T) {
	b := ReportBatch{NodeID: "n", Samples: []StatusSample{{CPUUsage: 1}}}
	c := b.Clone()
	c.Samples[0].CPUUsage = 99
	assert.Equal(t, 1.0, b.Samples[0].CPUUsage)

	latest, ok := b.Latest()
	assert.True(t, ok)
	assert.Equal(t, 1.0, latest.CPUUsage)
	_, ok = ReportBatch{}.Latest()
	assert.False(t, ok)
}
