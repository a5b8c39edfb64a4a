package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadbench/loadbench/bench"
)

func batchAt(nodeID string, cpu float64, us int64) bench.ReportBatch {
	return bench.ReportBatch{
		NodeID:  nodeID,
		Samples: []bench.StatusSample{bench.NewStatusSample(nodeID, cpu, 0, time.UnixMicro(us))},
	}
}

func TestFileStore_SaveLoad_RoundTrip(t *testing.T) {
	// GIVEN an empty store
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	// WHEN nothing was saved
	_, err = store.Load(context.Background(), "node-1")

	// THEN Load reports ErrNotFound
	assert.ErrorIs(t, err, ErrNotFound)

	// WHEN a batch is saved
	require.NoError(t, store.Save(context.Background(), batchAt("node-1", 40, 1000)))

	// THEN the same batch reads back
	got, err := store.Load(context.Background(), "node-1")
	require.NoError(t, err)
	latest, ok := got.Latest()
	require.True(t, ok)
	assert.Equal(t, 40.0, latest.CPUUsage)
	assert.True(t, latest.IsIdle, "is_idle is true whenever cpu_usage > 0")
}

// TestFileStore_FailedWrite_KeepsPreviousBatch verifies that a write failing
// half way never replaces or truncates the published file.
func TestFileStore_FailedWrite_KeepsPreviousBatch(t *testing.T) {
	// GIVEN a store holding a complete batch
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), batchAt("node-1", 10, 1000)))

	// WHEN the next write dies after emitting part of the payload
	store.encode = func(w io.Writer, batch bench.ReportBatch) error {
		_, _ = w.Write([]byte(`{"node_id":"node-1","samp`))
		return errors.New("disk full")
	}
	err = store.Save(context.Background(), batchAt("node-1", 90, 2000))

	// THEN the error surfaces, the old batch is intact and no temp file remains
	require.Error(t, err)
	got, err := store.Load(context.Background(), "node-1")
	require.NoError(t, err)
	latest, _ := got.Latest()
	assert.Equal(t, 10.0, latest.CPUUsage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed after a failed write")
}

func TestFileStore_ConcurrentReaders_SeeCompleteBatches(t *testing.T) {
	// GIVEN a store with an initial batch
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), batchAt("node-1", 0, 1)))

	// WHEN one writer replaces the batch repeatedly while readers load it
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if _, err := store.Load(ctx, "node-1"); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		require.NoError(t, store.Save(ctx, batchAt("node-1", float64(i%100), int64(i+2))))
	}
	cancel()
	wg.Wait()
	close(errs)

	// THEN no reader ever decoded a partial file
	for err := range errs {
		t.Errorf("reader saw an incomplete batch: %v", err)
	}
}

func TestIsStatusFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"node-1", true},
		{".node-1-123.tmp", false},
		{"node-1.tmp", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.name), func(t *testing.T) {
			assert.Equal(t, tt.want, isStatusFile(tt.name))
		})
	}
}

func TestRedisStore_SaveLoad(t *testing.T) {
	addr := os.Getenv("LOADBENCH_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOADBENCH_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(addr, 0)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	node := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer store.remove(ctx, node)

	_, err = store.Load(ctx, node)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, batchAt(node, 55, 42)))
	got, err := store.Load(ctx, node)
	require.NoError(t, err)
	latest, _ := got.Latest()
	assert.Equal(t, 55.0, latest.CPUUsage)
	assert.Equal(t, int64(42), latest.TimestampUs)
}
