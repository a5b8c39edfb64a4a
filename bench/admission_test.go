package bench

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replyRecorder collects replies in completion order.
type replyRecorder struct {
	mu      sync.Mutex
	replies []*Request
	done    chan struct{}
	want    int
}

func newReplyRecorder(want int) *replyRecorder {
	return &replyRecorder{done: make(chan struct{}), want: want}
}

func (r *replyRecorder) Reply(req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, req)
	if len(r.replies) == r.want {
		close(r.done)
	}
	return nil
}

func (r *replyRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for replies")
	}
}

// loadAuditor checks the committed load after every change.
type loadAuditor struct {
	t        *testing.T
	capacity float64

	mu       sync.Mutex
	inFlight float64
	admitted []string
	violated bool
}

func (a *loadAuditor) check(load float64) {
	if load < 0 || load > a.capacity || load != a.inFlight {
		a.violated = true
		a.t.Errorf("load %.2f outside [0, %.2f] or != in-flight sum %.2f", load, a.capacity, a.inFlight)
	}
}

func (a *loadAuditor) Admitted(req *Request, load float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight += req.CPUCost
	a.admitted = append(a.admitted, req.ID())
	a.check(load)
}

func (a *loadAuditor) Completed(req *Request, load float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight -= req.CPUCost
	a.check(load)
}

func (a *loadAuditor) order() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.admitted...)
}

func runScheduler(t *testing.T, s *AdmissionScheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		s.Wait()
	})
	return cancel
}

// TestAdmission_LoadInvariant verifies 0 <= load <= capacity and that load
// equals the sum of admitted, uncompleted costs under concurrent submission.
func TestAdmission_LoadInvariant(t *testing.T) {
	// GIVEN a scheduler audited on every load change
	auditor := &loadAuditor{t: t, capacity: DefaultCapacity}
	s := NewAdmissionScheduler("node-1", DefaultCapacity, auditor)
	runScheduler(t, s)

	// WHEN many requests are submitted concurrently
	const n = 60
	rec := newReplyRecorder(n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Submit(NewRequest("c", i, float64(10+(i*7)%35), 2), rec)
		}(i)
	}
	wg.Wait()
	rec.wait(t)
	s.Wait()

	// THEN the invariant held throughout and the node drains back to zero
	assert.False(t, auditor.violated)
	assert.Equal(t, 0.0, s.Load())
	assert.Equal(t, 0, s.InFlight())
}

// TestAdmission_HeadOfLineBlocking verifies that a head request which does
// not fit blocks cheaper requests behind it until a completion frees budget.
func TestAdmission_HeadOfLineBlocking(t *testing.T) {
	// GIVEN costs [90, 20, 5] queued before the loop starts
	auditor := &loadAuditor{t: t, capacity: DefaultCapacity}
	s := NewAdmissionScheduler("node-1", DefaultCapacity, auditor)
	rec := newReplyRecorder(3)
	big := NewRequest("c", 0, 90, 150)
	mid := NewRequest("c", 1, 20, 10)
	small := NewRequest("c", 2, 5, 10)
	for _, r := range []*Request{big, mid, small} {
		s.Submit(r, rec)
	}

	// WHEN the scheduler runs
	runScheduler(t, s)

	// THEN the 20 blocks at the head while the 90 runs, and the 5 is not
	// admitted even though 90+5 fits
	require.Eventually(t, func() bool { return s.State() == StateBlocked }, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.QueueLen())
	assert.Equal(t, 90.0, s.Load())
	assert.Equal(t, []string{"c-0"}, auditor.order())

	rec.wait(t)

	// AND admission follows arrival order, only after the 90 completed
	assert.Equal(t, []string{"c-0", "c-1", "c-2"}, auditor.order())
	assert.GreaterOrEqual(t, mid.DispatchedUs, big.ReplySentUs)
	assert.GreaterOrEqual(t, small.DispatchedUs, mid.DispatchedUs)
}

// TestAdmission_OversizedRequestStalls verifies cost > capacity blocks the
// node forever without an error, until the loop is stopped.
func TestAdmission_OversizedRequestStalls(t *testing.T) {
	s := NewAdmissionScheduler("node-1", DefaultCapacity, nil)
	s.Submit(NewRequest("c", 0, 150, 1), nil)
	s.Submit(NewRequest("c", 1, 1, 1), nil)
	cancel := runScheduler(t, s)

	require.Eventually(t, func() bool { return s.State() == StateBlocked }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateBlocked, s.State())
	assert.Equal(t, 0.0, s.Load())
	assert.Equal(t, 1, s.QueueLen())

	cancel()
}

func TestAdmission_StatusSample(t *testing.T) {
	// GIVEN a node running one long request with another queued behind a blocked head
	s := NewAdmissionScheduler("node-1", DefaultCapacity, nil)
	s.Submit(NewRequest("c", 0, 60, 200), nil)
	s.Submit(NewRequest("c", 1, 60, 1), nil)
	s.Submit(NewRequest("c", 2, 10, 1), nil)
	runScheduler(t, s)
	require.Eventually(t, func() bool { return s.State() == StateBlocked }, time.Second, time.Millisecond)

	// WHEN sampled
	sample := s.Status(time.UnixMicro(123))

	// THEN usage, the busy flag and the queue flag reflect the node
	assert.Equal(t, "node-1", sample.NodeID)
	assert.Equal(t, 60.0, sample.CPUUsage)
	assert.True(t, sample.IsIdle)
	assert.True(t, sample.IsUnavailable)
	assert.Equal(t, int64(123), sample.TimestampUs)
}

func TestNewAdmissionScheduler_NonPositiveCapacity_Panics(t *testing.T) {
	assert.Panics(t, func() { NewAdmissionScheduler("n", 0, nil) })
}

func TestAdmission_IdleState(t *testing.T) {
	s := NewAdmissionScheduler("node-1", DefaultCapacity, nil)
	runScheduler(t, s)
	assert.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, time.Millisecond)
	sample := s.Status(time.Now())
	assert.False(t, sample.IsIdle)
	assert.False(t, sample.IsUnavailable)
}
