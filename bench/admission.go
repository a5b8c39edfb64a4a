package bench

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench/observability"
)

// DefaultCapacity is the budget of a node running at full CPU, in percent.
const DefaultCapacity = 100.0

// Replier sends a processed request back over the connection it arrived on.
type Replier interface {
	Reply(req *Request) error
}

// AdmissionState is the position of the admission loop in its state machine.
type AdmissionState string

const (
	StateIdle       AdmissionState = "idle"       // queue empty
	StateEvaluating AdmissionState = "evaluating" // head popped, budget being checked
	StateBlocked    AdmissionState = "blocked"    // head does not fit, waiting for a completion
	StateAdmitted   AdmissionState = "admitted"   // budget reserved, worker spawned
)

// AdmissionObserver is notified whenever committed load changes.
// Both methods run with the scheduler's lock held; implementations must not
// block or call back into the scheduler.
type AdmissionObserver interface {
	Admitted(req *Request, load float64)
	Completed(req *Request, load float64)
}

// AdmissionScheduler enforces a CPU budget over a strict FIFO queue.
//
// A single arbitration loop (Run) pops the head of the queue and waits until
// load+cost fits the capacity, then reserves the budget and hands the request
// to its own worker goroutine. Requests behind a head that does not fit are
// not evaluated until it is admitted, even when they would fit on their own.
// A request costing more than the capacity is never admitted and stalls the
// node; that is not reported as an error.
//
// Budget comparisons are exact float64 arithmetic with no tolerance.
type AdmissionScheduler struct {
	nodeID   string
	capacity float64
	observer AdmissionObserver
	now      func() time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	queue    WaitQueue
	load     float64
	inFlight int
	state    AdmissionState
	stopped  bool

	workers sync.WaitGroup
}

// NewAdmissionScheduler creates a scheduler for one node. observer may be nil.
func NewAdmissionScheduler(nodeID string, capacity float64, observer AdmissionObserver) *AdmissionScheduler {
	if capacity <= 0 {
		panic("NewAdmissionScheduler: capacity must be positive")
	}
	s := &AdmissionScheduler{
		nodeID:   nodeID,
		capacity: capacity,
		observer: observer,
		now:      time.Now,
		state:    StateIdle,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit enqueues a request. The receive timestamp is set by the caller.
func (s *AdmissionScheduler) Submit(req *Request, reply Replier) {
	s.mu.Lock()
	s.queue.Enqueue(req, reply)
	observability.NodeQueueDepth.WithLabelValues(s.nodeID).Set(float64(s.queue.Len()))
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run is the arbitration loop. It returns when ctx is cancelled; requests
// still queued at that point are dropped. Admitted requests always run to
// completion, use Wait to drain them.
func (s *AdmissionScheduler) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	logrus.WithField("node", s.nodeID).Info("Start handling requests in queue")
	for {
		p, ok := s.admitNext()
		if !ok {
			logrus.WithField("node", s.nodeID).Info("Admission loop stopped")
			return
		}
		go s.work(p)
	}
}

// admitNext blocks until the head of the queue has been admitted.
// Returns false once the scheduler is stopped.
func (s *AdmissionScheduler) admitNext() (pendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() == 0 && !s.stopped {
		s.state = StateIdle
		s.cond.Wait()
	}
	if s.stopped {
		return pendingRequest{}, false
	}

	p, _ := s.queue.pop()
	observability.NodeQueueDepth.WithLabelValues(s.nodeID).Set(float64(s.queue.Len()))
	s.state = StateEvaluating

	req := p.req
	if s.load+req.CPUCost > s.capacity {
		observability.BudgetWaits.WithLabelValues(s.nodeID).Inc()
		logrus.WithField("node", s.nodeID).Warnf("Insufficient cpu usage: %.2f%%, %.2f%% more needed for request %s",
			s.load, req.CPUCost, req.ID())
	}
	for !s.stopped && s.load+req.CPUCost > s.capacity {
		s.state = StateBlocked
		s.cond.Wait()
	}
	if s.stopped {
		return pendingRequest{}, false
	}

	s.load += req.CPUCost
	s.inFlight++
	s.state = StateAdmitted
	req.DispatchedUs = s.now().UnixMicro()
	s.workers.Add(1)

	observability.NodeLoad.WithLabelValues(s.nodeID).Set(s.load)
	observability.NodeInFlight.WithLabelValues(s.nodeID).Set(float64(s.inFlight))
	observability.Admissions.WithLabelValues(s.nodeID).Inc()
	if req.ReceivedUs > 0 {
		observability.AdmissionWait.WithLabelValues(s.nodeID).Observe(float64(req.DispatchedUs-req.ReceivedUs) / 1e6)
	}
	if s.observer != nil {
		s.observer.Admitted(req, s.load)
	}
	logrus.WithField("node", s.nodeID).Debugf("Ready to handle request: %s, current cpu usage: %.2f%%", req, s.load)
	return p, true
}

// work processes one admitted request: sleep, reply, release budget, wake the loop.
func (s *AdmissionScheduler) work(p pendingRequest) {
	defer s.workers.Done()
	req := p.req

	time.Sleep(req.ProcessingTime())
	req.ReplySentUs = s.now().UnixMicro()
	if p.reply != nil {
		if err := p.reply.Reply(req); err != nil {
			logrus.WithField("node", s.nodeID).Errorf("Sending reply for request %s: %v", req.ID(), err)
		}
	}

	s.mu.Lock()
	s.load -= req.CPUCost
	s.inFlight--
	observability.NodeLoad.WithLabelValues(s.nodeID).Set(s.load)
	observability.NodeInFlight.WithLabelValues(s.nodeID).Set(float64(s.inFlight))
	if s.observer != nil {
		s.observer.Completed(req, s.load)
	}
	load := s.load
	s.mu.Unlock()
	s.cond.Broadcast()

	logrus.WithField("node", s.nodeID).Debugf("Request %s finished, reply sent, current cpu usage: %.2f%%", req.ID(), load)
}

// Wait blocks until every admitted request has completed.
func (s *AdmissionScheduler) Wait() {
	s.workers.Wait()
}

// NodeID returns the node this scheduler belongs to.
func (s *AdmissionScheduler) NodeID() string { return s.nodeID }

// Capacity returns the node's budget.
func (s *AdmissionScheduler) Capacity() float64 { return s.capacity }

// Load returns the committed budget of admitted, uncompleted requests.
func (s *AdmissionScheduler) Load() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load
}

// QueueLen returns the number of requests waiting behind the one under evaluation.
func (s *AdmissionScheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// InFlight returns the number of running workers.
func (s *AdmissionScheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// State returns the admission loop's current state.
func (s *AdmissionScheduler) State() AdmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status samples load and queue occupancy in one critical section.
func (s *AdmissionScheduler) Status(now time.Time) StatusSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewStatusSample(s.nodeID, s.load, s.queue.Len(), now)
}
