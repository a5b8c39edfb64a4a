package bench

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench/observability"
	"github.com/loadbench/loadbench/bench/trace"
)

// FlowFabric is the address directory and flow-pinning collaborator.
// Pin is fire-and-forget: the router never waits on or checks its outcome.
type FlowFabric interface {
	Resolve(nodeID string) (string, error)
	Pin(origin, target string)
}

// LoadTable holds the last CPU usage reported by each node.
// Written by status followers, read by the router.
type LoadTable struct {
	mu    sync.RWMutex
	loads map[string]float64
}

// NewLoadTable creates an empty table. Unknown nodes read as 0.
func NewLoadTable() *LoadTable {
	return &LoadTable{loads: make(map[string]float64)}
}

// Update records the latest sample of batch. Empty batches are ignored.
func (t *LoadTable) Update(batch ReportBatch) {
	latest, ok := batch.Latest()
	if !ok {
		return
	}
	t.Set(batch.NodeID, latest.CPUUsage)
}

// Set records a node's CPU usage.
func (t *LoadTable) Set(nodeID string, cpuUsage float64) {
	t.mu.Lock()
	t.loads[nodeID] = cpuUsage
	t.mu.Unlock()
}

// Get returns a node's last reported CPU usage.
func (t *LoadTable) Get(nodeID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loads[nodeID]
}

// Router picks a target node per request and asks the fabric to pin the flow.
// It never retries: ErrNoAvailableNode goes straight back to the caller.
type Router struct {
	nodes  []string
	policy RoutingPolicy
	fabric FlowFabric
	loads  *LoadTable
	trace  *trace.RoutingTrace

	mu          sync.RWMutex
	unreachable map[string]bool
}

// NewRouter creates a router over nodes in their configured order.
// fabric and rt may be nil.
func NewRouter(nodes []string, policy RoutingPolicy, fabric FlowFabric, rt *trace.RoutingTrace) *Router {
	ordered := make([]string, len(nodes))
	copy(ordered, nodes)
	return &Router{
		nodes:       ordered,
		policy:      policy,
		fabric:      fabric,
		loads:       NewLoadTable(),
		trace:       rt,
		unreachable: make(map[string]bool),
	}
}

// Loads exposes the router's load table to status followers.
func (r *Router) Loads() *LoadTable { return r.loads }

// Policy returns the policy the router was built with.
func (r *Router) Policy() RoutingPolicy { return r.policy }

// ObserveStatus updates the load table from a node report. A fresh report
// also clears the node's unreachable mark.
func (r *Router) ObserveStatus(batch ReportBatch) {
	if _, ok := batch.Latest(); !ok {
		return
	}
	r.loads.Update(batch)
	r.MarkReachable(batch.NodeID)
}

// MarkUnreachable excludes a node from routing until it is marked reachable again.
func (r *Router) MarkUnreachable(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.unreachable[nodeID] {
		logrus.WithField("node", nodeID).Warn("Marking node unreachable")
	}
	r.unreachable[nodeID] = true
}

// MarkReachable puts a node back into the candidate set.
func (r *Router) MarkReachable(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable[nodeID] {
		logrus.WithField("node", nodeID).Info("Node reachable again")
		delete(r.unreachable, nodeID)
	}
}

// Snapshots builds the candidate list in configured order.
func (r *Router) Snapshots() []NodeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := make([]NodeSnapshot, len(r.nodes))
	for i, id := range r.nodes {
		snaps[i] = NodeSnapshot{
			ID:          id,
			CPUUsage:    r.loads.Get(id),
			Unreachable: r.unreachable[id],
		}
	}
	return snaps
}

// Route selects a node for a request from origin and emits a pin request.
// On ErrNoAvailableNode no pin is issued.
func (r *Router) Route(origin string, requestID string, clockUs int64) (RoutingDecision, error) {
	decision, err := r.policy.Route(origin, r.Snapshots())
	if err != nil {
		observability.RoutingFailures.WithLabelValues(string(r.policy.Kind())).Inc()
		return RoutingDecision{}, err
	}
	observability.RoutingDecisions.WithLabelValues(string(decision.Policy), decision.Target).Inc()
	if r.trace != nil {
		r.trace.RecordRouting(trace.RoutingRecord{
			RequestID:  requestID,
			Origin:     origin,
			Clock:      clockUs,
			ChosenNode: decision.Target,
			Policy:     string(decision.Policy),
			Reason:     decision.Reason,
		})
	}
	if r.fabric != nil {
		r.fabric.Pin(origin, decision.Target)
	}
	logrus.WithFields(logrus.Fields{"origin": origin, "node": decision.Target}).Debugf("Routed request %s: %s", requestID, decision.Reason)
	return decision, nil
}
