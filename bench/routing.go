package bench

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// ErrNoAvailableNode is returned when no configured node is eligible for a request.
var ErrNoAvailableNode = errors.New("no available node")

// PolicyKind names a load-balancing policy. Fixed for the duration of a run.
type PolicyKind string

const (
	PolicyRandom      PolicyKind = "random"
	PolicyRoundRobin  PolicyKind = "round-robin"
	PolicyLeastLoaded PolicyKind = "least-loaded"
)

// validRoutingPolicies is the set of recognized routing policy names.
// Shared by Config.Validate() and NewRoutingPolicy().
var validRoutingPolicies = map[PolicyKind]bool{
	"":                true,
	PolicyRandom:      true,
	PolicyRoundRobin:  true,
	PolicyLeastLoaded: true,
}

// IsValidRoutingPolicy reports whether name is a recognized policy. Empty means round-robin.
func IsValidRoutingPolicy(name string) bool {
	return validRoutingPolicies[PolicyKind(name)]
}

// NodeSnapshot is a lightweight view of a node for policy decisions.
// CPUUsage is the last value pushed by the node's status sampler and may be stale.
type NodeSnapshot struct {
	ID          string
	CPUUsage    float64
	Unreachable bool
}

// RoutingDecision encapsulates the routing decision for one request.
type RoutingDecision struct {
	Origin string     // Client the request came from
	Target string     // Node ID to route to (matches a snapshot ID)
	Policy PolicyKind // Policy that produced the decision
	Reason string     // Human-readable explanation
}

// RoutingPolicy decides which node should handle a request from origin.
// candidates are in configured order. Implementations must be goroutine-safe
// and return ErrNoAvailableNode when every candidate is unreachable or the
// list is empty.
type RoutingPolicy interface {
	Route(origin string, candidates []NodeSnapshot) (RoutingDecision, error)
	Kind() PolicyKind
}

// reachable returns the indices of reachable candidates.
func reachable(candidates []NodeSnapshot) []int {
	idx := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if !c.Unreachable {
			idx = append(idx, i)
		}
	}
	return idx
}

// RandomPolicy routes uniformly among reachable nodes, ignoring load.
type RandomPolicy struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewRandomPolicy creates a random policy drawing from rng.
func NewRandomPolicy(rng *rand.Rand) *RandomPolicy {
	return &RandomPolicy{rand: rng}
}

// Route implements RoutingPolicy for RandomPolicy.
func (p *RandomPolicy) Route(origin string, candidates []NodeSnapshot) (RoutingDecision, error) {
	idx := reachable(candidates)
	if len(idx) == 0 {
		return RoutingDecision{}, ErrNoAvailableNode
	}
	p.mu.Lock()
	pick := idx[p.rand.Intn(len(idx))]
	p.mu.Unlock()
	return RoutingDecision{
		Origin: origin,
		Target: candidates[pick].ID,
		Policy: PolicyRandom,
		Reason: fmt.Sprintf("random[%d/%d]", pick, len(candidates)),
	}, nil
}

// Kind implements RoutingPolicy.
func (p *RandomPolicy) Kind() PolicyKind { return PolicyRandom }

// RoundRobin routes requests in round-robin order across the configured nodes.
// The cursor is a single counter shared by all callers. Unreachable nodes are
// skipped and the cursor moves past them.
type RoundRobin struct {
	mu      sync.Mutex
	counter int
}

// Route implements RoutingPolicy for RoundRobin.
func (rr *RoundRobin) Route(origin string, candidates []NodeSnapshot) (RoutingDecision, error) {
	n := len(candidates)
	if n == 0 {
		return RoutingDecision{}, ErrNoAvailableNode
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for tries := 0; tries < n; tries++ {
		pos := rr.counter % n
		rr.counter = (rr.counter + 1) % n
		if candidates[pos].Unreachable {
			continue
		}
		return RoutingDecision{
			Origin: origin,
			Target: candidates[pos].ID,
			Policy: PolicyRoundRobin,
			Reason: fmt.Sprintf("round-robin[%d]", pos),
		}, nil
	}
	return RoutingDecision{}, ErrNoAvailableNode
}

// Kind implements RoutingPolicy.
func (rr *RoundRobin) Kind() PolicyKind { return PolicyRoundRobin }

// LeastLoaded routes to the reachable node with the lowest reported CPU usage.
// Ties are broken by first occurrence in configured order.
type LeastLoaded struct{}

// Route implements RoutingPolicy for LeastLoaded.
func (ll *LeastLoaded) Route(origin string, candidates []NodeSnapshot) (RoutingDecision, error) {
	best := -1
	for i, c := range candidates {
		if c.Unreachable {
			continue
		}
		if best < 0 || c.CPUUsage < candidates[best].CPUUsage {
			best = i
		}
	}
	if best < 0 {
		return RoutingDecision{}, ErrNoAvailableNode
	}
	return RoutingDecision{
		Origin: origin,
		Target: candidates[best].ID,
		Policy: PolicyLeastLoaded,
		Reason: fmt.Sprintf("least-loaded (cpu=%.2f)", candidates[best].CPUUsage),
	}, nil
}

// Kind implements RoutingPolicy.
func (ll *LeastLoaded) Kind() PolicyKind { return PolicyLeastLoaded }

// NewRoutingPolicy creates a routing policy by name.
// Empty string defaults to round-robin. rng is only used by "random".
// Panics on unrecognized names; Config.Validate rejects them first.
func NewRoutingPolicy(name string, rng *rand.Rand) RoutingPolicy {
	if !IsValidRoutingPolicy(name) {
		panic(fmt.Sprintf("unknown routing policy %q", name))
	}
	switch PolicyKind(name) {
	case "", PolicyRoundRobin:
		return &RoundRobin{}
	case PolicyLeastLoaded:
		return &LeastLoaded{}
	case PolicyRandom:
		if rng == nil {
			panic("NewRoutingPolicy: random policy needs an rng")
		}
		return NewRandomPolicy(rng)
	default:
		panic(fmt.Sprintf("unhandled routing policy %q", name))
	}
}
