// Package workload generates synthetic requests and drives clients through
// the router, the nodes and the collector.
package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/loadbench/loadbench/bench"
)

// Generator produces one client's request sequence.
// CPU cost is an integer drawn uniformly from the inclusive cost range; with
// FixedCost a single cost is drawn up front and reused. Duration is uniform
// over its range, rounded to two decimals.
type Generator struct {
	clientID string
	spec     bench.ClientsConfig
	rng      *rand.Rand

	fixedCost float64
	seq       int
}

// NewGenerator creates a generator. rng must not be shared with another goroutine.
func NewGenerator(clientID string, spec bench.ClientsConfig, rng *rand.Rand) *Generator {
	g := &Generator{clientID: clientID, spec: spec, rng: rng}
	if spec.FixedCost {
		g.fixedCost = g.drawCost()
	}
	return g
}

func (g *Generator) drawCost() float64 {
	lo, hi := int(g.spec.CPUCost[0]), int(g.spec.CPUCost[1])
	return float64(lo + g.rng.Intn(hi-lo+1))
}

func (g *Generator) drawDuration() float64 {
	lo, hi := g.spec.DurationMs[0], g.spec.DurationMs[1]
	d := lo + g.rng.Float64()*(hi-lo)
	return math.Round(d*100) / 100
}

// Next returns the next request with a fresh sequence number.
func (g *Generator) Next() *bench.Request {
	cost := g.fixedCost
	if !g.spec.FixedCost {
		cost = g.drawCost()
	}
	req := bench.NewRequest(g.clientID, g.seq, cost, g.drawDuration())
	g.seq++
	return req
}

// Generate returns the next n requests.
func (g *Generator) Generate(n int) []*bench.Request {
	reqs := make([]*bench.Request, n)
	for i := range reqs {
		reqs[i] = g.Next()
	}
	return reqs
}

// ClientIDs names count clients: the prefix alone for a single client,
// otherwise prefix-A, prefix-B, ... and numbered past Z.
func ClientIDs(prefix string, count int) []string {
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		if i < 26 {
			ids[i] = fmt.Sprintf("%s-%c", prefix, 'A'+i)
		} else {
			ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
		}
	}
	return ids
}
