package bench

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnknownNode is returned by Resolve for a node that is not in the directory.
var ErrUnknownNode = errors.New("unknown node")

// StaticDirectory is a FlowFabric backed by the configured node addresses.
// Pin requests are recorded per origin; the most recent target wins.
type StaticDirectory struct {
	addresses map[string]string

	mu     sync.Mutex
	pinned map[string]string
	pins   int
}

// NewStaticDirectory creates a directory from node ID -> address.
func NewStaticDirectory(addresses map[string]string) *StaticDirectory {
	addrs := make(map[string]string, len(addresses))
	for id, addr := range addresses {
		addrs[id] = addr
	}
	return &StaticDirectory{
		addresses: addrs,
		pinned:    make(map[string]string),
	}
}

// Resolve implements FlowFabric.
func (d *StaticDirectory) Resolve(nodeID string) (string, error) {
	addr, ok := d.addresses[nodeID]
	if !ok {
		return "", fmt.Errorf("resolving %q: %w", nodeID, ErrUnknownNode)
	}
	return addr, nil
}

// Pin implements FlowFabric.
func (d *StaticDirectory) Pin(origin, target string) {
	d.mu.Lock()
	prev, had := d.pinned[origin]
	d.pinned[origin] = target
	d.pins++
	d.mu.Unlock()
	if !had || prev != target {
		logrus.WithFields(logrus.Fields{"origin": origin, "node": target}).Debug("Pinned flow")
	}
}

// lastPin returns the node the origin's flow was last pinned to.
func (d *StaticDirectory) lastPin(origin string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, ok := d.pinned[origin]
	return target, ok
}

// PinCount returns the number of pin requests received.
func (d *StaticDirectory) PinCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins
}
