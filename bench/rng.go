package bench

import (
	"hash/fnv"
	"math/rand"
	"sync"
)

// === Subsystem Constants ===

const (
	// SubsystemRouter is the RNG subsystem for the random routing policy.
	SubsystemRouter = "router"
)

// SubsystemClient returns the subsystem name for one client's request generator.
func SubsystemClient(clientID string) string {
	return "client/" + clientID
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula: masterSeed XOR fnv1a64(subsystemName), so adding a
// client never shifts the sequence another client or the router draws.
//
// ForSubsystem is goroutine-safe; the returned *rand.Rand is not and must be
// owned by a single goroutine or guarded by its user.
type PartitionedRNG struct {
	seed int64

	mu         sync.Mutex
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
