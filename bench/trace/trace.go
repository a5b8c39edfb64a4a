package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every routing decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// RoutingTrace collects decision records from concurrent clients.
type RoutingTrace struct {
	mu       sync.Mutex
	routings []RoutingRecord
}

// NewRoutingTrace creates a RoutingTrace for level, or nil when tracing is off.
// A nil *RoutingTrace is safe to pass to NewRouter.
func NewRoutingTrace(level TraceLevel) *RoutingTrace {
	if level != TraceLevelDecisions {
		return nil
	}
	return &RoutingTrace{routings: make([]RoutingRecord, 0)}
}

// RecordRouting appends a routing decision record.
func (rt *RoutingTrace) RecordRouting(record RoutingRecord) {
	rt.mu.Lock()
	rt.routings = append(rt.routings, record)
	rt.mu.Unlock()
}

// Routings returns a copy of the recorded decisions.
func (rt *RoutingTrace) Routings() []RoutingRecord {
	if rt == nil {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]RoutingRecord, len(rt.routings))
	copy(out, rt.routings)
	return out
}

// Reset discards recorded decisions.
func (rt *RoutingTrace) Reset() {
	if rt == nil {
		return
	}
	rt.mu.Lock()
	rt.routings = rt.routings[:0]
	rt.mu.Unlock()
}
