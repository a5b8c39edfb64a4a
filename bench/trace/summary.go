package trace

import (
	"fmt"
	"sort"
)

// TraceSummary aggregates statistics from a RoutingTrace.
type TraceSummary struct {
	TotalDecisions     int
	UniqueTargets      int
	UniqueOrigins      int
	TargetDistribution map[string]int // node ID → count of requests routed
	OriginTargets      map[string]int // origin → distinct nodes it was routed to
}

// Summarize computes aggregate statistics from a RoutingTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RoutingTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[string]int),
		OriginTargets:      make(map[string]int),
	}
	routings := rt.Routings()
	summary.TotalDecisions = len(routings)

	seen := make(map[string]map[string]bool)
	for _, r := range routings {
		summary.TargetDistribution[r.ChosenNode]++
		if seen[r.Origin] == nil {
			seen[r.Origin] = make(map[string]bool)
		}
		seen[r.Origin][r.ChosenNode] = true
	}
	for origin, targets := range seen {
		summary.OriginTargets[origin] = len(targets)
	}

	summary.UniqueTargets = len(summary.TargetDistribution)
	summary.UniqueOrigins = len(seen)
	return summary
}

// Lines renders the summary as report lines, targets in name order.
func (s *TraceSummary) Lines() []string {
	lines := []string{fmt.Sprintf("routing decisions: %d (targets: %d, origins: %d)", s.TotalDecisions, s.UniqueTargets, s.UniqueOrigins)}
	targets := make([]string, 0, len(s.TargetDistribution))
	for t := range s.TargetDistribution {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		lines = append(lines, fmt.Sprintf("  %s: %d", t, s.TargetDistribution[t]))
	}
	return lines
}
