// Package trace provides decision-trace recording for routing analysis.
// This package has no dependencies on bench/; it stores pure data types.
package trace

// RoutingRecord captures a single routing policy decision.
type RoutingRecord struct {
	RequestID  string
	Origin     string
	Clock      int64 // unix microseconds when the decision was made
	ChosenNode string
	Policy     string
	Reason     string
}
