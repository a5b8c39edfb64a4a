package collector

import (
	"fmt"

	"github.com/loadbench/loadbench/bench"
)

// ClientStats summarizes one client's requests inside the trimmed window.
type ClientStats struct {
	ClientID string
	Latency  bench.Summary // total request latency, ms
	Wait     bench.Summary // queue wait on the node, ms
}

// NodeStats summarizes one node's samples inside the trimmed window.
type NodeStats struct {
	NodeID string
	CPU    bench.Summary // cpu_usage, percent
}

// Report is the result of one aggregated run.
type Report struct {
	RunID         string
	WindowStartUs int64 // trimmed window
	WindowEndUs   int64
	Clients       []ClientStats
	Latency       bench.Summary
	Wait          bench.Summary
	Nodes         []NodeStats
	CPU           bench.Summary
	Efficiency    float64 // percent of aggregate budget consumed over the window
}

// SpanMs returns the trimmed window length in milliseconds.
func (r *Report) SpanMs() float64 {
	return float64(r.WindowEndUs-r.WindowStartUs) / 1000
}

// Lines renders the report as text.
func (r *Report) Lines() []string {
	lines := []string{
		fmt.Sprintf("run %s: window %d..%d us (%.2fms)", r.RunID, r.WindowStartUs, r.WindowEndUs, r.SpanMs()),
	}
	for _, cs := range r.Clients {
		lines = append(lines,
			cs.Latency.Line("client "+cs.ClientID+" latency", "ms"),
			cs.Wait.Line("client "+cs.ClientID+" wait", "ms"))
	}
	lines = append(lines,
		r.Latency.Line("all clients latency", "ms"),
		r.Wait.Line("all clients wait", "ms"))
	for _, ns := range r.Nodes {
		lines = append(lines, ns.CPU.Line("node "+ns.NodeID+" cpu", "%"))
	}
	lines = append(lines,
		r.CPU.Line("all nodes cpu", "%"),
		fmt.Sprintf("efficiency: %.2f%%", r.Efficiency))
	return lines
}

// runData is a detached copy of one run's histories.
type runData struct {
	startUs, endUs int64
	opts           Options
	clientIDs      []string
	clients        map[string][]bench.Request
	nodeIDs        []string
	nodes          map[string][]bench.StatusSample
}

// trimWindow narrows [start, end] to [start + lo*span, start + hi*span].
func trimWindow(startUs, endUs int64, lo, hi float64) (int64, int64) {
	span := float64(endUs - startUs)
	return startUs + int64(lo*span), startUs + int64(hi*span)
}

func (run runData) aggregate(runID string) *Report {
	lo, hi := trimWindow(run.startUs, run.endUs, run.opts.TrimStart, run.opts.TrimEnd)
	report := &Report{RunID: runID, WindowStartUs: lo, WindowEndUs: hi}
	inWindow := func(us int64) bool { return us >= lo && us <= hi }

	var allLatency, allWait []float64
	var work float64 // sum of cost*duration, percent*ms
	for _, id := range run.clientIDs {
		var latency, wait []float64
		for _, req := range run.clients[id] {
			if req.ReplyReceivedUs == 0 || !inWindow(req.SentUs) {
				continue
			}
			tm := req.Timing()
			latency = append(latency, float64(tm.TotalUs)/1000)
			wait = append(wait, float64(tm.WaitUs)/1000)
			work += req.CPUCost * req.Duration
		}
		report.Clients = append(report.Clients, ClientStats{
			ClientID: id,
			Latency:  bench.NewSummary(latency),
			Wait:     bench.NewSummary(wait),
		})
		allLatency = append(allLatency, latency...)
		allWait = append(allWait, wait...)
	}
	report.Latency = bench.NewSummary(allLatency)
	report.Wait = bench.NewSummary(allWait)

	var allCPU []float64
	for _, id := range run.nodeIDs {
		var cpu []float64
		for _, s := range run.nodes[id] {
			if inWindow(s.TimestampUs) {
				cpu = append(cpu, s.CPUUsage)
			}
		}
		report.Nodes = append(report.Nodes, NodeStats{NodeID: id, CPU: bench.NewSummary(cpu)})
		allCPU = append(allCPU, cpu...)
	}
	report.CPU = bench.NewSummary(allCPU)

	nodeCount := run.opts.NodeCount
	if nodeCount <= 0 {
		nodeCount = len(run.nodeIDs)
	}
	if span := report.SpanMs(); nodeCount > 0 && span > 0 {
		report.Efficiency = (work / float64(nodeCount)) / (run.opts.Capacity * span) * 100
	}
	return report
}
