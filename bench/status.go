package bench

import "time"

// StatusSample is one observation of a node's admission state.
//
// IsIdle is true when CPUUsage > 0, i.e. when the node is busy. The name is
// kept as reported by the original testbed's status format; consumers that
// want "idle" must negate it.
type StatusSample struct {
	NodeID        string  `json:"node_id"`
	CPUUsage      float64 `json:"cpu_usage"`
	IsIdle        bool    `json:"is_idle"`
	IsUnavailable bool    `json:"is_unavailable"` // pending queue non-empty
	TimestampUs   int64   `json:"timestamp_us"`
}

// NewStatusSample stamps a sample at now.
func NewStatusSample(nodeID string, cpuUsage float64, queueLen int, now time.Time) StatusSample {
	return StatusSample{
		NodeID:        nodeID,
		CPUUsage:      cpuUsage,
		IsIdle:        cpuUsage > 0,
		IsUnavailable: queueLen > 0,
		TimestampUs:   now.UnixMicro(),
	}
}

// ReportBatch is an ordered run of samples from a single node.
type ReportBatch struct {
	NodeID  string         `json:"node_id"`
	Samples []StatusSample `json:"samples"`
}

// Latest returns the most recent sample and false when the batch is empty.
func (b ReportBatch) Latest() (StatusSample, bool) {
	if len(b.Samples) == 0 {
		return StatusSample{}, false
	}
	return b.Samples[len(b.Samples)-1], true
}

// Clone returns a batch with its own sample slice.
func (b ReportBatch) Clone() ReportBatch {
	samples := make([]StatusSample, len(b.Samples))
	copy(samples, b.Samples)
	return ReportBatch{NodeID: b.NodeID, Samples: samples}
}
