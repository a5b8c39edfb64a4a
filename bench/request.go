// Defines the Request struct that travels client -> node -> client -> collector.
// Each hop stamps one of the five timestamps.

package bench

import (
	"fmt"
	"math"
	"time"
)

// Request models one synthetic CPU/time-cost request.
// Timestamps are unix microseconds; zero means "not populated yet".
type Request struct {
	ClientID string  `json:"client_id"`
	Seq      int     `json:"seq"`
	CPUCost  float64 `json:"cpu_cost"`    // Percentage of a node's budget (0-100)
	Duration float64 `json:"duration_ms"` // Processing time in milliseconds

	SentUs          int64 `json:"sent_us"`                     // Client sent the request
	ReceivedUs      int64 `json:"received_us,omitempty"`       // Node read it off the connection
	DispatchedUs    int64 `json:"dispatched_us,omitempty"`     // Worker started processing
	ReplySentUs     int64 `json:"reply_sent_us,omitempty"`     // Worker wrote the reply
	ReplyReceivedUs int64 `json:"reply_received_us,omitempty"` // Client read the reply

	HandledBy string `json:"handled_by,omitempty"` // Node ID, set on receipt
}

// NewRequest creates a request with identity and cost populated.
func NewRequest(clientID string, seq int, cpuCost, durationMs float64) *Request {
	return &Request{
		ClientID: clientID,
		Seq:      seq,
		CPUCost:  cpuCost,
		Duration: durationMs,
	}
}

// ID returns "<client>-<seq>".
func (r *Request) ID() string {
	return fmt.Sprintf("%s-%d", r.ClientID, r.Seq)
}

// ProcessingTime converts Duration to a time.Duration.
func (r *Request) ProcessingTime() time.Duration {
	return time.Duration(r.Duration * float64(time.Millisecond))
}

func (r Request) String() string {
	return fmt.Sprintf("Request(ID:%s, CPU Usage:%.2f, Time Usage:%.2fms)", r.ID(), r.CPUCost, r.Duration)
}

// RequestTiming holds the durations derived from a fully stamped request, in microseconds.
type RequestTiming struct {
	DeliverUs      int64 // received - sent
	WaitUs         int64 // dispatched - received
	ProcessUs      int64 // reply sent - dispatched
	ReplyDeliverUs int64 // reply received - reply sent
	TotalUs        int64 // reply received - sent
}

// Timing derives per-stage durations. Only meaningful once all five timestamps are set.
func (r *Request) Timing() RequestTiming {
	return RequestTiming{
		DeliverUs:      r.ReceivedUs - r.SentUs,
		WaitUs:         r.DispatchedUs - r.ReceivedUs,
		ProcessUs:      r.ReplySentUs - r.DispatchedUs,
		ReplyDeliverUs: r.ReplyReceivedUs - r.ReplySentUs,
		TotalUs:        r.ReplyReceivedUs - r.SentUs,
	}
}

func (t RequestTiming) String() string {
	return fmt.Sprintf("request_deliver_duration:%dms; request_wait_duration:%dms; request_process_duration:%dms; reply_deliver_duration:%dms; total_duration:%dms; ",
		t.DeliverUs/1000, t.WaitUs/1000, t.ProcessUs/1000, t.ReplyDeliverUs/1000, t.TotalUs/1000)
}

// ValidateWork checks the fields a node admits on: cost and duration must be
// finite and non-negative. Costs above a node's capacity are accepted; such a
// request stalls the node's queue.
func (r *Request) ValidateWork() error {
	if math.IsNaN(r.CPUCost) || math.IsInf(r.CPUCost, 0) || r.CPUCost < 0 {
		return fmt.Errorf("request %s: invalid cpu_cost %.2f", r.ID(), r.CPUCost)
	}
	if math.IsNaN(r.Duration) || math.IsInf(r.Duration, 0) || r.Duration < 0 {
		return fmt.Errorf("request %s: invalid duration %.2f", r.ID(), r.Duration)
	}
	return nil
}

// Validate checks cost range, duration sign and timestamp ordering.
// Unpopulated (zero) timestamps end the ordering check: later stages must
// also be zero.
func (r *Request) Validate() error {
	if err := r.ValidateWork(); err != nil {
		return err
	}
	if r.CPUCost > 100 {
		return fmt.Errorf("request %s: cpu_cost %.2f outside [0, 100]", r.ID(), r.CPUCost)
	}
	stamps := []struct {
		name string
		us   int64
	}{
		{"sent", r.SentUs},
		{"received", r.ReceivedUs},
		{"dispatched", r.DispatchedUs},
		{"reply_sent", r.ReplySentUs},
		{"reply_received", r.ReplyReceivedUs},
	}
	prev := stamps[0]
	unset := prev.us == 0
	for _, s := range stamps[1:] {
		if unset {
			if s.us != 0 {
				return fmt.Errorf("request %s: %s set before %s", r.ID(), s.name, prev.name)
			}
			continue
		}
		if s.us == 0 {
			unset = true
			prev = s
			continue
		}
		if s.us < prev.us {
			return fmt.Errorf("request %s: %s (%d) precedes %s (%d)", r.ID(), s.name, s.us, prev.name, prev.us)
		}
		prev = s
	}
	return nil
}
