// Implements the WaitQueue, which holds requests a node has received but not
// yet admitted. Requests are enqueued on receipt.

package bench

import (
	"fmt"
	"strings"
)

// pendingRequest pairs a request with the channel its reply goes back on.
type pendingRequest struct {
	req   *Request
	reply Replier
}

// WaitQueue is a strict FIFO of pending requests.
// Not goroutine-safe: AdmissionScheduler guards it with its own mutex.
type WaitQueue struct {
	queue []pendingRequest
}

// Enqueue adds a request to the back of the wait queue.
func (wq *WaitQueue) Enqueue(req *Request, reply Replier) {
	wq.queue = append(wq.queue, pendingRequest{req: req, reply: reply})
}

// Len returns the number of requests in the queue.
func (wq *WaitQueue) Len() int {
	return len(wq.queue)
}

// pop removes the request at the front of the queue.
// The second return value is false when the queue is empty.
func (wq *WaitQueue) pop() (pendingRequest, bool) {
	if len(wq.queue) == 0 {
		return pendingRequest{}, false
	}
	head := wq.queue[0]
	wq.queue[0] = pendingRequest{}
	wq.queue = wq.queue[1:]
	return head, true
}

func (wq *WaitQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, p := range wq.queue {
		sb.WriteString(fmt.Sprintf("%s(%.0f)", p.req.ID(), p.req.CPUCost))
		if i < len(wq.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
