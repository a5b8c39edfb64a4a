// Package collector aggregates client request traces and node status batches
// into a trimmed-window report once every client session has finished.
package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/observability"
	"github.com/loadbench/loadbench/bench/wire"
)

var (
	// ErrUnknownReportType is returned for a report kind the channel does not accept.
	ErrUnknownReportType = errors.New("unknown report type")
	// ErrSessionNotActive is returned for a trace or finish from a client without an active session.
	ErrSessionNotActive = errors.New("client session not active")
)

// SessionState is the lifecycle of one client session.
type SessionState string

const (
	SessionNotStarted SessionState = "not-started"
	SessionActive     SessionState = "active"
	SessionFinished   SessionState = "finished"
)

// Options configures a Collector.
type Options struct {
	Capacity   float64 // per-node budget used for efficiency
	NodeCount  int     // configured nodes; 0 means "nodes that reported"
	TrimStart  float64 // fraction of the window dropped at the front
	TrimEnd    float64 // fraction of the window kept up to
	ReportPath string  // overwritten per run; empty disables the file
	OnReport   func(*Report)
}

// Collector tracks client sessions and accumulates histories for one run at a time.
// All session bookkeeping happens under a single mutex, so the transition of
// the active count to zero is observed by exactly one finish.
type Collector struct {
	opts Options
	now  func() time.Time

	mu            sync.Mutex
	sessions      map[string]SessionState
	active        int
	windowStartUs int64
	clientOrder   []string
	clients       map[string][]bench.Request
	nodeOrder     []string
	nodes         map[string][]bench.StatusSample
	reports       int
}

// New creates a collector. A zero trim window is read as [0, 1].
func New(opts Options) *Collector {
	if opts.TrimStart == 0 && opts.TrimEnd == 0 {
		opts.TrimEnd = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = bench.DefaultCapacity
	}
	c := &Collector{opts: opts, now: time.Now}
	c.resetLocked()
	return c
}

func (c *Collector) resetLocked() {
	c.sessions = make(map[string]SessionState)
	c.active = 0
	c.windowStartUs = 0
	c.clientOrder = nil
	c.clients = make(map[string][]bench.Request)
	c.nodeOrder = nil
	c.nodes = make(map[string][]bench.StatusSample)
}

// StartSession marks a client active. The first active session of a run
// opens the statistics window. Starting an already active session is a no-op.
func (c *Collector) StartSession(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[clientID] == SessionActive {
		logrus.WithField("client", clientID).Debug("Duplicate session start ignored")
		return
	}
	if c.active == 0 && c.windowStartUs == 0 {
		c.windowStartUs = c.now().UnixMicro()
	}
	if _, seen := c.clients[clientID]; !seen {
		c.clientOrder = append(c.clientOrder, clientID)
		c.clients[clientID] = nil
	}
	c.sessions[clientID] = SessionActive
	c.active++
	observability.ActiveSessions.Set(float64(c.active))
	logrus.WithField("client", clientID).Infof("Client session started, %d active", c.active)
}

// RecordRequest appends one completed request to the client's trace.
// A request with an out-of-range cost or unordered timestamps is rejected
// as malformed.
func (c *Collector) RecordRequest(clientID string, req bench.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("trace from %s: %w: %v", clientID, wire.ErrMalformedMessage, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[clientID] != SessionActive {
		return fmt.Errorf("trace from %s: %w", clientID, ErrSessionNotActive)
	}
	c.clients[clientID] = append(c.clients[clientID], req)
	return nil
}

// FinishSession appends any trailing requests and ends the session. When it
// was the last active session, the run is aggregated and the report returned;
// otherwise the report is nil. An invalid trailing request rejects the whole
// finish and leaves the session active.
func (c *Collector) FinishSession(clientID string, trailing []bench.Request) (*Report, error) {
	for i := range trailing {
		if err := trailing[i].Validate(); err != nil {
			return nil, fmt.Errorf("finish from %s: %w: %v", clientID, wire.ErrMalformedMessage, err)
		}
	}
	c.mu.Lock()
	if c.sessions[clientID] != SessionActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("finish from %s: %w", clientID, ErrSessionNotActive)
	}
	c.clients[clientID] = append(c.clients[clientID], trailing...)
	c.sessions[clientID] = SessionFinished
	c.active--
	observability.ActiveSessions.Set(float64(c.active))
	logrus.WithField("client", clientID).Infof("Received finish log from client, %d still active", c.active)
	if c.active > 0 {
		c.mu.Unlock()
		return nil, nil
	}
	run := c.snapshotLocked(c.now().UnixMicro())
	c.resetLocked()
	c.reports++
	c.mu.Unlock()

	report := run.aggregate(uuid.NewString())
	c.publish(report)
	return report, nil
}

// RecordBatch appends a node's samples to its history. Never triggers aggregation.
func (c *Collector) RecordBatch(batch bench.ReportBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.nodes[batch.NodeID]; !seen {
		c.nodeOrder = append(c.nodeOrder, batch.NodeID)
	}
	c.nodes[batch.NodeID] = append(c.nodes[batch.NodeID], batch.Samples...)
}

// Active returns the number of active sessions.
func (c *Collector) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Session returns a client's session state in the current run.
func (c *Collector) Session(clientID string) SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sessions[clientID]; ok {
		return st
	}
	return SessionNotStarted
}

// Reports returns how many runs have been aggregated.
func (c *Collector) Reports() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reports
}

// snapshotLocked copies the run's histories so aggregation can happen unlocked.
func (c *Collector) snapshotLocked(endUs int64) runData {
	run := runData{
		startUs:   c.windowStartUs,
		endUs:     endUs,
		opts:      c.opts,
		clientIDs: append([]string(nil), c.clientOrder...),
		clients:   make(map[string][]bench.Request, len(c.clients)),
		nodeIDs:   append([]string(nil), c.nodeOrder...),
		nodes:     make(map[string][]bench.StatusSample, len(c.nodes)),
	}
	for id, reqs := range c.clients {
		run.clients[id] = append([]bench.Request(nil), reqs...)
	}
	for id, samples := range c.nodes {
		run.nodes[id] = append([]bench.StatusSample(nil), samples...)
	}
	return run
}

// publish logs the report, writes it to the report path and hands it to the callback.
func (c *Collector) publish(report *Report) {
	lines := report.Lines()
	for _, line := range lines {
		logrus.Info(line)
	}
	observability.ReportsGenerated.Inc()
	if c.opts.ReportPath != "" {
		if err := writeReport(c.opts.ReportPath, lines); err != nil {
			logrus.Errorf("Writing report: %v", err)
		}
	}
	if c.opts.OnReport != nil {
		c.opts.OnReport(report)
	}
}

func writeReport(path string, lines []string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf []byte
	for _, line := range lines {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return os.WriteFile(path, buf, 0o644)
}
