// Package node runs one worker node: a websocket request endpoint feeding an
// admission scheduler, plus the status sampler reporting its load.
package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/observability"
	"github.com/loadbench/loadbench/bench/wire"
)

// Options configures a Node.
type Options struct {
	ID           string
	Capacity     float64
	SamplePeriod time.Duration
	BatchSize    int
	IdleTimeout  time.Duration
	Sender       bench.BatchSender // status batches to the collector, may be nil
	Store        bench.StatusStore // latest batch persistence, may be nil
	Observer     bench.AdmissionObserver
}

// Node ties the request endpoint, the scheduler and the sampler together.
type Node struct {
	opts      Options
	scheduler *bench.AdmissionScheduler
	sampler   *bench.StatusSampler
	now       func() time.Time
}

// New creates a node. Nothing runs until Serve.
// Zero capacity and sample period fall back to the testbed defaults.
func New(opts Options) *Node {
	if opts.Capacity <= 0 {
		opts.Capacity = bench.DefaultCapacity
	}
	if opts.SamplePeriod <= 0 {
		opts.SamplePeriod = bench.DefaultConfig().SamplePeriod
	}
	sched := bench.NewAdmissionScheduler(opts.ID, opts.Capacity, opts.Observer)
	return &Node{
		opts:      opts,
		scheduler: sched,
		sampler:   bench.NewStatusSampler(opts.ID, sched, opts.SamplePeriod, opts.BatchSize, opts.Sender, opts.Store),
		now:       time.Now,
	}
}

// ID returns the node ID.
func (n *Node) ID() string { return n.opts.ID }

// Scheduler exposes the node's admission scheduler.
func (n *Node) Scheduler() *bench.AdmissionScheduler { return n.scheduler }

// ListenAndServe binds addr and serves until ctx is cancelled.
func (n *Node) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("node %s listening on %s: %w", n.opts.ID, addr, err)
	}
	return n.Serve(ctx, ln)
}

// Serve runs the scheduler, the sampler and the request endpoint on ln until
// ctx is cancelled, then waits for admitted requests to finish.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		n.sampler.Run(ctx)
	}()

	logrus.WithField("node", n.opts.ID).Infof("Node started at %s", ln.Addr())
	err := wire.Serve(ctx, ln, n.Handler())
	wg.Wait()
	n.scheduler.Wait()
	return err
}

// Handler serves wire.PathRequest.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wire.PathRequest, n.serveRequests)
	return mux
}

// connReplier writes replies back on the connection a request arrived on.
type connReplier struct {
	conn *wire.Conn
}

func (r connReplier) Reply(req *bench.Request) error {
	return r.conn.Send(wire.Envelope{Kind: wire.KindRequest, Request: req})
}

func (n *Node) serveRequests(w http.ResponseWriter, r *http.Request) {
	conn, err := wire.Upgrade(w, r, n.opts.IdleTimeout)
	if err != nil {
		observability.ConnectionErrors.WithLabelValues("request", "upgrade").Inc()
		logrus.WithField("node", n.opts.ID).Errorf("Upgrading connection from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	defer wire.CloseOnDone(r.Context(), conn)()

	log := logrus.WithFields(logrus.Fields{"node": n.opts.ID, "peer": conn.RemoteAddr()})
	log.Info("Got connection")
	replier := connReplier{conn: conn}
	for {
		env, err := conn.Receive()
		if err != nil {
			if wire.IsDisconnect(err) {
				log.Info("Client disconnected")
				return
			}
			observability.ConnectionErrors.WithLabelValues("request", "receive").Inc()
			log.Errorf("Receiving request: %v", err)
			return
		}
		if env.Kind != wire.KindRequest {
			observability.ConnectionErrors.WithLabelValues("request", "kind").Inc()
			log.Errorf("Unexpected %q message on request endpoint, closing connection", env.Kind)
			return
		}
		req := env.Request
		if err := req.ValidateWork(); err != nil {
			observability.ConnectionErrors.WithLabelValues("request", "malformed").Inc()
			log.Errorf("%v: %v, closing connection", wire.ErrMalformedMessage, err)
			return
		}
		req.ReceivedUs = n.now().UnixMicro()
		req.HandledBy = n.opts.ID
		log.Debugf("Received request: %s", req)
		n.scheduler.Submit(req, replier)
	}
}
