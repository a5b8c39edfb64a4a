package workload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/observability"
	"github.com/loadbench/loadbench/bench/wire"
)

// Reporter carries session reports to the collector. Implemented by *wire.Link.
type Reporter interface {
	Call(ctx context.Context, env wire.Envelope) (wire.Envelope, error)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	ID          string
	Requests    int
	Generator   *Generator
	Router      *bench.Router
	Fabric      bench.FlowFabric
	Collector   Reporter // may be nil
	Rate        float64  // requests per second, 0 = back to back
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

// Client sends its requests one at a time: route, send, wait for the reply,
// report the completed request to the collector. Requests that cannot be
// routed or delivered are dropped, never retried.
type Client struct {
	opts    ClientOptions
	limiter *rate.Limiter
	conns   map[string]*wire.Conn
	now     func() time.Time
}

// NewClient creates a client.
func NewClient(opts ClientOptions) *Client {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Client{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		conns:   make(map[string]*wire.Conn),
		now:     time.Now,
	}
}

// Run performs the session and returns the completed requests.
// It fails only when the session cannot be opened or ctx is cancelled.
func (c *Client) Run(ctx context.Context) ([]bench.Request, error) {
	log := logrus.WithField("client", c.opts.ID)
	defer c.closeConns()

	if err := c.report(ctx, wire.Envelope{Kind: wire.KindStart, ClientID: c.opts.ID}); err != nil {
		return nil, fmt.Errorf("starting session for %s: %w", c.opts.ID, err)
	}

	completed := make([]bench.Request, 0, c.opts.Requests)
	for _, req := range c.opts.Generator.Generate(c.opts.Requests) {
		if err := c.limiter.Wait(ctx); err != nil {
			return completed, err
		}
		done, err := c.do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return completed, ctx.Err()
			}
			log.Warnf("Dropping request %s: %v", req.ID(), err)
			continue
		}
		completed = append(completed, *done)
		if err := c.report(ctx, wire.Envelope{Kind: wire.KindTrace, ClientID: c.opts.ID, Request: done}); err != nil {
			log.Errorf("Reporting request %s: %v", done.ID(), err)
		}
	}

	if err := c.report(ctx, wire.Envelope{Kind: wire.KindFinish, ClientID: c.opts.ID}); err != nil {
		log.Errorf("Finishing session: %v", err)
	}
	log.Infof("Session finished, %d/%d requests completed", len(completed), c.opts.Requests)
	return completed, nil
}

// do routes and sends one request and waits for its reply.
func (c *Client) do(ctx context.Context, req *bench.Request) (*bench.Request, error) {
	decision, err := c.opts.Router.Route(c.opts.ID, req.ID(), c.now().UnixMicro())
	if err != nil {
		return nil, err
	}
	node := decision.Target
	conn, err := c.connFor(ctx, node)
	if err != nil {
		c.opts.Router.MarkUnreachable(node)
		return nil, err
	}

	req.SentUs = c.now().UnixMicro()
	if err := conn.Send(wire.Envelope{Kind: wire.KindRequest, Request: req}); err != nil {
		c.dropConn(node)
		return nil, fmt.Errorf("sending to %s: %w", node, err)
	}
	reply, err := conn.Receive()
	if err != nil {
		c.dropConn(node)
		return nil, fmt.Errorf("awaiting reply from %s: %w", node, err)
	}
	if reply.Kind != wire.KindRequest {
		return nil, fmt.Errorf("%w: expected request reply from %s, got %s", wire.ErrMalformedMessage, node, reply.Kind)
	}
	done := reply.Request
	done.ReplyReceivedUs = c.now().UnixMicro()

	timing := done.Timing()
	observability.RequestLatency.WithLabelValues(node).Observe(float64(timing.TotalUs) / 1e6)
	logrus.WithField("client", c.opts.ID).Infof("Received reply: %s, time info: %s", done, timing)
	return done, nil
}

func (c *Client) connFor(ctx context.Context, node string) (*wire.Conn, error) {
	if conn, ok := c.conns[node]; ok {
		return conn, nil
	}
	addr, err := c.opts.Fabric.Resolve(node)
	if err != nil {
		return nil, err
	}
	dialCtx := ctx
	if c.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
	}
	conn, err := wire.Dial(dialCtx, addr, wire.PathRequest, c.opts.IdleTimeout)
	if err != nil {
		observability.ConnectionErrors.WithLabelValues("request", "dial").Inc()
		return nil, err
	}
	c.conns[node] = conn
	return conn, nil
}

func (c *Client) dropConn(node string) {
	if conn, ok := c.conns[node]; ok {
		_ = conn.Close()
		delete(c.conns, node)
	}
}

func (c *Client) closeConns() {
	for node := range c.conns {
		c.dropConn(node)
	}
}

func (c *Client) report(ctx context.Context, env wire.Envelope) error {
	if c.opts.Collector == nil {
		return nil
	}
	reply, err := c.opts.Collector.Call(ctx, env)
	if err != nil {
		return err
	}
	if reply.Kind != wire.KindAck {
		return errors.New("collector replied with " + string(reply.Kind))
	}
	logrus.WithField("client", c.opts.ID).Debug(reply.Message)
	return nil
}
