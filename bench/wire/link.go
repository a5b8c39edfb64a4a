package wire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loadbench/loadbench/bench"
)

// Link is a lazily dialed request/acknowledge channel to one endpoint.
// One call is in flight at a time. A failed call drops the connection and the
// next call dials again; the failed message itself is not resent.
type Link struct {
	addr        string
	path        string
	idle        time.Duration
	dialTimeout time.Duration

	mu   sync.Mutex
	conn *Conn
}

// NewLink creates a link to ws://addr+path.
func NewLink(addr, path string, idle, dialTimeout time.Duration) *Link {
	return &Link{addr: addr, path: path, idle: idle, dialTimeout: dialTimeout}
}

// Connect dials eagerly. Returns the dial error, if any.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.connLocked(ctx)
	return err
}

func (l *Link) connLocked(ctx context.Context) (*Conn, error) {
	if l.conn != nil {
		return l.conn, nil
	}
	dialCtx := ctx
	if l.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, l.dialTimeout)
		defer cancel()
	}
	conn, err := Dial(dialCtx, l.addr, l.path, l.idle)
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return conn, nil
}

// Call sends env and waits for the peer's reply.
func (l *Link) Call(ctx context.Context, env Envelope) (Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, err := l.connLocked(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if err := conn.Send(env); err != nil {
		l.dropLocked()
		return Envelope{}, fmt.Errorf("sending %s to %s: %w", env.Kind, l.addr, err)
	}
	reply, err := conn.Receive()
	if err != nil {
		l.dropLocked()
		return Envelope{}, fmt.Errorf("awaiting reply from %s: %w", l.addr, err)
	}
	return reply, nil
}

// SendBatch implements bench.BatchSender.
func (l *Link) SendBatch(ctx context.Context, batch bench.ReportBatch) error {
	reply, err := l.Call(ctx, Envelope{Kind: KindStatus, Report: &batch})
	if err != nil {
		return err
	}
	if reply.Kind != KindAck {
		return fmt.Errorf("%w: expected ack, got %s", ErrMalformedMessage, reply.Kind)
	}
	return nil
}

func (l *Link) dropLocked() {
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

// Close releases the connection, if any.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropLocked()
}
