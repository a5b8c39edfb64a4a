package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench/observability"
	"github.com/loadbench/loadbench/bench/wire"
)

// HandleClient applies one client-channel report and returns the acknowledgement.
func (c *Collector) HandleClient(env wire.Envelope) (wire.Envelope, error) {
	switch env.Kind {
	case wire.KindStart:
		c.StartSession(env.ClientID)
	case wire.KindTrace:
		if err := c.RecordRequest(env.ClientID, *env.Request); err != nil {
			return wire.Envelope{}, err
		}
	case wire.KindFinish:
		if _, err := c.FinishSession(env.ClientID, env.Requests); err != nil {
			return wire.Envelope{}, err
		}
	default:
		return wire.Envelope{}, fmt.Errorf("%w: %q on client channel", ErrUnknownReportType, env.Kind)
	}
	return wire.Ack("Report from %s with type '%s' received", env.ClientID, env.Kind), nil
}

// HandleNode applies one node-channel report and returns the acknowledgement.
func (c *Collector) HandleNode(env wire.Envelope) (wire.Envelope, error) {
	if env.Kind != wire.KindStatus {
		return wire.Envelope{}, fmt.Errorf("%w: %q on node channel", ErrUnknownReportType, env.Kind)
	}
	c.RecordBatch(*env.Report)
	return wire.Ack("Report from server %s received", env.Report.NodeID), nil
}

// Server exposes a Collector on two websocket listeners: the client channel
// and the node channel. Each connection gets its own handler goroutine; a
// failing connection is closed without affecting the others.
type Server struct {
	collector *Collector
	idle      time.Duration
}

// NewServer creates a server. idle is the per-connection read timeout.
func NewServer(c *Collector, idle time.Duration) *Server {
	return &Server{collector: c, idle: idle}
}

// ClientHandler serves wire.PathClient.
func (s *Server) ClientHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wire.PathClient, func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, "client", s.collector.HandleClient)
	})
	return mux
}

// NodeHandler serves wire.PathNode.
func (s *Server) NodeHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wire.PathNode, func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, "node", s.collector.HandleNode)
	})
	return mux
}

// ListenAndServe binds both listeners and serves until ctx is cancelled.
// A bind failure is returned before anything is served.
func (s *Server) ListenAndServe(ctx context.Context, clientAddr, nodeAddr string) error {
	clientLn, err := net.Listen("tcp", clientAddr)
	if err != nil {
		return fmt.Errorf("listening for clients on %s: %w", clientAddr, err)
	}
	nodeLn, err := net.Listen("tcp", nodeAddr)
	if err != nil {
		_ = clientLn.Close()
		return fmt.Errorf("listening for nodes on %s: %w", nodeAddr, err)
	}
	return s.Serve(ctx, clientLn, nodeLn)
}

// Serve runs both channels on the given listeners until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, clientLn, nodeLn net.Listener) error {
	errs := make(chan error, 2)
	go func() { errs <- wire.Serve(ctx, nodeLn, s.NodeHandler()) }()
	go func() { errs <- wire.Serve(ctx, clientLn, s.ClientHandler()) }()
	return errors.Join(<-errs, <-errs)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, endpoint string, handle func(wire.Envelope) (wire.Envelope, error)) {
	conn, err := wire.Upgrade(w, r, s.idle)
	if err != nil {
		observability.ConnectionErrors.WithLabelValues(endpoint, "upgrade").Inc()
		logrus.Errorf("Upgrading %s connection from %s: %v", endpoint, r.RemoteAddr, err)
		return
	}
	defer conn.Close()
	defer wire.CloseOnDone(r.Context(), conn)()

	log := logrus.WithFields(logrus.Fields{"endpoint": endpoint, "peer": conn.RemoteAddr()})
	log.Info("Connection opened")
	for {
		env, err := conn.Receive()
		if err != nil {
			if wire.IsDisconnect(err) {
				log.Info("Peer disconnected")
				return
			}
			observability.ConnectionErrors.WithLabelValues(endpoint, "receive").Inc()
			log.Errorf("Receiving: %v", err)
			return
		}
		reply, err := handle(env)
		if err != nil {
			observability.ConnectionErrors.WithLabelValues(endpoint, "report").Inc()
			log.Errorf("Rejecting report, closing connection: %v", err)
			return
		}
		if err := conn.Send(reply); err != nil {
			observability.ConnectionErrors.WithLabelValues(endpoint, "send").Inc()
			log.Errorf("Sending ack: %v", err)
			return
		}
	}
}
