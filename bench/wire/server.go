package wire

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Serve runs an HTTP server for h on ln until ctx is cancelled.
// Request contexts derive from ctx, so websocket handlers can close their
// hijacked connections when it ends.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Shutting down %s: %v", ln.Addr(), err)
		}
	})
	defer stop()

	logrus.Infof("Listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// CloseOnDone closes conn when ctx ends. Call the returned func to detach.
func CloseOnDone(ctx context.Context, conn *Conn) func() bool {
	return context.AfterFunc(ctx, func() { _ = conn.Close() })
}
