package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Endpoint paths.
const (
	PathRequest = "/request" // node request endpoint
	PathClient  = "/client"  // collector client channel
	PathNode    = "/node"    // collector node channel
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn carries envelopes over one websocket connection.
// Receive must be called from a single goroutine; Send is goroutine-safe.
type Conn struct {
	ws   *websocket.Conn
	idle time.Duration

	wmu sync.Mutex
}

// NewConn wraps ws. A positive idle bounds how long Receive waits for the next message.
func NewConn(ws *websocket.Conn, idle time.Duration) *Conn {
	return &Conn{ws: ws, idle: idle}
}

// Upgrade turns an HTTP request into a Conn.
func Upgrade(w http.ResponseWriter, r *http.Request, idle time.Duration) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, idle), nil
}

// Dial opens a Conn to ws://addr+path.
func Dial(ctx context.Context, addr, path string, idle time.Duration) (*Conn, error) {
	url := "ws://" + addr + path
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewConn(ws, idle), nil
}

// Send writes one envelope.
func (c *Conn) Send(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Receive reads the next envelope. A normal close by the peer is io.EOF;
// an idle timeout surfaces as the underlying deadline error.
func (c *Conn) Receive() (Envelope, error) {
	if c.idle > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.idle))
	}
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, err
	}
	if mt != websocket.TextMessage {
		return Envelope{}, fmt.Errorf("%w: unexpected websocket message type %d", ErrMalformedMessage, mt)
	}
	return Decode(data)
}

// Close sends a normal close frame (best effort) and releases the connection.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// IsDisconnect reports whether err means the peer went away, as opposed to a
// protocol or decode failure.
func IsDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
