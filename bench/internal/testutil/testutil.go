// Package testutil provides shared test infrastructure for the bench packages:
// loopback listeners, websocket addresses for httptest servers and float
// assertions with relative tolerance.
package testutil

import (
	"math"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
)

// Listen opens a loopback listener on a free port, closed at test cleanup.
func Listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

// Addr returns the host:port of an httptest server, for wire.Dial.
func Addr(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
