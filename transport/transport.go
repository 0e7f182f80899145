// Package transport provides the duplex byte-stream capability the client
// runs the wire protocol over. A Dialer opens an endpoint and returns a
// Conn; the client owns the Conn for the lifetime of one connection attempt
// and dials again on reconnect.
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Conn is a duplex byte stream carrying protocol frames.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// SetReadDeadline bounds the next Read; the client uses it to detect
	// stalled connections between keepalive pings.
	SetReadDeadline(t time.Time) error
}

// Dialer opens a transport connection to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// TCP returns a Dialer over plain TCP.
func TCP() Dialer {
	return &tcpDialer{}
}

type tcpDialer struct{}

func (d *tcpDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		// Frames are latency sensitive; do not batch small writes.
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}
