package transport

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket returns a Dialer that carries protocol frames over binary
// WebSocket messages, for deployments where raw TCP is not reachable.
func WebSocket() Dialer {
	return &wsDialer{dialer: websocket.DefaultDialer}
}

type wsDialer struct {
	dialer *websocket.Dialer
}

func (d *wsDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a message-oriented WebSocket connection to a byte stream.
// Message boundaries are not meaningful to the frame parser, so reads may
// span messages and writes emit one binary message per call.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// Current message exhausted; move to the next one.
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
