// Package ws provides the WebSocket implementation of transport.Conn on top
// of gobwas/ws.
package ws

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/voichai/internal/transport"
)

// Conn adapts a client-side gobwas/ws connection to transport.Conn.
type Conn struct {
	ep *Endpoint
}

// NewConn wraps a connection that has completed the client handshake. br is
// the reader returned by the handshake and may hold frames the server sent
// immediately after upgrading; it may be nil.
func NewConn(conn net.Conn, br *bufio.Reader, binary bool) *Conn {
	var src io.Reader
	if br != nil && br.Buffered() > 0 {
		src = io.MultiReader(br, conn)
	}
	return &Conn{ep: NewEndpoint(conn, src, ws.StateClientSide, binary)}
}

// Read implements transport.Conn.
// Pings are answered and pongs are skipped while waiting for a data message.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ep.SetReadDeadline(deadline)
		defer c.ep.SetReadDeadline(time.Time{})
	}

	data, err := c.ep.ReadMessage()
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return nil, &transport.CloseError{Code: int(closed.Code), Reason: closed.Reason}
	}
	return data, err
}

// Write implements transport.Conn.
// Messages go out as text frames unless the connection was opened in binary
// mode.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline()
	return c.ep.WriteMessage(data, deadline)
}

// Close implements transport.Conn. It does not wait behind a blocked Write
// for longer than a short grace period.
func (c *Conn) Close() error {
	return c.ep.Close(ws.StatusNormalClosure, "")
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.ep.RemoteAddr()
}

var _ transport.Conn = (*Conn)(nil)
